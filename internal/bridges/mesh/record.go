package mesh

import (
	"encoding/binary"
	"fmt"
)

// SensorPayloadSize is the exact payload size of a sensor frame.
const SensorPayloadSize = 16

// SensorRecord is one temperature reading reported by a node.
//
// Wire layout (little-endian): temperature uint64, then node id uint64.
type SensorRecord struct {
	Temperature uint64
	NodeID      uint64
}

// DecodeSensorRecord decodes a sensor frame payload.
//
// Returns:
//   - SensorRecord: Decoded reading
//   - error: ErrDecodeFailed unless len(p) == SensorPayloadSize
func DecodeSensorRecord(p []byte) (SensorRecord, error) {
	if len(p) != SensorPayloadSize {
		return SensorRecord{}, fmt.Errorf("%w: payload is %d bytes, want %d", ErrDecodeFailed, len(p), SensorPayloadSize)
	}
	return SensorRecord{
		Temperature: binary.LittleEndian.Uint64(p[0:8]),
		NodeID:      binary.LittleEndian.Uint64(p[8:16]),
	}, nil
}

// Encode returns the wire form of the reading.
func (r SensorRecord) Encode() []byte {
	b := make([]byte, 0, SensorPayloadSize)
	b = binary.LittleEndian.AppendUint64(b, r.Temperature)
	return binary.LittleEndian.AppendUint64(b, r.NodeID)
}
