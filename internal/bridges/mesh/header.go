package mesh

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// HeaderSize is the encoded size of a Header.
const HeaderSize = 8

// MaxPayloadSize is the largest payload a single radio frame carries.
const MaxPayloadSize = 24

// Frame types. Types below SystemTypeMin are application frames; the rest
// belong to the mesh layer and never reach the ingest adapter.
const (
	// TypeSensor tags a temperature reading.
	TypeSensor byte = 'M'

	// SystemTypeMin is the first mesh-internal frame type.
	SystemTypeMin byte = 128

	// TypeAddressResponse carries an assigned address back to a node.
	TypeAddressResponse byte = 128

	// TypeAddressRequest asks the master for an address. The requesting
	// node id travels in Header.Reserved.
	TypeAddressRequest byte = 195

	// TypeAddressLookup asks the master which address a node id holds.
	TypeAddressLookup byte = 196

	// TypeAddressRelease gives an address back.
	TypeAddressRelease byte = 197
)

// Address is a mesh node address. Each octal digit is one hop in the tree
// below the master, so addresses are written in octal: 011 is child 1 of
// node 01.
type Address uint16

// MasterAddress is the address of this node, the root of the mesh.
const MasterAddress Address = 0

// String formats the address in octal with a leading 0, e.g. "011".
func (a Address) String() string {
	return "0" + strconv.FormatUint(uint64(a), 8)
}

// Header is the fixed frame header that precedes every payload.
//
// Wire layout (little-endian):
//
//	Byte 0-1: From address
//	Byte 2-3: To address
//	Byte 4-5: Frame id
//	Byte 6:   Type
//	Byte 7:   Reserved (node id on address requests)
type Header struct {
	From     Address
	To       Address
	ID       uint16
	Type     byte
	Reserved byte
}

// IsSystem reports whether the frame belongs to the mesh layer.
func (h Header) IsSystem() bool {
	return h.Type >= SystemTypeMin
}

// Encode returns the 8-byte wire form of the header.
func (h Header) Encode() []byte {
	return h.appendTo(make([]byte, 0, HeaderSize))
}

func (h Header) appendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(h.From))
	b = binary.LittleEndian.AppendUint16(b, uint16(h.To))
	b = binary.LittleEndian.AppendUint16(b, h.ID)
	return append(b, h.Type, h.Reserved)
}

// ParseHeader decodes a header from the first HeaderSize bytes of b.
//
// Returns:
//   - Header: Decoded header
//   - error: ErrInvalidFrame if b is too short
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header too short (%d bytes, need %d)", ErrInvalidFrame, len(b), HeaderSize)
	}
	return Header{
		From:     Address(binary.LittleEndian.Uint16(b[0:2])),
		To:       Address(binary.LittleEndian.Uint16(b[2:4])),
		ID:       binary.LittleEndian.Uint16(b[4:6]),
		Type:     b[6],
		Reserved: b[7],
	}, nil
}

// Frame is a header plus its payload.
type Frame struct {
	Header  Header
	Payload []byte
}
