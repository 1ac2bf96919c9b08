package mesh

import (
	"errors"
	"fmt"
	"sync"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// FrameRecorder observes every frame the adapter consumes. reading is nil
// for frames that were rejected.
type FrameRecorder interface {
	RecordFrame(from Address, frameType byte, reading *SensorRecord)
}

// IngestOptions configures an Ingest adapter.
type IngestOptions struct {
	// Network is the mesh transport (required).
	Network Network

	// SensorType is the frame type carrying sensor readings. Default: 'M'.
	SensorType byte

	// Recorder observes consumed frames (optional).
	Recorder FrameRecorder

	// Logger for transport diagnostics (optional).
	Logger Logger
}

// IngestStats holds adapter counters.
type IngestStats struct {
	Ticks           uint64
	TransportErrors uint64
	FramesDecoded   uint64
	FramesRejected  uint64
}

// Ingest is the bridge's view of the mesh. It keeps the mesh maintained
// and turns sensor frames into SensorRecords. Every frame it reads is
// consumed, decoded or not, so a bad frame can never wedge the queue.
type Ingest struct {
	network    Network
	sensorType byte
	recorder   FrameRecorder
	logger     Logger

	mu    sync.Mutex
	stats IngestStats
}

// NewIngest creates an adapter over opts.Network.
//
// Returns:
//   - *Ingest: Ready adapter
//   - error: If Network is nil
func NewIngest(opts IngestOptions) (*Ingest, error) {
	if opts.Network == nil {
		return nil, errors.New("mesh: ingest network is required")
	}
	if opts.SensorType == 0 {
		opts.SensorType = TypeSensor
	}
	return &Ingest{
		network:    opts.Network,
		sensorType: opts.SensorType,
		recorder:   opts.Recorder,
		logger:     opts.Logger,
	}, nil
}

// TickMaintenance pumps the transport and answers address requests. It
// runs once per loop iteration regardless of session state. Transport
// errors are logged and swallowed so that the loop keeps moving.
func (in *Ingest) TickMaintenance() {
	in.mu.Lock()
	in.stats.Ticks++
	in.mu.Unlock()

	if err := in.network.Update(); err != nil {
		in.mu.Lock()
		in.stats.TransportErrors++
		in.mu.Unlock()
		if in.logger != nil {
			in.logger.Warn("mesh update failed", "error", err)
		}
	}
	in.network.DHCP()
}

// HasAvailableFrame reports whether a data frame is queued.
func (in *Ingest) HasAvailableFrame() bool {
	return in.network.Available()
}

// PeekHeader returns the next frame's header without consuming it.
func (in *Ingest) PeekHeader() (Header, error) {
	return in.network.Peek()
}

// ReadFrame consumes the frame described by h.
//
// Frames of any type other than the sensor type are drained without
// copying. Sensor frames whose payload is not exactly SensorPayloadSize
// bytes are consumed and rejected.
//
// Returns:
//   - SensorRecord: The decoded reading
//   - error: *FrameError wrapping ErrUnrecognizedFrame or ErrDecodeFailed
//     for rejected frames, or the transport's error if nothing was consumed
func (in *Ingest) ReadFrame(h Header) (SensorRecord, error) {
	if h.Type != in.sensorType {
		n, err := in.network.Read(h, nil)
		if err != nil {
			return SensorRecord{}, fmt.Errorf("drain frame: %w", err)
		}
		return SensorRecord{}, in.reject(h, n, ErrUnrecognizedFrame)
	}

	var buf [SensorPayloadSize + 1]byte
	n, err := in.network.Read(h, buf[:])
	if err != nil {
		return SensorRecord{}, fmt.Errorf("read frame: %w", err)
	}
	if n != SensorPayloadSize {
		return SensorRecord{}, in.reject(h, n, ErrDecodeFailed)
	}

	rec, err := DecodeSensorRecord(buf[:n])
	if err != nil {
		return SensorRecord{}, in.reject(h, n, ErrDecodeFailed)
	}

	in.mu.Lock()
	in.stats.FramesDecoded++
	in.mu.Unlock()
	if in.recorder != nil {
		in.recorder.RecordFrame(h.From, h.Type, &rec)
	}
	return rec, nil
}

func (in *Ingest) reject(h Header, size int, cause error) error {
	in.mu.Lock()
	in.stats.FramesRejected++
	in.mu.Unlock()
	if in.recorder != nil {
		in.recorder.RecordFrame(h.From, h.Type, nil)
	}
	return &FrameError{Type: h.Type, From: h.From, Size: size, Err: cause}
}

// Stats returns adapter counters.
func (in *Ingest) Stats() IngestStats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stats
}

// Close closes the underlying transport.
func (in *Ingest) Close() error {
	return in.network.Close()
}
