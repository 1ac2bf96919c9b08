package mesh

import "sync"

type logEntry struct {
	level string
	msg   string
	args  []any
}

// captureLogger records log calls.
type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

// messages returns every logged message at level.
func (l *captureLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

// sensorFrame builds a sensor frame from node address from.
func sensorFrame(id uint16, from Address, temperature, nodeID uint64) Frame {
	return Frame{
		Header:  Header{From: from, To: MasterAddress, ID: id, Type: TypeSensor},
		Payload: SensorRecord{Temperature: temperature, NodeID: nodeID}.Encode(),
	}
}

// rawFrame builds a frame with an arbitrary type and payload.
func rawFrame(id uint16, from Address, typ byte, payload []byte) Frame {
	return Frame{
		Header:  Header{From: from, To: MasterAddress, ID: id, Type: typ},
		Payload: payload,
	}
}

// recordedFrame is one FrameRecorder call.
type recordedFrame struct {
	from    Address
	typ     byte
	reading *SensorRecord
}

// frameLog is a FrameRecorder that keeps every call.
type frameLog struct {
	frames []recordedFrame
}

func (f *frameLog) RecordFrame(from Address, frameType byte, reading *SensorRecord) {
	f.frames = append(f.frames, recordedFrame{from: from, typ: frameType, reading: reading})
}
