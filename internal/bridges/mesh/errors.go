package mesh

import (
	"errors"
	"fmt"
)

// Domain errors for the mesh bridge package.
var (
	// ErrNotConnected is returned when the gateway socket is down.
	ErrNotConnected = errors.New("mesh: not connected to gateway")

	// ErrConnectionFailed is returned when dialling the gateway fails.
	ErrConnectionFailed = errors.New("mesh: connection to gateway failed")

	// ErrNoFrame is returned by Peek and Read when no frame is queued.
	ErrNoFrame = errors.New("mesh: no frame available")

	// ErrInvalidFrame is returned when bytes from the gateway do not form a
	// valid frame.
	ErrInvalidFrame = errors.New("mesh: invalid frame")

	// ErrUnrecognizedFrame is returned when a frame's type is not the sensor
	// type. The frame has been drained.
	ErrUnrecognizedFrame = errors.New("mesh: unrecognized frame type")

	// ErrDecodeFailed is returned when a sensor frame's payload has the wrong
	// size. The frame has been drained.
	ErrDecodeFailed = errors.New("mesh: sensor payload decode failed")

	// ErrAddressPoolExhausted is returned when no mesh address is free.
	ErrAddressPoolExhausted = errors.New("mesh: address pool exhausted")

	// ErrSessionDown is returned by Loop.Run when the messaging session died
	// without reporting a cause.
	ErrSessionDown = errors.New("mesh: messaging session is down")
)

// FrameError describes a frame that was consumed but not forwarded.
type FrameError struct {
	Type byte
	From Address
	Size int
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v: type %d from %s (%d bytes)", e.Err, e.Type, e.From, e.Size)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
