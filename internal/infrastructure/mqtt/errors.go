package mqtt

import (
	"errors"
	"fmt"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrReconnecting is returned by Publish while a reconnect is in progress.
	// It is transient: the caller should skip the current work and yield.
	ErrReconnecting = errors.New("mqtt: reconnect in progress")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionLost wraps the cause reported when an established
	// connection drops.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrReconnectExhausted is returned once the configured number of
	// reconnect attempts has failed.
	ErrReconnectExhausted = errors.New("mqtt: reconnect attempts exhausted")

	// ErrCredentials is returned when the TLS material cannot be loaded.
	ErrCredentials = errors.New("mqtt: invalid credentials")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// Code classifies terminal session failures. Its integer value is the
// process exit status.
type Code int

// Exit codes. 2 is reserved for configuration and usage errors.
const (
	CodeOK                 Code = 0
	CodeFailure            Code = 1
	CodeConnectFailed      Code = 3
	CodeCredentials        Code = 4
	CodeSubscribeFailed    Code = 5
	CodePublishFailed      Code = 6
	CodeDisconnected       Code = 7
	CodeReconnectExhausted Code = 8
)

// SessionError is a failure that ends, or prevents, a session.
type SessionError struct {
	// Op is the operation that failed: "connect", "subscribe", "reconnect".
	Op   string
	Code Code
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("mqtt %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status for this failure.
func (e *SessionError) ExitCode() int {
	if e.Code == CodeOK {
		return int(CodeFailure)
	}
	return int(e.Code)
}
