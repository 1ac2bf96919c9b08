package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (128KB, the AWS IoT limit).
const maxPayloadSize = 128 << 10

// Publish sends a non-retained message and waits for the broker to accept
// it, at most the command timeout.
//
// Publish never retries. While a reconnect is in progress it returns
// ErrReconnecting without touching the network; the caller decides what a
// failure means by reading State afterwards.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "Sensor/temp/5")
//   - payload: The message payload (max 128KB)
//   - qos: Quality of Service level (0, 1, or 2)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	err := session.Publish("Sensor/temp/5", []byte(`{"temperature": 72,"nodeID": 5}`), 0)
func (s *Session) Publish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	st := s.State()
	if st == ReconnectAttempting {
		return ErrReconnecting
	}
	if !st.CanPublish() {
		return ErrNotConnected
	}

	timeout := s.cfg.CommandTimeout
	token := s.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
