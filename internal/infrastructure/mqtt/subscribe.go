package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler is the callback signature for received messages.
//
// Handlers run inside Session.Yield on the caller's goroutine, never on a
// paho goroutine. They should return quickly: Yield does not return until
// every queued handler has run.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged, never propagated
type MessageHandler func(topic string, payload []byte) error

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Subscribe registers a handler for messages on the specified topic pattern.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "Sensor/temp/+" matches every node
//   - # (multi-level): "Sensor/#"
//
// Subscriptions are restored after every reconnect.
//
// Parameters:
//   - topic: The topic pattern to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback invoked during Yield for each message
//
// Returns:
//   - error: *SessionError with CodeSubscribeFailed, or a validation error
func (s *Session) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !s.State().CanPublish() {
		return ErrNotConnected
	}

	sub := subscription{topic: topic, qos: qos, handler: handler}
	if err := s.subscribe(sub); err != nil {
		return &SessionError{Op: "subscribe", Code: CodeSubscribeFailed, Err: err}
	}
	s.subscriptions[topic] = sub
	return nil
}

func (s *Session) subscribe(sub subscription) error {
	timeout := s.cfg.CommandTimeout
	token := s.client.Subscribe(sub.topic, sub.qos, s.queueHandler(sub.handler))
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
// Requests are sent without waiting; see track.
func (s *Session) restoreSubscriptions() {
	for _, sub := range s.subscriptions {
		token := s.client.Subscribe(sub.topic, sub.qos, s.queueHandler(sub.handler))
		s.track("subscribe", sub.topic, token)
	}
}

// SubscriptionCount returns the number of active subscriptions.
func (s *Session) SubscriptionCount() int {
	return len(s.subscriptions)
}

// queueHandler returns the paho callback for handler. It only copies the
// message into the inbound queue; dispatch happens in Yield.
func (s *Session) queueHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.mu.Lock()
		if len(s.inbound) >= maxPendingMessages {
			s.dropped++
			s.mu.Unlock()
			return
		}
		payload := append([]byte(nil), msg.Payload()...)
		s.inbound = append(s.inbound, inboundMessage{topic: msg.Topic(), payload: payload, handler: handler})
		s.mu.Unlock()
		s.wake()
	}
}

// dispatch runs one handler with panic recovery and optional logging.
func (s *Session) dispatch(msg inboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			if logger := s.logger; logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", msg.topic,
					"panic", r,
				)
			}
		}
	}()

	if err := msg.handler(msg.topic, msg.payload); err != nil {
		if logger := s.logger; logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", msg.topic,
				"error", err,
			)
		}
	}
}
