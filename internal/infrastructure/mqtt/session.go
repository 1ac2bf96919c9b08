package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/config"
)

// maxPendingMessages caps inbound messages buffered between two Yield calls.
const maxPendingMessages = 256

// newPahoClient is swapped by tests.
var newPahoClient = pahomqtt.NewClient

// Session is a long-lived, authenticated MQTT session driven from a single
// goroutine.
//
// paho runs its network I/O on its own goroutines. Session turns everything
// those goroutines report (connection lost, reconnect attempt, connected,
// inbound message) into queued events, and applies them only inside Yield.
// State changes, the disconnect observer and message handlers therefore all
// run on the goroutine that calls Yield.
//
// Thread Safety:
//   - Yield, Publish, Subscribe, Reconnect and Close must be called from one goroutine.
//   - State and HealthCheck are safe from any goroutine.
type Session struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	clientID string

	state atomic.Int32

	// Event queue filled by paho goroutines, drained by Yield.
	mu       sync.Mutex
	events   []sessionEvent
	inbound  []inboundMessage
	dropped  int
	notify   chan struct{}
	attempts int

	// terminal is the failure that left the session not alive.
	terminal *SessionError

	subscriptions map[string]subscription
	observer      DisconnectObserver
	logger        Logger
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type eventKind int

const (
	eventConnected eventKind = iota
	eventLost
	eventReconnecting
	eventRequestFailed
)

type sessionEvent struct {
	kind eventKind
	err  error

	// op and topic identify a failed request for eventRequestFailed.
	op    string
	topic string
}

type inboundMessage struct {
	topic   string
	payload []byte
	handler MessageHandler
}

// Connect establishes an authenticated session with the broker.
//
// It performs the following setup:
//  1. Picks the client id (configured, or generated)
//  2. Builds connection options and loads the TLS material
//  3. Configures the Last Will on the status topic
//  4. Connects, waiting at most the command timeout
//  5. Publishes the retained online status
//
// A failure here is not retried; the caller is expected to abort.
//
// Parameters:
//   - cfg: MQTT configuration
//   - certs: Resolved root CA, certificate and key paths (ignored without TLS)
//
// Returns:
//   - *Session: Connected session ready for Subscribe and Publish
//   - error: *SessionError with CodeCredentials or CodeConnectFailed
func Connect(cfg config.MQTTConfig, certs config.CertPaths) (*Session, error) {
	s := newSession(cfg, clientIDFor(cfg))

	opts, err := buildClientOptions(cfg, s.clientID, certs)
	if err != nil {
		return nil, &SessionError{Op: "connect", Code: CodeCredentials, Err: fmt.Errorf("%w: %w", ErrCredentials, err)}
	}
	configureLWT(opts, cfg.StatusTopic, s.clientID)

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(s.onReconnecting)

	s.client = newPahoClient(opts)
	if err := s.connect(); err != nil {
		s.setState(Disconnected)
		return nil, &SessionError{Op: "connect", Code: CodeConnectFailed, Err: err}
	}

	s.setState(Connected)
	s.publishStatus("online", "")
	return s, nil
}

func newSession(cfg config.MQTTConfig, clientID string) *Session {
	s := &Session{
		cfg:           cfg,
		clientID:      clientID,
		notify:        make(chan struct{}, 1),
		subscriptions: make(map[string]subscription),
	}
	s.setState(Connecting)
	return s
}

// connect runs one paho connect bounded by the command timeout.
func (s *Session) connect() error {
	timeout := s.cfg.CommandTimeout
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// paho callbacks. These run on paho goroutines and only enqueue.

func (s *Session) onConnect(_ pahomqtt.Client) {
	s.enqueue(sessionEvent{kind: eventConnected})
}

func (s *Session) onConnectionLost(_ pahomqtt.Client, err error) {
	s.enqueue(sessionEvent{kind: eventLost, err: err})
}

func (s *Session) onReconnecting(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
	s.enqueue(sessionEvent{kind: eventReconnecting})
}

func (s *Session) enqueue(ev sessionEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.wake()
}

func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Yield hands control to the session for at most timeout.
//
// Queued connection events are applied to the state machine, the disconnect
// observer runs for each lost connection, and subscription handlers run for
// queued inbound messages. Yield returns early when the state changes, and
// immediately when the session is not alive.
//
// Reconnected is returned by exactly one Yield; the next call starts from
// Connected.
//
// Parameters:
//   - timeout: Upper bound on how long Yield blocks
//
// Returns:
//   - ConnectionState: State after the queued events were applied
func (s *Session) Yield(timeout time.Duration) ConnectionState {
	if s.State() == Reconnected {
		s.setState(Connected)
	}
	entry := s.State()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.process()

		st := s.State()
		if !st.IsAlive() || st != entry {
			return st
		}

		select {
		case <-s.notify:
		case <-timer.C:
			return s.State()
		}
	}
}

// process applies everything queued since the last call.
func (s *Session) process() {
	s.mu.Lock()
	events := s.events
	inbound := s.inbound
	dropped := s.dropped
	s.events = nil
	s.inbound = nil
	s.dropped = 0
	s.mu.Unlock()

	for _, ev := range events {
		s.apply(ev)
	}
	if dropped > 0 {
		if logger := s.logger; logger != nil {
			logger.Warn("inbound messages dropped", "count", dropped)
		}
	}
	for _, msg := range inbound {
		s.dispatch(msg)
	}
}

// apply advances the state machine for one event.
func (s *Session) apply(ev sessionEvent) {
	if ev.kind == eventRequestFailed {
		s.logRequestFailure(ev)
		return
	}

	st := s.State()
	if st == Fatal {
		return
	}

	switch ev.kind {
	case eventLost:
		if !st.IsAlive() {
			return
		}
		if s.cfg.Reconnect.AutoReconnect {
			s.setState(ReconnectAttempting)
		} else {
			s.fail("connection", CodeDisconnected, fmt.Errorf("%w: %w", ErrConnectionLost, ev.err))
			s.setState(Disconnected)
		}
		s.disconnectObserver().OnDisconnect(s, ev.err)

	case eventReconnecting:
		s.attempts++
		s.setState(ReconnectAttempting)
		if limit := s.cfg.Reconnect.MaxAttempts; limit > 0 && s.attempts > limit {
			s.fail("reconnect", CodeReconnectExhausted, fmt.Errorf("%w: %d attempts", ErrReconnectExhausted, limit))
			s.setState(Fatal)
			s.client.Disconnect(0)
		}

	case eventConnected:
		// The first OnConnect after Connect, or after a manual Reconnect,
		// arrives when the state already reflects it.
		if st == ReconnectAttempting || st == Disconnected {
			s.markReconnected()
		}
	}
}

// markReconnected records a restored connection. It runs inside Yield, so
// the re-subscribe and status requests are sent without waiting for the
// broker; failures are logged by a later Yield.
func (s *Session) markReconnected() {
	s.attempts = 0
	s.terminal = nil
	s.setState(Reconnected)
	s.restoreSubscriptions()
	if token := s.sendStatus("online", ""); token != nil {
		s.track("status", s.cfg.StatusTopic, token)
	}
	if logger := s.logger; logger != nil {
		logger.Info("mqtt reconnected", "client_id", s.clientID)
	}
}

// track waits for token off the Yield goroutine, bounded by the command
// timeout, and queues a failure event when the request did not succeed.
func (s *Session) track(op, topic string, token pahomqtt.Token) {
	timeout := s.cfg.CommandTimeout
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		var err error
		select {
		case <-token.Done():
			err = token.Error()
		case <-timer.C:
			err = fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		if err != nil {
			s.enqueue(sessionEvent{kind: eventRequestFailed, op: op, topic: topic, err: err})
		}
	}()
}

func (s *Session) logRequestFailure(ev sessionEvent) {
	logger := s.logger
	if logger == nil {
		return
	}
	switch ev.op {
	case "subscribe":
		logger.Warn("restoring subscription failed", "topic", ev.topic, "error", ev.err)
	default:
		logger.Debug("status publish failed", "topic", ev.topic, "error", ev.err)
	}
}

func (s *Session) fail(op string, code Code, err error) {
	s.terminal = &SessionError{Op: op, Code: code, Err: err}
}

// Reconnect makes one manual, blocking reconnect attempt.
//
// It is meant for a DisconnectObserver when auto-reconnect is disabled.
// On success the state becomes Reconnected; on failure it stays
// Disconnected and the error is returned.
func (s *Session) Reconnect() error {
	if s.State() == Fatal {
		return s.Err()
	}
	if err := s.connect(); err != nil {
		s.fail("reconnect", CodeDisconnected, err)
		s.setState(Disconnected)
		return s.Err()
	}
	s.markReconnected()
	return nil
}

// AutoReconnectEnabled reports whether paho reconnects on its own.
func (s *Session) AutoReconnectEnabled() bool {
	return s.cfg.Reconnect.AutoReconnect
}

// State returns the last state applied by Yield, Connect or Reconnect.
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

func (s *Session) setState(st ConnectionState) {
	s.state.Store(int32(st))
}

// Err returns the failure that left the session not alive, or nil.
func (s *Session) Err() error {
	if s.State().IsAlive() || s.terminal == nil {
		return nil
	}
	return s.terminal
}

// ClientID returns the MQTT client id in use.
func (s *Session) ClientID() string {
	return s.clientID
}

// sendStatus sends the retained status message without waiting. It returns
// nil when no status topic is configured.
func (s *Session) sendStatus(status, reason string) pahomqtt.Token {
	if s.cfg.StatusTopic == "" {
		return nil
	}
	return s.client.Publish(s.cfg.StatusTopic, 1, true, buildStatusPayload(status, s.clientID, reason))
}

// publishStatus publishes the retained status message and waits briefly.
// Best effort. Used on connect and close, never inside Yield.
func (s *Session) publishStatus(status, reason string) {
	token := s.sendStatus(status, reason)
	if token == nil {
		return
	}
	if !token.WaitTimeout(statusPublishTimeout) || token.Error() != nil {
		if logger := s.logger; logger != nil {
			logger.Debug("status publish failed", "status", status, "error", token.Error())
		}
	}
}

// Close gracefully disconnects from the MQTT broker.
//
// It performs:
//  1. Publishes graceful offline status (different from LWT crash status)
//  2. Disconnects, giving pending operations a short quiesce period
//
// Returns:
//   - error: Always nil; a session that is already down is not an error
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}

	if s.State().CanPublish() && s.client.IsConnected() {
		s.publishStatus("offline", "graceful_shutdown")
	}
	s.client.Disconnect(defaultDisconnectQuiesce)

	if s.State() != Fatal {
		s.setState(Disconnected)
	}
	return nil
}

// HealthCheck verifies the session can publish.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	st := s.State()
	if st == ReconnectAttempting {
		return ErrReconnecting
	}
	if !st.CanPublish() || !s.client.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetLogger sets a logger for connection events and handler errors.
// If not set, they are silently ignored. Call before the first Yield.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

// SetDisconnectObserver replaces the default ReconnectPolicy.
// Call before the first Yield.
func (s *Session) SetDisconnectObserver(observer DisconnectObserver) {
	s.observer = observer
}

func (s *Session) disconnectObserver() DisconnectObserver {
	if s.observer != nil {
		return s.observer
	}
	return ReconnectPolicy{Logger: s.logger}
}
