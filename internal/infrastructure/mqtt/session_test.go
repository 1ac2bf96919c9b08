package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/config"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

// slowToken completes after delay, like a broker that is slow to ack.
type slowToken struct {
	done chan struct{}
}

func newSlowToken(delay time.Duration) *slowToken {
	t := &slowToken{done: make(chan struct{})}
	time.AfterFunc(delay, func() { close(t.done) })
	return t
}

func (t *slowToken) Wait() bool { <-t.done; return true }
func (t *slowToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *slowToken) Error() error          { return nil }
func (t *slowToken) Done() <-chan struct{} { return t.done }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records calls the way the broker would see them.
type fakeClient struct {
	mu sync.Mutex

	connected      bool
	connectErr     error
	connectTimeout bool
	connectCalls   int
	disconnects    int

	publishErr     error
	publishTimeout bool
	published      []publishedMessage

	subscribeErr error
	subscribes   []string
	handlers     map[string]pahomqtt.MessageHandler

	// ackDelay makes Publish and Subscribe tokens complete late.
	ackDelay time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
	if c.connectErr == nil && !c.connectTimeout {
		c.connected = true
	}
	return &fakeToken{err: c.connectErr, timeout: c.connectTimeout}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.connected = false
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var body []byte
	switch p := payload.(type) {
	case string:
		body = []byte(p)
	case []byte:
		body = p
	}
	c.published = append(c.published, publishedMessage{topic: topic, qos: qos, retained: retained, payload: body})
	if c.ackDelay > 0 {
		return newSlowToken(c.ackDelay)
	}
	return &fakeToken{err: c.publishErr, timeout: c.publishTimeout}
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes = append(c.subscribes, topic)
	if c.subscribeErr == nil {
		c.handlers[topic] = callback
	}
	if c.ackDelay > 0 {
		return newSlowToken(c.ackDelay)
	}
	return &fakeToken{err: c.subscribeErr}
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(...string) pahomqtt.Token { return &fakeToken{} }

func (c *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver simulates paho routing an inbound message on its own goroutine.
func (c *fakeClient) deliver(pattern, topic string, payload []byte) {
	c.mu.Lock()
	handler := c.handlers[pattern]
	c.mu.Unlock()
	if handler != nil {
		handler(c, &fakeMessage{topic: topic, payload: payload})
	}
}

func (c *fakeClient) publishedTo(topic string) []publishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []publishedMessage
	for _, m := range c.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *recordingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

// =============================================================================
// Helpers
// =============================================================================

const testStatusTopic = "meshbridge/status"

// testConfig returns a plain-TCP configuration; no broker is contacted.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "meshbridge-test",
		},
		Reconnect: config.MQTTReconnectConfig{
			AutoReconnect: true,
			MaxDelay:      5,
		},
		KeepAlive:      10 * time.Second,
		CommandTimeout: 50 * time.Millisecond,
		StatusTopic:    testStatusTopic,
	}
}

// useFakeClient routes newPahoClient to fc for the duration of the test.
func useFakeClient(t *testing.T, fc *fakeClient) {
	t.Helper()
	orig := newPahoClient
	newPahoClient = func(*pahomqtt.ClientOptions) pahomqtt.Client { return fc }
	t.Cleanup(func() { newPahoClient = orig })
}

func connectFake(t *testing.T, cfg config.MQTTConfig) (*Session, *fakeClient) {
	t.Helper()
	fc := newFakeClient()
	useFakeClient(t, fc)

	s, err := Connect(cfg, config.CertPaths{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return s, fc
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_PublishesOnlineStatus(t *testing.T) {
	s, fc := connectFake(t, testConfig())

	if s.State() != Connected {
		t.Errorf("State() = %v, want %v", s.State(), Connected)
	}

	status := fc.publishedTo(testStatusTopic)
	if len(status) != 1 {
		t.Fatalf("status publishes = %d, want 1", len(status))
	}
	if !status[0].retained {
		t.Error("status should be retained")
	}
	if !strings.Contains(string(status[0].payload), `"status":"online"`) {
		t.Errorf("status payload = %s, want online", status[0].payload)
	}
}

func TestConnect_NoStatusTopic(t *testing.T) {
	cfg := testConfig()
	cfg.StatusTopic = ""
	_, fc := connectFake(t, cfg)

	if len(fc.published) != 0 {
		t.Errorf("published = %d, want 0 with status disabled", len(fc.published))
	}
}

func TestConnect_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeClient)
		wantErr error
	}{
		{
			name:    "broker refuses",
			setup:   func(c *fakeClient) { c.connectErr = errors.New("not authorized") },
			wantErr: ErrConnectionFailed,
		},
		{
			name:    "timeout",
			setup:   func(c *fakeClient) { c.connectTimeout = true },
			wantErr: ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeClient()
			tt.setup(fc)
			useFakeClient(t, fc)

			s, err := Connect(testConfig(), config.CertPaths{})
			if s != nil {
				t.Error("Connect() returned a session on failure")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Connect() error = %v, want %v", err, tt.wantErr)
			}

			var se *SessionError
			if !errors.As(err, &se) {
				t.Fatalf("Connect() error type = %T, want *SessionError", err)
			}
			if se.ExitCode() != int(CodeConnectFailed) {
				t.Errorf("ExitCode() = %d, want %d", se.ExitCode(), CodeConnectFailed)
			}
		})
	}
}

func TestConnect_MissingCertificates(t *testing.T) {
	fc := newFakeClient()
	useFakeClient(t, fc)

	cfg := testConfig()
	cfg.Broker.TLS = true
	dir := t.TempDir()
	certs := config.CertPaths{
		RootCA:      dir + "/rootCA.crt",
		Certificate: dir + "/cert.pem",
		PrivateKey:  dir + "/privkey.pem",
	}

	_, err := Connect(cfg, certs)
	if !errors.Is(err, ErrCredentials) {
		t.Fatalf("Connect() error = %v, want ErrCredentials", err)
	}
	var se *SessionError
	if !errors.As(err, &se) || se.Code != CodeCredentials {
		t.Errorf("Connect() error = %v, want CodeCredentials", err)
	}
	if fc.connectCalls != 0 {
		t.Error("broker should not be contacted without credentials")
	}
}

func TestConnect_GeneratesClientID(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = ""
	s, _ := connectFake(t, cfg)

	id := s.ClientID()
	if !strings.HasPrefix(id, clientIDPrefix) {
		t.Errorf("ClientID() = %q, want prefix %q", id, clientIDPrefix)
	}
	if len(id) != len(clientIDPrefix)+8 {
		t.Errorf("ClientID() = %q, want 8 character suffix", id)
	}
}

// =============================================================================
// Yield and State Machine Tests
// =============================================================================

func TestYield_IdleWaitsForTimeout(t *testing.T) {
	s, _ := connectFake(t, testConfig())

	start := time.Now()
	st := s.Yield(20 * time.Millisecond)

	if st != Connected {
		t.Errorf("Yield() = %v, want %v", st, Connected)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Yield() returned after %v, want at least 20ms", elapsed)
	}
}

func TestYield_AutoReconnectCycle(t *testing.T) {
	s, fc := connectFake(t, testConfig())
	if err := s.Subscribe("Sensor/temp/+", 0, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Connection drops; paho starts its backoff.
	s.onConnectionLost(fc, errors.New("EOF"))
	s.onReconnecting(fc, nil)

	if st := s.Yield(time.Second); st != ReconnectAttempting {
		t.Fatalf("Yield() = %v, want %v", st, ReconnectAttempting)
	}
	if err := s.Publish("Sensor/temp/1", []byte("x"), 0); !errors.Is(err, ErrReconnecting) {
		t.Errorf("Publish() during reconnect error = %v, want ErrReconnecting", err)
	}
	if st := s.Yield(5 * time.Millisecond); st != ReconnectAttempting {
		t.Errorf("Yield() = %v, want still %v", st, ReconnectAttempting)
	}

	s.onConnect(fc)
	if st := s.Yield(time.Second); st != Reconnected {
		t.Fatalf("Yield() = %v, want %v", st, Reconnected)
	}
	if st := s.Yield(5 * time.Millisecond); st != Connected {
		t.Errorf("Yield() after Reconnected = %v, want %v", st, Connected)
	}

	if got := len(fc.subscribes); got != 2 {
		t.Errorf("subscribe calls = %d, want 2 (initial + restore)", got)
	}
	if got := len(fc.publishedTo(testStatusTopic)); got != 2 {
		t.Errorf("status publishes = %d, want 2 (connect + reconnect)", got)
	}
}

func TestYield_ReconnectDoesNotWaitForBroker(t *testing.T) {
	cfg := testConfig()
	cfg.CommandTimeout = 500 * time.Millisecond
	s, fc := connectFake(t, cfg)
	if err := s.Subscribe("Sensor/temp/+", 0, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	fc.mu.Lock()
	fc.ackDelay = 2 * time.Second
	fc.mu.Unlock()

	s.onConnectionLost(fc, errors.New("EOF"))
	if st := s.Yield(time.Second); st != ReconnectAttempting {
		t.Fatalf("Yield() = %v, want %v", st, ReconnectAttempting)
	}

	s.onConnect(fc)
	start := time.Now()
	st := s.Yield(100 * time.Millisecond)
	elapsed := time.Since(start)

	if st != Reconnected {
		t.Fatalf("Yield() = %v, want %v", st, Reconnected)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("Yield(100ms) returned after %v", elapsed)
	}
	if got := len(fc.subscribes); got != 2 {
		t.Errorf("subscribe calls = %d, want 2 (initial + restore)", got)
	}
}

func TestYield_RestoreFailureLoggedLater(t *testing.T) {
	s, fc := connectFake(t, testConfig())
	logger := &recordingLogger{}
	s.SetLogger(logger)
	if err := s.Subscribe("Sensor/temp/+", 0, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	fc.mu.Lock()
	fc.subscribeErr = errors.New("not authorized")
	fc.mu.Unlock()

	s.onConnectionLost(fc, errors.New("EOF"))
	s.Yield(time.Millisecond)
	s.onConnect(fc)
	if st := s.Yield(time.Second); st != Reconnected {
		t.Fatalf("Yield() = %v, want %v", st, Reconnected)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !logger.contains("restoring subscription failed") && time.Now().Before(deadline) {
		if st := s.Yield(20 * time.Millisecond); !st.IsAlive() {
			t.Fatalf("session died: %v", s.Err())
		}
	}
	if !logger.contains("restoring subscription failed") {
		t.Error("expected restore failure to be logged by a later Yield")
	}
}

func TestYield_InitialOnConnectIgnored(t *testing.T) {
	s, _ := connectFake(t, testConfig())

	// paho fires OnConnect asynchronously after the first connect.
	s.onConnect(nil)

	if st := s.Yield(5 * time.Millisecond); st != Connected {
		t.Errorf("Yield() = %v, want %v", st, Connected)
	}
}

func TestYield_MaxAttemptsIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 2
	s, fc := connectFake(t, cfg)

	s.onConnectionLost(fc, errors.New("EOF"))
	for i := 0; i < 3; i++ {
		s.onReconnecting(fc, nil)
	}

	if st := s.Yield(time.Second); st != Fatal {
		t.Fatalf("Yield() = %v, want %v", st, Fatal)
	}
	if fc.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", fc.disconnects)
	}

	err := s.Err()
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Err() = %v, want ErrReconnectExhausted", err)
	}
	var se *SessionError
	if !errors.As(err, &se) || se.ExitCode() != int(CodeReconnectExhausted) {
		t.Errorf("Err() = %v, want exit code %d", err, CodeReconnectExhausted)
	}

	// Fatal is terminal: a late OnConnect changes nothing.
	s.onConnect(fc)
	if st := s.Yield(time.Millisecond); st != Fatal {
		t.Errorf("Yield() after Fatal = %v, want %v", st, Fatal)
	}
}

func TestYield_AttemptsResetAfterReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 2
	s, fc := connectFake(t, cfg)

	for round := 0; round < 3; round++ {
		s.onConnectionLost(fc, errors.New("EOF"))
		s.onReconnecting(fc, nil)
		s.onReconnecting(fc, nil)
		s.onConnect(fc)
		if st := s.Yield(time.Second); st != Reconnected {
			t.Fatalf("round %d: Yield() = %v, want %v", round, st, Reconnected)
		}
	}
}

func TestYield_ManualReconnectWhenAutoDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.AutoReconnect = false
	s, fc := connectFake(t, cfg)

	s.onConnectionLost(fc, errors.New("EOF"))

	if st := s.Yield(time.Second); st != Reconnected {
		t.Fatalf("Yield() = %v, want %v", st, Reconnected)
	}
	if fc.connectCalls != 2 {
		t.Errorf("connect calls = %d, want 2 (initial + one manual)", fc.connectCalls)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after successful reconnect", err)
	}
}

func TestYield_ManualReconnectFails(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.AutoReconnect = false
	s, fc := connectFake(t, cfg)
	logger := &recordingLogger{}
	s.SetLogger(logger)

	fc.connectErr = errors.New("connection refused")
	s.onConnectionLost(fc, errors.New("EOF"))

	if st := s.Yield(time.Second); st != Disconnected {
		t.Fatalf("Yield() = %v, want %v", st, Disconnected)
	}
	if fc.connectCalls != 2 {
		t.Errorf("connect calls = %d, want exactly one manual attempt", fc.connectCalls)
	}

	var se *SessionError
	if !errors.As(s.Err(), &se) || se.ExitCode() != int(CodeDisconnected) {
		t.Errorf("Err() = %v, want exit code %d", s.Err(), CodeDisconnected)
	}
	if !logger.contains("manual reconnect failed") {
		t.Error("expected manual reconnect failure to be logged")
	}
}

func TestSetDisconnectObserver(t *testing.T) {
	s, fc := connectFake(t, testConfig())

	var causes []error
	s.SetDisconnectObserver(DisconnectObserverFunc(func(r Reconnector, cause error) {
		if !r.AutoReconnectEnabled() {
			t.Error("AutoReconnectEnabled() = false, want true")
		}
		causes = append(causes, cause)
	}))

	lost := errors.New("keepalive timeout")
	s.onConnectionLost(fc, lost)

	if len(causes) != 0 {
		t.Fatal("observer ran outside Yield")
	}
	s.Yield(time.Millisecond)
	if len(causes) != 1 || causes[0] != lost {
		t.Errorf("observer causes = %v, want [%v]", causes, lost)
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribe_HandlerRunsOnlyInYield(t *testing.T) {
	s, fc := connectFake(t, testConfig())

	type received struct {
		topic   string
		payload string
	}
	var got []received
	err := s.Subscribe("Sensor/temp/+", 0, func(topic string, payload []byte) error {
		got = append(got, received{topic, string(payload)})
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		fc.deliver("Sensor/temp/+", "Sensor/temp/5", []byte(`{"temperature": 72,"nodeID": 5}`))
		close(done)
	}()
	<-done

	if len(got) != 0 {
		t.Fatal("handler ran before Yield")
	}

	s.Yield(5 * time.Millisecond)

	if len(got) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(got))
	}
	if got[0].topic != "Sensor/temp/5" || got[0].payload != `{"temperature": 72,"nodeID": 5}` {
		t.Errorf("handler got %+v", got[0])
	}
}

func TestSubscribe_HandlerPanicRecovered(t *testing.T) {
	s, fc := connectFake(t, testConfig())
	logger := &recordingLogger{}
	s.SetLogger(logger)

	_ = s.Subscribe("a/b", 0, func(string, []byte) error { panic("boom") })
	fc.deliver("a/b", "a/b", nil)

	s.Yield(time.Millisecond)

	if !logger.contains("panic recovered") {
		t.Error("expected panic to be logged")
	}
}

func TestSubscribe_HandlerErrorLogged(t *testing.T) {
	s, fc := connectFake(t, testConfig())
	logger := &recordingLogger{}
	s.SetLogger(logger)

	_ = s.Subscribe("a/b", 0, func(string, []byte) error { return errors.New("bad payload") })
	fc.deliver("a/b", "a/b", []byte("x"))

	s.Yield(time.Millisecond)

	if !logger.contains("handler returned error") {
		t.Error("expected handler error to be logged")
	}
}

func TestSubscribe_InboundQueueBounded(t *testing.T) {
	s, fc := connectFake(t, testConfig())
	logger := &recordingLogger{}
	s.SetLogger(logger)

	calls := 0
	_ = s.Subscribe("a/+", 0, func(string, []byte) error {
		calls++
		return nil
	})
	for i := 0; i < maxPendingMessages+10; i++ {
		fc.deliver("a/+", "a/x", []byte("x"))
	}

	s.Yield(time.Millisecond)

	if calls != maxPendingMessages {
		t.Errorf("handler calls = %d, want %d", calls, maxPendingMessages)
	}
	if !logger.contains("inbound messages dropped") {
		t.Error("expected dropped messages to be logged")
	}
}

func TestSubscribe_Validation(t *testing.T) {
	s, fc := connectFake(t, testConfig())
	noop := func(string, []byte) error { return nil }

	if err := s.Subscribe("", 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := s.Subscribe("a", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := s.Subscribe("a", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}

	fc.subscribeErr = errors.New("not authorized")
	err := s.Subscribe("a", 0, noop)
	var se *SessionError
	if !errors.As(err, &se) || se.Code != CodeSubscribeFailed {
		t.Errorf("broker rejection error = %v, want CodeSubscribeFailed", err)
	}
	if s.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", s.SubscriptionCount())
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	s, fc := connectFake(t, testConfig())

	if err := s.Publish("Sensor/temp/5", []byte("body"), 0); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msgs := fc.publishedTo("Sensor/temp/5")
	if len(msgs) != 1 {
		t.Fatalf("publishes = %d, want 1", len(msgs))
	}
	if msgs[0].retained || msgs[0].qos != 0 || string(msgs[0].payload) != "body" {
		t.Errorf("published %+v", msgs[0])
	}
}

func TestPublish_Errors(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		setup   func(*Session, *fakeClient)
		wantErr error
	}{
		{name: "empty topic", topic: "", wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "t", qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized payload", topic: "t", payload: make([]byte, maxPayloadSize+1), wantErr: ErrPublishFailed},
		{
			name:    "broker error",
			topic:   "t",
			setup:   func(_ *Session, c *fakeClient) { c.publishErr = errors.New("pipe closed") },
			wantErr: ErrPublishFailed,
		},
		{
			name:    "timeout",
			topic:   "t",
			setup:   func(_ *Session, c *fakeClient) { c.publishTimeout = true },
			wantErr: ErrTimeout,
		},
		{
			name:    "closed session",
			topic:   "t",
			setup:   func(s *Session, _ *fakeClient) { _ = s.Close() },
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fc := connectFake(t, testConfig())
			if tt.setup != nil {
				tt.setup(s, fc)
			}
			if err := s.Publish(tt.topic, tt.payload, tt.qos); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublish_FailureLeavesStateAlive(t *testing.T) {
	s, fc := connectFake(t, testConfig())
	fc.publishErr = errors.New("transient")

	_ = s.Publish("t", nil, 0)

	if !s.State().IsAlive() {
		t.Errorf("State() = %v after publish failure, want alive", s.State())
	}
}

// =============================================================================
// Close and Health Tests
// =============================================================================

func TestClose(t *testing.T) {
	s, fc := connectFake(t, testConfig())

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	status := fc.publishedTo(testStatusTopic)
	if len(status) != 2 || !strings.Contains(string(status[1].payload), "graceful_shutdown") {
		t.Errorf("expected graceful offline status, got %d status messages", len(status))
	}
	if fc.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", fc.disconnects)
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want %v", s.State(), Disconnected)
	}
}

func TestCloseNil(t *testing.T) {
	s := &Session{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on unconnected session error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	s, fc := connectFake(t, testConfig())

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}

	s.onConnectionLost(fc, errors.New("EOF"))
	s.Yield(time.Millisecond)
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrReconnecting) {
		t.Errorf("HealthCheck() while reconnecting error = %v, want ErrReconnecting", err)
	}
}

// =============================================================================
// Reconnect Policy Tests
// =============================================================================

type fakeReconnector struct {
	auto  bool
	err   error
	calls int
}

func (r *fakeReconnector) Reconnect() error {
	r.calls++
	return r.err
}

func (r *fakeReconnector) AutoReconnectEnabled() bool { return r.auto }

func TestReconnectPolicy(t *testing.T) {
	tests := []struct {
		name      string
		auto      bool
		err       error
		wantCalls int
		wantLog   string
	}{
		{name: "auto reconnect only logs", auto: true, wantCalls: 0, wantLog: "auto-reconnect enabled"},
		{name: "manual reconnect succeeds", auto: false, wantCalls: 1, wantLog: "manual reconnect succeeded"},
		{name: "manual reconnect fails", auto: false, err: errors.New("refused"), wantCalls: 1, wantLog: "manual reconnect failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReconnector{auto: tt.auto, err: tt.err}
			logger := &recordingLogger{}

			ReconnectPolicy{Logger: logger}.OnDisconnect(r, errors.New("EOF"))

			if r.calls != tt.wantCalls {
				t.Errorf("Reconnect() calls = %d, want %d", r.calls, tt.wantCalls)
			}
			if !logger.contains(tt.wantLog) {
				t.Errorf("expected log containing %q", tt.wantLog)
			}
		})
	}
}

func TestReconnectPolicy_NilLogger(t *testing.T) {
	r := &fakeReconnector{err: errors.New("refused")}
	ReconnectPolicy{}.OnDisconnect(r, nil)
	if r.calls != 1 {
		t.Errorf("Reconnect() calls = %d, want 1", r.calls)
	}
}
