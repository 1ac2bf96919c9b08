package mqtt

// Reconnector is the part of a Session a DisconnectObserver may drive.
type Reconnector interface {
	// Reconnect makes one blocking reconnect attempt.
	Reconnect() error

	// AutoReconnectEnabled reports whether the client reconnects on its own.
	AutoReconnectEnabled() bool
}

// DisconnectObserver is notified, during Yield, each time an established
// connection is lost.
type DisconnectObserver interface {
	OnDisconnect(r Reconnector, cause error)
}

// DisconnectObserverFunc adapts a function to DisconnectObserver.
type DisconnectObserverFunc func(r Reconnector, cause error)

// OnDisconnect calls f(r, cause).
func (f DisconnectObserverFunc) OnDisconnect(r Reconnector, cause error) {
	f(r, cause)
}

// ReconnectPolicy is the default DisconnectObserver.
//
// With auto-reconnect enabled it only logs; the client works its own
// backoff. With auto-reconnect disabled it makes exactly one manual
// reconnect and logs the outcome. The outcome is never returned: the
// session state tells the caller what happened.
type ReconnectPolicy struct {
	Logger Logger
}

// OnDisconnect implements DisconnectObserver.
func (p ReconnectPolicy) OnDisconnect(r Reconnector, cause error) {
	if r.AutoReconnectEnabled() {
		p.warn("mqtt connection lost, auto-reconnect enabled", "error", cause)
		return
	}

	p.warn("mqtt connection lost, attempting manual reconnect", "error", cause)
	if err := r.Reconnect(); err != nil {
		if p.Logger != nil {
			p.Logger.Error("mqtt manual reconnect failed", "error", err)
		}
		return
	}
	if p.Logger != nil {
		p.Logger.Info("mqtt manual reconnect succeeded")
	}
}

func (p ReconnectPolicy) warn(msg string, args ...any) {
	if p.Logger != nil {
		p.Logger.Warn(msg, args...)
	}
}
