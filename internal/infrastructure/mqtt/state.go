package mqtt

// ConnectionState is the observable health of a Session.
//
// Transitions:
//
//	Disconnected -> Connecting -> Connected
//	Connected -> ReconnectAttempting -> Reconnected -> Connected
//	Connected -> Disconnected (auto-reconnect off) -> Reconnected
//	any -> Fatal
type ConnectionState int32

const (
	// Disconnected means no connection and no reconnect in progress.
	Disconnected ConnectionState = iota

	// Connecting is the initial connect in flight.
	Connecting

	// Connected is the steady state.
	Connected

	// ReconnectAttempting means the connection was lost and the client is
	// working its backoff schedule. Transient.
	ReconnectAttempting

	// Reconnected is reported by exactly one Yield after a successful
	// reconnect, then becomes Connected.
	Reconnected

	// Fatal is terminal.
	Fatal
)

var stateNames = [...]string{
	Disconnected:        "disconnected",
	Connecting:          "connecting",
	Connected:           "connected",
	ReconnectAttempting: "reconnect_attempting",
	Reconnected:         "reconnected",
	Fatal:               "fatal",
}

// String returns the lower snake-case state name.
func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// IsAlive reports whether the bridge may keep running in this state.
// Disconnected and Fatal are not alive.
func (s ConnectionState) IsAlive() bool {
	switch s {
	case Connecting, Connected, ReconnectAttempting, Reconnected:
		return true
	default:
		return false
	}
}

// CanPublish reports whether a publish may be attempted in this state.
func (s ConnectionState) CanPublish() bool {
	return s == Connected || s == Reconnected
}
