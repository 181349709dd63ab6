package acquisition

// HandshakeState is the two-state protocol an instrument follows for custom scans.
type HandshakeState uint32

const (
	// ReadyState indicates that no custom scan is in flight and a new request may be accepted.
	ReadyState HandshakeState = iota
	// BusyState indicates that a custom scan was accepted and its result has not been delivered yet.
	BusyState
)

// IsReady returns if the current state is ready.
func (s HandshakeState) IsReady() bool { return s == ReadyState }

// IsBusy returns if the current state is busy.
func (s HandshakeState) IsBusy() bool { return s == BusyState }

// String returns string representation of the state.
func (s HandshakeState) String() string {
	switch s {
	case ReadyState:
		return "ready"
	case BusyState:
		return "busy"
	default:
		return "unknown"
	}
}

// ParseHandshakeState is the inverse of HandshakeState.String.
func ParseHandshakeState(s string) (HandshakeState, bool) {
	switch s {
	case "ready":
		return ReadyState, true
	case "busy":
		return BusyState, true
	default:
		return ReadyState, false
	}
}
