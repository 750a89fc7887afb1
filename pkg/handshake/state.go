package handshake

// State is the handshake engine state. Transitions are monotonic:
// New -> Connecting -> {Connected | Failed} -> Closed.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateNew:        "new",
	StateConnecting: "connecting",
	StateConnected:  "connected",
	StateFailed:     "failed",
	StateClosed:     "closed",
}

// String returns the state name.
func (s State) String() string {
	if s.IsValid() {
		return stateNames[s]
	}
	return "unknown"
}

// IsValid reports whether s is a defined state.
func (s State) IsValid() bool {
	return s >= StateNew && s <= StateClosed
}

// IsTerminal reports whether the handshake has finished, successfully or not.
func (s State) IsTerminal() bool {
	return s >= StateConnected
}

// canTransition enforces the state ordering. Connected and Failed may only
// move to Closed.
func (s State) canTransition(to State) bool {
	switch s {
	case StateNew:
		return to == StateConnecting || to == StateFailed || to == StateClosed
	case StateConnecting:
		return to == StateConnected || to == StateFailed || to == StateClosed
	case StateConnected, StateFailed:
		return to == StateClosed
	default:
		return false
	}
}
