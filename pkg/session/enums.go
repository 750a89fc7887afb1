// Package session implements the per-peer WebRTC media session and the
// registry that maps ICE usernames and UDP endpoints to sessions.
//
// A Session owns one DTLS handshake engine, the SRTP transform derived from
// it, a bounded outbound queue, RTCP bookkeeping and an idle timer. Three
// goroutines run per session:
//   - receive: processes inbound datagrams in arrival order
//   - send: drains the outbound queue in FIFO order
//   - control: idle checks
//
// The DTLS engine adds its own pump goroutine, handshake completion is
// awaited on another, and the RTCP reporter runs its report loops.
package session

// State is the lifecycle state of a session.
type State int

const (
	// StateNew: created by signaling, waiting for an authenticated binding.
	StateNew State = iota

	// StateConnecting: endpoint bound, DTLS handshake in progress.
	StateConnecting

	// StateConnected: SRTP keys derived; media flows.
	StateConnected

	// StateFailed: the handshake failed. The session closes right after.
	StateFailed

	// StateClosed: torn down and removed from the registry.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the state is a defined value.
func (s State) IsValid() bool {
	return s >= StateNew && s <= StateClosed
}
