package relay

import "errors"

// Relay errors.
var (
	// ErrNoContext is returned when ServerConfig.Context is nil.
	ErrNoContext = errors.New("relay: context required")

	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("relay: session not found")

	// ErrNoCandidateAddress is returned when the socket address cannot be
	// advertised and no override is configured.
	ErrNoCandidateAddress = errors.New("relay: no candidate address")
)
