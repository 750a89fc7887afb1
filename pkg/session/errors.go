package session

import "errors"

// Session package errors.
var (
	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrNotConnected is returned when media is sent before the handshake
	// has completed.
	ErrNotConnected = errors.New("session: not connected")

	// ErrQueueFull is returned when a send batch does not fit in the
	// outbound queue. Nothing from the batch was queued.
	ErrQueueFull = errors.New("session: send queue full")

	// ErrRemoteAlreadySet is returned when remote credentials are bound twice.
	ErrRemoteAlreadySet = errors.New("session: remote credentials already set")

	// ErrIdleTimeout is the close reason after the idle window elapses.
	ErrIdleTimeout = errors.New("session: idle timeout")

	// ErrPeerClosed is the close reason after a DTLS close_notify.
	ErrPeerClosed = errors.New("session: peer closed DTLS association")

	// ErrNoCredentials is returned when local ICE credentials are missing.
	ErrNoCredentials = errors.New("session: local credentials required")

	// ErrNoSender is returned when the session has no socket to write to.
	ErrNoSender = errors.New("session: sender required")

	// ErrNoRemote is returned when sending before any endpoint is bound.
	ErrNoRemote = errors.New("session: no remote endpoint bound")

	// ErrSessionNotFound is returned when a session lookup fails.
	ErrSessionNotFound = errors.New("session: session not found")

	// ErrRegistryFull is returned when no more sessions can be added.
	ErrRegistryFull = errors.New("session: registry full")

	// ErrInboundFull is returned when the receive queue cannot take another
	// datagram. The datagram is dropped.
	ErrInboundFull = errors.New("session: inbound queue full")

	// ErrInvalidParams is returned when session parameters are out of range.
	ErrInvalidParams = errors.New("session: invalid parameters")

	// ErrDuplicateSession is returned when adding a session whose ID or
	// local ufrag is already registered.
	ErrDuplicateSession = errors.New("session: duplicate session")
)
