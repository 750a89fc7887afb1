package protection

import "errors"

var (
	// ErrNotReady is returned by Protect when no send context exists. It is
	// distinct from an empty result: nothing was produced.
	ErrNotReady = errors.New("protection: context not ready")

	ErrMalformed   = errors.New("protection: malformed packet length")
	ErrUnprotect   = errors.New("protection: authentication or replay check failed")
	ErrProtect     = errors.New("protection: protect failed")
	ErrNoKeys      = errors.New("protection: keying material required")
	ErrInvalidRole = errors.New("protection: invalid role")
)
