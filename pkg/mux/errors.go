package mux

import "errors"

// Multiplexer errors.
var (
	// ErrNoRegistry is returned when Config.Registry is nil.
	ErrNoRegistry = errors.New("mux: registry required")

	// ErrNoSender is returned when Config.Sender is nil.
	ErrNoSender = errors.New("mux: sender required")
)
