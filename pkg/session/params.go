package session

import (
	"time"

	"github.com/backkem/mediarelay/pkg/handshake"
	"github.com/backkem/mediarelay/pkg/protection"
	"github.com/backkem/mediarelay/pkg/rtcpstats"
)

// Session parameter defaults.
const (
	// DefaultIdleTimeout closes a session that has received nothing for 30s.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultSendQueueSize is the outbound queue depth in packets.
	DefaultSendQueueSize = 512

	// DefaultRTCPInterval is the period of SR/RR reports.
	DefaultRTCPInterval = time.Second

	// DefaultInboundQueueSize is the receive queue depth in datagrams.
	DefaultInboundQueueSize = 512

	// MaxIdleTimeout bounds the idle window.
	MaxIdleTimeout = time.Hour

	// MaxSendQueueSize bounds the outbound queue.
	MaxSendQueueSize = 1 << 16
)

// Params holds the tunables of a session.
type Params struct {
	// IdleTimeout is the silence window after which the session closes.
	IdleTimeout time.Duration

	// HandshakeTimeout is the DTLS no-progress ceiling.
	HandshakeTimeout time.Duration

	// FlightInterval is the DTLS retransmission interval.
	FlightInterval time.Duration

	// ReplayWindow is the SRTP/SRTCP replay window in packets.
	ReplayWindow uint

	// SendQueueSize is the outbound queue depth.
	SendQueueSize int

	// RTCPInterval is the SR/RR period.
	RTCPInterval time.Duration

	// ClockRate is the media clock used for jitter and SR timestamps.
	ClockRate uint32
}

// DefaultParams returns the default session parameters.
func DefaultParams() Params {
	return Params{
		IdleTimeout:      DefaultIdleTimeout,
		HandshakeTimeout: handshake.DefaultHandshakeTimeout,
		FlightInterval:   handshake.DefaultFlightInterval,
		ReplayWindow:     protection.DefaultReplayWindow,
		SendQueueSize:    DefaultSendQueueSize,
		RTCPInterval:     DefaultRTCPInterval,
		ClockRate:        rtcpstats.DefaultClockRate,
	}
}

// Validate checks that the parameters are within limits.
// Returns true if all parameters are valid.
func (p Params) Validate() bool {
	if p.IdleTimeout <= 0 || p.IdleTimeout > MaxIdleTimeout {
		return false
	}
	if p.HandshakeTimeout <= 0 || p.FlightInterval <= 0 {
		return false
	}
	if p.SendQueueSize <= 0 || p.SendQueueSize > MaxSendQueueSize {
		return false
	}
	if p.RTCPInterval <= 0 || p.ReplayWindow == 0 || p.ClockRate == 0 {
		return false
	}
	return true
}

// WithDefaults returns a copy of the parameters with zero values replaced by defaults.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	result := p
	if result.IdleTimeout == 0 {
		result.IdleTimeout = d.IdleTimeout
	}
	if result.HandshakeTimeout == 0 {
		result.HandshakeTimeout = d.HandshakeTimeout
	}
	if result.FlightInterval == 0 {
		result.FlightInterval = d.FlightInterval
	}
	if result.ReplayWindow == 0 {
		result.ReplayWindow = d.ReplayWindow
	}
	if result.SendQueueSize == 0 {
		result.SendQueueSize = d.SendQueueSize
	}
	if result.RTCPInterval == 0 {
		result.RTCPInterval = d.RTCPInterval
	}
	if result.ClockRate == 0 {
		result.ClockRate = d.ClockRate
	}
	return result
}
