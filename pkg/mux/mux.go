// Package mux routes datagrams from the shared media socket to sessions.
//
// STUN binding requests are authenticated against the session owning the
// local ufrag in USERNAME and answered directly. A successful check binds
// the source endpoint to that session and starts its DTLS handshake. DTLS
// and SRTP/SRTCP datagrams are routed by source endpoint only; datagrams
// from unbound endpoints are dropped.
package mux

import (
	"errors"
	"time"

	"github.com/backkem/mediarelay/pkg/demux"
	"github.com/backkem/mediarelay/pkg/ice"
	"github.com/backkem/mediarelay/pkg/metrics"
	"github.com/backkem/mediarelay/pkg/session"
	"github.com/backkem/mediarelay/pkg/transport"
	"github.com/pion/logging"
	"golang.org/x/time/rate"
)

// Defaults for the rejected-check diagnostic limiter.
const (
	DefaultDiagnosticInterval = time.Second
	DefaultDiagnosticBurst    = 5
)

// Drop reasons reported to metrics.
const (
	dropUnsupported    = "unsupported_class"
	dropUnbound        = "unbound_endpoint"
	dropStunMalformed  = "stun_malformed"
	dropStunRejected   = "stun_rejected"
	dropStunOther      = "stun_not_request"
	dropSessionRefused = "session_refused"
)

// Config configures a Multiplexer.
type Config struct {
	// Registry resolves ufrags and endpoints to sessions. Required.
	Registry *session.Registry

	// Sender writes binding responses to the shared socket. Required.
	Sender transport.Sender

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// DiagnosticInterval and DiagnosticBurst limit how often rejected
	// connectivity checks are logged. Defaults: one per second, burst 5.
	DiagnosticInterval time.Duration
	DiagnosticBurst    int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Multiplexer classifies and routes inbound datagrams.
//
// HandleDatagram runs on the socket read loop and never blocks: session
// work is handed to the session's own receive goroutine.
type Multiplexer struct {
	registry *session.Registry
	sender   transport.Sender
	metrics  *metrics.Metrics
	diag     *rate.Limiter
	log      logging.LeveledLogger
}

// New creates a Multiplexer.
func New(config Config) (*Multiplexer, error) {
	if config.Registry == nil {
		return nil, ErrNoRegistry
	}
	if config.Sender == nil {
		return nil, ErrNoSender
	}
	if config.DiagnosticInterval == 0 {
		config.DiagnosticInterval = DefaultDiagnosticInterval
	}
	if config.DiagnosticBurst == 0 {
		config.DiagnosticBurst = DefaultDiagnosticBurst
	}

	m := &Multiplexer{
		registry: config.Registry,
		sender:   config.Sender,
		metrics:  config.Metrics,
		diag:     rate.NewLimiter(rate.Every(config.DiagnosticInterval), config.DiagnosticBurst),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("mux")
	}
	return m, nil
}

// HandleDatagram routes one inbound datagram. It satisfies
// transport.DatagramHandler.
func (m *Multiplexer) HandleDatagram(d *transport.Datagram) {
	class := demux.Classify(d.Data)
	m.metrics.RecordDatagram(class.String())

	switch class {
	case demux.ClassSTUN:
		m.handleSTUN(d)
	case demux.ClassDTLS, demux.ClassRTP:
		m.route(d)
	default:
		m.metrics.RecordDrop(dropUnsupported)
		if m.log != nil {
			m.log.Tracef("dropping %s datagram from %s", class, d.Source)
		}
	}
}

func (m *Multiplexer) route(d *transport.Datagram) {
	s := m.registry.FindByEndpoint(d.Source)
	if s == nil {
		m.metrics.RecordDrop(dropUnbound)
		return
	}
	if err := s.Deliver(d); err != nil {
		m.metrics.RecordDrop(dropSessionRefused)
		if m.log != nil {
			m.log.Tracef("session %s refused datagram: %v", s.ID(), err)
		}
	}
}

func (m *Multiplexer) handleSTUN(d *transport.Datagram) {
	msg, err := ice.Decode(d.Data)
	if err != nil {
		m.metrics.RecordDrop(dropStunMalformed)
		m.diagnose(d.Source, err)
		return
	}

	var target *session.Session
	res, err := ice.ProcessBindingRequest(msg, d.Source, func(ufrag string) (ice.Credentials, string, bool) {
		s := m.registry.FindByUfrag(ufrag)
		if s == nil {
			return ice.Credentials{}, "", false
		}
		target = s
		return s.LocalCredentials(), s.RemoteUfrag(), true
	})
	if errors.Is(err, ice.ErrNotBindingRequest) {
		// Indications and responses carry nothing for an ICE-lite agent.
		m.metrics.RecordDrop(dropStunOther)
		return
	}
	if err != nil {
		m.metrics.RecordBinding(false)
		m.metrics.RecordDrop(dropStunRejected)
		m.diagnose(d.Source, err)
		return
	}
	m.metrics.RecordBinding(true)

	if err := m.sender.Send(res.Response, d.Source); err != nil {
		if m.log != nil {
			m.log.Warnf("failed to send binding response to %s: %v", d.Source, err)
		}
		return
	}
	m.metrics.RecordSent("stun")

	if err := target.Bind(d.Source); err != nil && m.log != nil {
		m.log.Debugf("session %s: bind %s: %v", target.ID(), d.Source, err)
	}
}

// diagnose logs a rejected datagram at most at the configured rate.
func (m *Multiplexer) diagnose(source transport.Endpoint, err error) {
	if m.log == nil || !m.diag.Allow() {
		return
	}
	m.log.Debugf("rejected STUN from %s: %v", source, err)
}
