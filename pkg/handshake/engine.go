// Package handshake drives the per-session DTLS server handshake that
// bootstraps SRTP keys (RFC 5764).
//
// The engine never touches the shared socket. Inbound DTLS records are
// written into an in-memory network-in buffer with HandleDatagram; records
// produced by the DTLS stack leave through the configured Send callback.
// A single pump goroutine owns the pion/dtls connection.
package handshake

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/packetio"
)

// Defaults for EngineConfig.
const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultFlightInterval   = time.Second

	// inboundLimit bounds the network-in buffer.
	inboundLimit = 1 << 20
	readBufSize  = 8192
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Certificate is the local DTLS identity. Required.
	Certificate *Certificate

	// Send writes one DTLS datagram toward the peer. Required.
	Send func(data []byte) error

	// RemoteFingerprint, when set, pins the peer certificate.
	RemoteFingerprint *RemoteFingerprint

	// RemoteAddr and LocalAddr label the connection for the DTLS stack.
	RemoteAddr net.Addr
	LocalAddr  net.Addr

	// HandshakeTimeout is the ceiling on the whole handshake, measured from
	// Start. Inbound datagrams do not extend it. Default: 30s.
	HandshakeTimeout time.Duration

	// FlightInterval is the DTLS flight retransmission interval.
	// Default: 1s.
	FlightInterval time.Duration

	// OnStateChange is called after every state transition.
	OnStateChange func(State)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *EngineConfig) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.FlightInterval == 0 {
		c.FlightInterval = DefaultFlightInterval
	}
	if c.RemoteAddr == nil {
		c.RemoteAddr = &net.UDPAddr{IP: net.IPv4zero}
	}
	if c.LocalAddr == nil {
		c.LocalAddr = &net.UDPAddr{IP: net.IPv4zero}
	}
}

// Validate checks required fields.
func (c *EngineConfig) Validate() error {
	if c.Certificate == nil {
		return ErrNoCertificate
	}
	if c.Send == nil {
		return ErrNoSender
	}
	return nil
}

// Result is the terminal outcome of a handshake.
type Result struct {
	// Keys is set on success.
	Keys *KeyingMaterial

	// Profile is the negotiated SRTP protection profile.
	Profile dtls.SRTPProtectionProfile

	// Err is set on failure.
	Err error
}

// Engine runs exactly one DTLS server handshake.
type Engine struct {
	config EngineConfig
	log    logging.LeveledLogger

	in   *packetio.Buffer
	conn *dtls.Conn

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	// completion carries the single terminal Result; closed by Close.
	completion chan Result
	// finished is closed when the handshake reaches Connected or Failed.
	finished chan struct{}

	mu        sync.Mutex
	state     State
	result    Result
	closed    bool
	startedAt time.Time
}

// NewEngine creates an engine in state New.
func NewEngine(config EngineConfig) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	e := &Engine{
		config:     config,
		in:         packetio.NewBuffer(),
		completion: make(chan Result, 1),
		finished:   make(chan struct{}),
		state:      StateNew,
	}
	e.in.SetLimitSize(inboundLimit)
	e.ctx, e.cancel = context.WithCancelCause(context.Background())

	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("handshake")
	}

	return e, nil
}

func (e *Engine) dtlsConfig() *dtls.Config {
	return &dtls.Config{
		Certificates:           []tls.Certificate{e.config.Certificate.TLSCertificate()},
		ClientAuth:             dtls.RequireAnyClientCert,
		InsecureSkipVerify:     true,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
		FlightInterval:         e.config.FlightInterval,
		LoggerFactory:          e.config.LoggerFactory,
		VerifyPeerCertificate:  e.verifyPeer,
	}
}

// verifyPeer replaces PKI validation with the signaled fingerprint, if any.
func (e *Engine) verifyPeer(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return ErrNoPeerCertificate
	}
	if e.config.RemoteFingerprint == nil {
		return nil
	}
	return e.config.RemoteFingerprint.Verify(rawCerts[0])
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Completion returns the channel that receives the terminal Result once.
// It is closed when the engine is closed.
func (e *Engine) Completion() <-chan Result {
	return e.completion
}

// Start launches the handshake pump. It returns ErrAlreadyStarted if the
// engine has left state New; a handshake is never attempted twice.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state != StateNew {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}

	conn, err := dtls.Server(&pumpConn{
		in:     e.in,
		send:   e.config.Send,
		local:  e.config.LocalAddr,
		remote: e.config.RemoteAddr,
	}, e.config.RemoteAddr, e.dtlsConfig())
	if err != nil {
		e.mu.Unlock()
		e.fail(err)
		return err
	}
	e.conn = conn
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.transition(StateConnecting)

	if e.log != nil {
		e.log.Debugf("starting DTLS server handshake with %s", e.config.RemoteAddr)
	}

	e.wg.Add(2)
	go e.pump()
	go e.watchdog()

	return nil
}

// DoHandshake starts the handshake if it has not been started and blocks
// until it reaches a terminal outcome or ctx ends. Calls after the first
// terminal outcome return that same outcome without side effects.
func (e *Engine) DoHandshake(ctx context.Context) (*KeyingMaterial, error) {
	if err := e.Start(); err != nil && !errors.Is(err, ErrAlreadyStarted) {
		if res, ok := e.outcome(); ok {
			return res.Keys, res.Err
		}
		return nil, err
	}

	select {
	case <-e.finished:
		res, _ := e.outcome()
		return res.Keys, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) outcome() (Result, bool) {
	select {
	case <-e.finished:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.result, true
	default:
		return Result{}, false
	}
}

// HandleDatagram queues one inbound DTLS record. It never blocks.
func (e *Engine) HandleDatagram(data []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := e.in.Write(data); err != nil {
		if errors.Is(err, packetio.ErrFull) {
			return ErrBufferFull
		}
		return err
	}
	return nil
}

// Close cancels the pump, waits for it to exit and closes the completion
// channel. The engine state becomes Closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	e.mu.Unlock()

	e.cancel(ErrClosed)
	_ = e.in.Close()
	if conn != nil {
		_ = conn.Close()
	}
	e.wg.Wait()

	e.transition(StateClosed)
	close(e.completion)

	return nil
}

func (e *Engine) pump() {
	defer e.wg.Done()

	if err := e.conn.HandshakeContext(e.ctx); err != nil {
		if cause := context.Cause(e.ctx); cause != nil {
			err = cause
		}
		e.fail(err)
		return
	}

	keys, profile, err := e.exportKeys()
	if err != nil {
		e.fail(err)
		return
	}
	e.succeed(keys, profile)

	// Keep reading so retransmitted client flights are answered and a peer
	// close_notify is observed.
	buf := make([]byte, readBufSize)
	for {
		if _, err := e.conn.Read(buf); err != nil {
			if e.ctx.Err() == nil && errors.Is(err, io.EOF) {
				if e.log != nil {
					e.log.Debug("peer closed DTLS association")
				}
				e.transition(StateClosed)
			}
			return
		}
	}
}

func (e *Engine) exportKeys() (*KeyingMaterial, dtls.SRTPProtectionProfile, error) {
	profile, ok := e.conn.SelectedSRTPProtectionProfile()
	if !ok || profile != dtls.SRTP_AES128_CM_HMAC_SHA1_80 {
		return nil, 0, ErrNoSRTPProfile
	}

	state, ok := e.conn.ConnectionState()
	if !ok {
		return nil, 0, ErrClosed
	}
	material, err := state.ExportKeyingMaterial(KeyingLabel, nil, KeyingMaterialSize)
	if err != nil {
		return nil, 0, err
	}
	defer clear(material)

	keys, err := ParseKeyingMaterial(material)
	if err != nil {
		return nil, 0, err
	}
	return keys, profile, nil
}

// watchdog fails the handshake if it has not completed HandshakeTimeout
// after Start.
func (e *Engine) watchdog() {
	defer e.wg.Done()

	timer := time.NewTimer(e.config.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-e.ctx.Done():
	case <-e.finished:
	case <-timer.C:
		if e.log != nil {
			e.log.Warnf("DTLS handshake with %s not complete after %s", e.config.RemoteAddr, e.config.HandshakeTimeout)
		}
		e.cancel(ErrTimeout)
	}
}

func (e *Engine) succeed(keys *KeyingMaterial, profile dtls.SRTPProtectionProfile) {
	if !e.finish(Result{Keys: keys, Profile: profile}, StateConnected) {
		keys.Zero()
		return
	}
	if e.log != nil {
		e.log.Infof("DTLS handshake with %s complete in %s", e.config.RemoteAddr, time.Since(e.startedAt))
	}
}

func (e *Engine) fail(err error) {
	if e.finish(Result{Err: err}, StateFailed) && e.log != nil {
		e.log.Warnf("DTLS handshake with %s failed: %v", e.config.RemoteAddr, err)
	}
}

// finish records the one terminal outcome. Returns false if the engine was
// already terminal.
func (e *Engine) finish(res Result, to State) bool {
	e.mu.Lock()
	if e.state.IsTerminal() || !e.state.canTransition(to) {
		e.mu.Unlock()
		return false
	}
	e.state = to
	e.result = res
	close(e.finished)
	e.completion <- res
	e.mu.Unlock()

	e.notify(to)
	return true
}

func (e *Engine) transition(to State) {
	e.mu.Lock()
	if !e.state.canTransition(to) {
		e.mu.Unlock()
		return
	}
	e.state = to
	e.mu.Unlock()

	e.notify(to)
}

func (e *Engine) notify(s State) {
	if e.config.OnStateChange != nil {
		e.config.OnStateChange(s)
	}
}
