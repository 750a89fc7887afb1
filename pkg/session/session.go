package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/backkem/mediarelay/pkg/demux"
	"github.com/backkem/mediarelay/pkg/handshake"
	"github.com/backkem/mediarelay/pkg/ice"
	"github.com/backkem/mediarelay/pkg/metrics"
	"github.com/backkem/mediarelay/pkg/protection"
	"github.com/backkem/mediarelay/pkg/rtcpstats"
	"github.com/backkem/mediarelay/pkg/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Close reason labels for metrics.
const (
	closeReasonClosed    = "closed"
	closeReasonIdle      = "idle_timeout"
	closeReasonPeer      = "peer_closed"
	closeReasonHandshake = "handshake_failed"
	closeReasonFailure   = "failed"

	minIdleCheckInterval = 10 * time.Millisecond
	maxIdleCheckInterval = time.Second
)

// Callbacks receive session events. All fields are optional.
//
// Callbacks run on session goroutines. They must return promptly and must
// not call Close on the same session; use CloseAsync instead.
type Callbacks struct {
	// OnRTP is called with validated, decrypted RTP in arrival order.
	OnRTP func(s *Session, pkts []*rtp.Packet)

	// OnRTCP is called with decrypted RTCP compound packets.
	OnRTCP func(s *Session, pkts []rtcp.Packet)

	// OnStateChange is called after every state transition.
	OnStateChange func(s *Session, state State)

	// OnClose is called once after teardown completes. reason is nil for
	// an explicit Close.
	OnClose func(s *Session, reason error)
}

// Config configures a Session.
type Config struct {
	// ID identifies the session. Default: a random UUID.
	ID string

	// LocalCredentials are this side's ICE ufrag and password. Required.
	LocalCredentials ice.Credentials

	// RemoteFingerprint, when set, pins the peer's DTLS certificate.
	RemoteFingerprint *handshake.RemoteFingerprint

	// Certificate is the local DTLS identity. Required.
	Certificate *handshake.Certificate

	// Sender writes to the shared socket. Required.
	Sender transport.Sender

	// LocalAddr labels the DTLS connection.
	LocalAddr net.Addr

	// Registry, when set, receives the session on creation and loses it
	// on teardown.
	Registry *Registry

	// Params are the session tunables. Zero fields take defaults.
	Params Params

	// Callbacks receive media and lifecycle events.
	Callbacks Callbacks

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if err := c.LocalCredentials.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}
	if c.Sender == nil {
		return ErrNoSender
	}
	if c.Certificate == nil {
		return handshake.ErrNoCertificate
	}
	return nil
}

// outbound is one queued send: either an RTP packet or an RTCP compound.
type outbound struct {
	rtp  *rtp.Packet
	rtcp []rtcp.Packet
}

// Session is one WebRTC peer's secure media transport.
type Session struct {
	config    Config
	params    Params
	log       logging.LeveledLogger
	localSSRC uint32

	mu             sync.Mutex
	state          State
	remote         ice.Credentials
	remoteSet      bool
	remoteEP       transport.Endpoint
	engine         *handshake.Engine
	handshakeStart time.Time
	closing        bool
	closeReason    error

	transform    atomic.Pointer[protection.Transform]
	lastActivity atomic.Int64

	inbound chan *transport.Datagram

	sendMu sync.Mutex
	sendQ  chan outbound

	reporter *rtcpstats.Reporter

	closeCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSession creates a session in state New, registers it and starts its
// goroutines.
func NewSession(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	params := config.Params.WithDefaults()
	if !params.Validate() {
		return nil, ErrInvalidParams
	}
	if config.ID == "" {
		config.ID = uuid.NewString()
	}

	ssrc, err := randutil.CryptoUint64()
	if err != nil {
		return nil, fmt.Errorf("session: generate SSRC: %w", err)
	}

	s := &Session{
		config:    config,
		params:    params,
		localSSRC: uint32(ssrc),
		state:     StateNew,
		inbound:   make(chan *transport.Datagram, DefaultInboundQueueSize),
		sendQ:     make(chan outbound, params.SendQueueSize),
		closeCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("session")
	}
	s.touch()

	s.reporter, err = rtcpstats.NewReporter(rtcpstats.Config{
		ID:            config.ID,
		Interval:      params.RTCPInterval,
		ClockRate:     params.ClockRate,
		Write:         s.writeReports,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	if config.Registry != nil {
		if err := config.Registry.Add(s); err != nil {
			_ = s.reporter.Close()
			return nil, err
		}
	}
	config.Metrics.RecordSessionOpen()

	s.wg.Add(3)
	go s.receiveLoop()
	go s.sendLoop()
	go s.controlLoop()

	if s.log != nil {
		s.log.Debugf("session %s created with ufrag %s", s.config.ID, s.config.LocalCredentials.Ufrag)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.config.ID
}

// LocalCredentials returns the local ICE credentials.
func (s *Session) LocalCredentials() ice.Credentials {
	return s.config.LocalCredentials
}

// LocalSSRC returns the SSRC used for this side's RTCP reports.
func (s *Session) LocalSSRC() uint32 {
	return s.localSSRC
}

// SetRemoteCredentials binds the peer's ICE credentials. They can be set
// once; a second call returns ErrRemoteAlreadySet.
func (s *Session) SetRemoteCredentials(c ice.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return ErrClosed
	}
	if s.remoteSet {
		return ErrRemoteAlreadySet
	}
	s.remote = c
	s.remoteSet = true
	return nil
}

// RemoteCredentials returns the peer's credentials and whether they are set.
func (s *Session) RemoteCredentials() (ice.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote, s.remoteSet
}

// RemoteUfrag returns the peer ufrag, or "" if not yet known.
func (s *Session) RemoteUfrag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote.Ufrag
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteEndpoint returns the last endpoint that passed a connectivity check.
func (s *Session) RemoteEndpoint() transport.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteEP
}

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CloseReason returns why the session closed. Only meaningful after Done.
func (s *Session) CloseReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Bind records ep as the peer's endpoint after an authenticated binding
// request. The first call starts the DTLS handshake; later calls only
// move the endpoint, which is how a NAT rebinding is followed.
func (s *Session) Bind(ep transport.Endpoint) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrClosed
	}
	s.remoteEP = ep
	var engine *handshake.Engine
	if s.engine == nil {
		var err error
		engine, err = handshake.NewEngine(handshake.EngineConfig{
			Certificate:       s.config.Certificate,
			Send:              s.sendDTLS,
			RemoteFingerprint: s.config.RemoteFingerprint,
			RemoteAddr:        ep.UDPAddr(),
			LocalAddr:         s.config.LocalAddr,
			HandshakeTimeout:  s.params.HandshakeTimeout,
			FlightInterval:    s.params.FlightInterval,
			OnStateChange:     s.onEngineState,
			LoggerFactory:     s.config.LoggerFactory,
		})
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.engine = engine
		s.handshakeStart = time.Now()
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if engine != nil {
		go s.awaitHandshake(engine)
	}
	s.touch()

	if s.config.Registry != nil {
		if err := s.config.Registry.Bind(ep, s); err != nil {
			return err
		}
	}
	if engine == nil {
		return nil
	}

	s.setState(StateConnecting)
	if err := engine.Start(); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Debugf("session %s bound to %s, DTLS handshake started", s.config.ID, ep)
	}
	return nil
}

// Deliver queues an inbound DTLS or SRTP datagram for the receive goroutine.
// It never blocks.
func (s *Session) Deliver(d *transport.Datagram) error {
	select {
	case <-s.closeCh:
		return ErrClosed
	default:
	}

	select {
	case s.inbound <- d:
		return nil
	default:
		s.config.Metrics.RecordDrop("inbound_full")
		return ErrInboundFull
	}
}

// EnqueueSend queues RTP packets for protection and transmission in FIFO
// order. The batch is queued entirely or not at all. The packets must not
// be modified after the call.
func (s *Session) EnqueueSend(pkts []*rtp.Packet) error {
	if len(pkts) == 0 {
		return nil
	}
	if err := s.sendable(); err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if cap(s.sendQ)-len(s.sendQ) < len(pkts) {
		s.config.Metrics.RecordQueueFull()
		return ErrQueueFull
	}
	for _, p := range pkts {
		s.sendQ <- outbound{rtp: p}
	}
	return nil
}

// RequestKeyframe sends a Picture Loss Indication for mediaSSRC.
func (s *Session) RequestKeyframe(mediaSSRC uint32) error {
	if err := s.sendable(); err != nil {
		return err
	}
	return s.enqueueRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{
		SenderSSRC: s.localSSRC,
		MediaSSRC:  mediaSSRC,
	}})
}

func (s *Session) sendable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrClosed
	}
	if s.state != StateConnected {
		return ErrNotConnected
	}
	return nil
}

func (s *Session) enqueueRTCP(pkts []rtcp.Packet) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case s.sendQ <- outbound{rtcp: pkts}:
		return nil
	default:
		s.config.Metrics.RecordQueueFull()
		return ErrQueueFull
	}
}

// Close tears the session down and waits for teardown to finish.
func (s *Session) Close() error {
	s.close(nil)
	<-s.done
	return nil
}

// CloseWithError tears the session down with the given reason.
func (s *Session) CloseWithError(reason error) error {
	s.close(reason)
	<-s.done
	return nil
}

// CloseAsync starts teardown without waiting for it.
func (s *Session) CloseAsync(reason error) {
	go s.close(reason)
}

// close stops goroutines, then the DTLS engine, then the SRTP contexts,
// then the registry entries.
func (s *Session) close(reason error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.closeReason = reason
	engine := s.engine
	s.mu.Unlock()

	close(s.closeCh)
	s.wg.Wait()
	_ = s.reporter.Close()

	if engine != nil {
		_ = engine.Close()
	}
	if t := s.transform.Swap(nil); t != nil {
		_ = t.Close()
	}
	if s.config.Registry != nil {
		s.config.Registry.Remove(s)
	}

	s.setState(StateClosed)
	s.config.Metrics.RecordSessionClose(closeLabel(reason))

	if s.log != nil {
		if reason != nil {
			s.log.Infof("session %s closed: %v", s.config.ID, reason)
		} else {
			s.log.Debugf("session %s closed", s.config.ID)
		}
	}
	if cb := s.config.Callbacks.OnClose; cb != nil {
		cb(s, reason)
	}
	close(s.done)
}

func closeLabel(reason error) string {
	switch {
	case reason == nil:
		return closeReasonClosed
	case errors.Is(reason, ErrIdleTimeout):
		return closeReasonIdle
	case errors.Is(reason, ErrPeerClosed):
		return closeReasonPeer
	case errors.Is(reason, handshake.ErrTimeout),
		errors.Is(reason, handshake.ErrFingerprint),
		errors.Is(reason, handshake.ErrNoSRTPProfile):
		return closeReasonHandshake
	default:
		return closeReasonFailure
	}
}

// setState moves the session forward. States never go backwards.
func (s *Session) setState(to State) {
	s.mu.Lock()
	if to <= s.state {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	if cb := s.config.Callbacks.OnStateChange; cb != nil {
		cb(s, to)
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// sendDTLS is the engine's network-out.
func (s *Session) sendDTLS(b []byte) error {
	ep := s.RemoteEndpoint()
	if !ep.IsValid() {
		return ErrNoRemote
	}
	s.config.Metrics.RecordSent("dtls")
	return s.config.Sender.Send(b, ep)
}

func (s *Session) onEngineState(st handshake.State) {
	if st == handshake.StateClosed && !s.isClosing() {
		s.CloseAsync(ErrPeerClosed)
	}
}

func (s *Session) awaitHandshake(engine *handshake.Engine) {
	defer s.wg.Done()

	select {
	case res, ok := <-engine.Completion():
		if ok {
			s.completeHandshake(res)
		}
	case <-s.closeCh:
	}
}

// completeHandshake installs the SRTP transform on success or fails the
// session.
func (s *Session) completeHandshake(res handshake.Result) {
	s.mu.Lock()
	latency := time.Since(s.handshakeStart).Seconds()
	s.mu.Unlock()

	if res.Err != nil {
		s.config.Metrics.RecordHandshake(metrics.OutcomeFailed, latency)
		s.setState(StateFailed)
		s.CloseAsync(res.Err)
		return
	}

	t, err := protection.New(res.Keys, protection.RoleServer, protection.Options{
		ReplayWindow: s.params.ReplayWindow,
	})
	res.Keys.Zero()
	if err != nil {
		s.config.Metrics.RecordHandshake(metrics.OutcomeFailed, latency)
		s.setState(StateFailed)
		s.CloseAsync(err)
		return
	}
	s.transform.Store(t)
	s.config.Metrics.RecordHandshake(metrics.OutcomeConnected, latency)
	s.setState(StateConnected)
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closeCh:
			return
		case d := <-s.inbound:
			s.handleDatagram(d)
		}
	}
}

func (s *Session) handleDatagram(d *transport.Datagram) {
	s.touch()

	switch demux.Classify(d.Data) {
	case demux.ClassDTLS:
		s.mu.Lock()
		engine := s.engine
		s.mu.Unlock()
		if engine == nil {
			s.config.Metrics.RecordDrop("dtls_unbound")
			return
		}
		if err := engine.HandleDatagram(d.Data); err != nil && s.log != nil {
			s.log.Debugf("session %s: DTLS datagram dropped: %v", s.config.ID, err)
		}
	case demux.ClassRTP:
		t := s.transform.Load()
		if t == nil {
			s.config.Metrics.RecordDrop("srtp_not_ready")
			return
		}
		if demux.IsRTCP(d.Data) {
			s.handleRTCP(t, d.Data)
		} else {
			s.handleRTP(t, d.Data)
		}
	default:
		s.config.Metrics.RecordDrop("unexpected_class")
	}
}

func (s *Session) handleRTP(t *protection.Transform, data []byte) {
	plain, err := t.UnprotectRTP(data)
	if err != nil {
		s.config.Metrics.RecordSRTPFailure("rtp")
		if s.log != nil {
			s.log.Tracef("session %s: SRTP dropped: %v", s.config.ID, err)
		}
		return
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(plain); err != nil {
		s.config.Metrics.RecordDrop("rtp_malformed")
		return
	}

	if err := s.reporter.ReceivedRTP(plain, pkt.SSRC); err != nil && s.log != nil {
		s.log.Tracef("session %s: RTP stats not updated: %v", s.config.ID, err)
	}

	s.config.Metrics.RecordPacketReceived("rtp")
	if cb := s.config.Callbacks.OnRTP; cb != nil {
		cb(s, []*rtp.Packet{pkt})
	}
}

func (s *Session) handleRTCP(t *protection.Transform, data []byte) {
	plain, err := t.UnprotectRTCP(data)
	if err != nil {
		s.config.Metrics.RecordSRTPFailure("rtcp")
		return
	}

	pkts, err := rtcp.Unmarshal(plain)
	if err != nil {
		s.config.Metrics.RecordDrop("rtcp_malformed")
		return
	}

	if err := s.reporter.ReceivedRTCP(plain); err != nil && s.log != nil {
		s.log.Tracef("session %s: RTCP stats not updated: %v", s.config.ID, err)
	}

	s.config.Metrics.RecordPacketReceived("rtcp")
	if cb := s.config.Callbacks.OnRTCP; cb != nil {
		cb(s, pkts)
	}
}

func (s *Session) sendLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closeCh:
			return
		case item := <-s.sendQ:
			if err := s.transmit(item); err != nil && s.log != nil {
				s.log.Debugf("session %s: send failed: %v", s.config.ID, err)
			}
		}
	}
}

func (s *Session) transmit(item outbound) error {
	t := s.transform.Load()
	if t == nil {
		return protection.ErrNotReady
	}
	ep := s.RemoteEndpoint()
	if !ep.IsValid() {
		return ErrNoRemote
	}

	if item.rtp != nil {
		raw, err := item.rtp.Marshal()
		if err != nil {
			return err
		}
		out, err := t.ProtectRTP(raw)
		if err != nil {
			return err
		}
		if err := s.config.Sender.Send(out, ep); err != nil {
			return err
		}
		_ = s.reporter.SentRTP(&item.rtp.Header, item.rtp.Payload)
		s.config.Metrics.RecordPacketSent("rtp")
		return nil
	}

	raw, err := rtcp.Marshal(item.rtcp)
	if err != nil {
		return err
	}
	out, err := t.ProtectRTCP(raw)
	if err != nil {
		return err
	}
	if err := s.config.Sender.Send(out, ep); err != nil {
		return err
	}
	s.config.Metrics.RecordPacketSent("rtcp")
	return nil
}

func (s *Session) controlLoop() {
	defer s.wg.Done()

	idle := time.NewTicker(idleCheckInterval(s.params.IdleTimeout))
	defer idle.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case now := <-idle.C:
			silent := now.Sub(time.Unix(0, s.lastActivity.Load()))
			if silent >= s.params.IdleTimeout {
				if s.log != nil {
					s.log.Infof("session %s idle for %s", s.config.ID, silent)
				}
				s.CloseAsync(ErrIdleTimeout)
				return
			}
		}
	}
}

func idleCheckInterval(timeout time.Duration) time.Duration {
	d := timeout / 4
	if d < minIdleCheckInterval {
		return minIdleCheckInterval
	}
	if d > maxIdleCheckInterval {
		return maxIdleCheckInterval
	}
	return d
}

// writeReports queues reports produced by the reporter. Reports are
// dropped until the session is Connected. Receiver reports go out under the
// session's local SSRC.
func (s *Session) writeReports(pkts []rtcp.Packet) error {
	if s.State() != StateConnected {
		return nil
	}
	for _, p := range pkts {
		if rr, ok := p.(*rtcp.ReceiverReport); ok {
			rr.SSRC = s.localSSRC
		}
	}
	return s.enqueueRTCP(pkts)
}
