package relay

import (
	"fmt"
	"net"

	"github.com/backkem/mediarelay/pkg/handshake"
	"github.com/backkem/mediarelay/pkg/ice"
	"github.com/backkem/mediarelay/pkg/mux"
	"github.com/backkem/mediarelay/pkg/session"
	"github.com/backkem/mediarelay/pkg/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/logging"
	piontransport "github.com/pion/transport/v3"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Context is the shared process state. Required.
	Context *Context

	// ListenAddr is the media socket address. Default: ":8443".
	ListenAddr string

	// Conn is an optional pre-opened socket. ListenAddr is ignored if set.
	Conn net.PacketConn

	// Net opens the socket when Conn is nil. Tests pass a vnet.Net.
	Net piontransport.Net

	// CandidateEndpoint overrides the address advertised in the host
	// candidate, for servers behind a 1:1 NAT.
	CandidateEndpoint transport.Endpoint

	// MaxSessions bounds concurrent sessions. Default: 4096.
	MaxSessions int

	// Params are the default session tunables.
	Params session.Params
}

// SessionOptions carries what signaling knows when it allocates a session.
type SessionOptions struct {
	// LocalUfrag and LocalPwd are generated when empty.
	LocalUfrag string
	LocalPwd   string

	// RemoteFingerprint is the peer's a=fingerprint value. When set, the
	// DTLS handshake only succeeds against that certificate.
	RemoteFingerprint string

	// RemoteCredentials are bound immediately when non-empty.
	RemoteCredentials ice.Credentials

	// Callbacks receive media and lifecycle events.
	Callbacks session.Callbacks
}

// Server owns one media socket and every session multiplexed on it.
type Server struct {
	ctx      *Context
	config   ServerConfig
	registry *session.Registry
	udp      *transport.UDP
	mux      *mux.Multiplexer
	log      logging.LeveledLogger
}

// NewServer opens the media socket. Call Start to begin reading.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Context == nil {
		return nil, ErrNoContext
	}
	if config.ListenAddr == "" && config.Conn == nil {
		config.ListenAddr = fmt.Sprintf(":%d", transport.DefaultPort)
	}

	s := &Server{
		ctx:      config.Context,
		config:   config,
		registry: session.NewRegistry(config.MaxSessions),
	}
	if config.Context.LoggerFactory != nil {
		s.log = config.Context.LoggerFactory.NewLogger("relay")
	}

	udp, err := transport.NewUDP(transport.UDPConfig{
		Conn:            config.Conn,
		ListenAddr:      config.ListenAddr,
		Net:             config.Net,
		DatagramHandler: s.handleDatagram,
		OnFatal:         s.onSocketFailure,
		LoggerFactory:   config.Context.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	s.udp = udp

	s.mux, err = mux.New(mux.Config{
		Registry:      s.registry,
		Sender:        udp,
		Metrics:       config.Context.Metrics,
		LoggerFactory: config.Context.LoggerFactory,
	})
	if err != nil {
		_ = udp.Stop()
		return nil, err
	}
	return s, nil
}

func (s *Server) handleDatagram(d *transport.Datagram) {
	s.mux.HandleDatagram(d)
}

// onSocketFailure closes every session once the socket is unusable.
func (s *Server) onSocketFailure(err error) {
	if s.log != nil {
		s.log.Errorf("media socket failed, closing %d sessions: %v", s.registry.Count(), err)
	}
	s.registry.ForEach(func(sess *session.Session) bool {
		sess.CloseAsync(err)
		return true
	})
}

// Start begins reading the media socket.
func (s *Server) Start() error {
	return s.udp.Start()
}

// Stop closes every session, then the socket.
func (s *Server) Stop() error {
	var merr *multierror.Error

	for _, sess := range s.registry.Sessions() {
		if err := sess.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("close session %s: %w", sess.ID(), err))
		}
	}
	if err := s.udp.Stop(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("stop media socket: %w", err))
	}
	return merr.ErrorOrNil()
}

// LocalAddr returns the media socket address.
func (s *Server) LocalAddr() net.Addr {
	return s.udp.LocalAddr()
}

// CreateSession allocates a session and registers its local ufrag.
func (s *Server) CreateSession(opts SessionOptions) (*session.Session, error) {
	local := ice.Credentials{Ufrag: opts.LocalUfrag, Pwd: opts.LocalPwd}
	if local.Ufrag == "" || local.Pwd == "" {
		generated, err := ice.GenerateCredentials()
		if err != nil {
			return nil, err
		}
		if local.Ufrag == "" {
			local.Ufrag = generated.Ufrag
		}
		if local.Pwd == "" {
			local.Pwd = generated.Pwd
		}
	}

	var remoteFP *handshake.RemoteFingerprint
	if opts.RemoteFingerprint != "" {
		fp, err := handshake.ParseRemoteFingerprint(opts.RemoteFingerprint)
		if err != nil {
			return nil, err
		}
		remoteFP = &fp
	}

	sess, err := session.NewSession(session.Config{
		LocalCredentials:  local,
		RemoteFingerprint: remoteFP,
		Certificate:       s.ctx.Certificate,
		Sender:            s.udp,
		LocalAddr:         s.udp.LocalAddr(),
		Registry:          s.registry,
		Params:            s.config.Params,
		Callbacks:         opts.Callbacks,
		Metrics:           s.ctx.Metrics,
		LoggerFactory:     s.ctx.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	if remoteFP == nil && s.log != nil {
		s.log.Warnf("session %s: no remote fingerprint, peer certificate not pinned", sess.ID())
	}

	if opts.RemoteCredentials.Ufrag != "" {
		if err := sess.SetRemoteCredentials(opts.RemoteCredentials); err != nil {
			_ = sess.Close()
			return nil, err
		}
	}

	if s.log != nil {
		s.log.Infof("created session %s (ufrag %s)", sess.ID(), local.Ufrag)
	}
	return sess, nil
}

// BindRemoteCredentials records the peer's ICE credentials for a session.
func (s *Server) BindRemoteCredentials(id string, remote ice.Credentials) error {
	sess := s.registry.FindByID(id)
	if sess == nil {
		return ErrSessionNotFound
	}
	return sess.SetRemoteCredentials(remote)
}

// Session returns the session with the given ID, or nil.
func (s *Server) Session(id string) *session.Session {
	return s.registry.FindByID(id)
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.registry.Count()
}

// CloseSession tears a session down and waits for it.
func (s *Server) CloseSession(id string) error {
	sess := s.registry.FindByID(id)
	if sess == nil {
		return ErrSessionNotFound
	}
	return sess.Close()
}

// LocalFingerprint returns the SHA-1 fingerprint of the DTLS certificate.
func (s *Server) LocalFingerprint() (string, error) {
	return s.ctx.LocalFingerprint()
}

// LocalCandidate returns the host candidate attribute value signaling
// places in the SDP answer.
func (s *Server) LocalCandidate() (string, error) {
	ep := s.config.CandidateEndpoint
	if !ep.IsValid() {
		var ok bool
		ep, ok = transport.EndpointFromAddr(s.udp.LocalAddr())
		if !ok || ep.Addr().IsUnspecified() {
			return "", ErrNoCandidateAddress
		}
	}
	return ice.LocalCandidate(ep)
}
