// Package transport owns the shared UDP media socket.
//
// A single socket carries STUN, DTLS and SRTP for every peer. The UDP type
// runs the only read loop on that socket and hands each datagram to a
// handler (the multiplexer); sessions write to it through Send.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	piontransport "github.com/pion/transport/v3"
)

// DefaultPort is the default media port.
const DefaultPort = 8443

// MaxDatagramSize is the largest datagram Send writes (path MTU).
const MaxDatagramSize = 1500

// ReceiveMTU is the read buffer size. It holds any UDP payload so oversized
// datagrams arrive whole instead of truncated.
const ReceiveMTU = 1 << 16

// UDP provides the shared media socket.
// It wraps a net.PacketConn and provides a read loop that calls
// the configured DatagramHandler for each received datagram.
type UDP struct {
	conn    net.PacketConn
	handler DatagramHandler
	onFatal func(err error)
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu      sync.RWMutex
	started bool
	closed  bool
}

// UDPConfig configures the UDP transport.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn to use.
	// If nil, a new connection will be created using ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., ":8443").
	// Ignored if Conn is provided.
	ListenAddr string

	// Net creates the socket when Conn is nil. Defaults to the OS network
	// stack; tests pass a pion vnet.Net.
	Net piontransport.Net

	// DatagramHandler is called for each received datagram.
	// Required.
	DatagramHandler DatagramHandler

	// OnFatal is called once if the socket becomes permanently unusable
	// while the transport is running.
	OnFatal func(err error)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewUDP creates a new UDP transport with the given configuration.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.DatagramHandler == nil {
		return nil, ErrNoHandler
	}

	u := &UDP{
		conn:    config.Conn,
		handler: config.DatagramHandler,
		onFatal: config.OnFatal,
		closeCh: make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}

		var (
			conn net.PacketConn
			err  error
		)
		if config.Net != nil {
			conn, err = config.Net.ListenPacket("udp", addr)
		} else {
			conn, err = net.ListenPacket("udp", addr)
		}
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	return u, nil
}

// Start begins the read loop.
func (u *UDP) Start() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	u.started = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Infof("starting UDP transport on %s", u.conn.LocalAddr())
	}

	u.wg.Add(1)
	go u.readLoop()

	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Info("stopping UDP transport")
	}

	close(u.closeCh)

	// Unblock any pending read before closing.
	_ = u.conn.SetReadDeadline(time.Now())
	err := u.conn.Close()
	u.wg.Wait()

	return err
}

// Send writes a datagram to the given endpoint.
func (u *UDP) Send(data []byte, to Endpoint) error {
	u.mu.RLock()
	if u.closed {
		u.mu.RUnlock()
		return ErrClosed
	}
	u.mu.RUnlock()

	if !to.IsValid() {
		return ErrInvalidAddress
	}

	if len(data) > MaxDatagramSize {
		return ErrMessageTooLarge
	}

	if _, err := u.conn.WriteTo(data, to.UDPAddr()); err != nil {
		if u.log != nil {
			u.log.Warnf("send to %s failed: %v", to, err)
		}
		return err
	}

	return nil
}

// LocalAddr returns the local address of the socket.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// readLoop reads datagrams and dispatches them to the handler.
func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, ReceiveMTU)

	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				if u.log != nil {
					u.log.Errorf("UDP socket closed unexpectedly: %v", err)
				}
				if u.onFatal != nil {
					u.onFatal(err)
				}
				return
			}

			if u.log != nil {
				u.log.Warnf("UDP read error: %v", err)
			}
			continue
		}

		if n == 0 {
			continue
		}

		src, ok := EndpointFromAddr(addr)
		if !ok {
			continue
		}

		// The read buffer is reused, so the handler gets its own copy.
		data := make([]byte, n)
		copy(data, buf[:n])

		u.handler(&Datagram{
			Data:   data,
			Source: src,
		})
	}
}
