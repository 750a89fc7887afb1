package handshake

import (
	"net"
	"time"

	"github.com/pion/transport/v3/packetio"
)

// pumpConn is the packet connection handed to pion/dtls. Reads come from the
// in-memory network-in buffer that the session fills; writes go straight to
// the session's send callback. The shared socket is never exposed.
type pumpConn struct {
	in     *packetio.Buffer
	send   func([]byte) error
	local  net.Addr
	remote net.Addr
}

func (c *pumpConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, err := c.in.Read(p)
	return n, c.remote, err
}

func (c *pumpConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	if err := c.send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *pumpConn) Close() error {
	return c.in.Close()
}

func (c *pumpConn) LocalAddr() net.Addr {
	return c.local
}

func (c *pumpConn) SetDeadline(t time.Time) error {
	return c.in.SetReadDeadline(t)
}

func (c *pumpConn) SetReadDeadline(t time.Time) error {
	return c.in.SetReadDeadline(t)
}

func (c *pumpConn) SetWriteDeadline(time.Time) error {
	return nil
}

var _ net.PacketConn = (*pumpConn)(nil)
