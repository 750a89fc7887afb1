package transport

import (
	"net"
	"net/netip"
)

// Endpoint identifies a remote UDP peer by address and port.
// It is comparable and used as the demultiplexing key for sessions.
type Endpoint netip.AddrPort

// NewEndpoint creates an Endpoint from an address and port.
// IPv4-mapped IPv6 addresses are unmapped so that both forms compare equal.
func NewEndpoint(addr netip.Addr, port uint16) Endpoint {
	return Endpoint(netip.AddrPortFrom(addr.Unmap(), port))
}

// EndpointFromAddr converts a net.Addr (normally *net.UDPAddr) to an Endpoint.
// Returns false for addresses that do not carry an IP and port.
func EndpointFromAddr(addr net.Addr) (Endpoint, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return Endpoint{}, false
		}
		return NewEndpoint(ip, uint16(a.Port)), true
	case nil:
		return Endpoint{}, false
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return Endpoint{}, false
		}
		return NewEndpoint(ap.Addr(), ap.Port()), true
	}
}

// ParseEndpoint parses "ip:port".
func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, err
	}
	return NewEndpoint(ap.Addr(), ap.Port()), nil
}

// Addr returns the IP address.
func (e Endpoint) Addr() netip.Addr {
	return netip.AddrPort(e).Addr()
}

// Port returns the UDP port.
func (e Endpoint) Port() uint16 {
	return netip.AddrPort(e).Port()
}

// IsValid returns true if the endpoint has an address and a non-zero port.
func (e Endpoint) IsValid() bool {
	return netip.AddrPort(e).IsValid() && e.Port() != 0
}

// UDPAddr returns the endpoint as a *net.UDPAddr for socket writes.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(netip.AddrPort(e))
}

// String returns "ip:port".
func (e Endpoint) String() string {
	return netip.AddrPort(e).String()
}
