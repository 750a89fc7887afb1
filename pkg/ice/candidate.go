package ice

import (
	"net"
	"strconv"

	"github.com/backkem/mediarelay/pkg/transport"
	pionice "github.com/pion/ice/v4"
)

// LocalCandidate returns the host candidate line advertised for the shared
// media socket, in SDP "candidate" attribute value form.
func LocalCandidate(ep transport.Endpoint) (string, error) {
	if !ep.IsValid() {
		return "", transport.ErrInvalidAddress
	}
	c, err := pionice.NewCandidateHost(&pionice.CandidateHostConfig{
		Network:   "udp",
		Address:   ep.Addr().String(),
		Port:      int(ep.Port()),
		Component: pionice.ComponentRTP,
	})
	if err != nil {
		return "", err
	}
	return c.Marshal(), nil
}

// ParseCandidate parses a candidate line and returns its transport address.
func ParseCandidate(line string) (transport.Endpoint, error) {
	c, err := pionice.UnmarshalCandidate(line)
	if err != nil {
		return transport.Endpoint{}, err
	}
	ep, err := transport.ParseEndpoint(net.JoinHostPort(c.Address(), strconv.Itoa(c.Port())))
	if err != nil {
		return transport.Endpoint{}, err
	}
	return ep, nil
}
