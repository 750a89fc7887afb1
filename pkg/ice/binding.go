package ice

import (
	"net"
	"strings"

	"github.com/backkem/mediarelay/pkg/transport"
	"github.com/pion/stun/v3"
)

// Username splits the USERNAME attribute, "local[:remote]", into the
// receiver's (local) and sender's (remote) ufrag. remote is empty when the
// sender omitted it.
func (m *Message) Username() (local, remote string, err error) {
	v, ok := m.Get(stun.AttrUsername)
	if !ok {
		return "", "", ErrMissingUsername
	}
	local, remote, _ = strings.Cut(string(v), ":")
	if local == "" {
		return "", "", ErrInvalidUsername
	}
	return local, remote, nil
}

// BindingResult is the outcome of an accepted connectivity check.
type BindingResult struct {
	// Response is the encoded Binding Success Response.
	Response []byte

	// Request holds the parsed check.
	Request *BindingRequest

	// LocalUfrag is the receiver's ufrag taken from USERNAME.
	LocalUfrag string

	// RemoteUfrag is the sender's ufrag taken from USERNAME, or "".
	RemoteUfrag string
}

// CredentialLookup resolves the local ufrag of a check to the owning
// session's credentials. remoteUfrag is empty until signaling has bound the
// peer's credentials.
type CredentialLookup func(localUfrag string) (local Credentials, remoteUfrag string, ok bool)

// ProcessBindingRequest authenticates a binding request and builds the
// success response (RFC 8445 Section 7.3).
//
// Checks run in order: message type, USERNAME, session lookup,
// MESSAGE-INTEGRITY, FINGERPRINT. Any failure returns an error and no
// response bytes; the caller drops the request silently.
func ProcessBindingRequest(m *Message, source transport.Endpoint, lookup CredentialLookup) (*BindingResult, error) {
	if m.Type != stun.BindingRequest {
		return nil, ErrNotBindingRequest
	}
	local, remote, err := m.Username()
	if err != nil {
		return nil, err
	}
	creds, remoteUfrag, ok := lookup(local)
	if !ok {
		return nil, ErrUnknownUfrag
	}
	if remote != "" && remoteUfrag != "" && remote != remoteUfrag {
		return nil, ErrUfragMismatch
	}
	return AnswerBinding(m, source, creds)
}

// AnswerBinding verifies a binding request against known local credentials
// and builds the success response.
func AnswerBinding(m *Message, source transport.Endpoint, local Credentials) (*BindingResult, error) {
	req, err := ParseBindingRequest(m)
	if err != nil {
		return nil, err
	}

	localUfrag, peerUfrag, err := m.Username()
	if err != nil {
		return nil, err
	}
	if localUfrag != local.Ufrag {
		return nil, ErrUfragMismatch
	}

	if err := m.CheckIntegrity(local.Key()); err != nil {
		return nil, err
	}
	if err := m.CheckFingerprint(); err != nil {
		return nil, err
	}

	resp, err := buildBindingSuccess(m.TransactionID, source, local.Pwd)
	if err != nil {
		return nil, err
	}

	return &BindingResult{
		Response:    resp,
		Request:     req,
		LocalUfrag:  localUfrag,
		RemoteUfrag: peerUfrag,
	}, nil
}

func buildBindingSuccess(txID [stun.TransactionIDSize]byte, source transport.Endpoint, pwd string) ([]byte, error) {
	ip := net.IP(source.Addr().AsSlice())
	port := int(source.Port())

	msg, err := stun.Build(
		stun.NewTransactionIDSetter(txID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: ip, Port: port},
		&stun.MappedAddress{IP: ip, Port: port},
		stun.NewShortTermIntegrity(pwd),
		stun.Fingerprint,
	)
	if err != nil {
		return nil, err
	}
	return msg.Raw, nil
}
