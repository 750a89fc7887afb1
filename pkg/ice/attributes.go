package ice

import (
	"encoding/binary"

	"github.com/pion/stun/v3"
)

// Role is the ICE role advertised by the sender of a check.
type Role int

const (
	RoleUnspecified Role = iota
	RoleControlled
	RoleControlling
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleControlled:
		return "controlled"
	case RoleControlling:
		return "controlling"
	default:
		return "unspecified"
	}
}

// PriorityAttr is the PRIORITY attribute (RFC 8445 Section 7.1.1).
type PriorityAttr uint32

// AddTo implements stun.Setter.
func (p PriorityAttr) AddTo(m *stun.Message) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, uint32(p))
	m.Add(stun.AttrPriority, v)
	return nil
}

// ControlAttr is ICE-CONTROLLED or ICE-CONTROLLING with its tie-breaker.
type ControlAttr struct {
	Role       Role
	TieBreaker uint64
}

// AddTo implements stun.Setter.
func (c ControlAttr) AddTo(m *stun.Message) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, c.TieBreaker)
	switch c.Role {
	case RoleControlling:
		m.Add(stun.AttrICEControlling, v)
	case RoleControlled:
		m.Add(stun.AttrICEControlled, v)
	}
	return nil
}

// UseCandidateAttr is the empty USE-CANDIDATE flag attribute.
type UseCandidateAttr struct{}

// AddTo implements stun.Setter.
func (UseCandidateAttr) AddTo(m *stun.Message) error {
	m.Add(stun.AttrUseCandidate, nil)
	return nil
}

// BindingRequest is a connectivity check as seen on the wire.
type BindingRequest struct {
	TransactionID [stun.TransactionIDSize]byte

	// Username is "<receiver ufrag>:<sender ufrag>".
	Username string

	Priority     uint32
	Role         Role
	TieBreaker   uint64
	UseCandidate bool
}

// Encode builds the request, protected with MESSAGE-INTEGRITY under key
// when key is non-nil, and always terminated by FINGERPRINT.
func (r *BindingRequest) Encode(key []byte) ([]byte, error) {
	setters := []stun.Setter{
		stun.NewTransactionIDSetter(r.TransactionID),
		stun.BindingRequest,
	}
	if r.Username != "" {
		setters = append(setters, stun.NewUsername(r.Username))
	}
	if r.Priority != 0 {
		setters = append(setters, PriorityAttr(r.Priority))
	}
	if r.Role != RoleUnspecified {
		setters = append(setters, ControlAttr{Role: r.Role, TieBreaker: r.TieBreaker})
	}
	if r.UseCandidate {
		setters = append(setters, UseCandidateAttr{})
	}
	if key != nil {
		setters = append(setters, stun.NewShortTermIntegrity(string(key)))
	}
	setters = append(setters, stun.Fingerprint)

	msg, err := stun.Build(setters...)
	if err != nil {
		return nil, err
	}
	return msg.Raw, nil
}

// ParseBindingRequest extracts the ICE fields of a decoded binding request.
func ParseBindingRequest(m *Message) (*BindingRequest, error) {
	if m.Type != stun.BindingRequest {
		return nil, ErrNotBindingRequest
	}

	r := &BindingRequest{TransactionID: m.TransactionID}

	if v, ok := m.Get(stun.AttrUsername); ok {
		r.Username = string(v)
	}
	if v, ok := m.Get(stun.AttrPriority); ok {
		if len(v) != 4 {
			return nil, ErrMalformedAttribute
		}
		r.Priority = binary.BigEndian.Uint32(v)
	}
	if v, ok := m.Get(stun.AttrICEControlling); ok {
		if len(v) != 8 {
			return nil, ErrMalformedAttribute
		}
		r.Role = RoleControlling
		r.TieBreaker = binary.BigEndian.Uint64(v)
	} else if v, ok := m.Get(stun.AttrICEControlled); ok {
		if len(v) != 8 {
			return nil, ErrMalformedAttribute
		}
		r.Role = RoleControlled
		r.TieBreaker = binary.BigEndian.Uint64(v)
	}
	if _, ok := m.Get(stun.AttrUseCandidate); ok {
		r.UseCandidate = true
	}
	return r, nil
}
