// Package ice implements the ICE-lite side of connectivity checks.
//
// The decoder is strict and fail-closed: anything that is not a well-formed
// STUN message per RFC 5389 Section 6 is rejected, and the caller drops it.
// Encoding of responses is delegated to pion/stun.
package ice

import (
	"encoding/binary"

	"github.com/pion/stun/v3"
	"golang.org/x/crypto/cryptobyte"
)

// STUN framing constants (RFC 5389 Section 6 and 15).
const (
	HeaderSize  = 20
	MagicCookie = 0x2112A442

	attrHeaderSize      = 4
	integritySize       = 20
	fingerprintSize     = 4
	fingerprintXORValue = 0x5354554e
)

// Attributes this endpoint understands in the comprehension-required range.
var knownRequired = map[stun.AttrType]bool{
	stun.AttrMappedAddress:     true,
	stun.AttrUsername:          true,
	stun.AttrMessageIntegrity:  true,
	stun.AttrErrorCode:         true,
	stun.AttrUnknownAttributes: true,
	stun.AttrRealm:             true,
	stun.AttrNonce:             true,
	stun.AttrXORMappedAddress:  true,
	stun.AttrPriority:          true,
	stun.AttrUseCandidate:      true,
}

// Message is a strictly decoded STUN message.
//
// Attributes holds every attribute up to and including MESSAGE-INTEGRITY,
// plus FINGERPRINT. Attributes between MESSAGE-INTEGRITY and FINGERPRINT
// are not covered by the integrity check and are discarded.
type Message struct {
	Type          stun.MessageType
	TransactionID [stun.TransactionIDSize]byte
	Attributes    stun.Attributes

	// Raw is the message bytes, trimmed to the declared length.
	Raw []byte

	integrityAt   int
	fingerprintAt int
}

// Decode parses a STUN message. The input is not retained; Raw is a copy.
func Decode(b []byte) (*Message, error) {
	if len(b) < HeaderSize {
		return nil, ErrMessageTooShort
	}
	if b[0]&0xC0 != 0 {
		return nil, ErrInvalidHeader
	}
	if binary.BigEndian.Uint32(b[4:8]) != MagicCookie {
		return nil, ErrBadMagicCookie
	}
	length := int(binary.BigEndian.Uint16(b[2:4]))
	if length%4 != 0 {
		return nil, ErrInvalidLength
	}
	if HeaderSize+length > len(b) {
		return nil, ErrTruncated
	}

	m := &Message{
		Raw:           append([]byte(nil), b[:HeaderSize+length]...),
		integrityAt:   -1,
		fingerprintAt: -1,
	}
	m.Type.ReadValue(binary.BigEndian.Uint16(m.Raw[0:2]))
	copy(m.TransactionID[:], m.Raw[8:HeaderSize])

	if err := m.decodeAttributes(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Message) decodeAttributes() error {
	s := cryptobyte.String(m.Raw[HeaderSize:])
	offset := HeaderSize

	for !s.Empty() {
		var (
			typ, length uint16
			value       []byte
		)
		if !s.ReadUint16(&typ) || !s.ReadUint16(&length) || !s.ReadBytes(&value, int(length)) {
			return ErrMalformedAttribute
		}
		padding := nearestPaddedLength(int(length)) - int(length)
		if !s.Skip(padding) {
			return ErrMalformedAttribute
		}

		at := offset
		offset += attrHeaderSize + int(length) + padding
		t := stun.AttrType(typ)

		if m.fingerprintAt >= 0 {
			return ErrAttributeAfterFinger
		}

		switch {
		case t == stun.AttrMessageIntegrity:
			if m.integrityAt >= 0 || length != integritySize {
				return ErrMalformedAttribute
			}
			m.integrityAt = at
		case t == stun.AttrFingerprint:
			if length != fingerprintSize {
				return ErrMalformedAttribute
			}
			m.fingerprintAt = at
		case m.integrityAt >= 0:
			// Not protected by MESSAGE-INTEGRITY.
			continue
		case t.Required() && !knownRequired[t]:
			return ErrUnknownAttribute
		}

		m.Attributes = append(m.Attributes, stun.RawAttribute{
			Type:   t,
			Length: length,
			Value:  value,
		})
	}
	return nil
}

// Get returns the value of the first attribute of type t.
func (m *Message) Get(t stun.AttrType) ([]byte, bool) {
	a, ok := m.Attributes.Get(t)
	if !ok {
		return nil, false
	}
	return a.Value, true
}

// HasIntegrity reports whether the message carries MESSAGE-INTEGRITY.
func (m *Message) HasIntegrity() bool {
	return m.integrityAt >= 0
}

// HasFingerprint reports whether the message carries FINGERPRINT.
func (m *Message) HasFingerprint() bool {
	return m.fingerprintAt >= 0
}

func nearestPaddedLength(n int) int {
	return (n + 3) &^ 3
}
