package ice

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/pion/stun/v3"
)

type rawAttr struct {
	t stun.AttrType
	v []byte
}

func (a rawAttr) AddTo(m *stun.Message) error {
	m.Add(a.t, a.v)
	return nil
}

// rawMessage assembles a message without pion so malformed layouts can be built.
func rawMessage(typ uint16, body []byte) []byte {
	b := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(b[0:2], typ)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(body)))
	binary.BigEndian.PutUint32(b[4:8], MagicCookie)
	copy(b[8:20], "txid-abcdefg")
	copy(b[HeaderSize:], body)
	return b
}

func tlv(typ uint16, value []byte) []byte {
	b := make([]byte, attrHeaderSize+nearestPaddedLength(len(value)))
	binary.BigEndian.PutUint16(b[0:2], typ)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(value)))
	copy(b[attrHeaderSize:], value)
	return b
}

func TestDecodeErrors(t *testing.T) {
	valid := rawMessage(0x0001, tlv(0x0006, []byte("abcd:efgh")))

	badBits := append([]byte(nil), valid...)
	badBits[0] |= 0x80

	badCookie := append([]byte(nil), valid...)
	badCookie[4] ^= 0xFF

	oddLength := append([]byte(nil), valid...)
	binary.BigEndian.PutUint16(oddLength[2:4], 6)

	truncated := append([]byte(nil), valid...)
	binary.BigEndian.PutUint16(truncated[2:4], uint16(len(valid)))

	overlong := rawMessage(0x0001, []byte{0x00, 0x06, 0x00, 0x40, 'a', 'b', 'c', 'd'})

	fp := make([]byte, 4)
	afterFingerprint := rawMessage(0x0001, append(tlv(0x8028, fp), tlv(0x0006, []byte("ab:c"))...))

	unknownRequired := rawMessage(0x0001, tlv(0x0030, []byte{1, 2, 3, 4}))

	shortIntegrity := rawMessage(0x0001, tlv(0x0008, make([]byte, 10)))

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrMessageTooShort},
		{"short header", valid[:19], ErrMessageTooShort},
		{"leading bits", badBits, ErrInvalidHeader},
		{"bad cookie", badCookie, ErrBadMagicCookie},
		{"length not multiple of 4", oddLength, ErrInvalidLength},
		{"length exceeds buffer", truncated, ErrTruncated},
		{"attribute overruns message", overlong, ErrMalformedAttribute},
		{"attribute after fingerprint", afterFingerprint, ErrAttributeAfterFinger},
		{"unknown comprehension-required", unknownRequired, ErrUnknownAttribute},
		{"short message-integrity", shortIntegrity, ErrMalformedAttribute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeOptionalUnknownTolerated(t *testing.T) {
	b := rawMessage(0x0001, append(tlv(0xC001, []byte{1}), tlv(0x0006, []byte("ab:cd"))...))

	m, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Type != stun.BindingRequest {
		t.Errorf("Type = %v, want %v", m.Type, stun.BindingRequest)
	}
	if len(m.Attributes) != 2 {
		t.Errorf("len(Attributes) = %d, want 2", len(m.Attributes))
	}
	local, remote, err := m.Username()
	if err != nil || local != "ab" || remote != "cd" {
		t.Errorf("Username() = %q, %q, %v", local, remote, err)
	}
}

func TestDecodeTrimsToDeclaredLength(t *testing.T) {
	b := rawMessage(0x0001, nil)
	b = append(b, 0xDE, 0xAD)

	m, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(m.Raw) != HeaderSize {
		t.Errorf("len(Raw) = %d, want %d", len(m.Raw), HeaderSize)
	}
}

func TestDecodeDoesNotAliasInput(t *testing.T) {
	b := rawMessage(0x0001, tlv(0x0006, []byte("ab:cd")))
	m, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	b[HeaderSize+attrHeaderSize] = 'X'
	if local, _, _ := m.Username(); local != "ab" {
		t.Errorf("Username() local = %q after mutating input, want ab", local)
	}
}

func TestAttributesAfterIntegrityIgnored(t *testing.T) {
	const pwd = "0123456789abcdefghijkl"

	msg, err := stun.Build(
		stun.TransactionID,
		stun.BindingRequest,
		stun.NewUsername("local:remote"),
		stun.NewShortTermIntegrity(pwd),
		stun.NewSoftware("late"),
		rawAttr{t: 0x0030, v: []byte{1, 2, 3, 4}},
		stun.Fingerprint,
	)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	m, err := Decode(msg.Raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if _, ok := m.Get(stun.AttrSoftware); ok {
		t.Error("SOFTWARE after MESSAGE-INTEGRITY was kept")
	}
	if !m.HasIntegrity() || !m.HasFingerprint() {
		t.Errorf("HasIntegrity() = %v, HasFingerprint() = %v", m.HasIntegrity(), m.HasFingerprint())
	}
	if err := m.CheckIntegrity([]byte(pwd)); err != nil {
		t.Errorf("CheckIntegrity() error = %v", err)
	}
	if err := m.CheckFingerprint(); err != nil {
		t.Errorf("CheckFingerprint() error = %v", err)
	}
}
