package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"
)

// CheckIntegrity verifies MESSAGE-INTEGRITY using the short-term credential
// key (the password bytes, RFC 5389 Section 15.4).
//
// The HMAC covers the header and every attribute before MESSAGE-INTEGRITY,
// with the header length field set as if MESSAGE-INTEGRITY were the last
// attribute. That length is substituted in a local header copy; Raw is
// never modified.
func (m *Message) CheckIntegrity(key []byte) error {
	if m.integrityAt < 0 {
		return ErrIntegrityMissing
	}

	var header [HeaderSize]byte
	copy(header[:], m.Raw[:HeaderSize])
	length := m.integrityAt + attrHeaderSize + integritySize - HeaderSize
	binary.BigEndian.PutUint16(header[2:4], uint16(length))

	mac := hmac.New(sha1.New, key)
	mac.Write(header[:])
	mac.Write(m.Raw[HeaderSize:m.integrityAt])
	expected := mac.Sum(nil)

	valueAt := m.integrityAt + attrHeaderSize
	if !hmac.Equal(expected, m.Raw[valueAt:valueAt+integritySize]) {
		return ErrIntegrityMismatch
	}
	return nil
}

// CheckFingerprint verifies FINGERPRINT if present (RFC 5389 Section 15.5).
// A message without FINGERPRINT passes.
func (m *Message) CheckFingerprint() error {
	if m.fingerprintAt < 0 {
		return nil
	}
	// FINGERPRINT is always last, so the declared length already covers it.
	expected := crc32.ChecksumIEEE(m.Raw[:m.fingerprintAt]) ^ fingerprintXORValue
	valueAt := m.fingerprintAt + attrHeaderSize
	if binary.BigEndian.Uint32(m.Raw[valueAt:valueAt+fingerprintSize]) != expected {
		return ErrFingerprintMismatch
	}
	return nil
}
