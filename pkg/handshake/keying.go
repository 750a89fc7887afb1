package handshake

// Exporter label and sizes for SRTP_AES128_CM_HMAC_SHA1_80
// (RFC 5764 Section 4.2).
const (
	KeyingLabel        = "EXTRACTOR-dtls_srtp"
	MasterKeySize      = 16
	MasterSaltSize     = 14
	KeyingMaterialSize = 2*MasterKeySize + 2*MasterSaltSize
)

// KeyingMaterial is the exported DTLS-SRTP master key material, laid out on
// the wire as client_key | server_key | client_salt | server_salt.
//
// This endpoint is always the DTLS server: the server halves protect
// outbound traffic and the client halves unprotect inbound traffic.
type KeyingMaterial struct {
	ClientKey  [MasterKeySize]byte
	ServerKey  [MasterKeySize]byte
	ClientSalt [MasterSaltSize]byte
	ServerSalt [MasterSaltSize]byte
}

// ParseKeyingMaterial slices an exporter output into its four parts.
func ParseKeyingMaterial(b []byte) (*KeyingMaterial, error) {
	if len(b) != KeyingMaterialSize {
		return nil, ErrInvalidKeying
	}
	km := &KeyingMaterial{}
	off := 0
	off += copy(km.ClientKey[:], b[off:])
	off += copy(km.ServerKey[:], b[off:])
	off += copy(km.ClientSalt[:], b[off:])
	copy(km.ServerSalt[:], b[off:])
	return km, nil
}

// Zero clears the key material.
func (k *KeyingMaterial) Zero() {
	clear(k.ClientKey[:])
	clear(k.ServerKey[:])
	clear(k.ClientSalt[:])
	clear(k.ServerSalt[:])
}
