package ice

import "errors"

// STUN decode errors. Every one of these results in a silent drop.
var (
	ErrMessageTooShort      = errors.New("ice: message shorter than STUN header")
	ErrInvalidHeader        = errors.New("ice: leading header bits not zero")
	ErrBadMagicCookie       = errors.New("ice: magic cookie mismatch")
	ErrInvalidLength        = errors.New("ice: length not a multiple of 4")
	ErrTruncated            = errors.New("ice: declared length exceeds buffer")
	ErrMalformedAttribute   = errors.New("ice: malformed attribute")
	ErrUnknownAttribute     = errors.New("ice: unknown comprehension-required attribute")
	ErrAttributeAfterFinger = errors.New("ice: attribute after FINGERPRINT")
)

// Binding request processing errors.
var (
	ErrNotBindingRequest   = errors.New("ice: not a binding request")
	ErrMissingUsername     = errors.New("ice: USERNAME missing")
	ErrInvalidUsername     = errors.New("ice: malformed USERNAME")
	ErrUnknownUfrag        = errors.New("ice: no session for ufrag")
	ErrUfragMismatch       = errors.New("ice: USERNAME does not match session credentials")
	ErrIntegrityMissing    = errors.New("ice: MESSAGE-INTEGRITY missing")
	ErrIntegrityMismatch   = errors.New("ice: MESSAGE-INTEGRITY mismatch")
	ErrFingerprintMismatch = errors.New("ice: FINGERPRINT mismatch")
)

// Credential errors.
var (
	ErrInvalidUfrag = errors.New("ice: invalid ufrag")
	ErrInvalidPwd   = errors.New("ice: invalid password")
)
