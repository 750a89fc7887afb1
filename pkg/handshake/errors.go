package handshake

import "errors"

var (
	ErrClosed             = errors.New("handshake: engine closed")
	ErrAlreadyStarted     = errors.New("handshake: already started")
	ErrNoCertificate      = errors.New("handshake: certificate required")
	ErrNoSender           = errors.New("handshake: send callback required")
	ErrTimeout            = errors.New("handshake: no progress within handshake ceiling")
	ErrNoSRTPProfile      = errors.New("handshake: no SRTP protection profile negotiated")
	ErrFingerprint        = errors.New("handshake: remote certificate fingerprint mismatch")
	ErrNoPeerCertificate  = errors.New("handshake: peer sent no certificate")
	ErrInvalidKeying      = errors.New("handshake: keying material has wrong length")
	ErrInvalidFingerprint = errors.New("handshake: malformed fingerprint")
	ErrBufferFull         = errors.New("handshake: inbound buffer full")
)
