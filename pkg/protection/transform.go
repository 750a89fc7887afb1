// Package protection applies SRTP and SRTCP (RFC 3711) to media packets
// using keys exported from the DTLS handshake.
//
// A Transform holds two independent pion/srtp contexts: one for the send
// direction, one for the receive direction. Each keeps its own rollover
// counter and replay state.
package protection

import (
	"fmt"
	"sync"

	"github.com/backkem/mediarelay/pkg/handshake"
	"github.com/pion/srtp/v3"
)

// Packet layout constants for SRTP_AES128_CM_HMAC_SHA1_80.
const (
	rtpHeaderSize  = 12
	rtcpHeaderSize = 8

	// RTPAuthTagSize is the 80-bit SRTP authentication tag.
	RTPAuthTagSize = 10

	// SRTCPIndexSize is the E flag plus 31-bit SRTCP index.
	SRTCPIndexSize = 4

	// SRTCPTrailerSize is appended to every protected RTCP compound packet.
	SRTCPTrailerSize = SRTCPIndexSize + RTPAuthTagSize

	// DefaultReplayWindow is the replay window size in packets.
	DefaultReplayWindow = 4096
)

// Role selects which halves of the keying material protect outbound
// traffic.
type Role int

const (
	// RoleServer encrypts with the server key and salt. This relay is
	// always the DTLS server.
	RoleServer Role = iota

	// RoleClient encrypts with the client key and salt. Used by test peers.
	RoleClient
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Options tunes a Transform.
type Options struct {
	// ReplayWindow is the SRTP and SRTCP replay window. Default: 4096.
	ReplayWindow uint
}

func (o *Options) applyDefaults() {
	if o.ReplayWindow == 0 {
		o.ReplayWindow = DefaultReplayWindow
	}
}

// Transform protects and unprotects RTP and RTCP for one session.
//
// The zero value has no contexts; every operation returns ErrNotReady.
// Send and receive paths each take their own lock, so the sender and
// receive goroutines never contend.
type Transform struct {
	sendMu sync.Mutex
	send   *srtp.Context

	recvMu sync.Mutex
	recv   *srtp.Context

	keys *handshake.KeyingMaterial
}

// New creates both contexts from the handshake keying material.
// The material is copied; the caller may zero its own copy afterwards.
func New(km *handshake.KeyingMaterial, role Role, opts Options) (*Transform, error) {
	if km == nil {
		return nil, ErrNoKeys
	}
	opts.applyDefaults()

	keys := *km

	var localKey, localSalt, remoteKey, remoteSalt []byte
	switch role {
	case RoleServer:
		localKey, localSalt = keys.ServerKey[:], keys.ServerSalt[:]
		remoteKey, remoteSalt = keys.ClientKey[:], keys.ClientSalt[:]
	case RoleClient:
		localKey, localSalt = keys.ClientKey[:], keys.ClientSalt[:]
		remoteKey, remoteSalt = keys.ServerKey[:], keys.ServerSalt[:]
	default:
		return nil, ErrInvalidRole
	}

	send, err := srtp.CreateContext(localKey, localSalt, srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		return nil, fmt.Errorf("protection: create send context: %w", err)
	}

	recv, err := srtp.CreateContext(remoteKey, remoteSalt, srtp.ProtectionProfileAes128CmHmacSha1_80,
		srtp.SRTPReplayProtection(opts.ReplayWindow),
		srtp.SRTCPReplayProtection(opts.ReplayWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("protection: create receive context: %w", err)
	}

	return &Transform{
		send: send,
		recv: recv,
		keys: &keys,
	}, nil
}

// ProtectRTP encrypts an RTP packet and appends the authentication tag.
func (t *Transform) ProtectRTP(pkt []byte) ([]byte, error) {
	if len(pkt) < rtpHeaderSize {
		return nil, ErrMalformed
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if t.send == nil {
		return nil, ErrNotReady
	}
	out, err := t.send.EncryptRTP(nil, pkt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtect, err)
	}
	return out, nil
}

// UnprotectRTP verifies and decrypts an SRTP packet. On any failure it
// returns nil output.
func (t *Transform) UnprotectRTP(pkt []byte) ([]byte, error) {
	if len(pkt) < rtpHeaderSize+RTPAuthTagSize {
		return nil, ErrMalformed
	}

	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	if t.recv == nil {
		return nil, ErrNotReady
	}
	out, err := t.recv.DecryptRTP(nil, pkt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprotect, err)
	}
	return out, nil
}

// ProtectRTCP encrypts an RTCP compound packet and appends the SRTCP index
// and authentication tag.
func (t *Transform) ProtectRTCP(pkt []byte) ([]byte, error) {
	if len(pkt) < rtcpHeaderSize {
		return nil, ErrMalformed
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if t.send == nil {
		return nil, ErrNotReady
	}
	out, err := t.send.EncryptRTCP(nil, pkt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtect, err)
	}
	return out, nil
}

// UnprotectRTCP verifies and decrypts an SRTCP packet. On any failure it
// returns nil output.
func (t *Transform) UnprotectRTCP(pkt []byte) ([]byte, error) {
	if len(pkt) < rtcpHeaderSize+SRTCPTrailerSize {
		return nil, ErrMalformed
	}

	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	if t.recv == nil {
		return nil, ErrNotReady
	}
	out, err := t.recv.DecryptRTCP(nil, pkt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprotect, err)
	}
	return out, nil
}

// Ready reports whether the send context exists.
func (t *Transform) Ready() bool {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.send != nil
}

// Close drops both contexts and zeroes the retained master keys. Later
// calls return ErrNotReady.
func (t *Transform) Close() error {
	t.sendMu.Lock()
	t.send = nil
	if t.keys != nil {
		t.keys.Zero()
		t.keys = nil
	}
	t.sendMu.Unlock()

	t.recvMu.Lock()
	t.recv = nil
	t.recvMu.Unlock()

	return nil
}
