package handshake

import (
	"crypto"
	_ "crypto/sha1" // registers crypto.SHA1 for fingerprints
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
)

// Certificate is the DTLS identity of the process. One instance is shared by
// every session; peers pin it through the SDP fingerprint.
type Certificate struct {
	tls  tls.Certificate
	leaf *x509.Certificate
}

// GenerateCertificate creates a self-signed ECDSA P-256 certificate.
func GenerateCertificate() (*Certificate, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("handshake: generate certificate: %w", err)
	}
	return newCertificate(cert)
}

// LoadCertificate reads a PEM certificate and private key from disk.
func LoadCertificate(certFile, keyFile string) (*Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("handshake: load certificate: %w", err)
	}
	return newCertificate(cert)
}

// ParseCertificate builds a Certificate from PEM blocks.
func ParseCertificate(certPEM, keyPEM []byte) (*Certificate, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse certificate: %w", err)
	}
	return newCertificate(cert)
}

func newCertificate(cert tls.Certificate) (*Certificate, error) {
	if len(cert.Certificate) == 0 {
		return nil, ErrNoCertificate
	}
	leaf := cert.Leaf
	if leaf == nil {
		var err error
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("handshake: parse leaf: %w", err)
		}
	}
	return &Certificate{tls: cert, leaf: leaf}, nil
}

// TLSCertificate returns the certificate in the form pion/dtls consumes.
func (c *Certificate) TLSCertificate() tls.Certificate {
	return c.tls
}

// Fingerprint returns the colon-separated hex digest of the certificate.
func (c *Certificate) Fingerprint(hash crypto.Hash) (string, error) {
	return fingerprint.Fingerprint(c.leaf, hash)
}

// SDPFingerprint returns the value of an SDP a=fingerprint line using
// SHA-256 (RFC 8122 Section 5).
func (c *Certificate) SDPFingerprint() (string, error) {
	fp, err := c.Fingerprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return "sha-256 " + fp, nil
}

// RemoteFingerprint is a peer certificate fingerprint learned from signaling.
type RemoteFingerprint struct {
	Hash  crypto.Hash
	Value string
}

// ParseRemoteFingerprint parses "<algorithm> <hex>", e.g.
// "sha-256 AB:CD:...". A bare value without an algorithm is taken as SHA-256.
func ParseRemoteFingerprint(s string) (RemoteFingerprint, error) {
	s = strings.TrimSpace(s)
	algo, value, found := strings.Cut(s, " ")
	if !found {
		algo, value = "sha-256", s
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return RemoteFingerprint{}, ErrInvalidFingerprint
	}
	hash, err := fingerprint.HashFromString(algo)
	if err != nil {
		return RemoteFingerprint{}, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	return RemoteFingerprint{Hash: hash, Value: value}, nil
}

// Verify checks a DER certificate against the fingerprint.
func (f RemoteFingerprint) Verify(der []byte) error {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("handshake: parse peer certificate: %w", err)
	}
	got, err := fingerprint.Fingerprint(cert, f.Hash)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, f.Value) {
		return ErrFingerprint
	}
	return nil
}
