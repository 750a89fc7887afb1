// Package relay wires the media socket, multiplexer and session factory
// into one server, and exposes the operations the signaling layer needs.
package relay

import (
	"crypto"

	"github.com/backkem/mediarelay/pkg/handshake"
	"github.com/backkem/mediarelay/pkg/metrics"
	"github.com/pion/logging"
)

// Context is the process-wide state shared by every server and session.
// It is built once at startup and passed explicitly.
type Context struct {
	// Certificate is the DTLS identity presented to every peer.
	Certificate *handshake.Certificate

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// NewContext builds a Context. A self-signed certificate is generated when
// cert is nil.
func NewContext(cert *handshake.Certificate, loggerFactory logging.LoggerFactory, m *metrics.Metrics) (*Context, error) {
	if cert == nil {
		var err error
		cert, err = handshake.GenerateCertificate()
		if err != nil {
			return nil, err
		}
	}
	return &Context{
		Certificate:   cert,
		LoggerFactory: loggerFactory,
		Metrics:       m,
	}, nil
}

// LocalFingerprint returns the SHA-1 fingerprint of the certificate as
// colon-separated hex.
func (c *Context) LocalFingerprint() (string, error) {
	return c.Certificate.Fingerprint(crypto.SHA1)
}
