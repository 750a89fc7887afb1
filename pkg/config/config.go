// Package config loads the media relay configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/backkem/mediarelay/pkg/handshake"
	"github.com/backkem/mediarelay/pkg/protection"
	"github.com/backkem/mediarelay/pkg/rtcpstats"
	"github.com/backkem/mediarelay/pkg/session"
	"github.com/backkem/mediarelay/pkg/transport"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// Config is the complete relay configuration.
type Config struct {
	Listen           string            `yaml:"listen"`            // media socket address
	CandidateAddress string            `yaml:"candidate_address"` // advertised ip:port, optional
	LogLevel         string            `yaml:"log_level"`         // error, warn, info, debug, trace
	MetricsListen    string            `yaml:"metrics_listen"`    // empty disables /metrics
	MaxSessions      int               `yaml:"max_sessions"`
	Certificate      CertificateConfig `yaml:"certificate"`
	Session          SessionConfig     `yaml:"session"`
}

// CertificateConfig selects the DTLS identity. Both empty means a fresh
// self-signed certificate per process.
type CertificateConfig struct {
	Cert string `yaml:"cert"` // PEM certificate file
	Key  string `yaml:"key"`  // PEM private key file
}

// SessionConfig holds per-session tunables.
type SessionConfig struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	FlightInterval   time.Duration `yaml:"flight_interval"`
	ReplayWindow     uint          `yaml:"replay_window"`
	SendQueueSize    int           `yaml:"send_queue_size"`
	RTCPInterval     time.Duration `yaml:"rtcp_interval"`
	ClockRate        uint32        `yaml:"clock_rate"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Listen:        fmt.Sprintf(":%d", transport.DefaultPort),
		LogLevel:      "info",
		MetricsListen: ":9090",
		MaxSessions:   session.DefaultMaxSessions,
		Session: SessionConfig{
			IdleTimeout:      session.DefaultIdleTimeout,
			HandshakeTimeout: handshake.DefaultHandshakeTimeout,
			FlightInterval:   handshake.DefaultFlightInterval,
			ReplayWindow:     protection.DefaultReplayWindow,
			SendQueueSize:    session.DefaultSendQueueSize,
			RTCPInterval:     session.DefaultRTCPInterval,
			ClockRate:        rtcpstats.DefaultClockRate,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envVarRegex matches ${VAR}, ${VAR:-default} or $VAR.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if varName, def, ok := strings.Cut(name, ":-"); ok {
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return def
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Listen == "" {
		errs = append(errs, "listen is required")
	}
	if c.CandidateAddress != "" {
		if _, err := transport.ParseEndpoint(c.CandidateAddress); err != nil {
			errs = append(errs, fmt.Sprintf("invalid candidate_address: %s", c.CandidateAddress))
		}
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be error, warn, info, debug or trace)", c.LogLevel))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, "max_sessions must be positive")
	}
	if (c.Certificate.Cert == "") != (c.Certificate.Key == "") {
		errs = append(errs, "certificate.cert and certificate.key must be set together")
	}
	if !c.Session.Params().Validate() {
		errs = append(errs, "session parameters out of range")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

// PionLogLevel maps LogLevel to a pion/logging level.
func (c *Config) PionLogLevel() logging.LogLevel {
	if lvl, ok := logLevels[c.LogLevel]; ok {
		return lvl
	}
	return logging.LogLevelInfo
}

// CandidateEndpoint returns the advertised endpoint, or the zero Endpoint.
func (c *Config) CandidateEndpoint() transport.Endpoint {
	ep, _ := transport.ParseEndpoint(c.CandidateAddress)
	return ep
}

// Params converts the section into session parameters.
func (s SessionConfig) Params() session.Params {
	return session.Params{
		IdleTimeout:      s.IdleTimeout,
		HandshakeTimeout: s.HandshakeTimeout,
		FlightInterval:   s.FlightInterval,
		ReplayWindow:     s.ReplayWindow,
		SendQueueSize:    s.SendQueueSize,
		RTCPInterval:     s.RTCPInterval,
		ClockRate:        s.ClockRate,
	}
}

// LoadCertificate returns the configured certificate, or a generated one
// when no files are set.
func (c CertificateConfig) LoadCertificate() (*handshake.Certificate, error) {
	if c.Cert == "" {
		return handshake.GenerateCertificate()
	}
	return handshake.LoadCertificate(c.Cert, c.Key)
}
