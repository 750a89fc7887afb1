package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/mediarelay/pkg/session"
	"github.com/pion/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Listen != ":8443" {
		t.Errorf("Listen = %s, want :8443", cfg.Listen)
	}
	if cfg.Session.IdleTimeout != 30*time.Second {
		t.Errorf("Session.IdleTimeout = %v, want 30s", cfg.Session.IdleTimeout)
	}
	if cfg.Session.HandshakeTimeout != 30*time.Second {
		t.Errorf("Session.HandshakeTimeout = %v, want 30s", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.ReplayWindow != 4096 {
		t.Errorf("Session.ReplayWindow = %d, want 4096", cfg.Session.ReplayWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
listen: "0.0.0.0:10000"
candidate_address: "203.0.113.5:10000"
log_level: debug
metrics_listen: ""
max_sessions: 64
session:
  idle_timeout: 10s
  handshake_timeout: 5s
  replay_window: 1024
  send_queue_size: 128
  rtcp_interval: 500ms
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Listen != "0.0.0.0:10000" {
		t.Errorf("Listen = %s, want 0.0.0.0:10000", cfg.Listen)
	}
	if got := cfg.CandidateEndpoint().String(); got != "203.0.113.5:10000" {
		t.Errorf("CandidateEndpoint() = %s, want 203.0.113.5:10000", got)
	}
	if cfg.PionLogLevel() != logging.LogLevelDebug {
		t.Errorf("PionLogLevel() = %v, want debug", cfg.PionLogLevel())
	}
	if cfg.MetricsListen != "" {
		t.Errorf("MetricsListen = %q, want empty", cfg.MetricsListen)
	}

	p := cfg.Session.Params()
	want := session.Params{
		IdleTimeout:      10 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		FlightInterval:   time.Second,
		ReplayWindow:     1024,
		SendQueueSize:    128,
		RTCPInterval:     500 * time.Millisecond,
		ClockRate:        90000,
	}
	if p != want {
		t.Errorf("Params() = %+v, want %+v", p, want)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("listen: [\n"))
	if err == nil {
		t.Error("Parse() should fail for invalid YAML")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantError string
	}{
		{"invalid log level", "log_level: loud\n", "invalid log_level"},
		{"empty listen", "listen: \"\"\n", "listen is required"},
		{"bad candidate", "candidate_address: nowhere\n", "invalid candidate_address"},
		{"zero sessions", "max_sessions: 0\n", "max_sessions"},
		{"cert without key", "certificate:\n  cert: a.pem\n", "set together"},
		{"negative queue", "session:\n  send_queue_size: -1\n", "session parameters"},
		{"huge idle", "session:\n  idle_timeout: 48h\n", "session parameters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.wantError)
			}
		})
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("RELAY_TEST_PORT", "12000")

	cfg, err := Parse([]byte("listen: \":${RELAY_TEST_PORT}\"\nlog_level: ${RELAY_TEST_LEVEL:-warn}\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Listen != ":12000" {
		t.Errorf("Listen = %s, want :12000", cfg.Listen)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %s, want warn", cfg.LogLevel)
	}
}

func TestLoad(t *testing.T) {
	if _, err := Load("/nonexistent/path/relay.yaml"); err == nil {
		t.Error("Load() should fail for nonexistent file")
	}

	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("log_level: trace\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "trace" {
		t.Errorf("LogLevel = %s, want trace", cfg.LogLevel)
	}
}

func TestCertificateConfig(t *testing.T) {
	cert, err := CertificateConfig{}.LoadCertificate()
	if err != nil {
		t.Fatalf("LoadCertificate() error = %v", err)
	}
	if _, err := cert.SDPFingerprint(); err != nil {
		t.Errorf("SDPFingerprint() error = %v", err)
	}

	if _, err := (CertificateConfig{Cert: "/nonexistent.pem", Key: "/nonexistent.key"}).LoadCertificate(); err == nil {
		t.Error("LoadCertificate() should fail for missing files")
	}
}
