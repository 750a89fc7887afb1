package mux

import (
	"sync"
	"testing"
	"time"

	"github.com/backkem/mediarelay/pkg/handshake"
	"github.com/backkem/mediarelay/pkg/ice"
	"github.com/backkem/mediarelay/pkg/metrics"
	"github.com/backkem/mediarelay/pkg/session"
	"github.com/backkem/mediarelay/pkg/transport"
	"github.com/pion/stun/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var local = ice.Credentials{Ufrag: "Aufrag", Pwd: "pwd1pwd1pwd1pwd1pwd1pwd1"}

type sent struct {
	data []byte
	to   transport.Endpoint
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingSender) Send(data []byte, to transport.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{data: append([]byte(nil), data...), to: to})
	return nil
}

// stunResponses returns the STUN messages sent so far. DTLS records the
// session may emit are skipped.
func (r *recordingSender) stunResponses() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, s := range r.sent {
		if len(s.data) > 0 && s.data[0] <= 3 {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	mux      *Multiplexer
	registry *session.Registry
	sender   *recordingSender
	session  *session.Session
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cert, err := handshake.GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate() error = %v", err)
	}

	f := &fixture{
		registry: session.NewRegistry(0),
		sender:   &recordingSender{},
		metrics:  metrics.NewMetricsWithRegistry(prometheus.NewRegistry()),
	}
	f.session, err = session.NewSession(session.Config{
		LocalCredentials: local,
		Certificate:      cert,
		Sender:           f.sender,
		Registry:         f.registry,
		Metrics:          f.metrics,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { _ = f.session.Close() })

	f.mux, err = New(Config{Registry: f.registry, Sender: f.sender, Metrics: f.metrics})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func (f *fixture) dropped(reason string) float64 {
	return testutil.ToFloat64(f.metrics.DatagramsDropped.WithLabelValues(reason))
}

func check(t *testing.T, username string, key []byte) []byte {
	t.Helper()
	req := &ice.BindingRequest{
		Username:     username,
		Priority:     0x6E0001FF,
		Role:         ice.RoleControlling,
		TieBreaker:   42,
		UseCandidate: true,
	}
	copy(req.TransactionID[:], "txid-0123456")
	raw, err := req.Encode(key)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return raw
}

func mustEndpoint(t *testing.T, s string) transport.Endpoint {
	t.Helper()
	ep, err := transport.ParseEndpoint(s)
	if err != nil {
		t.Fatalf("ParseEndpoint(%q) error = %v", s, err)
	}
	return ep
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Sender: &recordingSender{}}); err != ErrNoRegistry {
		t.Errorf("New() error = %v, want %v", err, ErrNoRegistry)
	}
	if _, err := New(Config{Registry: session.NewRegistry(0)}); err != ErrNoSender {
		t.Errorf("New() error = %v, want %v", err, ErrNoSender)
	}
}

func TestBindingThenDTLS(t *testing.T) {
	f := newFixture(t)
	peer := mustEndpoint(t, "198.51.100.7:50000")

	f.mux.HandleDatagram(&transport.Datagram{Data: check(t, "Aufrag:Bufrag", local.Key()), Source: peer})

	responses := f.sender.stunResponses()
	if len(responses) != 1 {
		t.Fatalf("sent %d STUN responses, want 1", len(responses))
	}
	if responses[0].to != peer {
		t.Errorf("response sent to %v, want %v", responses[0].to, peer)
	}

	resp, err := ice.Decode(responses[0].data)
	if err != nil {
		t.Fatalf("Decode(response) error = %v", err)
	}
	if resp.Type != stun.BindingSuccess {
		t.Errorf("response type = %v, want %v", resp.Type, stun.BindingSuccess)
	}
	if string(resp.TransactionID[:]) != "txid-0123456" {
		t.Errorf("transaction ID = %q, want %q", resp.TransactionID[:], "txid-0123456")
	}
	if err := resp.CheckIntegrity(local.Key()); err != nil {
		t.Errorf("response CheckIntegrity() error = %v", err)
	}

	if got := f.registry.FindByEndpoint(peer); got != f.session {
		t.Fatalf("FindByEndpoint() = %v, want the session", got)
	}
	if got := f.session.RemoteEndpoint(); got != peer {
		t.Errorf("RemoteEndpoint() = %v, want %v", got, peer)
	}
	if got := f.session.State(); got != session.StateConnecting {
		t.Errorf("State() = %v, want Connecting", got)
	}

	// A DTLS record from the bound endpoint reaches the session.
	f.mux.HandleDatagram(&transport.Datagram{Data: []byte{22, 0xfe, 0xfd, 0, 0}, Source: peer})
	if got := f.dropped(dropUnbound); got != 0 {
		t.Errorf("unbound drops = %v, want 0", got)
	}
	if got := f.dropped(dropSessionRefused); got != 0 {
		t.Errorf("refused drops = %v, want 0", got)
	}

	// The same record from anywhere else is dropped.
	f.mux.HandleDatagram(&transport.Datagram{Data: []byte{22, 0xfe, 0xfd, 0, 0}, Source: mustEndpoint(t, "198.51.100.8:50000")})
	if got := f.dropped(dropUnbound); got != 1 {
		t.Errorf("unbound drops = %v, want 1", got)
	}
}

func TestBindingRejected(t *testing.T) {
	wrong := ice.Credentials{Ufrag: "Aufrag", Pwd: "wrongwrongwrongwrongwrong"}

	tests := []struct {
		name string
		raw  func(t *testing.T) []byte
	}{
		{"wrong password", func(t *testing.T) []byte { return check(t, "Aufrag:Bufrag", wrong.Key()) }},
		{"unknown ufrag", func(t *testing.T) []byte { return check(t, "Zufrag:Bufrag", local.Key()) }},
		{"no integrity", func(t *testing.T) []byte { return check(t, "Aufrag:Bufrag", nil) }},
		{"flipped bit", func(t *testing.T) []byte {
			raw := check(t, "Aufrag:Bufrag", local.Key())
			raw[len(raw)-20] ^= 0x01 // inside MESSAGE-INTEGRITY
			return raw
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			peer := mustEndpoint(t, "198.51.100.7:50000")

			f.mux.HandleDatagram(&transport.Datagram{Data: tt.raw(t), Source: peer})

			if got := len(f.sender.stunResponses()); got != 0 {
				t.Errorf("sent %d responses, want 0", got)
			}
			if f.registry.FindByEndpoint(peer) != nil {
				t.Error("endpoint bound after rejected check")
			}
			if got := f.session.State(); got != session.StateNew {
				t.Errorf("State() = %v, want New", got)
			}
			rejected := testutil.ToFloat64(f.metrics.BindingRequests.WithLabelValues("rejected"))
			if rejected != 1 {
				t.Errorf("rejected bindings = %v, want 1", rejected)
			}
		})
	}
}

func TestBindingRemoteUfragMismatch(t *testing.T) {
	f := newFixture(t)
	if err := f.session.SetRemoteCredentials(ice.Credentials{Ufrag: "Bufrag", Pwd: local.Pwd}); err != nil {
		t.Fatalf("SetRemoteCredentials() error = %v", err)
	}
	peer := mustEndpoint(t, "198.51.100.7:50000")

	f.mux.HandleDatagram(&transport.Datagram{Data: check(t, "Aufrag:Xufrag", local.Key()), Source: peer})
	if got := len(f.sender.stunResponses()); got != 0 {
		t.Fatalf("sent %d responses for mismatched remote ufrag, want 0", got)
	}

	f.mux.HandleDatagram(&transport.Datagram{Data: check(t, "Aufrag:Bufrag", local.Key()), Source: peer})
	if got := len(f.sender.stunResponses()); got != 1 {
		t.Fatalf("sent %d responses, want 1", got)
	}
}

func TestRebinding(t *testing.T) {
	f := newFixture(t)
	first := mustEndpoint(t, "198.51.100.7:50000")
	second := mustEndpoint(t, "198.51.100.7:50001")

	f.mux.HandleDatagram(&transport.Datagram{Data: check(t, "Aufrag:Bufrag", local.Key()), Source: first})
	f.mux.HandleDatagram(&transport.Datagram{Data: check(t, "Aufrag:Bufrag", local.Key()), Source: second})

	if got := f.registry.FindByEndpoint(second); got != f.session {
		t.Errorf("FindByEndpoint(second) = %v, want the session", got)
	}
	if got := f.session.RemoteEndpoint(); got != second {
		t.Errorf("RemoteEndpoint() = %v, want %v", got, second)
	}
	if got := len(f.sender.stunResponses()); got != 2 {
		t.Errorf("sent %d responses, want 2", got)
	}
}

func TestUnsupportedClassesDropped(t *testing.T) {
	f := newFixture(t)
	peer := mustEndpoint(t, "198.51.100.7:50000")

	for _, first := range []byte{16, 64, 100, 200} {
		f.mux.HandleDatagram(&transport.Datagram{Data: []byte{first, 0, 0, 0}, Source: peer})
	}
	f.mux.HandleDatagram(&transport.Datagram{Source: peer})

	if got := f.dropped(dropUnsupported); got != 5 {
		t.Errorf("unsupported drops = %v, want 5", got)
	}
	if got := len(f.sender.stunResponses()); got != 0 {
		t.Errorf("sent %d responses, want 0", got)
	}
}

func TestMalformedSTUNDropped(t *testing.T) {
	f := newFixture(t)
	peer := mustEndpoint(t, "198.51.100.7:50000")

	raw := check(t, "Aufrag:Bufrag", local.Key())
	raw[4] ^= 0xFF // magic cookie

	f.mux.HandleDatagram(&transport.Datagram{Data: raw, Source: peer})
	if got := f.dropped(dropStunMalformed); got != 1 {
		t.Errorf("malformed drops = %v, want 1", got)
	}
}

func TestSessionCloseUnbinds(t *testing.T) {
	f := newFixture(t)
	peer := mustEndpoint(t, "198.51.100.7:50000")
	f.mux.HandleDatagram(&transport.Datagram{Data: check(t, "Aufrag:Bufrag", local.Key()), Source: peer})

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f.mux.HandleDatagram(&transport.Datagram{Data: []byte{0x80, 96, 0, 1}, Source: peer})
	if got := f.dropped(dropUnbound); got != 1 {
		t.Errorf("unbound drops = %v, want 1", got)
	}

	f.mux.HandleDatagram(&transport.Datagram{Data: check(t, "Aufrag:Bufrag", local.Key()), Source: peer})
	if got := len(f.sender.stunResponses()); got != 1 {
		t.Errorf("sent %d responses, want 1 (none after close)", got)
	}

	select {
	case <-f.session.Done():
	case <-time.After(time.Second):
		t.Fatal("session not done")
	}
}
