// Package metrics provides Prometheus metrics for the media relay.
//
// All Record methods are safe on a nil *Metrics, so components can take an
// optional instance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "media_relay"

// Handshake outcome labels.
const (
	OutcomeConnected = "connected"
	OutcomeFailed    = "failed"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Socket metrics
	DatagramsReceived *prometheus.CounterVec
	DatagramsDropped  *prometheus.CounterVec
	DatagramsSent     *prometheus.CounterVec

	// ICE metrics
	BindingRequests *prometheus.CounterVec

	// DTLS metrics
	Handshakes       *prometheus.CounterVec
	HandshakeLatency prometheus.Histogram

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsClosed *prometheus.CounterVec
	SendQueueFull  prometheus.Counter

	// SRTP metrics
	SRTPFailures    *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Datagrams read from the media socket by first-byte class",
		}, []string{"class"}),
		DatagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams dropped by reason",
		}, []string{"reason"}),
		DatagramsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_sent_total",
			Help:      "Datagrams written to the media socket by type",
		}, []string{"type"}),

		BindingRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stun_binding_requests_total",
			Help:      "STUN binding requests by result",
		}, []string{"result"}),

		Handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dtls_handshakes_total",
			Help:      "Completed DTLS handshakes by outcome",
		}, []string{"outcome"}),
		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dtls_handshake_latency_seconds",
			Help:      "Histogram of DTLS handshake duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions",
		}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions closed by reason",
		}, []string{"reason"}),
		SendQueueFull: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_queue_full_total",
			Help:      "RTP batches rejected because the send queue was full",
		}),

		SRTPFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "srtp_unprotect_failures_total",
			Help:      "SRTP/SRTCP packets rejected by authentication, replay or length checks",
		}, []string{"kind"}),
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Media packets accepted after unprotect",
		}, []string{"kind"}),
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Media packets protected and sent",
		}, []string{"kind"}),
	}
}

// RecordDatagram records an inbound datagram of the given class.
func (m *Metrics) RecordDatagram(class string) {
	if m == nil {
		return
	}
	m.DatagramsReceived.WithLabelValues(class).Inc()
}

// RecordDrop records a dropped datagram.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.DatagramsDropped.WithLabelValues(reason).Inc()
}

// RecordSent records an outbound datagram.
func (m *Metrics) RecordSent(kind string) {
	if m == nil {
		return
	}
	m.DatagramsSent.WithLabelValues(kind).Inc()
}

// RecordBinding records a processed binding request.
func (m *Metrics) RecordBinding(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "rejected"
	}
	m.BindingRequests.WithLabelValues(result).Inc()
}

// RecordHandshake records a terminal handshake outcome.
func (m *Metrics) RecordHandshake(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(outcome).Inc()
	if outcome == OutcomeConnected {
		m.HandshakeLatency.Observe(latencySeconds)
	}
}

// RecordSessionOpen records a session being created.
func (m *Metrics) RecordSessionOpen() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionClose records a session being torn down.
func (m *Metrics) RecordSessionClose(reason string) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsClosed.WithLabelValues(reason).Inc()
}

// RecordQueueFull records a rejected send batch.
func (m *Metrics) RecordQueueFull() {
	if m == nil {
		return
	}
	m.SendQueueFull.Inc()
}

// RecordSRTPFailure records a packet that failed unprotect.
func (m *Metrics) RecordSRTPFailure(kind string) {
	if m == nil {
		return
	}
	m.SRTPFailures.WithLabelValues(kind).Inc()
}

// RecordPacketReceived records an accepted media packet.
func (m *Metrics) RecordPacketReceived(kind string) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(kind).Inc()
}

// RecordPacketSent records a protected and sent media packet.
func (m *Metrics) RecordPacketSent(kind string) {
	if m == nil {
		return
	}
	m.PacketsSent.WithLabelValues(kind).Inc()
}
