// Package metrics defines the Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Zokiio/ovc-sub005/internal/codec"
)

// Metrics contains all Prometheus metrics for the voice relay.
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	InboundDropped   prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEvicted prometheus.Counter

	// Routing metrics
	FramesRelayed      prometheus.Counter
	UnknownSessionDrop prometheus.Counter
	RecipientsPerFrame prometheus.Histogram

	// Codec metrics
	FramesDecoded   prometheus.Counter
	FramesConcealed prometheus.Counter
	FramesRecovered prometheus.Counter
	FramesSilence   prometheus.Counter
	FramesStale     prometheus.Counter

	// Outbound metrics
	SendsDropped prometheus.Counter
	SendErrors   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics on the given registerer.
// Tests use this with a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_packets_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_packets_processed_total",
			Help: "Total number of datagrams successfully decoded and handled",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_parse_errors_total",
			Help: "Total number of malformed datagrams dropped",
		}),
		InboundDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_inbound_dropped_total",
			Help: "Total number of datagrams dropped because a worker queue was full",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of live client sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_evicted_total",
			Help: "Total number of sessions evicted by the idle sweep",
		}),

		FramesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_relayed_total",
			Help: "Total number of audio frames fanned out to recipients",
		}),
		UnknownSessionDrop: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_unknown_session_drops_total",
			Help: "Total number of audio frames dropped for lack of a session",
		}),
		RecipientsPerFrame: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_recipients_per_frame",
			Help:    "Number of recipients per relayed audio frame",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
		}),

		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_decoded_total",
			Help: "Total number of frames decoded normally",
		}),
		FramesConcealed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_concealed_total",
			Help: "Total number of frames synthesized by packet-loss concealment",
		}),
		FramesRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_fec_recovered_total",
			Help: "Total number of frames recovered from in-band FEC data",
		}),
		FramesSilence: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_silence_total",
			Help: "Total number of silence frames substituted for decoder failures",
		}),
		FramesStale: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_stale_total",
			Help: "Total number of duplicate or out-of-order frames dropped",
		}),

		SendsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sends_dropped_total",
			Help: "Total number of outbound datagrams dropped because the send queue was full",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_send_errors_total",
			Help: "Total number of outbound socket write errors",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordFrame counts one decoded frame by recovery kind.
func (m *Metrics) RecordFrame(kind codec.FrameKind) {
	switch kind {
	case codec.FrameDecoded:
		m.FramesDecoded.Inc()
	case codec.FrameConcealed:
		m.FramesConcealed.Inc()
	case codec.FrameRecovered:
		m.FramesRecovered.Inc()
	case codec.FrameSilence:
		m.FramesSilence.Inc()
	}
}

// RecordRelay counts one fanned-out frame and its recipient count.
func (m *Metrics) RecordRelay(recipients int) {
	m.FramesRelayed.Inc()
	m.RecipientsPerFrame.Observe(float64(recipients))
}

// RecordHTTPRequest records an HTTP request outcome.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
