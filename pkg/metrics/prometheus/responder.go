package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/smbtran/pkg/metrics"
	"github.com/marmos91/smbtran/pkg/transport/nbt"
)

// responderMetrics is the Prometheus implementation of nbt.ResponderMetrics.
type responderMetrics struct {
	accepted        prometheus.Counter
	closed          prometheus.Counter
	forceClosed     prometheus.Counter
	active          prometheus.Gauge
	sessionRequests *prometheus.CounterVec
	echoes          prometheus.Counter
	echoBytes       prometheus.Histogram
}

// NewResponderMetrics returns the responder recorder, or nil when metrics are
// disabled.
func NewResponderMetrics() nbt.ResponderMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return shared(metrics.GetRegistry(), "responder", newResponderMetrics)
}

func newResponderMetrics(f promauto.Factory) *responderMetrics {
	return &responderMetrics{
		accepted: f.NewCounter(prometheus.CounterOpts{
			Name: "smbtran_responder_connections_accepted_total",
			Help: "Connections accepted by the NBT responder",
		}),
		closed: f.NewCounter(prometheus.CounterOpts{
			Name: "smbtran_responder_connections_closed_total",
			Help: "Connections closed by the NBT responder",
		}),
		forceClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "smbtran_responder_connections_force_closed_total",
			Help: "Connections force-closed after the shutdown timeout",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "smbtran_responder_connections_active",
			Help: "Currently open responder sessions",
		}),
		sessionRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbtran_responder_session_requests_total",
				Help: "NetBIOS session requests by outcome",
			},
			[]string{"outcome"}, // "accepted", "refused"
		),
		echoes: f.NewCounter(prometheus.CounterOpts{
			Name: "smbtran_responder_replies_total",
			Help: "Session messages answered",
		}),
		echoBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "smbtran_responder_reply_bytes",
			Help:    "Distribution of reply payload sizes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 9), // 64B .. 4MB
		}),
	}
}

func (m *responderMetrics) RecordConnectionAccepted()    { m.accepted.Inc() }
func (m *responderMetrics) RecordConnectionClosed()      { m.closed.Inc() }
func (m *responderMetrics) RecordConnectionForceClosed() { m.forceClosed.Inc() }

func (m *responderMetrics) SetActiveConnections(count int32) {
	m.active.Set(float64(count))
}

func (m *responderMetrics) RecordSessionRequest(accepted bool) {
	outcome := "refused"
	if accepted {
		outcome = "accepted"
	}
	m.sessionRequests.WithLabelValues(outcome).Inc()
}

func (m *responderMetrics) RecordEcho(bytes int) {
	m.echoes.Inc()
	m.echoBytes.Observe(float64(bytes))
}
