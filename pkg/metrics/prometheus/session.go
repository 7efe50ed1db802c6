package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/smbtran/pkg/metrics"
	"github.com/marmos91/smbtran/pkg/session"
	"github.com/marmos91/smbtran/pkg/transport"
)

// sessionMetrics is the Prometheus implementation of session.Metrics.
type sessionMetrics struct {
	connectAttempts *prometheus.CounterVec
	lost            *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewSessionMetrics returns the session recorder, or nil when metrics are
// disabled.
func NewSessionMetrics() session.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return shared(metrics.GetRegistry(), "session", newSessionMetrics)
}

func newSessionMetrics(f promauto.Factory) *sessionMetrics {
	return &sessionMetrics{
		connectAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbtran_session_connect_attempts_total",
				Help: "Connect attempts made by sessions, by result code",
			},
			[]string{"family", "code"},
		),
		lost: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbtran_session_lost_total",
				Help: "Sessions whose transport went fatal, by error code",
			},
			[]string{"family", "code"},
		),
		reconnects: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbtran_session_reconnects_total",
				Help: "Background reconnects by outcome",
			},
			[]string{"family", "outcome"},
		),
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbtran_session_requests_total",
				Help: "Request/reply exchanges by result code",
			},
			[]string{"family", "code"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smbtran_session_request_duration_milliseconds",
				Help:    "Round-trip time of request/reply exchanges in milliseconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 25, 100, 500, 2500, 10000},
			},
			[]string{"family"},
		),
	}
}

func (m *sessionMetrics) RecordConnectAttempt(family transport.Family, code transport.Code) {
	m.connectAttempts.WithLabelValues(family.String(), code.String()).Inc()
}

func (m *sessionMetrics) RecordLost(family transport.Family, code transport.Code) {
	m.lost.WithLabelValues(family.String(), code.String()).Inc()
}

func (m *sessionMetrics) RecordReconnect(family transport.Family, success bool) {
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	m.reconnects.WithLabelValues(family.String(), outcome).Inc()
}

func (m *sessionMetrics) ObserveRequest(family transport.Family, duration time.Duration, code transport.Code) {
	fam := family.String()
	m.requests.WithLabelValues(fam, code.String()).Inc()
	m.requestDuration.WithLabelValues(fam).Observe(float64(duration.Microseconds()) / 1000.0)
}
