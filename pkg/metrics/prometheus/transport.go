// Package prometheus provides the Prometheus recorders for transports, the
// NBT responder and sessions. Importing it registers the constructors with
// pkg/metrics.
package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/smbtran/pkg/metrics"
	"github.com/marmos91/smbtran/pkg/transport"
)

func init() {
	metrics.RegisterTransportMetricsConstructor(NewTransportMetrics)
	metrics.RegisterResponderMetricsConstructor(NewResponderMetrics)
	metrics.RegisterSessionMetricsConstructor(NewSessionMetrics)
}

// Collectors are registered once per registry and shared by every recorder
// built from it, since transports are created per connection.
var (
	cacheMu sync.Mutex
	cache   = map[*prometheus.Registry]map[string]any{}
)

func shared[T any](reg *prometheus.Registry, name string, build func(promauto.Factory) T) T {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	byName := cache[reg]
	if byName == nil {
		byName = map[string]any{}
		cache[reg] = byName
	}
	if v, ok := byName[name]; ok {
		return v.(T)
	}
	v := build(promauto.With(reg))
	byName[name] = v
	return v
}

// transportMetrics is the Prometheus implementation of transport.Metrics.
type transportMetrics struct {
	stateChanges *prometheus.CounterVec
	frames       *prometheus.CounterVec
	frameBytes   *prometheus.HistogramVec
	opDuration   *prometheus.HistogramVec
	opErrors     *prometheus.CounterVec
	fatals       *prometheus.CounterVec
	connected    *prometheus.GaugeVec
}

// NewTransportMetrics returns the transport recorder for the process
// registry, or nil when metrics are disabled.
func NewTransportMetrics() transport.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return shared(metrics.GetRegistry(), "transport", newTransportMetrics)
}

func newTransportMetrics(f promauto.Factory) *transportMetrics {
	return &transportMetrics{
		stateChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbtran_transport_state_changes_total",
				Help: "Connection state transitions by family and target state",
			},
			[]string{"family", "from", "to"},
		),
		frames: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbtran_transport_frames_total",
				Help: "Complete frames transferred by family and direction",
			},
			[]string{"family", "direction"}, // "send", "receive"
		),
		frameBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "smbtran_transport_frame_bytes",
				Help: "Distribution of frame payload sizes",
				Buckets: []float64{
					0,       // keepalives
					64,      // negotiate/echo
					1024,    // small control messages
					4096,    // 4KB
					65536,   // 64KB - common READ/WRITE
					131071,  // RFC 1002 maximum
					1048576, // 1MB
					8388608, // 8MB
				},
			},
			[]string{"family", "direction"},
		),
		opDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "smbtran_transport_operation_duration_milliseconds",
				Help: "Duration of connect, send and receive operations in milliseconds",
				Buckets: []float64{
					0.1,   // 100us - loopback
					0.5,   // 500us
					1,     // 1ms
					5,     // 5ms - LAN
					25,    // 25ms
					100,   // 100ms - WAN
					500,   // 500ms
					2500,  // 2.5s
					10000, // 10s
					30000, // 30s - default timeout
				},
			},
			[]string{"family", "operation"},
		),
		opErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbtran_transport_operation_errors_total",
				Help: "Failed transport operations by error code",
			},
			[]string{"family", "operation", "code"},
		),
		fatals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbtran_transport_fatal_total",
				Help: "Transitions to the fatal state by error code",
			},
			[]string{"family", "code"},
		),
		connected: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smbtran_transport_connected",
				Help: "Transport instances currently in the connected state",
			},
			[]string{"family"},
		),
	}
}

func (m *transportMetrics) RecordStateChange(family transport.Family, from, to transport.State) {
	if m == nil {
		return
	}
	fam := family.String()
	m.stateChanges.WithLabelValues(fam, from.String(), to.String()).Inc()
	if to == transport.StateConnected {
		m.connected.WithLabelValues(fam).Inc()
	} else if from == transport.StateConnected {
		m.connected.WithLabelValues(fam).Dec()
	}
}

func (m *transportMetrics) RecordFrame(family transport.Family, direction string, bytes int) {
	if m == nil {
		return
	}
	fam := family.String()
	m.frames.WithLabelValues(fam, direction).Inc()
	m.frameBytes.WithLabelValues(fam, direction).Observe(float64(bytes))
}

func (m *transportMetrics) ObserveOperation(family transport.Family, op string, duration time.Duration, code transport.Code) {
	if m == nil {
		return
	}
	fam := family.String()
	m.opDuration.WithLabelValues(fam, op).Observe(float64(duration.Microseconds()) / 1000.0)
	if code != transport.CodeOK {
		m.opErrors.WithLabelValues(fam, op, code.String()).Inc()
	}
}

func (m *transportMetrics) RecordFatal(family transport.Family, code transport.Code) {
	if m == nil {
		return
	}
	m.fatals.WithLabelValues(family.String(), code.String()).Inc()
}
