package metrics

import (
	"github.com/marmos91/smbtran/pkg/session"
	"github.com/marmos91/smbtran/pkg/transport"
	"github.com/marmos91/smbtran/pkg/transport/nbt"
)

// The Prometheus constructors are registered by pkg/metrics/prometheus. The
// indirection keeps this package free of the implementation and avoids an
// import cycle.
var (
	newPrometheusTransportMetrics func() transport.Metrics
	newPrometheusResponderMetrics func() nbt.ResponderMetrics
	newPrometheusSessionMetrics   func() session.Metrics
)

// NewTransportMetrics returns a recorder for transport instances, or nil when
// metrics are disabled or no implementation is linked in.
//
//	metrics.InitRegistry()
//	opts := transport.Options{Metrics: metrics.NewTransportMetrics()}
func NewTransportMetrics() transport.Metrics {
	if !IsEnabled() || newPrometheusTransportMetrics == nil {
		return nil
	}
	return newPrometheusTransportMetrics()
}

// NewResponderMetrics returns a recorder for the NBT responder, or nil.
func NewResponderMetrics() nbt.ResponderMetrics {
	if !IsEnabled() || newPrometheusResponderMetrics == nil {
		return nil
	}
	return newPrometheusResponderMetrics()
}

// NewSessionMetrics returns a recorder for sessions, or nil.
func NewSessionMetrics() session.Metrics {
	if !IsEnabled() || newPrometheusSessionMetrics == nil {
		return nil
	}
	return newPrometheusSessionMetrics()
}

// RegisterTransportMetricsConstructor installs the transport recorder
// constructor. Called from pkg/metrics/prometheus during initialization.
func RegisterTransportMetricsConstructor(fn func() transport.Metrics) {
	newPrometheusTransportMetrics = fn
}

// RegisterResponderMetricsConstructor installs the responder recorder constructor.
func RegisterResponderMetricsConstructor(fn func() nbt.ResponderMetrics) {
	newPrometheusResponderMetrics = fn
}

// RegisterSessionMetricsConstructor installs the session recorder constructor.
func RegisterSessionMetricsConstructor(fn func() session.Metrics) {
	newPrometheusSessionMetrics = fn
}
