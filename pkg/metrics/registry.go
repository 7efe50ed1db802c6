// Package metrics holds the Prometheus registry and the constructors for the
// metrics recorders used by transports, the responder and sessions.
//
// Recorders are optional everywhere: until InitRegistry is called every
// constructor returns nil and instrumented code skips collection entirely.
//
// The Prometheus implementations live in pkg/metrics/prometheus and register
// themselves at init time, so binaries enable them with a blank import:
//
//	import _ "github.com/marmos91/smbtran/pkg/metrics/prometheus"
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	regMu    sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process registry with Go runtime and process
// collectors. Calling it again returns the existing registry.
func InitRegistry() *prometheus.Registry {
	regMu.Lock()
	defer regMu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	regMu.RLock()
	defer regMu.RUnlock()
	return registry != nil
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	regMu.RLock()
	defer regMu.RUnlock()
	return registry
}

// Reset drops the registry so metrics are disabled again. Tests use it to get
// a clean registry per case.
func Reset() {
	regMu.Lock()
	registry = nil
	regMu.Unlock()
}
