package transport

import (
	"time"
)

// Metrics provides observability for transport instances.
//
// Implementations collect state transitions, frame throughput, operation
// latency and fatal events. Metrics are optional: a nil Metrics in Options
// disables collection with zero overhead.
//
// Example implementations:
//   - Prometheus metrics (pkg/metrics/prometheus)
//   - In-memory counters for testing
type Metrics interface {
	// RecordStateChange records a ConnectionState transition.
	RecordStateChange(family Family, from, to State)

	// RecordFrame records one frame of the given payload size.
	// direction is "send" or "receive".
	RecordFrame(family Family, direction string, bytes int)

	// ObserveOperation records the latency and outcome of a blocking operation.
	// op is "connect", "send" or "receive".
	ObserveOperation(family Family, op string, duration time.Duration, code Code)

	// RecordFatal records a transition into Fatal.
	RecordFatal(family Family, code Code)
}
