package session

import (
	"time"

	"github.com/marmos91/smbtran/pkg/transport"
)

// Metrics records session-level events. A nil Metrics disables collection.
//
// The Prometheus implementation lives in pkg/metrics/prometheus.
type Metrics interface {
	// RecordConnectAttempt records one Connect call and its result code.
	RecordConnectAttempt(family transport.Family, code transport.Code)

	// RecordLost records a transport going fatal under the session.
	RecordLost(family transport.Family, code transport.Code)

	// RecordReconnect records the outcome of a background reconnect.
	RecordReconnect(family transport.Family, success bool)

	// ObserveRequest records the round trip of one request/reply exchange.
	ObserveRequest(family transport.Family, duration time.Duration, code transport.Code)
}
