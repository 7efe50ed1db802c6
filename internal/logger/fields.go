package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Use them consistently so transport, session and
// responder lines can be correlated in log aggregation.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Transport instance
	KeyFamily       = "family"        // transport family: nbtcp
	KeyVariant      = "variant"       // NBT header length layout
	KeyConnectionID = "connection_id" // per-instance identifier
	KeyRemoteAddr   = "remote_addr"
	KeyLocalAddr    = "local_addr"
	KeyState        = "state"
	KeyFromState    = "from_state"

	// Session
	KeySession  = "session"
	KeyAttempt  = "attempt"
	KeyQueue    = "queue"
	KeyWorker   = "worker"
	KeyPending  = "pending"
	KeyBackoff  = "backoff"
	KeyRequests = "requests"

	// Operation metadata
	KeyOperation  = "operation" // connect, send, receive
	KeyBytes      = "bytes"
	KeyDurationMs = "duration_ms"
	KeyTimeout    = "timeout"
	KeyError      = "error"
	KeyErrorCode  = "error_code"

	// Configuration
	KeyConfigFile = "config_file"
)

// Err returns an attr for an error, or an empty attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ConnectionID returns an attr for a transport instance identifier.
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// RemoteAddr returns an attr for the peer address.
func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// State returns an attr for a connection state name.
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// Operation returns an attr for an operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Bytes returns an attr for a payload size.
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

// DurationMs returns an attr with the time since start in milliseconds.
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}
