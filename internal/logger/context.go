package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext holds the fields every log line of a session shares.
type LogContext struct {
	TraceID    string // OpenTelemetry trace ID
	SpanID     string // OpenTelemetry span ID
	Session    string // session name or identifier
	Family     string // transport family, e.g. nbtcp
	RemoteAddr string // peer host:port
	StartTime  time.Time
}

// WithContext returns a context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext retrieves the LogContext from ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// NewLogContext starts a LogContext for a session talking to remote.
func NewLogContext(session, family, remote string) *LogContext {
	return &LogContext{
		Session:    session,
		Family:     family,
		RemoteAddr: remote,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// WithRemote returns a copy pointing at a different peer, used after a
// reconnect picks another address.
func (lc *LogContext) WithRemote(remote string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.RemoteAddr = remote
	}
	return c
}

// DurationMs returns the time since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}
