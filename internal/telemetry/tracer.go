package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys. Generic network keys follow OpenTelemetry semantic
// conventions; transport-specific keys use the "smbtran." prefix.
const (
	AttrRemoteAddr = "network.peer.address"
	AttrLocalAddr  = "network.local.address"
	AttrFamily     = "smbtran.transport.family"
	AttrVariant    = "smbtran.nbt.variant"
	AttrConnID     = "smbtran.connection.id"
	AttrSession    = "smbtran.session"
	AttrBytes      = "smbtran.bytes"
	AttrState      = "smbtran.state"
	AttrErrorCode  = "smbtran.error.code"
	AttrAttempt    = "smbtran.attempt"
)

// Span names.
const (
	SpanTransportConnect = "transport.connect"
	SpanTransportSend    = "transport.send"
	SpanTransportReceive = "transport.receive"

	SpanSessionOpen      = "session.open"
	SpanSessionRequest   = "session.request"
	SpanSessionReconnect = "session.reconnect"
)

func Family(name string) attribute.KeyValue {
	return attribute.String(AttrFamily, name)
}

func Variant(name string) attribute.KeyValue {
	return attribute.String(AttrVariant, name)
}

func ConnectionID(id string) attribute.KeyValue {
	return attribute.String(AttrConnID, id)
}

func RemoteAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrRemoteAddr, addr)
}

func LocalAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrLocalAddr, addr)
}

func Session(name string) attribute.KeyValue {
	return attribute.String(AttrSession, name)
}

// Bytes is the payload size of a frame, excluding the session header.
func Bytes(n int) attribute.KeyValue {
	return attribute.Int(AttrBytes, n)
}

func State(s string) attribute.KeyValue {
	return attribute.String(AttrState, s)
}

func ErrorCode(code string) attribute.KeyValue {
	return attribute.String(AttrErrorCode, code)
}

func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}
