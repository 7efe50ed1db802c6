package transport

import (
	"context"
	"net"
	"time"
)

// Family identifies a carrier kind. The numeric values are stable and
// appear in configuration and metrics.
type Family uint8

const (
	// FamilyNBTCP is NetBIOS session service over TCP.
	FamilyNBTCP Family = 1
)

// String returns the short carrier name used in logs, metrics and config.
func (f Family) String() string {
	switch f {
	case FamilyNBTCP:
		return "nbtcp"
	default:
		return "unknown"
	}
}

// ParseFamily converts a carrier name back to its Family.
func ParseFamily(name string) (Family, error) {
	switch name {
	case "nbtcp", "nbt":
		return FamilyNBTCP, nil
	default:
		return 0, Errorf("parse family", CodeInvalidParameter, "unknown transport family %q", name)
	}
}

// FatalEvent is delivered to the WakeCallback when an instance enters Fatal.
type FatalEvent struct {
	// Code classifies the failure.
	Code Code

	// Err is the error that caused the transition.
	Err error

	// Handle is the NotifyHandle registered at the time of the transition.
	Handle any
}

// Transport is one connection over a concrete carrier, owned by exactly one
// session.
//
// All operations are safe to call from multiple goroutines: Send and Receive
// may run concurrently with each other, and TimeoutTick, Fatal, GetParam and
// State never wait for blocking I/O to finish.
type Transport interface {
	// Create allocates carrier resources. StateNew -> StateCreated.
	Create() error

	// Done releases everything. Valid from any state and idempotent.
	Done() error

	// Bind sets the local endpoint used by Connect. Valid from Created or Bound.
	Bind(local net.Addr) error

	// Connect establishes the carrier connection. Valid from Created or Bound.
	//
	// Success moves to Connected. Unrecoverable failures (refused, unreachable)
	// move to Fatal. Retryable failures (Timeout) leave the previous state.
	Connect(ctx context.Context, remote net.Addr) error

	// Disconnect tears the connection down in order. It is a no-op success
	// from Disconnected or Fatal.
	Disconnect() error

	// Send writes msg as one frame and consumes it. Valid only in Connected.
	Send(ctx context.Context, msg *Message) error

	// Receive returns the next complete frame. Valid only in Connected.
	Receive(ctx context.Context) (*Message, error)

	// TimeoutTick checks for stalled operations and escalates them to Fatal.
	TimeoutTick()

	// GetParam returns the value stored for tag.
	GetParam(tag ParamTag) (Param, error)

	// SetParam stores p. Read-only and unknown tags fail with InvalidParameter.
	SetParam(p Param) error

	// Fatal moves the instance to Fatal, releases the connection and invokes
	// the wake callback once. Calling it on an already fatal instance is a
	// no-op.
	Fatal(err error) error

	// State returns a snapshot of the connection state.
	State() State
}

// Default option values.
const (
	DefaultSendSize               = 1 << 20
	DefaultReceiveSize            = 1 << 20
	DefaultTimeout                = 30 * time.Second
	DefaultMaxConsecutiveTimeouts = 3
)

// Options configures a new transport instance.
type Options struct {
	// SendSize bounds outbound payloads. Fixed for the instance lifetime.
	SendSize int

	// ReceiveSize bounds inbound frame lengths. Fixed for the instance lifetime.
	ReceiveSize int

	// Timeout bounds Connect, Send and Receive. Zero disables the bound.
	Timeout time.Duration

	// QoS is the initial traffic-class tag.
	QoS uint32

	// MaxConsecutiveTimeouts escalates to Fatal after this many timeouts in a
	// row. Zero disables escalation by count.
	MaxConsecutiveTimeouts int

	// StallGrace is added to Timeout before TimeoutTick treats an in-flight
	// operation as stalled. Zero means "equal to Timeout".
	StallGrace time.Duration

	// Metrics collects instance metrics. Nil disables collection.
	Metrics Metrics

	// Carrier holds carrier-specific options, interpreted by the factory.
	Carrier any
}

// WithDefaults returns a copy of o with unset sizes filled in.
//
// Zero keeps its documented meaning for the other fields: a zero Timeout is
// unbounded and a zero MaxConsecutiveTimeouts disables escalation by count.
// Only a negative Timeout takes DefaultTimeout. Start from DefaultOptions to
// get every default.
func (o Options) WithDefaults() Options {
	if o.SendSize <= 0 {
		o.SendSize = DefaultSendSize
	}
	if o.ReceiveSize <= 0 {
		o.ReceiveSize = DefaultReceiveSize
	}
	if o.Timeout < 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxConsecutiveTimeouts < 0 {
		o.MaxConsecutiveTimeouts = 0
	}
	if o.StallGrace <= 0 {
		o.StallGrace = o.Timeout
	}
	return o
}

// DefaultOptions returns options with every field at its default.
func DefaultOptions() Options {
	return Options{
		SendSize:               DefaultSendSize,
		ReceiveSize:            DefaultReceiveSize,
		Timeout:                DefaultTimeout,
		MaxConsecutiveTimeouts: DefaultMaxConsecutiveTimeouts,
		StallGrace:             DefaultTimeout,
	}
}

// Factory builds a transport instance in StateNew.
type Factory func(opts Options) (Transport, error)

// Descriptor identifies a carrier kind and how to instantiate it.
// Descriptors are immutable once registered.
type Descriptor struct {
	Family Family
	Name   string
	New    Factory
}
