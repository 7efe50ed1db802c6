package transport

import (
	"time"
)

// ParamTag identifies a transport parameter. Values are part of the
// descriptor contract and must not be renumbered.
type ParamTag int

const (
	ParamSendSize     ParamTag = 1 // read-only, int
	ParamReceiveSize  ParamTag = 2 // read-only, int
	ParamTimeout      ParamTag = 3 // read-write, time.Duration
	ParamNotifyHandle ParamTag = 4 // read-write, opaque
	ParamWakeCallback ParamTag = 5 // read-write, func(FatalEvent)
	ParamQoS          ParamTag = 6 // read-write, uint32
)

// String returns the tag name.
func (t ParamTag) String() string {
	switch t {
	case ParamSendSize:
		return "SendSize"
	case ParamReceiveSize:
		return "ReceiveSize"
	case ParamTimeout:
		return "Timeout"
	case ParamNotifyHandle:
		return "NotifyHandle"
	case ParamWakeCallback:
		return "WakeCallback"
	case ParamQoS:
		return "QoS"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is a defined tag.
func (t ParamTag) Valid() bool {
	return t >= ParamSendSize && t <= ParamQoS
}

// ReadOnly reports whether the tag may only be read.
func (t ParamTag) ReadOnly() bool {
	return t == ParamSendSize || t == ParamReceiveSize
}

// Param is a typed parameter value. The concrete type determines the tag.
type Param interface {
	Tag() ParamTag
}

// SendSize is the largest payload Send accepts.
type SendSize int

// ReceiveSize is the largest frame length Receive accepts.
type ReceiveSize int

// Timeout bounds Connect, Send and Receive. Zero disables the bound.
type Timeout time.Duration

// NotifyHandle is an opaque value handed back to the WakeCallback.
type NotifyHandle struct {
	Value any
}

// WakeCallback is invoked once when the instance enters Fatal.
type WakeCallback func(FatalEvent)

// QoS is a traffic-class tag passed to the underlying connection where supported.
type QoS uint32

func (SendSize) Tag() ParamTag     { return ParamSendSize }
func (ReceiveSize) Tag() ParamTag  { return ParamReceiveSize }
func (Timeout) Tag() ParamTag      { return ParamTimeout }
func (NotifyHandle) Tag() ParamTag { return ParamNotifyHandle }
func (WakeCallback) Tag() ParamTag { return ParamWakeCallback }
func (QoS) Tag() ParamTag          { return ParamQoS }

// ParamStore holds the tunable settings of one transport instance.
//
// ParamStore is not safe for concurrent use; the owning transport guards it
// with its instance lock.
type ParamStore struct {
	sendSize    int
	receiveSize int
	timeout     time.Duration
	notify      any
	wake        WakeCallback
	qos         uint32
}

// NewParamStore creates a store with the fixed buffer sizes and initial values.
func NewParamStore(sendSize, receiveSize int, timeout time.Duration, qos uint32) *ParamStore {
	return &ParamStore{
		sendSize:    sendSize,
		receiveSize: receiveSize,
		timeout:     timeout,
		qos:         qos,
	}
}

// Get returns the current value of tag.
func (s *ParamStore) Get(tag ParamTag) (Param, error) {
	switch tag {
	case ParamSendSize:
		return SendSize(s.sendSize), nil
	case ParamReceiveSize:
		return ReceiveSize(s.receiveSize), nil
	case ParamTimeout:
		return Timeout(s.timeout), nil
	case ParamNotifyHandle:
		return NotifyHandle{Value: s.notify}, nil
	case ParamWakeCallback:
		return s.wake, nil
	case ParamQoS:
		return QoS(s.qos), nil
	default:
		return nil, Errorf("getparam", CodeInvalidParameter, "unknown parameter tag %d", int(tag))
	}
}

// Set stores p. Read-only tags and invalid values are rejected and leave the
// stored value unchanged.
func (s *ParamStore) Set(p Param) error {
	if p == nil {
		return Errorf("setparam", CodeInvalidParameter, "nil parameter")
	}
	tag := p.Tag()
	if tag.ReadOnly() {
		return Errorf("setparam", CodeInvalidParameter, "parameter %s is read-only", tag)
	}

	switch v := p.(type) {
	case Timeout:
		if v < 0 {
			return Errorf("setparam", CodeInvalidParameter, "negative timeout %s", time.Duration(v))
		}
		s.timeout = time.Duration(v)
	case NotifyHandle:
		s.notify = v.Value
	case WakeCallback:
		s.wake = v
	case QoS:
		s.qos = uint32(v)
	default:
		return Errorf("setparam", CodeInvalidParameter, "unknown parameter tag %d", int(tag))
	}
	return nil
}

// SendSize returns the send size bound.
func (s *ParamStore) SendSize() int { return s.sendSize }

// ReceiveSize returns the receive size bound.
func (s *ParamStore) ReceiveSize() int { return s.receiveSize }

// Timeout returns the operation timeout.
func (s *ParamStore) Timeout() time.Duration { return s.timeout }

// QoS returns the traffic-class tag.
func (s *ParamStore) QoS() uint32 { return s.qos }

// Wake returns the registered callback and its notify handle.
func (s *ParamStore) Wake() (WakeCallback, any) { return s.wake, s.notify }
