package transport

import (
	"errors"
	"fmt"
)

// Code classifies transport failures.
type Code uint8

const (
	// CodeOK means no error.
	CodeOK Code = iota

	// CodeInvalidState: operation not valid in the current state. Local.
	CodeInvalidState

	// CodeTimeout: operation exceeded the configured bound. Retryable.
	CodeTimeout

	// CodeFrameTooLarge: declared frame length exceeds ReceiveSize. Fatal.
	CodeFrameTooLarge

	// CodeConnectionReset: peer closed or reset the connection. Fatal.
	CodeConnectionReset

	// CodeConnectionRefused: peer refused the connection. Fatal.
	CodeConnectionRefused

	// CodeUnreachable: destination host or network unreachable. Fatal.
	CodeUnreachable

	// CodeInvalidParameter: unknown parameter tag, read-only write or bad value. Local.
	CodeInvalidParameter

	// CodeResourceExhausted: allocation or queue capacity failure. Local, retryable by caller.
	CodeResourceExhausted

	// CodeProtocol: malformed carrier stream. Fatal.
	CodeProtocol

	// CodeAborted: fatal transition forced by the session. Fatal.
	CodeAborted
)

// Sentinel errors, one per Code. *Error values match them with errors.Is.
var (
	ErrInvalidState      = errors.New("invalid connection state")
	ErrTimeout           = errors.New("operation timed out")
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrConnectionReset   = errors.New("connection reset")
	ErrConnectionRefused = errors.New("connection refused")
	ErrUnreachable       = errors.New("destination unreachable")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrProtocol          = errors.New("protocol error")
	ErrAborted           = errors.New("aborted")
)

var sentinels = map[Code]error{
	CodeInvalidState:      ErrInvalidState,
	CodeTimeout:           ErrTimeout,
	CodeFrameTooLarge:     ErrFrameTooLarge,
	CodeConnectionReset:   ErrConnectionReset,
	CodeConnectionRefused: ErrConnectionRefused,
	CodeUnreachable:       ErrUnreachable,
	CodeInvalidParameter:  ErrInvalidParameter,
	CodeResourceExhausted: ErrResourceExhausted,
	CodeProtocol:          ErrProtocol,
	CodeAborted:           ErrAborted,
}

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInvalidState:
		return "INVALID_STATE"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeFrameTooLarge:
		return "FRAME_TOO_LARGE"
	case CodeConnectionReset:
		return "CONNECTION_RESET"
	case CodeConnectionRefused:
		return "CONNECTION_REFUSED"
	case CodeUnreachable:
		return "UNREACHABLE"
	case CodeInvalidParameter:
		return "INVALID_PARAMETER"
	case CodeResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case CodeProtocol:
		return "PROTOCOL"
	case CodeAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("CODE(%d)", uint8(c))
	}
}

// IsFatal reports whether failures of this class must move the instance to Fatal.
func (c Code) IsFatal() bool {
	switch c {
	case CodeFrameTooLarge, CodeConnectionReset, CodeConnectionRefused,
		CodeUnreachable, CodeProtocol, CodeAborted:
		return true
	default:
		return false
	}
}

// Sentinel returns the sentinel error for c, or nil for CodeOK.
func (c Code) Sentinel() error {
	return sentinels[c]
}

// Error is a transport failure tagged with the operation and a Code.
//
// Error supports errors.Is against the sentinel for its Code as well as
// against anything in the wrapped cause chain.
type Error struct {
	Op   string
	Code Code
	Err  error
}

// NewError wraps err as a transport error of the given code.
func NewError(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// Errorf builds a transport error with a formatted cause.
func Errorf(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Code.Sentinel())
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Code.Sentinel(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of e.Code.
func (e *Error) Is(target error) bool {
	s := e.Code.Sentinel()
	return s != nil && target == s
}

// CodeOf extracts the Code of err.
//
// A nil error is CodeOK. Errors that carry no transport code (for example an
// arbitrary error passed to Fatal by the session) are reported as CodeAborted.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	for code, s := range sentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return CodeAborted
}

// IsRetryable reports whether the failed operation may be retried on the same
// instance without tearing the connection down.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeTimeout, CodeResourceExhausted:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err belongs to a fatal class.
func IsFatal(err error) bool {
	return CodeOf(err).IsFatal()
}
