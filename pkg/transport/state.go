package transport

// State is the connection state of a transport instance.
type State int32

const (
	// StateNew is an instance that has not allocated carrier resources yet.
	StateNew State = iota

	// StateCreated indicates carrier resources are allocated.
	StateCreated

	// StateBound indicates a local endpoint has been selected.
	StateBound

	// StateConnecting indicates connection establishment is in progress.
	StateConnecting

	// StateConnected indicates an established connection; data may flow.
	StateConnected

	// StateDisconnecting indicates an orderly teardown in progress.
	StateDisconnecting

	// StateDisconnected indicates the connection has been torn down.
	StateDisconnected

	// StateFatal is terminal. Only Done is valid afterwards.
	StateFatal
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateCreated:
		return "CREATED"
	case StateBound:
		return "BOUND"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// CanBind reports whether Bind is valid in this state.
func (s State) CanBind() bool {
	return s == StateCreated || s == StateBound
}

// CanConnect reports whether Connect is valid in this state.
func (s State) CanConnect() bool {
	return s == StateCreated || s == StateBound
}

// CanTransfer reports whether Send and Receive are valid in this state.
func (s State) CanTransfer() bool {
	return s == StateConnected
}

// IsTerminal reports whether the state can no longer change except through Done.
func (s State) IsTerminal() bool {
	return s == StateFatal
}

// CheckState returns an InvalidState error for op unless cur is one of allowed.
func CheckState(op string, cur State, allowed ...State) error {
	for _, s := range allowed {
		if cur == s {
			return nil
		}
	}
	return Errorf(op, CodeInvalidState, "%s not valid in state %s", op, cur)
}
