package nbt

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/smbtran/internal/logger"
	"github.com/marmos91/smbtran/internal/telemetry"
	"github.com/marmos91/smbtran/pkg/transport"
)

// Transport is a NetBIOS-over-TCP carrier instance.
//
// Locking:
//   - mu guards state, params, conn and in-flight operation tracking. It is
//     never held across blocking I/O, so TimeoutTick, Fatal and GetParam can
//     always run and abort a stalled operation by closing the connection.
//   - sendMu serialises whole frame writes, recvMu whole frame reads, so a
//     header is never separated from its payload on the wire.
//
// Lock order is sendMu/recvMu before mu.
type Transport struct {
	id      string
	opts    transport.Options
	nbt     Options
	metrics transport.Metrics

	mu            sync.Mutex
	state         transport.State
	params        *transport.ParamStore
	conn          net.Conn
	local         *net.TCPAddr
	remote        net.Addr
	lastErr       *transport.Error
	done          bool
	timeouts      int
	connectCancel context.CancelFunc
	connectStart  time.Time
	sendStart     time.Time
	recvStart     time.Time

	sendMu sync.Mutex

	recvMu sync.Mutex
	asm    frameAssembler
}

var _ transport.Transport = (*Transport)(nil)

// New creates an NBT transport in StateNew. Carrier options are read from
// opts.Carrier (nil, Options or *Options).
//
// SendSize and ReceiveSize are clamped to what the length variant can encode.
func New(opts transport.Options) (*Transport, error) {
	opts = opts.WithDefaults()
	nbtOpts, err := carrierOptions(opts)
	if err != nil {
		return nil, err
	}

	if limit := nbtOpts.Variant.MaxLength(); opts.SendSize > limit || opts.ReceiveSize > limit {
		logger.Debug("NBT sizes clamped to variant maximum",
			logger.KeyVariant, nbtOpts.Variant.String(),
			"max_length", limit,
			"send_size", opts.SendSize,
			"receive_size", opts.ReceiveSize)
		opts.SendSize = min(opts.SendSize, limit)
		opts.ReceiveSize = min(opts.ReceiveSize, limit)
	}

	return &Transport{
		id:      uuid.NewString(),
		opts:    opts,
		nbt:     nbtOpts,
		metrics: opts.Metrics,
		params:  transport.NewParamStore(opts.SendSize, opts.ReceiveSize, opts.Timeout, opts.QoS),
		asm:     frameAssembler{variant: nbtOpts.Variant},
	}, nil
}

// ID returns the connection identifier used in logs.
func (t *Transport) ID() string { return t.id }

// Variant returns the header length layout in use.
func (t *Transport) Variant() LengthVariant { return t.nbt.Variant }

// State returns a snapshot of the connection state.
func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastError returns the error that moved the instance to Fatal, if any.
func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastErr == nil {
		return nil
	}
	return t.lastErr
}

// RemoteAddr returns the peer address once connected.
func (t *Transport) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// LocalAddr returns the bound or connected local address.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn.LocalAddr()
	}
	if t.local == nil {
		return nil
	}
	return t.local
}

// Create allocates carrier resources.
func (t *Transport) Create() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := transport.CheckState("create", t.state, transport.StateNew); err != nil {
		return err
	}
	t.asm.reset()
	t.setStateLocked(transport.StateCreated)
	return nil
}

// Bind selects the local endpoint for Connect.
func (t *Transport) Bind(local net.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := transport.CheckState("bind", t.state, transport.StateCreated, transport.StateBound); err != nil {
		return err
	}

	tcp, err := tcpAddr(local)
	if err != nil {
		return transport.NewError("bind", transport.CodeInvalidParameter, err)
	}
	t.local = tcp
	t.setStateLocked(transport.StateBound)
	return nil
}

// Connect dials remote and, when a called name is configured, performs the
// NetBIOS session request exchange.
func (t *Transport) Connect(ctx context.Context, remote net.Addr) error {
	raddr, err := tcpAddr(remote)
	if err != nil || raddr == nil {
		if err == nil {
			err = errNilAddr
		}
		return transport.NewError("connect", transport.CodeInvalidParameter, err)
	}

	t.mu.Lock()
	if err := transport.CheckState("connect", t.state, transport.StateCreated, transport.StateBound); err != nil {
		t.mu.Unlock()
		return err
	}
	prev := t.state
	local := t.local
	timeout := t.params.Timeout()
	qos := t.params.QoS()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	t.connectCancel = cancel
	t.connectStart = time.Now()
	t.setStateLocked(transport.StateConnecting)
	t.mu.Unlock()
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanTransportConnect,
		trace.WithAttributes(
			telemetry.Family(transport.FamilyNBTCP.String()),
			telemetry.ConnectionID(t.id),
			telemetry.RemoteAddr(raddr.String()),
		))
	defer span.End()

	start := time.Now()
	conn, err := t.dial(ctx, raddr, local, qos)

	t.mu.Lock()
	t.connectStart = time.Time{}
	t.connectCancel = nil

	if t.state != transport.StateConnecting {
		// Fatal, Disconnect or Done ran while dialing.
		rerr := t.raceErrLocked("connect")
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		t.observe("connect", start, rerr)
		return rerr
	}

	if err != nil {
		terr := classifyDial("connect", err)
		telemetry.RecordError(ctx, terr)
		t.observe("connect", start, terr)
		if terr.Code.IsFatal() {
			return t.fatalLocked(terr)
		}
		t.setStateLocked(prev)
		t.mu.Unlock()
		logger.DebugCtx(ctx, "NBT connect attempt failed",
			logger.KeyConnectionID, t.id,
			logger.KeyRemoteAddr, raddr.String(),
			logger.KeyErrorCode, terr.Code.String(),
			logger.KeyError, terr)
		return terr
	}

	t.conn = conn
	t.remote = conn.RemoteAddr()
	t.timeouts = 0
	t.setStateLocked(transport.StateConnected)
	t.mu.Unlock()

	t.observe("connect", start, nil)
	logger.DebugCtx(ctx, "NBT connected",
		logger.KeyConnectionID, t.id,
		logger.KeyRemoteAddr, conn.RemoteAddr().String(),
		logger.KeyLocalAddr, conn.LocalAddr().String(),
		logger.KeyDurationMs, logger.Duration(start))
	return nil
}

// Disconnect closes the connection in order. It is a no-op from Disconnected
// and Fatal.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	switch t.state {
	case transport.StateDisconnected, transport.StateDisconnecting, transport.StateFatal:
		t.mu.Unlock()
		return nil
	case transport.StateNew:
		t.mu.Unlock()
		return transport.Errorf("disconnect", transport.CodeInvalidState, "disconnect not valid in state %s", transport.StateNew)
	case transport.StateCreated, transport.StateBound:
		t.setStateLocked(transport.StateDisconnected)
		t.mu.Unlock()
		return nil
	case transport.StateConnecting:
		if t.connectCancel != nil {
			t.connectCancel()
		}
		t.setStateLocked(transport.StateDisconnected)
		t.mu.Unlock()
		return nil
	}

	t.setStateLocked(transport.StateDisconnecting)
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.CloseWrite()
		}
		if err := conn.Close(); err != nil {
			logger.Debug("NBT close error", logger.KeyConnectionID, t.id, logger.KeyError, err)
		}
	}

	t.mu.Lock()
	if t.state == transport.StateDisconnecting {
		t.setStateLocked(transport.StateDisconnected)
	}
	t.mu.Unlock()

	logger.Debug("NBT disconnected", logger.KeyConnectionID, t.id)
	return nil
}

// Done releases the instance. It may be called from any state, any number of
// times.
func (t *Transport) Done() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	conn := t.conn
	t.conn = nil
	cancel := t.connectCancel
	t.connectCancel = nil
	if t.state != transport.StateFatal && t.state != transport.StateDisconnected {
		t.setStateLocked(transport.StateDisconnected)
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

// GetParam returns the value stored for tag.
func (t *Transport) GetParam(tag transport.ParamTag) (transport.Param, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params.Get(tag)
}

// SetParam stores p. A QoS change is applied to an open connection at once.
// Parameters are frozen once the instance is Fatal or released.
func (t *Transport) SetParam(p transport.Param) error {
	t.mu.Lock()
	if t.done || t.state == transport.StateFatal {
		state := t.state
		t.mu.Unlock()
		return transport.Errorf("set param", transport.CodeInvalidState, "set param not valid in state %s", state)
	}
	if err := t.params.Set(p); err != nil {
		t.mu.Unlock()
		return err
	}
	conn := t.conn
	t.mu.Unlock()

	if q, ok := p.(transport.QoS); ok && conn != nil {
		applyConnQoS(conn, uint32(q))
	}
	return nil
}

// TimeoutTick escalates an operation that has been in flight longer than
// Timeout plus the stall grace to Fatal. It is a no-op while Timeout is zero.
func (t *Transport) TimeoutTick() {
	t.mu.Lock()
	timeout := t.params.Timeout()
	if t.state == transport.StateFatal || t.done || timeout <= 0 {
		t.mu.Unlock()
		return
	}

	limit := timeout + t.opts.StallGrace
	now := time.Now()
	for _, op := range []struct {
		name  string
		start time.Time
	}{
		{"connect", t.connectStart},
		{"send", t.sendStart},
		{"receive", t.recvStart},
	} {
		if op.start.IsZero() {
			continue
		}
		if stalled := now.Sub(op.start); stalled > limit {
			_ = t.fatalLocked(transport.Errorf(op.name, transport.CodeTimeout,
				"stalled for %s (limit %s)", stalled.Round(time.Millisecond), limit))
			return
		}
	}
	t.mu.Unlock()
}

// Fatal forces the instance into Fatal. Calling it on an instance that is
// already Fatal does nothing and reports success. Calling it after Done fails
// with InvalidState.
func (t *Transport) Fatal(err error) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return transport.Errorf("fatal", transport.CodeInvalidState, "instance released")
	}
	if t.state == transport.StateFatal {
		t.mu.Unlock()
		return nil
	}

	terr := asTransportError("fatal", err)
	_ = t.fatalLocked(terr)
	return nil
}

// fatalLocked moves the instance to Fatal, releases the connection and runs
// the wake callback. It must be called with t.mu held and returns with it
// released. It returns err for convenience.
func (t *Transport) fatalLocked(err *transport.Error) error {
	from := t.state
	t.setStateLocked(transport.StateFatal)
	t.lastErr = err
	conn := t.conn
	t.conn = nil
	cancel := t.connectCancel
	t.connectCancel = nil
	t.connectStart, t.sendStart, t.recvStart = time.Time{}, time.Time{}, time.Time{}
	wake, handle := t.params.Wake()
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	if t.metrics != nil {
		t.metrics.RecordFatal(transport.FamilyNBTCP, err.Code)
	}
	logger.Warn("NBT transport fatal",
		logger.KeyConnectionID, t.id,
		logger.KeyFromState, from.String(),
		logger.KeyErrorCode, err.Code.String(),
		logger.KeyError, err)

	if wake != nil {
		wake(transport.FatalEvent{Code: err.Code, Err: err, Handle: handle})
	}
	return err
}

// setStateLocked records a transition. Caller holds t.mu.
func (t *Transport) setStateLocked(to transport.State) {
	from := t.state
	if from == to {
		return
	}
	t.state = to
	if t.metrics != nil {
		t.metrics.RecordStateChange(transport.FamilyNBTCP, from, to)
	}
	logger.Debug("NBT state change",
		logger.KeyConnectionID, t.id,
		logger.KeyFromState, from.String(),
		logger.KeyState, to.String())
}

// raceErrLocked is returned by an operation whose instance changed state
// underneath it. Caller holds t.mu.
func (t *Transport) raceErrLocked(op string) error {
	if t.state == transport.StateFatal && t.lastErr != nil {
		return t.lastErr
	}
	return transport.Errorf(op, transport.CodeInvalidState, "%s interrupted, state is now %s", op, t.state)
}

func (t *Transport) observe(op string, start time.Time, err error) {
	if t.metrics != nil {
		t.metrics.ObserveOperation(transport.FamilyNBTCP, op, time.Since(start), transport.CodeOf(err))
	}
}
