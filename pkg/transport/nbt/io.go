package nbt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/smbtran/internal/logger"
	"github.com/marmos91/smbtran/internal/telemetry"
	"github.com/marmos91/smbtran/pkg/bufpool"
	"github.com/marmos91/smbtran/pkg/transport"
)

var errNilAddr = errors.New("nil address")

// aLongTimeAgo is a deadline in the past, used to abort blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Send writes msg as one session message frame and consumes it.
func (t *Transport) Send(ctx context.Context, msg *transport.Message) error {
	if msg == nil {
		return transport.Errorf("send", transport.CodeInvalidParameter, "nil message")
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	if err := transport.CheckState("send", t.state, transport.StateConnected); err != nil {
		t.mu.Unlock()
		return err
	}
	if size, limit := msg.Len(), t.params.SendSize(); size > limit {
		t.mu.Unlock()
		return transport.Errorf("send", transport.CodeInvalidParameter,
			"payload of %d bytes exceeds send size %d", size, limit)
	}
	conn := t.conn
	timeout := t.params.Timeout()
	start := time.Now()
	t.sendStart = start
	t.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanTransportSend,
		trace.WithAttributes(telemetry.ConnectionID(t.id), telemetry.Bytes(msg.Len())))
	defer span.End()

	payload := msg.Bytes()
	frame := bufpool.GetFrame(len(payload))
	defer bufpool.Put(frame)
	if err := t.nbt.Variant.PutHeader(frame, Header{Type: PacketSessionMessage, Length: uint32(len(payload))}); err != nil {
		msg.Release()
		return t.finishOp(ctx, "send", start, 0, false, transport.NewError("send", transport.CodeInvalidParameter, err))
	}
	copy(frame[HeaderSize:], payload)
	msg.Release()

	stop := armDeadline(ctx, timeout, conn.SetWriteDeadline)
	n, err := writeFull(conn, frame)
	stop()

	partial := n > 0 && n < len(frame)
	return t.finishOp(ctx, "send", start, len(frame)-HeaderSize, partial, err)
}

// Receive returns the next complete frame. A keepalive or zero-length session
// message yields an empty Message.
func (t *Transport) Receive(ctx context.Context) (*transport.Message, error) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	t.mu.Lock()
	if err := transport.CheckState("receive", t.state, transport.StateConnected); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	conn := t.conn
	timeout := t.params.Timeout()
	maxLen := t.params.ReceiveSize()
	start := time.Now()
	t.recvStart = start
	t.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanTransportReceive,
		trace.WithAttributes(telemetry.ConnectionID(t.id)))
	defer span.End()

	stop := armDeadline(ctx, timeout, conn.SetReadDeadline)
	h, payload, err := t.asm.readFrom(conn, maxLen)
	stop()
	if err != nil {
		return nil, t.finishOp(ctx, "receive", start, 0, false, err)
	}

	switch h.Type {
	case PacketSessionMessage:
		if err := t.finishOp(ctx, "receive", start, len(payload), false, nil); err != nil {
			return nil, err
		}
		span.SetAttributes(telemetry.Bytes(len(payload)))
		return transport.WrapMessage(payload), nil
	case PacketKeepalive:
		if err := t.finishOp(ctx, "receive", start, 0, false, nil); err != nil {
			return nil, err
		}
		return transport.NewMessage(nil), nil
	default:
		return nil, t.finishOp(ctx, "receive", start, 0, false,
			transport.Errorf("receive", transport.CodeProtocol, "unexpected %s on established session", h.Type))
	}
}

// finishOp clears the in-flight marker for op and routes err: fatal classes
// go through fatalLocked, timeouts count towards escalation.
func (t *Transport) finishOp(ctx context.Context, op string, start time.Time, bytes int, partial bool, err error) error {
	t.mu.Lock()
	if op == "send" {
		t.sendStart = time.Time{}
	} else {
		t.recvStart = time.Time{}
	}

	if err == nil {
		if t.state != transport.StateConnected {
			rerr := t.raceErrLocked(op)
			t.mu.Unlock()
			return rerr
		}
		t.timeouts = 0
		t.mu.Unlock()
		if t.metrics != nil {
			t.metrics.RecordFrame(transport.FamilyNBTCP, op, bytes)
		}
		t.observe(op, start, nil)
		return nil
	}

	if t.state != transport.StateConnected {
		rerr := t.raceErrLocked(op)
		t.mu.Unlock()
		t.observe(op, start, rerr)
		return rerr
	}

	terr := classifyIO(op, err)
	if terr.Code == transport.CodeTimeout && ctx.Err() != nil {
		terr = transport.NewError(op, transport.CodeTimeout, ctx.Err())
	}
	telemetry.RecordError(ctx, terr)
	t.observe(op, start, terr)

	switch {
	case terr.Code == transport.CodeTimeout && partial:
		return t.fatalLocked(transport.NewError(op, transport.CodeProtocol,
			fmt.Errorf("timed out mid-frame, stream out of sync: %w", terr)))

	case terr.Code == transport.CodeTimeout:
		if !errors.Is(terr, context.Canceled) {
			t.timeouts++
		}
		if limit := t.opts.MaxConsecutiveTimeouts; limit > 0 && t.timeouts >= limit {
			return t.fatalLocked(transport.NewError(op, transport.CodeTimeout,
				fmt.Errorf("%d consecutive timeouts: %w", t.timeouts, terr.Err)))
		}
		t.mu.Unlock()
		logger.DebugCtx(ctx, "NBT operation timed out",
			logger.KeyConnectionID, t.id,
			logger.KeyOperation, op,
			"pending_frame", t.asmPending(op))
		return terr

	case terr.Code.IsFatal():
		return t.fatalLocked(terr)

	default:
		t.mu.Unlock()
		return terr
	}
}

// asmPending is only meaningful for receive, which holds recvMu.
func (t *Transport) asmPending(op string) bool {
	return op == "receive" && t.asm.pending()
}

// dial opens the TCP connection and runs the session request exchange. The
// whole exchange is bounded by ctx.
func (t *Transport) dial(ctx context.Context, remote, local *net.TCPAddr, qos uint32) (net.Conn, error) {
	d := net.Dialer{
		KeepAlive: t.nbt.KeepAlive,
		Control:   qosControl(qos),
	}
	if local != nil {
		d.LocalAddr = local
	}

	conn, err := d.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok && t.nbt.NoDelay {
		if err := tcp.SetNoDelay(true); err != nil {
			logger.Debug("Failed to set TCP_NODELAY", logger.KeyError, err)
		}
	}

	if t.nbt.CalledName == "" {
		return conn, nil
	}
	if err := t.sessionRequest(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// sessionRequest sends a SESSION REQUEST and waits for the answer.
func (t *Transport) sessionRequest(ctx context.Context, conn net.Conn) error {
	req := SessionRequest{Called: t.nbt.CalledName, Calling: t.nbt.CallingName}
	payload, err := req.Encode()
	if err != nil {
		return transport.NewError("connect", transport.CodeInvalidParameter, err)
	}
	frame, err := t.nbt.Variant.AppendFrame(nil, PacketSessionRequest, payload)
	if err != nil {
		return transport.NewError("connect", transport.CodeInvalidParameter, err)
	}

	stopW := armDeadline(ctx, 0, conn.SetWriteDeadline)
	_, err = writeFull(conn, frame)
	stopW()
	if err != nil {
		return err
	}

	stopR := armDeadline(ctx, 0, conn.SetReadDeadline)
	defer stopR()

	asm := frameAssembler{variant: t.nbt.Variant}
	for {
		h, body, err := asm.readFrom(conn, 64)
		if err != nil {
			return err
		}
		switch h.Type {
		case PacketPositiveResponse:
			return nil
		case PacketKeepalive:
			continue
		case PacketNegativeResponse:
			code := NegUnspecified
			if len(body) > 0 {
				code = NegativeCode(body[0])
			}
			return transport.NewError("connect", transport.CodeConnectionRefused, &NegativeResponseError{Code: code})
		case PacketRetargetResponse:
			addr, perr := ParseRetarget(body)
			if perr != nil {
				return transport.NewError("connect", transport.CodeProtocol, perr)
			}
			return transport.NewError("connect", transport.CodeConnectionRefused, &RetargetError{Addr: addr})
		default:
			return transport.Errorf("connect", transport.CodeProtocol, "unexpected %s in session setup", h.Type)
		}
	}
}

// writeFull retries short writes until b is written or an error occurs.
func writeFull(w io.Writer, b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := w.Write(b[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// armDeadline sets the earlier of ctx's deadline and now+timeout (or clears
// the deadline when neither applies), and forces it into the past if ctx is
// cancelled. The returned func disarms the cancellation hook.
func armDeadline(ctx context.Context, timeout time.Duration, set func(time.Time) error) func() {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = set(deadline)

	stop := context.AfterFunc(ctx, func() { _ = set(aLongTimeAgo) })
	return func() { stop() }
}

func tcpAddr(a net.Addr) (*net.TCPAddr, error) {
	switch v := a.(type) {
	case nil:
		return nil, nil
	case *net.TCPAddr:
		if v == nil {
			return nil, nil
		}
		return v, nil
	default:
		return net.ResolveTCPAddr("tcp", a.String())
	}
}

func asTransportError(op string, err error) *transport.Error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr
	}
	if err == nil {
		return transport.NewError(op, transport.CodeAborted, nil)
	}
	return transport.NewError(op, transport.CodeOf(err), err)
}

// classifyDial maps a connect failure to a transport error.
func classifyDial(op string, err error) *transport.Error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr
	}

	var dnsErr *net.DNSError
	switch {
	case isTimeout(err), errors.Is(err, context.Canceled):
		return transport.NewError(op, transport.CodeTimeout, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return transport.NewError(op, transport.CodeConnectionRefused, err)
	case errors.Is(err, syscall.EADDRINUSE), errors.Is(err, syscall.EADDRNOTAVAIL):
		// The bound local address cannot be used; the instance stays usable.
		return transport.NewError(op, transport.CodeInvalidParameter, err)
	case errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.ENOBUFS), errors.Is(err, syscall.ENOMEM):
		return transport.NewError(op, transport.CodeResourceExhausted, err)
	case errors.As(err, &dnsErr), errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return transport.NewError(op, transport.CodeUnreachable, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET):
		return transport.NewError(op, transport.CodeConnectionReset, err)
	default:
		return transport.NewError(op, transport.CodeUnreachable, err)
	}
}

// classifyIO maps a send or receive failure to a transport error. Anything
// that is not a timeout means the stream is gone.
func classifyIO(op string, err error) *transport.Error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr
	}
	if isTimeout(err) {
		return transport.NewError(op, transport.CodeTimeout, err)
	}
	return transport.NewError(op, transport.CodeConnectionReset, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
