package nbt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/smbtran/internal/logger"
	"github.com/marmos91/smbtran/pkg/bufpool"
)

// Handler produces the reply for one inbound session message. Returning a
// nil reply sends nothing; returning an error closes the session.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// ResponderMetrics records responder connection lifecycle metrics.
// A nil ResponderMetrics disables collection.
type ResponderMetrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
	RecordSessionRequest(accepted bool)
	RecordEcho(bytes int)
}

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// ListenAddress is the host:port to listen on. ":0" picks a free port.
	ListenAddress string

	// Variant is the header length layout spoken on accepted connections.
	Variant LengthVariant

	// Names lists the called names this responder serves. A session request
	// for any other name gets a negative response. Empty accepts every name.
	Names []string

	// MaxConnections limits concurrent sessions. 0 means unlimited.
	MaxConnections int

	// MaxFrameSize bounds inbound frame lengths. 0 means the variant maximum.
	MaxFrameSize int

	// IdleTimeout closes a session with no inbound traffic. 0 disables it.
	IdleTimeout time.Duration

	// ShutdownTimeout is how long Serve waits for sessions to finish after
	// shutdown starts before force-closing them.
	ShutdownTimeout time.Duration

	// Handler answers session messages. Nil echoes the payload back.
	Handler Handler

	// Metrics is optional.
	Metrics ResponderMetrics
}

func (c *ResponderConfig) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = "127.0.0.1:0"
	}
	if c.MaxFrameSize <= 0 || c.MaxFrameSize > c.Variant.MaxLength() {
		c.MaxFrameSize = c.Variant.MaxLength()
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	c.Names = slices.Clone(c.Names)
	for i, n := range c.Names {
		c.Names[i] = strings.ToUpper(strings.TrimSpace(n))
	}
}

// Responder is an NBT session service peer. It accepts session requests and
// answers session messages through its Handler, echoing by default. It backs
// the echo command and the transport tests.
//
// Shutdown flow:
//  1. ctx cancelled or Stop called
//  2. listener closed, pending reads interrupted
//  3. wait for active sessions up to ShutdownTimeout
//  4. force-close whatever is left
type Responder struct {
	cfg ResponderConfig

	listenerMu sync.RWMutex
	listener   net.Listener
	ready      chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}
	sessionCtx   context.Context
	cancel       context.CancelFunc

	active    sync.WaitGroup
	connCount atomic.Int32
	conns     sync.Map
	sem       chan struct{}
}

// NewResponder creates a stopped responder. Call Serve to start it.
func NewResponder(cfg ResponderConfig) *Responder {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	r := &Responder{
		cfg:        cfg,
		ready:      make(chan struct{}),
		shutdown:   make(chan struct{}),
		sessionCtx: ctx,
		cancel:     cancel,
	}
	if cfg.MaxConnections > 0 {
		r.sem = make(chan struct{}, cfg.MaxConnections)
	}
	return r
}

// Ready is closed once the listener accepts connections.
func (r *Responder) Ready() <-chan struct{} { return r.ready }

// Addr returns the listening address, or nil before Ready.
func (r *Responder) Addr() net.Addr {
	r.listenerMu.RLock()
	defer r.listenerMu.RUnlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// ActiveConnections returns the number of open sessions.
func (r *Responder) ActiveConnections() int32 { return r.connCount.Load() }

// Stop starts a graceful shutdown. Safe to call more than once.
func (r *Responder) Stop() { r.initiateShutdown() }

// Serve listens and runs the accept loop until ctx is cancelled or Stop is
// called. It returns nil after a graceful shutdown.
func (r *Responder) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("nbt responder listen on %s: %w", r.cfg.ListenAddress, err)
	}
	return r.ServeListener(ctx, ln)
}

// ServeListener is like Serve on an existing listener.
func (r *Responder) ServeListener(ctx context.Context, ln net.Listener) error {
	r.listenerMu.Lock()
	r.listener = ln
	r.listenerMu.Unlock()
	close(r.ready)

	logger.Info("NBT responder listening",
		logger.KeyLocalAddr, ln.Addr().String(),
		logger.KeyVariant, r.cfg.Variant.String())

	go func() {
		select {
		case <-ctx.Done():
			r.initiateShutdown()
		case <-r.shutdown:
		}
	}()

	for {
		if r.sem != nil {
			select {
			case r.sem <- struct{}{}:
			case <-r.shutdown:
				return r.gracefulShutdown()
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if r.sem != nil {
				<-r.sem
			}
			select {
			case <-r.shutdown:
				return r.gracefulShutdown()
			default:
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				logger.Debug("NBT responder accept error", logger.KeyError, err)
				continue
			}
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		r.active.Add(1)
		count := r.connCount.Add(1)
		addr := conn.RemoteAddr().String()
		r.conns.Store(addr, conn)
		if m := r.cfg.Metrics; m != nil {
			m.RecordConnectionAccepted()
			m.SetActiveConnections(count)
		}
		logger.Debug("NBT responder connection accepted", logger.KeyRemoteAddr, addr, "active", count)

		go func() {
			defer func() {
				r.conns.Delete(addr)
				_ = conn.Close()
				r.active.Done()
				left := r.connCount.Add(-1)
				if r.sem != nil {
					<-r.sem
				}
				if m := r.cfg.Metrics; m != nil {
					m.RecordConnectionClosed()
					m.SetActiveConnections(left)
				}
				logger.Debug("NBT responder connection closed", logger.KeyRemoteAddr, addr, "active", left)
			}()
			r.serveConn(r.sessionCtx, conn)
		}()
	}
}

func (r *Responder) initiateShutdown() {
	r.shutdownOnce.Do(func() {
		close(r.shutdown)

		r.listenerMu.Lock()
		if r.listener != nil {
			_ = r.listener.Close()
		}
		r.listenerMu.Unlock()

		deadline := time.Now().Add(100 * time.Millisecond)
		r.conns.Range(func(_, v any) bool {
			_ = v.(net.Conn).SetReadDeadline(deadline)
			return true
		})
		r.cancel()
	})
}

func (r *Responder) gracefulShutdown() error {
	done := make(chan struct{})
	go func() {
		r.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("NBT responder stopped")
		return nil
	case <-time.After(r.cfg.ShutdownTimeout):
		remaining := r.connCount.Load()
		r.conns.Range(func(_, v any) bool {
			_ = v.(net.Conn).Close()
			if m := r.cfg.Metrics; m != nil {
				m.RecordConnectionForceClosed()
			}
			return true
		})
		return fmt.Errorf("nbt responder shutdown timeout: %d sessions force-closed", remaining)
	}
}

// serveConn runs one session until the peer leaves or shutdown.
func (r *Responder) serveConn(ctx context.Context, conn net.Conn) {
	asm := frameAssembler{variant: r.cfg.Variant}
	for {
		if ctx.Err() != nil {
			return
		}
		if r.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(r.cfg.IdleTimeout))
		}

		h, payload, err := asm.readFrom(conn, r.cfg.MaxFrameSize)
		if err != nil {
			logger.Debug("NBT responder read ended", logger.KeyRemoteAddr, conn.RemoteAddr().String(), logger.KeyError, err)
			return
		}

		switch h.Type {
		case PacketSessionRequest:
			if !r.answerSessionRequest(conn, payload) {
				return
			}
		case PacketSessionMessage:
			reply := payload
			if r.cfg.Handler != nil {
				reply, err = r.cfg.Handler(ctx, payload)
				if err != nil {
					logger.Debug("NBT responder handler failed", logger.KeyError, err)
					return
				}
				if reply == nil {
					continue
				}
			}
			if err := r.writeFrame(conn, PacketSessionMessage, reply); err != nil {
				return
			}
			if m := r.cfg.Metrics; m != nil {
				m.RecordEcho(len(reply))
			}
		case PacketKeepalive:
		default:
			logger.Debug("NBT responder unexpected packet", "type", h.Type.String())
			return
		}
	}
}

// answerSessionRequest replies to a session request and reports whether the
// session stays open.
func (r *Responder) answerSessionRequest(conn net.Conn, payload []byte) bool {
	req, err := ParseSessionRequest(payload)
	if err != nil {
		_ = r.writeFrame(conn, PacketNegativeResponse, []byte{byte(NegUnspecified)})
		r.recordSessionRequest(false)
		return false
	}
	if len(r.cfg.Names) > 0 && !slices.Contains(r.cfg.Names, req.Called) && req.Called != DefaultCalledName {
		_ = r.writeFrame(conn, PacketNegativeResponse, []byte{byte(NegCalledNotPresent)})
		r.recordSessionRequest(false)
		logger.Debug("NBT session request refused", "called", req.Called, "calling", req.Calling)
		return false
	}
	r.recordSessionRequest(true)
	return r.writeFrame(conn, PacketPositiveResponse, nil) == nil
}

func (r *Responder) recordSessionRequest(accepted bool) {
	if m := r.cfg.Metrics; m != nil {
		m.RecordSessionRequest(accepted)
	}
}

func (r *Responder) writeFrame(conn net.Conn, t PacketType, payload []byte) error {
	frame := bufpool.GetFrame(len(payload))
	defer bufpool.Put(frame)
	if err := r.cfg.Variant.PutHeader(frame, Header{Type: t, Length: uint32(len(payload))}); err != nil {
		return err
	}
	copy(frame[HeaderSize:], payload)
	_, err := writeFull(conn, frame)
	return err
}
