// Package session owns one transport connection to a peer on behalf of a
// client.
//
// A Session opens an instance from a transport registry, wires the instance
// parameters (timeout, traffic class, notify handle and wake callback), drives
// TimeoutTick from a timer and serialises request/reply exchanges. When the
// instance goes fatal the session marks itself lost and, if reconnects are
// enabled, opens a fresh instance in the background.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/smbtran/internal/logger"
	"github.com/marmos91/smbtran/internal/telemetry"
	"github.com/marmos91/smbtran/pkg/rwproxy"
	"github.com/marmos91/smbtran/pkg/transport"
	"github.com/marmos91/smbtran/pkg/transport/nbt"
)

var (
	ErrNotOpen     = errors.New("session not open")
	ErrAlreadyOpen = errors.New("session already open")
	ErrClosed      = errors.New("session closed")
	ErrLost        = errors.New("session lost")
	ErrNoProxy     = errors.New("session has no request proxy")
)

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *transport.Registry
)

// DefaultRegistry returns the registry of built-in carriers.
func DefaultRegistry() *transport.Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = transport.MustRegistry(nbt.Descriptor())
	})
	return defaultRegistry
}

// Session is a client connection that survives transport failures.
type Session struct {
	id       string
	name     string
	cfg      Config
	registry *transport.Registry
	proxy    *rwproxy.Pool

	// ctx is cancelled by Close and bounds the ticker and reconnects.
	ctx    context.Context
	cancel context.CancelFunc

	// reqMu serialises request/reply exchanges.
	reqMu sync.Mutex

	nextGen atomic.Uint64

	mu      sync.Mutex
	opened  bool
	closed  bool
	tr      transport.Transport
	gen     uint64
	lost    chan struct{}
	lostErr error
	wg      sync.WaitGroup
}

// New builds a session. registry defaults to DefaultRegistry; proxy is only
// needed for RequestAsync and may be nil.
func New(cfg Config, registry *transport.Registry, proxy *rwproxy.Pool) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.Remote == nil {
		return nil, transport.Errorf("session", transport.CodeInvalidParameter, "remote address is required")
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if _, ok := registry.Lookup(cfg.Family); !ok {
		return nil, transport.Errorf("session", transport.CodeInvalidParameter,
			"no transport registered for family %s (%d)", cfg.Family, uint8(cfg.Family))
	}

	id := uuid.NewString()
	name := cfg.Name
	if name == "" {
		name = id
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       id,
		name:     name,
		cfg:      cfg,
		registry: registry,
		proxy:    proxy,
		ctx:      ctx,
		cancel:   cancel,
		lost:     make(chan struct{}),
	}, nil
}

// ID returns the session identifier, also used as the transport notify handle.
func (s *Session) ID() string { return s.id }

// Name returns the session label.
func (s *Session) Name() string { return s.name }

// Transport returns the current instance, or nil while not connected.
func (s *Session) Transport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr
}

// Connected reports whether the session holds a live instance.
func (s *Session) Connected() bool {
	return s.Transport() != nil
}

// Lost returns a channel that is closed when the current connection is lost.
// After a successful reconnect a new channel is returned.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// Err returns the error that lost the connection, or nil while connected.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr != nil {
		return nil
	}
	return s.lostErr
}

// Open connects the session. Retryable connect failures are retried with
// exponential backoff when reconnects are enabled; fatal ones fail at once.
// A failed Open may be called again.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.opened:
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.opened = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ctx = logger.WithContext(ctx, s.logContext())
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSessionOpen,
		trace.WithAttributes(
			telemetry.Session(s.name),
			telemetry.Family(s.cfg.Family.String()),
			telemetry.RemoteAddr(s.cfg.Remote.String()),
		))
	defer span.End()

	start := time.Now()
	tr, gen, err := s.dial(ctx)
	if err == nil {
		err = s.install(tr, gen)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		s.mu.Lock()
		s.opened = false
		s.mu.Unlock()
		return err
	}

	s.startTicker()
	logger.InfoCtx(ctx, "Session open", logger.KeyDurationMs, logger.Duration(start))
	return nil
}

// Request sends payload as one message and returns the next message received.
// Exchanges on a session are serialised. A reply that does not arrive in time
// costs the connection: the instance is made fatal so a late reply can never
// be paired with a later request.
func (s *Session) Request(ctx context.Context, payload []byte) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSessionRequest,
		trace.WithAttributes(
			telemetry.Session(s.name),
			telemetry.Bytes(len(payload)),
		))
	defer span.End()

	start := time.Now()
	reply, err := s.exchange(ctx, payload)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveRequest(s.cfg.Family, time.Since(start), transport.CodeOf(err))
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	return reply, nil
}

func (s *Session) exchange(ctx context.Context, payload []byte) ([]byte, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	tr, err := s.current()
	if err != nil {
		return nil, err
	}
	if err := tr.Send(ctx, transport.NewMessage(payload)); err != nil {
		return nil, err
	}
	msg, err := tr.Receive(ctx)
	if err != nil {
		if transport.IsRetryable(err) {
			// The request is on the wire. Its late reply would be taken as
			// the answer to the next request, so the stream is given up.
			_ = tr.Fatal(transport.NewError("request", transport.CodeAborted,
				fmt.Errorf("reply not received, stream out of sync: %w", err)))
		}
		return nil, err
	}
	return msg.Bytes(), nil
}

// Call is a request running on the proxy pool.
type Call struct {
	req   *rwproxy.Request
	reply []byte
}

// Done is closed when the call completes.
func (c *Call) Done() <-chan struct{} { return c.req.Done() }

// Wait returns the reply once the call completes, or ctx.Err().
func (c *Call) Wait(ctx context.Context) ([]byte, error) {
	if err := c.req.Wait(ctx); err != nil {
		return nil, err
	}
	return c.reply, nil
}

// RequestAsync runs Request on the session's proxy pool and returns at once.
func (s *Session) RequestAsync(ctx context.Context, payload []byte) (*Call, error) {
	if s.proxy == nil {
		return nil, ErrNoProxy
	}
	c := &Call{}
	c.req = rwproxy.NewRequest(ctx, func(ctx context.Context) error {
		reply, err := s.Request(ctx, payload)
		c.reply = reply
		return err
	})
	if err := s.proxy.Submit(c.req); err != nil {
		return nil, err
	}
	return c, nil
}

// Close stops the ticker and any reconnect, disconnects and releases the
// instance. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tr := s.tr
	s.tr = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if tr == nil {
		return nil
	}
	err := tr.Disconnect()
	if derr := tr.Done(); err == nil {
		err = derr
	}
	logger.Debug("Session closed", logger.KeySession, s.name)
	return err
}

func (s *Session) current() (transport.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, ErrClosed
	case s.tr != nil:
		return s.tr, nil
	case s.lostErr != nil:
		return nil, fmt.Errorf("%w: %w", ErrLost, s.lostErr)
	default:
		return nil, ErrNotOpen
	}
}

// dial opens a fresh instance and connects it, retrying retryable failures
// on the same instance.
func (s *Session) dial(ctx context.Context) (transport.Transport, uint64, error) {
	gen := s.nextGen.Add(1)
	tr, err := s.newInstance(gen)
	if err != nil {
		return nil, 0, err
	}

	attempt := 0
	op := func() error {
		attempt++
		err := tr.Connect(ctx, s.cfg.Remote)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordConnectAttempt(s.cfg.Family, transport.CodeOf(err))
		}
		if err == nil || transport.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logger.DebugCtx(ctx, "Session connect retry",
			logger.KeyAttempt, attempt,
			logger.KeyBackoff, wait.String(),
			logger.KeyError, err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(s.cfg.Reconnect.backOff(), ctx), notify); err != nil {
		_ = tr.Done()
		logger.DebugCtx(ctx, "Session connect failed",
			logger.KeyAttempt, attempt,
			logger.KeyErrorCode, transport.CodeOf(err).String(),
			logger.KeyError, err)
		return nil, 0, err
	}
	return tr, gen, nil
}

func (s *Session) newInstance(gen uint64) (transport.Transport, error) {
	tr, err := s.registry.Open(s.cfg.Family, s.cfg.Transport)
	if err != nil {
		return nil, err
	}
	if err := tr.Create(); err != nil {
		_ = tr.Done()
		return nil, err
	}

	params := []transport.Param{
		transport.NotifyHandle{Value: s.id},
		transport.WakeCallback(s.fatalHandler(gen)),
		transport.QoS(s.cfg.Transport.QoS),
	}
	if s.cfg.Transport.Timeout >= 0 {
		params = append(params, transport.Timeout(s.cfg.Transport.Timeout))
	}
	for _, p := range params {
		if err := tr.SetParam(p); err != nil {
			_ = tr.Done()
			return nil, fmt.Errorf("set %s: %w", p.Tag(), err)
		}
	}

	if s.cfg.Local != nil {
		if err := tr.Bind(s.cfg.Local); err != nil {
			_ = tr.Done()
			return nil, err
		}
	}
	return tr, nil
}

// install makes tr the current instance unless the session was closed
// meanwhile.
func (s *Session) install(tr transport.Transport, gen uint64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = tr.Disconnect()
		_ = tr.Done()
		return ErrClosed
	}
	s.tr = tr
	s.gen = gen
	s.lostErr = nil
	select {
	case <-s.lost:
		s.lost = make(chan struct{})
	default:
	}
	s.mu.Unlock()
	return nil
}

// fatalHandler is the wake callback of instance gen. It runs on whatever
// goroutine drove the instance fatal, so it only records the loss and hands
// cleanup and reconnect to a new goroutine.
func (s *Session) fatalHandler(gen uint64) transport.WakeCallback {
	return func(ev transport.FatalEvent) {
		s.mu.Lock()
		if s.closed || s.tr == nil || s.gen != gen {
			s.mu.Unlock()
			return
		}
		tr := s.tr
		s.tr = nil
		s.lostErr = ev.Err
		close(s.lost)
		reconnect := s.cfg.Reconnect.Enabled
		s.wg.Add(1)
		s.mu.Unlock()

		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordLost(s.cfg.Family, ev.Code)
		}
		logger.Warn("Session lost",
			logger.KeySession, s.name,
			logger.KeyErrorCode, ev.Code.String(),
			logger.KeyError, ev.Err)

		go func() {
			defer s.wg.Done()
			_ = tr.Done()
			if reconnect {
				s.reconnect()
			}
		}()
	}
}

func (s *Session) reconnect() {
	ctx := logger.WithContext(s.ctx, s.logContext())
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSessionReconnect,
		trace.WithAttributes(
			telemetry.Session(s.name),
			telemetry.RemoteAddr(s.cfg.Remote.String()),
		))
	defer span.End()

	start := time.Now()
	tr, gen, err := s.dial(ctx)
	if err == nil {
		err = s.install(tr, gen)
	}
	if s.ctx.Err() != nil {
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordReconnect(s.cfg.Family, err == nil)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Session reconnect failed", logger.KeyError, err)
		return
	}
	logger.InfoCtx(ctx, "Session reconnected", logger.KeyDurationMs, logger.Duration(start))
}

func (s *Session) startTicker() {
	if s.cfg.TickInterval < 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if tr := s.Transport(); tr != nil {
					tr.TimeoutTick()
				}
			}
		}
	}()
}

func (s *Session) logContext() *logger.LogContext {
	return logger.NewLogContext(s.name, s.cfg.Family.String(), s.cfg.Remote.String())
}
