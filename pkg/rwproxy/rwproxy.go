// Package rwproxy runs blocking request/reply exchanges on a fixed set of
// worker goroutines so callers can issue them asynchronously.
//
// Every worker owns its own queue. Submit spreads requests across the queues
// round-robin; a worker runs the requests of its queue one at a time, in
// order, and wakes the submitter when each completes.
package rwproxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/smbtran/internal/logger"
	"github.com/marmos91/smbtran/pkg/transport"
)

// Defaults applied by New.
const (
	DefaultWorkers    = 4
	DefaultQueueDepth = 64
)

var (
	// ErrAlreadyQueued is returned when a request is submitted twice.
	ErrAlreadyQueued = errors.New("request already queued")

	// ErrStopped is returned by Submit while the pool is stopped, and is the
	// result of requests still pending when Stop drains the queues.
	ErrStopped = errors.New("proxy stopped")
)

// Func is the work carried by a Request.
type Func func(ctx context.Context) error

// Request is one unit of work. A request is single-use: it may be submitted
// once and completes exactly once.
type Request struct {
	ctx    context.Context
	fn     Func
	queued atomic.Bool
	done   chan struct{}
	err    error
}

// NewRequest wraps fn. ctx is passed to fn when it runs; a request whose
// context is cancelled before a worker picks it up completes with ctx.Err()
// without running.
func NewRequest(ctx context.Context, fn Func) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Request{ctx: ctx, fn: fn, done: make(chan struct{})}
}

// Done is closed once the request has completed.
func (r *Request) Done() <-chan struct{} { return r.done }

// Err returns the result. Only meaningful after Done is closed.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the request completes or ctx ends.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Request) finish(err error) {
	r.err = err
	close(r.done)
}

func (r *Request) run() (err error) {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("proxy request panicked: %v", p)
		}
	}()
	return r.fn(r.ctx)
}

// Config configures a Pool.
type Config struct {
	// Workers is the number of worker goroutines, each with its own queue.
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gte=0"`

	// QueueDepth bounds each worker queue. Submit fails with
	// ResourceExhausted when the selected queue is full.
	QueueDepth int `mapstructure:"queue_depth" yaml:"queue_depth" validate:"gte=0"`
}

// Pool is a restartable set of workers.
type Pool struct {
	cfg  Config
	next atomic.Uint64

	mu      sync.RWMutex
	running bool
	queues  []chan *Request
	stop    chan struct{}
	group   *errgroup.Group
}

// New builds a stopped pool. Zero fields in cfg take their defaults.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	return &Pool{cfg: cfg}
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.cfg.Workers }

// Running reports whether the workers are started.
func (p *Pool) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start launches the workers. Starting a running pool is a no-op. A stopped
// pool can be started again.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.queues = make([]chan *Request, p.cfg.Workers)
	p.stop = make(chan struct{})
	p.group = new(errgroup.Group)
	for i := range p.queues {
		q := make(chan *Request, p.cfg.QueueDepth)
		p.queues[i] = q
		stop := p.stop
		worker := i
		p.group.Go(func() error {
			p.work(worker, q, stop)
			return nil
		})
	}
	p.running = true

	logger.Debug("Proxy workers started",
		logger.KeyWorker, p.cfg.Workers,
		logger.KeyQueue, p.cfg.QueueDepth)
}

// Stop signals the workers, waits for them to exit and fails every request
// still queued with ErrStopped. A request already running is allowed to
// finish. Stopping a stopped pool is a no-op.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	queues, group := p.queues, p.group
	p.queues = nil
	p.mu.Unlock()

	_ = group.Wait()

	drained := 0
	for _, q := range queues {
	drain:
		for {
			select {
			case r := <-q:
				r.finish(ErrStopped)
				drained++
			default:
				break drain
			}
		}
	}

	logger.Debug("Proxy workers stopped", logger.KeyPending, drained)
}

// Submit queues r on the next worker in round-robin order and returns
// without waiting for it to run.
func (p *Pool) Submit(r *Request) error {
	if r == nil || r.fn == nil {
		return transport.Errorf("proxy submit", transport.CodeInvalidParameter, "nil request")
	}
	if !r.queued.CompareAndSwap(false, true) {
		return ErrAlreadyQueued
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		r.queued.Store(false)
		return ErrStopped
	}

	idx := (p.next.Add(1) - 1) % uint64(len(p.queues))
	select {
	case p.queues[idx] <- r:
		return nil
	default:
		r.queued.Store(false)
		return transport.Errorf("proxy submit", transport.CodeResourceExhausted,
			"worker %d queue full (%d requests)", idx, p.cfg.QueueDepth)
	}
}

// Do submits fn and waits for its result or for ctx to end.
func (p *Pool) Do(ctx context.Context, fn Func) error {
	r := NewRequest(ctx, fn)
	if err := p.Submit(r); err != nil {
		return err
	}
	return r.Wait(ctx)
}

func (p *Pool) work(worker int, q <-chan *Request, stop <-chan struct{}) {
	for {
		// Stop wins over queued work.
		select {
		case <-stop:
			logger.Debug("Proxy worker exiting", logger.KeyWorker, worker)
			return
		default:
		}

		select {
		case <-stop:
			logger.Debug("Proxy worker exiting", logger.KeyWorker, worker)
			return
		case r := <-q:
			// A request stays marked as submitted after it is dequeued so
			// that it can never complete twice.
			r.finish(r.run())
		}
	}
}
