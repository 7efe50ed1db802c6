package rwproxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/smbtran/pkg/transport"
)

// gate blocks a request until released and reports when it started.
type gate struct {
	started chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) fn(ctx context.Context) error {
	close(g.started)
	<-g.release
	return nil
}

func (g *gate) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("request never started")
	}
}

func startPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func TestDoReturnsResult(t *testing.T) {
	p := startPool(t, Config{Workers: 2})
	boom := errors.New("boom")

	require.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }))
	assert.ErrorIs(t, p.Do(context.Background(), func(context.Context) error { return boom }), boom)
}

func TestDefaults(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, DefaultWorkers, p.Workers())
	assert.False(t, p.Running())
}

func TestManyConcurrentRequests(t *testing.T) {
	p := startPool(t, Config{Workers: 4, QueueDepth: 256})

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Do(context.Background(), func(context.Context) error {
				ran.Add(1)
				return nil
			}))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(200), ran.Load())
}

func TestSingleWorkerRunsInOrder(t *testing.T) {
	p := startPool(t, Config{Workers: 1, QueueDepth: 16})

	var mu sync.Mutex
	var order []int
	reqs := make([]*Request, 10)
	for i := range reqs {
		n := i
		reqs[i] = NewRequest(context.Background(), func(context.Context) error {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil
		})
		require.NoError(t, p.Submit(reqs[i]))
	}
	for _, r := range reqs {
		require.NoError(t, r.Wait(context.Background()))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestAlreadyQueued(t *testing.T) {
	p := startPool(t, Config{Workers: 1})
	g := newGate()
	r := NewRequest(context.Background(), g.fn)

	require.NoError(t, p.Submit(r))
	assert.ErrorIs(t, p.Submit(r), ErrAlreadyQueued)

	close(g.release)
	require.NoError(t, r.Wait(context.Background()))
	assert.ErrorIs(t, p.Submit(r), ErrAlreadyQueued, "completed requests are not reusable")
}

func TestQueueFullIsResourceExhausted(t *testing.T) {
	p := startPool(t, Config{Workers: 1, QueueDepth: 1})
	g := newGate()
	defer close(g.release)

	require.NoError(t, p.Submit(NewRequest(context.Background(), g.fn)))
	g.waitStarted(t)

	require.NoError(t, p.Submit(NewRequest(context.Background(), func(context.Context) error { return nil })))

	err := p.Submit(NewRequest(context.Background(), func(context.Context) error { return nil }))
	require.Error(t, err)
	assert.Equal(t, transport.CodeResourceExhausted, transport.CodeOf(err))
	assert.True(t, transport.IsRetryable(err))
}

func TestStopDrainsPending(t *testing.T) {
	p := New(Config{Workers: 1, QueueDepth: 4})
	p.Start()

	g := newGate()
	first := NewRequest(context.Background(), g.fn)
	require.NoError(t, p.Submit(first))
	g.waitStarted(t)

	var ran atomic.Bool
	pending := []*Request{
		NewRequest(context.Background(), func(context.Context) error { ran.Store(true); return nil }),
		NewRequest(context.Background(), func(context.Context) error { ran.Store(true); return nil }),
	}
	for _, r := range pending {
		require.NoError(t, p.Submit(r))
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool { return !p.Running() }, 2*time.Second, time.Millisecond)

	close(g.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	require.NoError(t, first.Wait(context.Background()), "running request finishes")
	for _, r := range pending {
		assert.ErrorIs(t, r.Wait(context.Background()), ErrStopped)
	}
	assert.False(t, ran.Load())
}

func TestSubmitWhileStopped(t *testing.T) {
	p := New(Config{})
	r := NewRequest(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, p.Submit(r), ErrStopped)

	p.Start()
	defer p.Stop()
	require.NoError(t, p.Submit(r), "a rejected request can be submitted again")
	require.NoError(t, r.Wait(context.Background()))
}

func TestRestart(t *testing.T) {
	p := New(Config{Workers: 2})
	p.Start()
	p.Start()
	require.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }))

	p.Stop()
	p.Stop()
	assert.ErrorIs(t, p.Do(context.Background(), func(context.Context) error { return nil }), ErrStopped)

	p.Start()
	defer p.Stop()
	require.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestCancelledBeforeRun(t *testing.T) {
	p := startPool(t, Config{Workers: 1})
	g := newGate()
	require.NoError(t, p.Submit(NewRequest(context.Background(), g.fn)))
	g.waitStarted(t)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	r := NewRequest(ctx, func(context.Context) error { ran.Store(true); return nil })
	require.NoError(t, p.Submit(r))
	cancel()
	close(g.release)

	assert.ErrorIs(t, r.Wait(context.Background()), context.Canceled)
	assert.False(t, ran.Load())
}

func TestWaitHonoursContext(t *testing.T) {
	p := startPool(t, Config{Workers: 1})
	g := newGate()
	defer close(g.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Do(ctx, g.fn), context.DeadlineExceeded)
}

func TestPanicBecomesError(t *testing.T) {
	p := startPool(t, Config{Workers: 1})
	err := p.Do(context.Background(), func(context.Context) error { panic("bad request") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")

	require.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }), "worker survives")
}

func TestNilRequest(t *testing.T) {
	p := startPool(t, Config{})
	err := p.Submit(nil)
	assert.Equal(t, transport.CodeInvalidParameter, transport.CodeOf(err))
}
