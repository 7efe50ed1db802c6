package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Size Class Tests
// ============================================================================

func TestPoolSizeClasses(t *testing.T) {
	pool := NewPool(nil)

	cases := []struct {
		name    string
		size    int
		wantCap int
	}{
		{"Zero", 0, DefaultSmallSize},
		{"Small", 100, DefaultSmallSize},
		{"SmallBoundary", DefaultSmallSize, DefaultSmallSize},
		{"JustAboveSmall", DefaultSmallSize + 1, DefaultMediumSize},
		{"MediumBoundary", DefaultMediumSize, DefaultMediumSize},
		{"JustAboveMedium", DefaultMediumSize + 1, DefaultLargeSize},
		{"LargeBoundary", DefaultLargeSize, DefaultLargeSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := pool.Get(tc.size)
			defer pool.Put(buf)

			assert.Equal(t, tc.size, len(buf))
			assert.Equal(t, tc.wantCap, cap(buf))
		})
	}

	t.Run("Oversized", func(t *testing.T) {
		buf := pool.Get(DefaultLargeSize + 1)
		assert.Equal(t, DefaultLargeSize+1, len(buf))
		assert.Equal(t, len(buf), cap(buf))
		pool.Put(buf)
	})
}

// ============================================================================
// Frame Tests
// ============================================================================

func TestGetFrame(t *testing.T) {
	t.Run("ReservesHeader", func(t *testing.T) {
		frame := GetFrame(4)
		defer Put(frame)

		assert.Equal(t, FrameHeaderSize+4, len(frame))
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		frame := GetFrame(0)
		defer Put(frame)

		assert.Len(t, frame, FrameHeaderSize)
	})

	t.Run("HeaderPushesIntoNextTier", func(t *testing.T) {
		pool := NewPool(nil)
		frame := pool.GetFrame(DefaultSmallSize)
		defer pool.Put(frame)

		assert.Equal(t, DefaultMediumSize, cap(frame))
	})
}

// ============================================================================
// Put and Stats Tests
// ============================================================================

func TestPutAndStats(t *testing.T) {
	t.Run("CountsPooledRoundTrips", func(t *testing.T) {
		pool := NewPool(nil)

		buf := pool.Get(1024)
		pool.Put(buf)
		big := pool.Get(DefaultLargeSize * 2)
		pool.Put(big)

		st := pool.Stats()
		assert.Equal(t, uint64(2), st.Gets)
		assert.Equal(t, uint64(1), st.Puts)
		assert.Equal(t, uint64(1), st.Oversized)
	})

	t.Run("IgnoresForeignBuffers", func(t *testing.T) {
		pool := NewPool(nil)
		require.NotPanics(t, func() {
			pool.Put(nil)
			pool.Put([]byte{})
			pool.Put(make([]byte, 10))
		})
		assert.Equal(t, uint64(0), pool.Stats().Puts)
	})

	t.Run("CustomSizes", func(t *testing.T) {
		pool := NewPool(&Config{SmallSize: 1024, MediumSize: 8192, LargeSize: 65536})

		small := pool.Get(500)
		assert.Equal(t, 1024, cap(small))
		pool.Put(small)

		large := pool.Get(10000)
		assert.Equal(t, 65536, cap(large))
		pool.Put(large)
	})

	t.Run("ZeroConfigValues", func(t *testing.T) {
		pool := NewPool(&Config{})
		buf := pool.Get(100)
		assert.Equal(t, DefaultSmallSize, cap(buf))
		pool.Put(buf)
	})

	t.Run("GlobalStatsAdvance", func(t *testing.T) {
		before := GlobalStats().Gets
		Put(Get(16))
		assert.Greater(t, GlobalStats().Gets, before)
	})
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestPoolConcurrency(t *testing.T) {
	const numGoroutines = 10
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				frame := GetFrame((id*100 + j) % (200 * 1024))
				frame[0] = byte(id)
				Put(frame)
			}
		}(i)
	}
	wg.Wait()
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkGetFrame(b *testing.B) {
	b.Run("Small", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			Put(GetFrame(1024))
		}
	})

	b.Run("Large", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			Put(GetFrame(512 * 1024))
		}
	})
}

func BenchmarkGetFrameParallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			Put(GetFrame(1024))
		}
	})
}
