// Package bufpool provides a tiered buffer pool for frame assembly.
//
// Every outbound NetBIOS frame is built in one contiguous buffer (4-byte
// session header followed by the payload) so it can be written with a single
// Write call. Pooling those buffers keeps the send path from allocating per
// message.
//
// # Size Tiers
//
//   - Small buffers (default 4KB): negotiation and control messages
//   - Medium buffers (default 64KB): typical SMB read/write payloads
//   - Large buffers (default 1MB): maximum-size transfers
//
// Buffers larger than the large tier are allocated directly and not pooled
// to avoid keeping very large buffers in memory indefinitely.
//
// # Thread Safety
//
// All operations are safe for concurrent use.
//
// # Usage
//
//	frame := bufpool.GetFrame(len(payload))
//	defer bufpool.Put(frame)
//	// frame[:4] is the header, frame[4:] the payload
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Default buffer size classes.
const (
	// DefaultSmallSize handles control messages (4KB)
	DefaultSmallSize = 4 << 10

	// DefaultMediumSize handles common payloads (64KB)
	DefaultMediumSize = 64 << 10

	// DefaultLargeSize handles maximum-size transfers (1MB)
	DefaultLargeSize = 1 << 20
)

// FrameHeaderSize is the session header size reserved by GetFrame.
const FrameHeaderSize = 4

// Pool manages a set of byte slice pools organized by size class.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int

	gets      atomic.Uint64
	puts      atomic.Uint64
	oversized atomic.Uint64
}

// Config holds configuration for creating a custom buffer pool.
type Config struct {
	// SmallSize is the size of small buffers (default: 4KB)
	SmallSize int

	// MediumSize is the size of medium buffers (default: 64KB)
	MediumSize int

	// LargeSize is the size of large buffers (default: 1MB)
	LargeSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// Stats is a snapshot of pool usage counters.
type Stats struct {
	Gets      uint64
	Puts      uint64
	Oversized uint64
}

// NewPool creates a new buffer pool with the given configuration.
// If cfg is nil, default values are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}
	p.small.New = p.alloc(p.smallSize)
	p.medium.New = p.alloc(p.mediumSize)
	p.large.New = p.alloc(p.largeSize)
	return p
}

func (p *Pool) alloc(size int) func() any {
	return func() any {
		buf := make([]byte, size)
		return &buf
	}
}

// Get returns a byte slice of exactly size bytes, backed by a pooled buffer
// when size fits a tier. Call Put when done.
func (p *Pool) Get(size int) []byte {
	p.gets.Add(1)

	var bufPtr *[]byte
	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		p.oversized.Add(1)
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:max(size, 0)]
}

// GetFrame returns a buffer of FrameHeaderSize+payload bytes.
func (p *Pool) GetFrame(payload int) []byte {
	return p.Get(FrameHeaderSize + payload)
}

// Put returns a buffer obtained from Get. Buffers whose capacity matches no
// tier are left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.smallSize:
		p.small.Put(&full)
	case p.mediumSize:
		p.medium.Put(&full)
	case p.largeSize:
		p.large.Put(&full)
	default:
		return
	}
	p.puts.Add(1)
}

// Stats returns the pool usage counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Gets:      p.gets.Load(),
		Puts:      p.puts.Load(),
		Oversized: p.oversized.Load(),
	}
}

// =============================================================================
// Global Pool
// =============================================================================

var globalPool = NewPool(nil)

// Get returns a buffer from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// GetFrame returns a frame buffer from the global pool.
func GetFrame(payload int) []byte {
	return globalPool.GetFrame(payload)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// GlobalStats returns the usage counters of the global pool.
func GlobalStats() Stats {
	return globalPool.Stats()
}
