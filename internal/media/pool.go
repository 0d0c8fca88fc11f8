package media

import (
	"sync"
	"sync/atomic"
)

// DecodedFrame is one picture in packed BGRA. Width and Height may change
// between consecutive frames of the same session. A frame is owned by exactly
// one party at a time and must be handed back with Release once consumed or
// dropped.
type DecodedFrame struct {
	Pix    []byte
	Width  int
	Height int
	Stride int

	pool     *FramePool
	released atomic.Bool
}

// Release returns the pixel buffer to the pool it came from. Calling Release
// more than once, or on a nil frame, is a no-op.
func (f *DecodedFrame) Release() {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return
	}
	if f.pool != nil {
		f.pool.put(f)
	}
}

// Size returns the number of bytes a width x height BGRA picture occupies.
func Size(width, height int) int {
	return width * height * BytesPerPixel
}

// FramePool recycles pixel buffers across all sessions so that sustained
// high frame rates do not churn the allocator.
type FramePool struct {
	pool sync.Pool

	gets   atomic.Int64
	puts   atomic.Int64
	allocs atomic.Int64
}

// PoolStats is a snapshot of pool activity. Outstanding is the number of
// frames handed out and not yet released.
type PoolStats struct {
	Gets        int64 `json:"gets"`
	Puts        int64 `json:"puts"`
	Allocs      int64 `json:"allocs"`
	Outstanding int64 `json:"outstanding"`
}

// NewFramePool creates an empty pool.
func NewFramePool() *FramePool {
	return &FramePool{}
}

// Get returns a frame with a buffer of exactly Size(width, height) bytes.
// The buffer contents are unspecified.
func (p *FramePool) Get(width, height int) *DecodedFrame {
	p.gets.Add(1)
	need := Size(width, height)

	var buf []byte
	if v, ok := p.pool.Get().(*[]byte); ok && cap(*v) >= need {
		buf = (*v)[:need]
	} else {
		p.allocs.Add(1)
		buf = make([]byte, need)
	}

	return &DecodedFrame{
		Pix:    buf,
		Width:  width,
		Height: height,
		Stride: width * BytesPerPixel,
		pool:   p,
	}
}

func (p *FramePool) put(f *DecodedFrame) {
	p.puts.Add(1)
	buf := f.Pix[:0]
	f.Pix = nil
	p.pool.Put(&buf)
}

// Stats returns a snapshot of pool counters.
func (p *FramePool) Stats() PoolStats {
	gets := p.gets.Load()
	puts := p.puts.Load()
	return PoolStats{
		Gets:        gets,
		Puts:        puts,
		Allocs:      p.allocs.Load(),
		Outstanding: gets - puts,
	}
}
