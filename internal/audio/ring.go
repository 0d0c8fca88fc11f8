// Package audio buffers per-session PCM and mixes every active session into
// one output stream. All audio is 16-bit little-endian interleaved stereo at
// a single sample rate.
package audio

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a bounded byte FIFO between one network producer and one
// audio consumer. Write never blocks on the reader and Read never blocks on
// the writer: positions are published through atomics and the producer lock
// is only shared between writers.
type RingBuffer struct {
	buf []byte

	wmu sync.Mutex
	w   atomic.Int64 // total bytes written
	r   atomic.Int64 // total bytes read

	starved bool // reader only

	discardedChunks atomic.Int64
	discardedBytes  atomic.Int64
	underruns       atomic.Int64
}

// RingStats is a snapshot of buffer state.
type RingStats struct {
	Capacity        int   `json:"capacity"`
	Buffered        int   `json:"buffered"`
	DiscardedChunks int64 `json:"discardedChunks"`
	DiscardedBytes  int64 `json:"discardedBytes"`
	Underruns       int64 `json:"underruns"`
}

// NewRingBuffer allocates a buffer holding capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Cap returns the capacity in bytes.
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}

// Len returns the number of buffered bytes.
func (rb *RingBuffer) Len() int {
	return int(rb.w.Load() - rb.r.Load())
}

// Write appends chunk. If the whole chunk does not fit it is discarded and
// counted; the buffer never holds part of a chunk. Write returns the number
// of bytes accepted, which is either len(chunk) or zero.
func (rb *RingBuffer) Write(chunk []byte) int {
	if len(chunk) == 0 {
		return 0
	}
	rb.wmu.Lock()
	defer rb.wmu.Unlock()

	w := rb.w.Load()
	free := len(rb.buf) - int(w-rb.r.Load())
	if len(chunk) > free {
		rb.discardedChunks.Add(1)
		rb.discardedBytes.Add(int64(len(chunk)))
		return 0
	}

	off := int(w % int64(len(rb.buf)))
	n := copy(rb.buf[off:], chunk)
	copy(rb.buf, chunk[n:])
	rb.w.Store(w + int64(len(chunk)))
	return len(chunk)
}

// WriteSilence appends up to n zero bytes, as many as fit, and returns the
// number queued. Silence is never counted as a discard.
func (rb *RingBuffer) WriteSilence(n int) int {
	if n <= 0 {
		return 0
	}
	rb.wmu.Lock()
	defer rb.wmu.Unlock()

	w := rb.w.Load()
	n = min(n, len(rb.buf)-int(w-rb.r.Load()))
	off := int(w % int64(len(rb.buf)))
	head := min(n, len(rb.buf)-off)
	clear(rb.buf[off : off+head])
	clear(rb.buf[:n-head])
	rb.w.Store(w + int64(n))
	return n
}

// Read fills p completely: buffered bytes first, silence for the rest. It
// returns how many bytes came from the buffer. Read must not be called
// concurrently with itself.
func (rb *RingBuffer) Read(p []byte) int {
	r := rb.r.Load()
	avail := int(rb.w.Load() - r)
	n := min(len(p), avail)

	if n > 0 {
		off := int(r % int64(len(rb.buf)))
		m := copy(p[:n], rb.buf[off:])
		copy(p[m:n], rb.buf)
		rb.r.Store(r + int64(n))
	}
	clear(p[n:])

	short := n < len(p)
	if short && !rb.starved {
		rb.underruns.Add(1)
	}
	rb.starved = short
	return n
}

// Stats returns a snapshot of buffer counters.
func (rb *RingBuffer) Stats() RingStats {
	return RingStats{
		Capacity:        len(rb.buf),
		Buffered:        rb.Len(),
		DiscardedChunks: rb.discardedChunks.Load(),
		DiscardedBytes:  rb.discardedBytes.Load(),
		Underruns:       rb.underruns.Load(),
	}
}
