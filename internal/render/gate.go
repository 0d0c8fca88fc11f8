// Package render hands decoded frames from a session's decode task to the
// presentation layer. At most one frame per session is in flight to the
// presenter; frames that arrive while it is busy are dropped, not queued.
package render

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/airsink/internal/media"
)

// Result is the outcome of Gate.Offer.
type Result int

const (
	Accepted Result = iota
	DroppedBusy
	DroppedSuspended
	DroppedClosed
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case DroppedBusy:
		return "busy"
	case DroppedSuspended:
		return "suspended"
	case DroppedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Presenter is the presentation layer for one session. Present must copy or
// fully consume pix before returning; the buffer goes back to the pool
// afterwards. Both methods run on the dispatcher, never concurrently.
type Presenter interface {
	Resize(width, height int)
	Present(pix []byte, width, height int)
}

// Dispatcher runs tasks on the presentation domain. Dispatch returns false if
// the task was not scheduled.
type Dispatcher interface {
	Dispatch(task func()) bool
}

// Gate is the single-slot handoff between a decode task and a Presenter.
type Gate struct {
	log        *slog.Logger
	presenter  Presenter
	dispatcher Dispatcher
	stats      *FrameStats

	suspended atomic.Bool
	closed    atomic.Bool
	inFlight  atomic.Bool

	mu      sync.Mutex // guards current and idle
	current *media.DecodedFrame
	idle    chan struct{}
}

// NewGate creates a gate delivering to p through d. A nil stats creates a
// private FrameStats.
func NewGate(p Presenter, d Dispatcher, stats *FrameStats, log *slog.Logger) *Gate {
	if stats == nil {
		stats = &FrameStats{}
	}
	if log == nil {
		log = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Gate{
		log:        log.With("component", "render-gate"),
		presenter:  p,
		dispatcher: d,
		stats:      stats,
		idle:       idle,
	}
}

// Offer takes ownership of frame and either schedules it for presentation or
// releases it. It never blocks on the presenter.
func (g *Gate) Offer(frame *media.DecodedFrame) Result {
	if g.closed.Load() {
		return g.drop(frame, DroppedClosed)
	}
	if g.suspended.Load() {
		return g.drop(frame, DroppedSuspended)
	}
	if !g.inFlight.CompareAndSwap(false, true) {
		return g.drop(frame, DroppedBusy)
	}

	g.mu.Lock()
	stale := g.current
	g.current = frame
	g.idle = make(chan struct{})
	g.mu.Unlock()
	stale.Release()

	if !g.dispatcher.Dispatch(g.deliver) {
		g.mu.Lock()
		f := g.current
		g.current = nil
		g.mu.Unlock()
		g.complete()
		return g.drop(f, DroppedClosed)
	}
	g.stats.recordDecoded()
	return Accepted
}

func (g *Gate) drop(frame *media.DecodedFrame, r Result) Result {
	frame.Release()
	g.stats.recordDropped(r)
	return r
}

// deliver runs on the dispatcher. It presents the current frame, returns it
// to the pool and raises the completion signal.
func (g *Gate) deliver() {
	g.mu.Lock()
	f := g.current
	g.current = nil
	g.mu.Unlock()

	defer g.complete()
	if f == nil {
		return
	}
	defer f.Release()
	g.presenter.Present(f.Pix, f.Width, f.Height)
}

func (g *Gate) complete() {
	g.mu.Lock()
	g.inFlight.Store(false)
	select {
	case <-g.idle:
	default:
		close(g.idle)
	}
	g.mu.Unlock()
}

// Resize schedules a surface resize on the dispatcher. Because the dispatcher
// is serial the resize runs before any frame offered after this call.
func (g *Gate) Resize(width, height int) {
	if g.closed.Load() {
		return
	}
	if !g.dispatcher.Dispatch(func() { g.presenter.Resize(width, height) }) {
		g.log.Warn("resize not scheduled", "width", width, "height", height)
	}
}

// SetSuspended marks the surface hidden (minimized) or visible again.
func (g *Gate) SetSuspended(suspended bool) {
	g.suspended.Store(suspended)
}

// Suspended reports whether offers are currently dropped as suspended.
func (g *Gate) Suspended() bool {
	return g.suspended.Load()
}

// InFlight reports whether a frame is being delivered.
func (g *Gate) InFlight() bool {
	return g.inFlight.Load()
}

// Close stops accepting frames and releases any frame still waiting in the
// slot. A delivery already running finishes normally.
func (g *Gate) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.mu.Lock()
	f := g.current
	g.current = nil
	g.mu.Unlock()
	f.Release()
}

// Drain waits until no delivery is in flight or ctx is done.
func (g *Gate) Drain(ctx context.Context) error {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the gate's frame statistics.
func (g *Gate) Stats() *FrameStats {
	return g.stats
}
