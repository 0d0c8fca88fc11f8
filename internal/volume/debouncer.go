// Package volume coalesces bursts of local volume changes into single
// outbound set-volume commands.
package volume

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQuietPeriod is how long requests must stop before the last one is
// sent.
const DefaultQuietPeriod = 300 * time.Millisecond

// Debouncer restarts a quiet-period timer on every Request and sends only the
// last requested value once the timer fires.
type Debouncer struct {
	log   *slog.Logger
	quiet time.Duration
	send  func(volume float64)

	sendMu sync.Mutex // held while send runs; Close waits on it

	mu         sync.Mutex
	timer      *time.Timer
	gen        uint64
	pending    float64
	remote     float64
	haveRemote bool
	closed     bool

	requests   atomic.Int64
	sent       atomic.Int64
	suppressed atomic.Int64
}

// Stats counts debouncer activity.
type Stats struct {
	Requests   int64 `json:"requests"`
	Sent       int64 `json:"sent"`
	Suppressed int64 `json:"suppressed"`
}

// New creates a debouncer that calls send with the settled value.
func New(quiet time.Duration, send func(volume float64), log *slog.Logger) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if log == nil {
		log = slog.Default()
	}
	return &Debouncer{
		log:   log.With("component", "volume"),
		quiet: quiet,
		send:  send,
	}
}

// Request records v and restarts the quiet period. Safe to call at any rate.
func (d *Debouncer) Request(v float64) {
	d.requests.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = v
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	v := d.pending
	if d.haveRemote && v == d.remote {
		d.mu.Unlock()
		d.suppressed.Add(1)
		return
	}
	d.remote, d.haveRemote = v, true
	d.mu.Unlock()

	d.log.Debug("sending volume", "volume", v)
	d.sent.Add(1)
	d.send(v)
}

// SetRemote records a volume reported by the peer. A later settled request
// for the same value is not sent back.
func (d *Debouncer) SetRemote(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remote, d.haveRemote = v, true
}

// Close cancels any pending send. After Close returns no further send
// happens.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	// Wait out a send that passed the closed check before we set it.
	d.sendMu.Lock()
	d.sendMu.Unlock()
}

// Stats returns a snapshot of debouncer counters.
func (d *Debouncer) Stats() Stats {
	return Stats{
		Requests:   d.requests.Load(),
		Sent:       d.sent.Load(),
		Suppressed: d.suppressed.Load(),
	}
}
