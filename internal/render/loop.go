package render

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop is a serial Dispatcher: tasks run one at a time, in submission order,
// on the goroutine that calls Run. It stands in for a UI thread's dispatcher
// queue and is passed to gates explicitly.
type Loop struct {
	log     *slog.Logger
	tasks   chan func()
	refresh time.Duration

	mu      sync.Mutex
	stopped bool
}

// NewLoop creates a loop that holds at most queue pending tasks.
func NewLoop(queue int, log *slog.Logger) *Loop {
	if queue <= 0 {
		queue = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		log:   log.With("component", "present-loop"),
		tasks: make(chan func(), queue),
	}
}

// Dispatch queues task without blocking. It returns false when the queue is
// full or the loop has stopped.
func (l *Loop) Dispatch(task func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	select {
	case l.tasks <- task:
		return true
	default:
		return false
	}
}

// SetRefreshInterval makes Run process queued tasks once per interval, the
// way a compositor services its queue on each display refresh. Zero runs
// tasks as soon as they arrive. Call before Run.
func (l *Loop) SetRefreshInterval(d time.Duration) {
	l.refresh = d
}

// Run executes tasks until ctx is cancelled. Tasks already queued when ctx
// ends still run so that no gate is left waiting on a completion.
func (l *Loop) Run(ctx context.Context) error {
	if l.refresh > 0 {
		return l.runPaced(ctx)
	}
	for {
		select {
		case task := <-l.tasks:
			task()
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			l.flush()
			return nil
		}
	}
}

func (l *Loop) runPaced(ctx context.Context) error {
	ticker := time.NewTicker(l.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for n := len(l.tasks); n > 0; n-- {
				(<-l.tasks)()
			}
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			l.flush()
			return nil
		}
	}
}

func (l *Loop) flush() {
	n := 0
	for {
		select {
		case task := <-l.tasks:
			task()
			n++
		default:
			if n > 0 {
				l.log.Debug("flushed tasks on stop", "count", n)
			}
			return
		}
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	return len(l.tasks)
}
