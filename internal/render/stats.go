package render

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// FrameStats counts decoded and dropped frames for one session. Interval
// counters are reset by Sample; totals only grow.
type FrameStats struct {
	decoded atomic.Int64
	dropped atomic.Int64

	totalDecoded     atomic.Int64
	droppedBusy      atomic.Int64
	droppedSuspended atomic.Int64
	droppedClosed    atomic.Int64
}

// FrameSample holds the counts for one sampling interval.
type FrameSample struct {
	Decoded  int64         `json:"decoded"`
	Dropped  int64         `json:"dropped"`
	Interval time.Duration `json:"intervalNs"`
}

// FPS returns the decoded frame rate over the sample interval.
func (s FrameSample) FPS() float64 {
	if s.Interval <= 0 {
		return 0
	}
	return float64(s.Decoded) / s.Interval.Seconds()
}

// FrameTotals holds the cumulative counts since the gate was created.
type FrameTotals struct {
	Decoded          int64 `json:"decoded"`
	Dropped          int64 `json:"dropped"`
	DroppedBusy      int64 `json:"droppedBusy"`
	DroppedSuspended int64 `json:"droppedSuspended"`
	DroppedClosed    int64 `json:"droppedClosed"`
}

func (s *FrameStats) recordDecoded() {
	s.decoded.Add(1)
	s.totalDecoded.Add(1)
}

func (s *FrameStats) recordDropped(r Result) {
	s.dropped.Add(1)
	switch r {
	case DroppedBusy:
		s.droppedBusy.Add(1)
	case DroppedSuspended:
		s.droppedSuspended.Add(1)
	case DroppedClosed:
		s.droppedClosed.Add(1)
	}
}

// Sample returns the interval counters and resets them to zero.
func (s *FrameStats) Sample(interval time.Duration) FrameSample {
	return FrameSample{
		Decoded:  s.decoded.Swap(0),
		Dropped:  s.dropped.Swap(0),
		Interval: interval,
	}
}

// Totals returns the cumulative counters.
func (s *FrameStats) Totals() FrameTotals {
	busy := s.droppedBusy.Load()
	susp := s.droppedSuspended.Load()
	closed := s.droppedClosed.Load()
	return FrameTotals{
		Decoded:          s.totalDecoded.Load(),
		Dropped:          busy + susp + closed,
		DroppedBusy:      busy,
		DroppedSuspended: susp,
		DroppedClosed:    closed,
	}
}

// RunSampler samples s every interval and logs the result at Debug until ctx
// is cancelled. onSample, if non-nil, receives every sample.
func (s *FrameStats) RunSampler(ctx context.Context, interval time.Duration, log *slog.Logger, onSample func(FrameSample)) {
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sample := s.Sample(now.Sub(last))
			last = now
			log.Debug("frame stats", "fps", sample.FPS(), "decoded", sample.Decoded, "dropped", sample.Dropped)
			if onSample != nil {
				onSample(sample)
			}
		}
	}
}
