package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameStatsSampleResets(t *testing.T) {
	t.Parallel()
	var s FrameStats
	for i := 0; i < 30; i++ {
		s.recordDecoded()
	}
	s.recordDropped(DroppedBusy)
	s.recordDropped(DroppedSuspended)

	sample := s.Sample(time.Second)
	assert.Equal(t, int64(30), sample.Decoded)
	assert.Equal(t, int64(2), sample.Dropped)
	assert.InDelta(t, 30.0, sample.FPS(), 0.001)

	sample = s.Sample(time.Second)
	assert.Zero(t, sample.Decoded)
	assert.Zero(t, sample.Dropped)

	totals := s.Totals()
	assert.Equal(t, int64(30), totals.Decoded)
	assert.Equal(t, int64(2), totals.Dropped)
	assert.Equal(t, int64(1), totals.DroppedBusy)
	assert.Equal(t, int64(1), totals.DroppedSuspended)
}

func TestFrameSampleZeroInterval(t *testing.T) {
	t.Parallel()
	assert.Zero(t, FrameSample{Decoded: 10}.FPS())
}

func TestRunSampler(t *testing.T) {
	t.Parallel()
	var s FrameStats
	s.recordDecoded()

	samples := make(chan FrameSample, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunSampler(ctx, 5*time.Millisecond, nil, func(fs FrameSample) {
		select {
		case samples <- fs:
		default:
		}
	})

	select {
	case fs := <-samples:
		assert.Equal(t, int64(1), fs.Decoded)
		assert.Positive(t, fs.Interval)
	case <-time.After(time.Second):
		require.Fail(t, "no sample")
	}
}
