package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	t.Parallel()
	l := NewLoop(8, nil)
	var order []int
	for i := 0; i < 5; i++ {
		require.True(t, l.Dispatch(func() { order = append(order, i) }))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	require.Eventually(t, func() bool { return l.Pending() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLoopFullQueue(t *testing.T) {
	t.Parallel()
	l := NewLoop(2, nil)
	assert.True(t, l.Dispatch(func() {}))
	assert.True(t, l.Dispatch(func() {}))
	assert.False(t, l.Dispatch(func() {}))
}

func TestLoopFlushesOnStop(t *testing.T) {
	t.Parallel()
	l := NewLoop(4, nil)
	ran := 0
	l.Dispatch(func() { ran++ })
	l.Dispatch(func() { ran++ })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))

	assert.Equal(t, 2, ran)
	assert.False(t, l.Dispatch(func() { ran++ }), "dispatch after stop")
}

func TestLoopPaced(t *testing.T) {
	t.Parallel()
	l := NewLoop(8, nil)
	l.SetRefreshInterval(10 * time.Millisecond)

	ran := make(chan time.Time, 2)
	start := time.Now()
	l.Dispatch(func() { ran <- time.Now() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	select {
	case at := <-ran:
		assert.GreaterOrEqual(t, at.Sub(start), 5*time.Millisecond, "task waits for the next refresh")
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}
