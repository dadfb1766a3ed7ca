package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualSchedulerRunsOnlyOnTick(t *testing.T) {
	s := NewManualScheduler()
	var runs atomic.Int32

	h := s.Every(context.Background(), 30*time.Second, func(context.Context) { runs.Add(1) })
	assert.Equal(t, int32(0), runs.Load())
	assert.Equal(t, 30*time.Second, s.Interval())

	require.Equal(t, 1, s.Tick())
	require.Equal(t, 1, s.Tick())
	assert.Equal(t, int32(2), runs.Load())

	h.Stop()
	h.Stop()
	assert.Equal(t, 0, s.Tick())
	assert.Equal(t, int32(2), runs.Load())
}

func TestManualSchedulerDropsCancelledTasks(t *testing.T) {
	s := NewManualScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	s.Every(ctx, time.Second, func(context.Context) {})
	require.Equal(t, 1, s.Len())

	cancel()
	assert.Equal(t, 0, s.Tick())
	assert.Equal(t, 0, s.Len())
}

func TestTickerSchedulerStop(t *testing.T) {
	var runs atomic.Int32
	h := TickerScheduler{RunImmediately: true}.Every(context.Background(), 5*time.Millisecond, func(context.Context) {
		runs.Add(1)
	})

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	h.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}
