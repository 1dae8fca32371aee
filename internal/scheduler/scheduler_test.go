package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestEveryFiresRepeatedly(t *testing.T) {
	var calls atomic.Int32
	s := Every(context.Background(), 10*time.Millisecond, func(context.Context) {
		calls.Add(1)
	}, zaptest.NewLogger(t))
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestFirstCallWaitsOneInterval(t *testing.T) {
	var calls atomic.Int32
	s := Every(context.Background(), time.Hour, func(context.Context) {
		calls.Add(1)
	}, zaptest.NewLogger(t))

	time.Sleep(20 * time.Millisecond)
	s.Stop()
	assert.Zero(t, calls.Load())
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32

	s := Every(context.Background(), 5*time.Millisecond, func(context.Context) {
		calls.Add(1)
		<-release
	}, zaptest.NewLogger(t))

	assert.Eventually(t, func() bool { return s.Skipped() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), s.Fired())

	close(release)
	s.Stop()
}

func TestStopWaitsForRunningCall(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	s := Every(context.Background(), 5*time.Millisecond, func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	}, zaptest.NewLogger(t))

	<-started
	s.Stop()
	assert.True(t, finished.Load())

	fired := s.Fired()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, fired, s.Fired(), "no calls after Stop")

	s.Stop()
}

func TestParentContextEndsSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	s := Every(ctx, 5*time.Millisecond, func(context.Context) { calls.Add(1) }, zaptest.NewLogger(t))
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	s.Stop()
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestPanicDoesNotStopSchedule(t *testing.T) {
	var calls atomic.Int32
	s := Every(context.Background(), 5*time.Millisecond, func(context.Context) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}, zaptest.NewLogger(t))
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
