package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Scheduler calls a function on a fixed cadence until stopped
type Scheduler struct {
	interval time.Duration
	fn       func(context.Context)
	logger   *zap.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	running atomic.Bool
	fired   atomic.Uint64
	skipped atomic.Uint64
}

// Every starts calling fn every interval, the first call one interval from
// now. Each call runs on its own goroutine so a slow call never shifts the
// ticks; a tick that arrives while the previous call is still running is
// skipped. The schedule ends when ctx is done or Stop is called.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context), logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		interval: interval,
		fn:       fn,
		logger:   logger,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.loop(ctx)
	return s
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debug("Previous run still in progress, skipping tick",
			zap.Duration("interval", s.interval))
		return
	}

	s.fired.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Scheduled run panicked", zap.Any("error", r))
			}
		}()

		s.fn(ctx)
	}()
}

// Stop cancels future calls and waits for the one in flight. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(s.cancel)
	s.wg.Wait()
}

// Fired returns how many calls were started
func (s *Scheduler) Fired() uint64 {
	return s.fired.Load()
}

// Skipped returns how many ticks were dropped because a call was still running
func (s *Scheduler) Skipped() uint64 {
	return s.skipped.Load()
}
