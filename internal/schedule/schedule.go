// Package schedule provides the clock and periodic-task abstractions used by
// background loops. Components receive a Scheduler and a Clock at construction
// instead of starting free-running timers, so tests can step time explicitly.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Task is a unit of periodic work. It must honour ctx cancellation.
type Task func(ctx context.Context)

// Handle cancels a scheduled task. Stop is idempotent and waits for an
// in-flight run to return.
type Handle interface {
	Stop()
}

// Scheduler runs a task on a fixed interval until its handle is stopped or
// the context is cancelled.
type Scheduler interface {
	Every(ctx context.Context, interval time.Duration, task Task) Handle
}

// Clock abstracts wall time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// TickerScheduler drives tasks from time.Ticker.
type TickerScheduler struct {
	// RunImmediately executes the task once before the first tick.
	RunImmediately bool
}

// Every starts a goroutine that calls task on every tick.
func (s TickerScheduler) Every(ctx context.Context, interval time.Duration, task Task) Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &tickerHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		if s.RunImmediately {
			task(ctx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()

	return h
}

type tickerHandle struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *tickerHandle) Stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}
