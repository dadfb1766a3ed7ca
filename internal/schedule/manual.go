package schedule

import (
	"context"
	"sync"
	"time"
)

// ManualScheduler records scheduled tasks and runs them only when Tick is
// called. It is meant for tests that need deterministic control of
// background loops.
type ManualScheduler struct {
	mu    sync.Mutex
	next  int
	tasks map[int]manualTask
}

type manualTask struct {
	ctx      context.Context
	interval time.Duration
	task     Task
}

// NewManualScheduler returns an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{tasks: make(map[int]manualTask)}
}

// Every registers task; it never runs on its own.
func (s *ManualScheduler) Every(ctx context.Context, interval time.Duration, task Task) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	s.tasks[id] = manualTask{ctx: ctx, interval: interval, task: task}
	return &manualHandle{s: s, id: id}
}

// Tick runs every registered task once, synchronously, and returns how many ran.
// Tasks whose context is already cancelled are dropped.
func (s *ManualScheduler) Tick() int {
	s.mu.Lock()
	pending := make([]manualTask, 0, len(s.tasks))
	for id, t := range s.tasks {
		if t.ctx.Err() != nil {
			delete(s.tasks, id)
			continue
		}
		pending = append(pending, t)
	}
	s.mu.Unlock()

	for _, t := range pending {
		t.task(t.ctx)
	}
	return len(pending)
}

// Len reports the number of registered tasks.
func (s *ManualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Interval returns the interval of the first registered task, or zero.
func (s *ManualScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := 0; id < s.next; id++ {
		if t, ok := s.tasks[id]; ok {
			return t.interval
		}
	}
	return 0
}

type manualHandle struct {
	s  *ManualScheduler
	id int
}

func (h *manualHandle) Stop() {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	delete(h.s.tasks, h.id)
}

// ManualClock is a Clock whose time only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current frozen time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
