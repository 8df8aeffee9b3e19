package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrDuplicateJob indicates a job with the same key is already scheduled.
	ErrDuplicateJob = errors.New("jobs: duplicate job key")
	// ErrSchedulerClosed indicates the scheduler no longer accepts jobs.
	ErrSchedulerClosed = errors.New("jobs: scheduler closed")
)

// Scheduler runs keyed one-shot callbacks at a future time inside the process.
// Jobs do not survive a restart; callers guard against replays by making the
// callbacks conditional on persisted state.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	ctx    context.Context
	cancel context.CancelFunc
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
	closed bool
}

// SchedulerOption customises scheduler construction.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock overrides the time source, mainly for tests.
func WithSchedulerClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSchedulerLogger attaches a structured log sink for job lifecycle events.
func WithSchedulerLogger(logger func(context.Context, string, map[string]any)) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler constructs an empty scheduler ready to accept jobs.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		timers: make(map[string]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
		clock:  time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers fn to run once at runAt. A key can hold at most one
// pending job; scheduling the same key again fails until the job fires or is
// cancelled.
func (s *Scheduler) Schedule(key string, runAt time.Time, fn func(ctx context.Context)) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("jobs: job key is required")
	}
	if fn == nil {
		return errors.New("jobs: job callback is required")
	}

	delay := runAt.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if _, exists := s.timers[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, key)
	}

	s.timers[key] = time.AfterFunc(delay, func() {
		s.fire(key, fn)
	})
	return nil
}

// Cancel drops a pending job. It reports whether a job was actually pending
// under the key.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	timer, ok := s.timers[strings.TrimSpace(key)]
	if ok {
		delete(s.timers, strings.TrimSpace(key))
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	timer.Stop()
	return true
}

// Close stops all pending timers and rejects further scheduling. Jobs already
// running observe a cancelled context.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	s.cancel()
}

func (s *Scheduler) fire(key string, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.timers[key]; !ok {
		// Cancelled after the timer fired but before this goroutine ran.
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	s.logger(s.ctx, "jobs.fired", map[string]any{"key": key})
	fn(s.ctx)
}

// Pending reports how many jobs are currently scheduled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
