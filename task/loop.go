package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock is a monotonic time source, as an offset from an arbitrary origin.
type Clock interface {
	Now() time.Duration
}

// SystemClock reads the process monotonic clock.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock { return &SystemClock{start: time.Now()} }

func (c *SystemClock) Now() time.Duration { return time.Since(c.start) }

// FakeClock only moves when told to.
type FakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *FakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Task is a cooperative component: Poll does whatever work is pending
// without blocking and reports how long the loop may sleep.
type Task interface {
	Poll() State
}

// TaskFunc adapts a function to Task.
type TaskFunc func() State

func (f TaskFunc) Poll() State { return f() }

// DefaultMaxSleep bounds a sleep with no deadline.
const DefaultMaxSleep = time.Second

// Loop is the super-loop: it polls every task, then sleeps until the
// earliest deadline they reported, or until Wake is called.
type Loop struct {
	MaxSleep time.Duration

	clock Clock
	log   *zap.Logger
	tasks []Task
	wake  chan struct{}

	mu   sync.Mutex
	last State
}

func NewLoop(clock Clock, log *zap.Logger, tasks ...Task) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		MaxSleep: DefaultMaxSleep,
		clock:    clock,
		log:      log,
		tasks:    tasks,
		wake:     make(chan struct{}, 1),
	}
}

// Add registers t. Not safe once Run has started.
func (l *Loop) Add(t Task) { l.tasks = append(l.tasks, t) }

// Wake cuts the current or next sleep short. Safe from any goroutine.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Step polls every task once and returns their merged state.
func (l *Loop) Step() State {
	s := Merge()
	for _, t := range l.tasks {
		s = s.Merge(t.Poll())
	}
	l.mu.Lock()
	l.last = s
	l.mu.Unlock()
	return s
}

// Last returns the state of the latest Step.
func (l *Loop) Last() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// SleepFor returns how long the loop sleeps after reporting s.
func (l *Loop) SleepFor(s State) time.Duration {
	if s.Mode == Busy {
		return 0
	}
	d := l.MaxSleep
	if s.HasDeadline {
		d = min(d, s.Deadline-l.clock.Now())
	}
	return max(d, 0)
}

// Run steps until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		d := l.SleepFor(l.Step())
		if d == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-timer.C:
		}
	}
}
