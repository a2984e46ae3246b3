// Package schedule provides explicitly cancellable timers so reconnection
// and housekeeping can be torn down deterministically and driven by a fake
// clock in tests.
package schedule

import (
	"sync"
	"time"
)

// Task is a pending one-shot callback
type Task interface {
	// Stop cancels the task. It returns false if the task already fired or
	// was stopped before.
	Stop() bool
}

// Clock abstracts time for everything in the pipeline that waits
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Task
}

// RealClock is the wall clock
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) AfterFunc(d time.Duration, fn func()) Task {
	return time.AfterFunc(d, fn)
}

// Periodic runs fn every interval until stopped
type Periodic struct {
	clock    Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	current Task
	stopped bool
}

// Every schedules fn to run each interval. The first run happens one
// interval from now.
func Every(clock Clock, interval time.Duration, fn func()) *Periodic {
	p := &Periodic{clock: clock, interval: interval, fn: fn}
	p.mu.Lock()
	p.current = clock.AfterFunc(interval, p.fire)
	p.mu.Unlock()
	return p
}

func (p *Periodic) fire() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.fn()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.current = p.clock.AfterFunc(p.interval, p.fire)
	}
}

// Stop cancels future runs. A run already in progress completes.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.current != nil {
		p.current.Stop()
	}
}
