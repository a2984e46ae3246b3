package schedule

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. Due callbacks run synchronously
// inside Advance, in deadline order.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*fakeTask
}

type fakeTask struct {
	clock    *FakeClock
	deadline time.Time
	seq      int
	fn       func()
	done     bool
}

// NewFakeClock returns a clock frozen at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, fn func()) Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTask{clock: c, deadline: c.now.Add(d), seq: c.seq, fn: fn}
	c.tasks = append(c.tasks, t)
	return t
}

func (t *fakeTask) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.clock.removeLocked(t)
	return true
}

func (c *FakeClock) removeLocked(t *fakeTask) {
	for i, other := range c.tasks {
		if other == t {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
			return
		}
	}
}

// Advance moves time forward by d, firing every task that becomes due,
// including tasks scheduled by callbacks within the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.Slice(c.tasks, func(i, j int) bool {
			if c.tasks[i].deadline.Equal(c.tasks[j].deadline) {
				return c.tasks[i].seq < c.tasks[j].seq
			}
			return c.tasks[i].deadline.Before(c.tasks[j].deadline)
		})
		if len(c.tasks) == 0 || c.tasks[0].deadline.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.tasks[0]
		c.tasks = c.tasks[1:]
		next.done = true
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		c.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of scheduled tasks that have not fired
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// NextDeadline returns the earliest pending deadline
func (c *FakeClock) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tasks) == 0 {
		return time.Time{}, false
	}
	earliest := c.tasks[0].deadline
	for _, t := range c.tasks[1:] {
		if t.deadline.Before(earliest) {
			earliest = t.deadline
		}
	}
	return earliest, true
}
