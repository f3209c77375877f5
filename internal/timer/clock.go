// Package timer provides the wake timer used by the reminder cycle and the
// clock abstraction that makes its scheduling testable.
package timer

import (
	"sort"
	"sync"
	"time"
)

// Clock abstracts time for components that schedule work. Production code
// uses RealClock; tests drive a FakeClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc schedules fn after d and returns a cancel function.
	// Cancelling an already-fired or already-cancelled timer is a no-op.
	AfterFunc(d time.Duration, fn func()) func()
	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// After wraps time.After.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FakeClock is a manually advanced Clock for tests. Callbacks scheduled via
// AfterFunc run synchronously on the goroutine calling Advance, in deadline
// order.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	at        time.Time
	fn        func()
	ch        chan time.Time
	cancelled bool
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers fn to run once the clock advances past d.
func (c *FakeClock) AfterFunc(d time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{at: c.now.Add(d), fn: fn}
	c.waiters = append(c.waiters, w)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.cancelled = true
	}
}

// After returns a channel fulfilled once the clock advances past d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{at: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.waiters = append(c.waiters, w)
	return w.ch
}

// Advance moves the clock forward, firing due waiters in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeWaiter
		for _, w := range c.waiters {
			if w.cancelled || w.at.After(target) {
				continue
			}
			if next == nil || w.at.Before(next.at) {
				next = w
			}
		}
		if next == nil {
			break
		}
		next.cancelled = true
		c.now = next.at
		if next.ch != nil {
			next.ch <- c.now
			continue
		}
		fn := next.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.now = target
	c.compact()
	c.mu.Unlock()
}

// PendingCount returns the number of armed, unfired waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.cancelled {
			n++
		}
	}
	return n
}

// BlockUntilWaiters blocks until at least n waiters are armed, so a test
// can advance the clock without racing the goroutine that arms the timer.
func (c *FakeClock) BlockUntilWaiters(n int) {
	for c.PendingCount() < n {
		time.Sleep(time.Millisecond)
	}
}

// NextDeadline returns the earliest pending deadline, or the zero time when
// nothing is armed.
func (c *FakeClock) NextDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := make([]time.Time, 0, len(c.waiters))
	for _, w := range c.waiters {
		if !w.cancelled {
			pending = append(pending, w.at)
		}
	}
	if len(pending) == 0 {
		return time.Time{}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Before(pending[j]) })
	return pending[0]
}

func (c *FakeClock) compact() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.cancelled {
			kept = append(kept, w)
		}
	}
	c.waiters = kept
}
