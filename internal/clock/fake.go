package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time only moves on Advance, unless the
// clock was built with AutoFake, in which case every After call moves time
// forward by the requested duration and fires at once.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	auto    bool
	waiters []*fakeWaiter
	changed *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// AutoFake returns a FakeClock that advances itself whenever a caller waits.
func AutoFake(initial time.Time) *FakeClock {
	c := Fake(initial)
	c.auto = true
	return c
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a waiter that fires once the clock passes now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	if c.auto {
		c.current = c.current.Add(d)
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &fakeWaiter{deadline: c.current.Add(d), channel: ch})
	c.changed.Broadcast()
	return ch
}

// Advance moves the clock forward and fires every waiter whose deadline has
// passed, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	var due, remaining []*fakeWaiter
	for _, w := range c.waiters {
		if w.deadline.After(target) {
			remaining = append(remaining, w)
		} else {
			due = append(due, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, w := range due {
		select {
		case w.channel <- target:
		default:
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.changed.Wait()
	}
}

// PendingCount reports the number of registered waiters that have not fired.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
