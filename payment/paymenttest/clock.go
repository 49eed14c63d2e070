// Package paymenttest provides a simulated clock and a scriptable mock
// gateway for exercising the payment controller deterministically.
package paymenttest

import (
	"sort"
	"sync"
	"time"

	"qrpay/payment"
)

// FakeClock is a manually advanced payment.Clock. Advance fires due
// timers synchronously on the calling goroutine, in deadline order, so
// tests observe schedule effects without sleeping.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, fn func()) payment.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer whose
// deadline falls within the window. Callbacks may schedule new timers;
// those fire too if they land inside the same window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		// Callback runs outside the clock lock; it may call AfterFunc
		// or Stop re-entrantly.
		t.fn()
	}

	c.mu.Lock()
	if target.After(c.now) {
		c.now = target
	}
	c.mu.Unlock()
}

// nextDue pops the earliest unfired timer with deadline <= target and
// moves the clock to its deadline.
func (c *FakeClock) nextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make([]*fakeTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].deadline.Before(pending[j].deadline) })

	for _, t := range pending {
		if t.deadline.After(target) {
			break
		}
		t.fired = true
		if t.deadline.After(c.now) {
			c.now = t.deadline
		}
		return t
	}
	return nil
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
