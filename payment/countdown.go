package payment

import (
	"sync"
	"time"
)

// Countdown derives the remaining time-to-expiry from an expiry
// timestamp. Remaining time is recomputed on every tick, never stored,
// so a late or coalesced tick cannot drift the countdown. When the
// remaining time reaches zero it fires the expire callback exactly once
// and stops ticking.
type Countdown struct {
	clock Clock
	tick  time.Duration

	mu     sync.Mutex
	active *countdownRun
}

type countdownRun struct {
	mu      sync.Mutex
	stopped bool
	timer   Timer
}

func NewCountdown(clock Clock, tick time.Duration) *Countdown {
	return &Countdown{clock: clock, tick: tick}
}

// Arm starts ticking toward expiresAt. onTick receives the remaining
// duration clamped to zero; onExpire fires once when it hits zero.
// Re-arming replaces any previous countdown.
func (c *Countdown) Arm(expiresAt time.Time, onTick func(remaining time.Duration), onExpire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.active.stop()
	}

	run := &countdownRun{}
	run.timer = c.clock.AfterFunc(c.tick, func() { c.step(run, expiresAt, onTick, onExpire) })
	c.active = run
}

// Disarm cancels the countdown. Idempotent.
func (c *Countdown) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.active.stop()
		c.active = nil
	}
}

// Armed reports whether a countdown is currently ticking.
func (c *Countdown) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Countdown) step(run *countdownRun, expiresAt time.Time, onTick func(time.Duration), onExpire func()) {
	run.mu.Lock()
	if run.stopped {
		run.mu.Unlock()
		return
	}
	run.mu.Unlock()

	remaining := expiresAt.Sub(c.clock.Now())
	if remaining <= 0 {
		// Mark stopped before the callback so a re-entrant Disarm or a
		// racing tick cannot fire expiry twice.
		run.mu.Lock()
		run.stopped = true
		run.mu.Unlock()

		if onExpire != nil {
			onExpire()
		}
		return
	}

	if onTick != nil {
		onTick(remaining)
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if run.stopped {
		return
	}
	run.timer = c.clock.AfterFunc(c.tick, func() { c.step(run, expiresAt, onTick, onExpire) })
}

func (r *countdownRun) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}
