package payment

import (
	"sync"
	"time"
)

// Poller schedules a single delayed first status check followed by
// fixed-interval subsequent checks. The delayed first check gives the
// gateway's asynchronous settlement pipeline time to complete before
// the first query, instead of burning queries against a payment that
// cannot have settled yet.
//
// Only one schedule is ever outstanding: Arm replaces any previous
// schedule, and Disarm is an idempotent hard cancel — once it returns,
// no pending callback from that schedule will run.
type Poller struct {
	clock        Clock
	initialDelay time.Duration
	interval     time.Duration

	mu     sync.Mutex
	active *pollRun
}

// pollRun is one armed schedule. Its presence on the Poller is the sole
// source of truth for "is a poll currently armed".
type pollRun struct {
	mu      sync.Mutex
	stopped bool
	timer   Timer
}

func NewPoller(clock Clock, initialDelay, interval time.Duration) *Poller {
	return &Poller{
		clock:        clock,
		initialDelay: initialDelay,
		interval:     interval,
	}
}

// Arm starts the delayed-then-periodic schedule. An already armed
// poller is disarmed first so two concurrent poll streams can never
// exist for the same payment.
func (p *Poller) Arm(onTick func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		p.active.stop()
	}

	run := &pollRun{}
	run.timer = p.clock.AfterFunc(p.initialDelay, func() { p.tick(run, onTick) })
	p.active = run
}

// Disarm cancels the pending first check and any periodic check. Safe
// to call when already disarmed.
func (p *Poller) Disarm() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		p.active.stop()
		p.active = nil
	}
}

// Armed reports whether a schedule is currently outstanding.
func (p *Poller) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

func (p *Poller) tick(run *pollRun, onTick func()) {
	run.mu.Lock()
	if run.stopped {
		run.mu.Unlock()
		return
	}
	run.mu.Unlock()

	// The callback runs outside the run lock so it may call Disarm.
	onTick()

	run.mu.Lock()
	defer run.mu.Unlock()
	if run.stopped {
		return
	}
	run.timer = p.clock.AfterFunc(p.interval, func() { p.tick(run, onTick) })
}

func (r *pollRun) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}
