package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qrpay/utils"
)

// Defaults for the confirmation schedule. The 120 second first-check
// delay matches the gateway's settlement pipeline: querying earlier
// only returns not-yet-processed payments.
const (
	DefaultInitialPollDelay = 120 * time.Second
	DefaultPollInterval     = 30 * time.Second
	DefaultCountdownTick    = time.Second
	DefaultQueryTimeout     = 10 * time.Second
)

// Config configures a Controller.
type Config struct {
	// Gateway issues QR-generation and status-query requests
	Gateway Gateway
	// Notifier receives generate failures. Optional.
	Notifier Notifier
	// Events are the caller-facing lifecycle hooks
	Events Events
	// Clock drives the poller and countdown. Defaults to SystemClock.
	Clock Clock
	// InitialPollDelay before the first status check (default 120s)
	InitialPollDelay time.Duration
	// PollInterval between subsequent checks (default 30s)
	PollInterval time.Duration
	// CountdownTick granularity (default 1s)
	CountdownTick time.Duration
	// QueryTimeout bounds each scheduled status query (default 10s)
	QueryTimeout time.Duration
}

// Controller owns the QR payment state machine for a single payment
// request at a time. It creates and tears down the poller and
// countdown, funnels every update source (scheduled poll, manual check,
// resume-at-open, countdown expiry) through one serialized
// reconciliation routine, and guarantees that Close cancels all
// scheduled work before returning.
//
// Concurrency notes: gateway queries are idempotent reads, so a manual
// check is allowed to race a scheduled poll — both converge on the same
// canonical gateway truth and the last applied non-terminal update
// simply overwrites the raw status. Terminal transitions are protected
// the other way: the first one wins and disarms everything else.
type Controller struct {
	gateway      Gateway
	notifier     Notifier
	events       Events
	clock        Clock
	queryTimeout time.Duration

	poller    *Poller
	countdown *Countdown

	mu         sync.Mutex
	epoch      uint64 // bumped on Close; in-flight results from older epochs are discarded
	req        *Request
	qr         *QRCode
	status     Status
	rawStatus  string
	failStreak int
}

// New builds a Controller from config, applying schedule defaults.
func New(config Config) *Controller {
	clock := config.Clock
	if clock == nil {
		clock = SystemClock()
	}

	initialDelay := config.InitialPollDelay
	if initialDelay <= 0 {
		initialDelay = DefaultInitialPollDelay
	}
	interval := config.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	tick := config.CountdownTick
	if tick <= 0 {
		tick = DefaultCountdownTick
	}
	queryTimeout := config.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}

	return &Controller{
		gateway:      config.Gateway,
		notifier:     config.Notifier,
		events:       config.Events,
		clock:        clock,
		queryTimeout: queryTimeout,
		poller:       NewPoller(clock, initialDelay, interval),
		countdown:    NewCountdown(clock, tick),
		status:       StatusIdle,
	}
}

// Open binds the controller to a payment request and looks for an
// existing pending QR at the gateway. If one is found the session
// resumes in AwaitingConfirmation with the original payment id — no
// generate call is made. Otherwise the session stays Idle.
//
// Opening while another request is bound implicitly closes the previous
// session first, so a stale timer from the old request can never mutate
// state for the new one.
func (c *Controller) Open(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.req != nil {
		c.closeLocked()
	}
	c.epoch++
	epoch := c.epoch
	reqCopy := req
	c.req = &reqCopy
	c.status = StatusIdle
	c.mu.Unlock()

	pending, err := c.gateway.FindPending(ctx, req.InstallmentID)
	if err != nil {
		utils.Error("payment", "Resume lookup failed", "request_id", req.InstallmentID, "error", err)
		c.events.emitError(err.Error(), req.InstallmentID)
		return fmt.Errorf("find pending payment: %w", err)
	}
	if pending == nil || !pending.ExpiresAt.After(c.clock.Now()) {
		return nil
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// The session was closed or replaced while the lookup was in
		// flight; drop the stale result.
		c.mu.Unlock()
		return nil
	}
	qr := *pending
	c.qr = &qr
	c.status = StatusAwaiting
	c.armLocked()
	c.mu.Unlock()

	utils.Info("payment", "Resumed pending payment", "request_id", req.InstallmentID, "payment_id", qr.PaymentID)
	c.events.emitStatusChanged(StatusAwaiting)
	return nil
}

// Generate asks the gateway for a fresh QR code for the open request.
// It is a no-op while a code is already live or a generate is already
// in flight — at most one QR may be awaiting confirmation per request.
// A terminal session (expired, failed) may generate again to start a
// new cycle.
func (c *Controller) Generate(ctx context.Context) error {
	c.mu.Lock()
	if c.req == nil {
		c.mu.Unlock()
		return ErrNoOpenRequest
	}
	switch c.status {
	case StatusGenerating, StatusAwaiting:
		// Live or in flight: resume, never a silent duplicate.
		c.mu.Unlock()
		return nil
	case StatusConfirmed:
		requestID := c.requestID()
		c.mu.Unlock()
		return fmt.Errorf("payment already confirmed for request %s", requestID)
	}
	req := *c.req
	epoch := c.epoch
	c.status = StatusGenerating
	c.mu.Unlock()

	qr, err := c.gateway.Generate(ctx, req.InstallmentID, req.Amount)
	if err != nil {
		c.mu.Lock()
		if c.epoch == epoch && c.status == StatusGenerating {
			c.status = StatusIdle
		}
		c.mu.Unlock()

		utils.Error("payment", "QR generation failed", "request_id", req.InstallmentID, "error", err)
		c.events.emitError(err.Error(), req.InstallmentID)
		if c.notifier != nil {
			// Generate failures block the payer and cannot self-heal, so
			// the operator is signalled in addition to the caller.
			c.notifier.GenerateFailed(ctx, req.InstallmentID, err.Error())
		}
		return fmt.Errorf("generate qr: %w", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	code := *qr
	c.qr = &code
	c.status = StatusAwaiting
	c.rawStatus = GatewayStatusPending
	c.armLocked()
	c.mu.Unlock()

	utils.Info("payment", "QR code generated",
		"request_id", req.InstallmentID, "payment_id", code.PaymentID, "expires_at", code.ExpiresAt)
	c.events.emitGenerated(code)
	c.events.emitStatusChanged(StatusAwaiting)
	return nil
}

// ManualCheck issues a single on-demand status query. It may race the
// scheduled poll; both funnel into the same reconciliation routine.
func (c *Controller) ManualCheck(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusAwaiting || c.qr == nil {
		c.mu.Unlock()
		return ErrNotAwaiting
	}
	paymentID := c.qr.PaymentID
	epoch := c.epoch
	c.mu.Unlock()

	report, err := c.gateway.QueryStatus(ctx, paymentID)
	if err != nil {
		utils.Warn("payment", "Manual status check failed", "payment_id", paymentID, "error", err)
		return fmt.Errorf("query payment status: %w", err)
	}

	c.reconcile(epoch, report)
	return nil
}

// Close cancels the poller and countdown, discards in-memory state and
// returns the controller to a clean Idle slate. Idempotent; must be
// called whenever the payment request changes. Once Close returns, no
// callback scheduled before it will mutate controller state.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Controller) closeLocked() {
	c.epoch++
	c.poller.Disarm()
	c.countdown.Disarm()
	c.req = nil
	c.qr = nil
	c.rawStatus = ""
	c.failStreak = 0
	c.status = StatusIdle
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RawStatus returns the last raw gateway status observed.
func (c *Controller) RawStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawStatus
}

// QR returns a copy of the live QR code, or nil when none is held.
func (c *Controller) QR() *QRCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qr == nil {
		return nil
	}
	qr := *c.qr
	return &qr
}

// Request returns the open payment request, or nil.
func (c *Controller) Request() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.req == nil {
		return nil
	}
	req := *c.req
	return &req
}

// Remaining derives the time left on the live QR code, clamped to zero.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qr == nil {
		return 0
	}
	remaining := c.qr.ExpiresAt.Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// armLocked starts the countdown and poller for the held QR code.
// Caller holds c.mu.
func (c *Controller) armLocked() {
	c.failStreak = 0
	c.countdown.Arm(c.qr.ExpiresAt, c.events.emitTick, c.expire)
	c.poller.Arm(c.pollTick)
}

// pollTick is the scheduled status check. A failed query is not fatal:
// it is logged and the schedule continues uninterrupted on its next
// tick. No backoff — the interval is already coarse and the countdown
// bounds the total number of attempts.
func (c *Controller) pollTick() {
	c.mu.Lock()
	if c.status != StatusAwaiting || c.qr == nil || c.req == nil {
		c.mu.Unlock()
		return
	}
	paymentID := c.qr.PaymentID
	requestID := c.req.InstallmentID
	epoch := c.epoch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.queryTimeout)
	defer cancel()

	report, err := c.gateway.QueryStatus(ctx, paymentID)
	if err != nil {
		c.mu.Lock()
		c.failStreak++
		streak := c.failStreak
		c.mu.Unlock()
		utils.Warn("poller", "Status query failed; retrying on next tick",
			"request_id", requestID, "payment_id", paymentID, "consecutive_failures", streak, "error", err)
		return
	}

	c.mu.Lock()
	c.failStreak = 0
	c.mu.Unlock()

	c.reconcile(epoch, report)
}

// reconcile applies a gateway status report to the state machine. It is
// the single writer for the QRCode/status pair: every trigger (poll
// tick, manual check, resume) lands here. First terminal transition
// wins — once Confirmed, Expired or Failed, later reports are ignored,
// which also makes a duplicate confirmation a no-op.
func (c *Controller) reconcile(epoch uint64, report StatusReport) {
	c.mu.Lock()
	if c.epoch != epoch || c.status != StatusAwaiting || c.qr == nil || c.req == nil {
		c.mu.Unlock()
		return
	}

	if report.Raw != "" {
		c.rawStatus = report.Raw
	} else {
		c.rawStatus = report.Status
	}

	switch {
	case report.Verified && report.Status == GatewayStatusCompleted:
		conf := Confirmation{
			RequestID:   c.req.InstallmentID,
			PaymentID:   c.qr.PaymentID,
			Raw:         c.rawStatus,
			ConfirmedAt: c.clock.Now(),
		}
		c.status = StatusConfirmed
		c.poller.Disarm()
		c.countdown.Disarm()
		c.mu.Unlock()

		utils.Info("payment", "Payment confirmed", "request_id", conf.RequestID, "payment_id", conf.PaymentID)
		c.events.emitStatusChanged(StatusConfirmed)
		c.events.emitConfirmed(conf)

	case report.Status == GatewayStatusFailed:
		requestID := c.req.InstallmentID
		paymentID := c.qr.PaymentID
		c.status = StatusFailed
		c.poller.Disarm()
		c.countdown.Disarm()
		c.mu.Unlock()

		utils.Warn("payment", "Gateway reported payment failed", "request_id", requestID, "payment_id", paymentID)
		c.events.emitStatusChanged(StatusFailed)
		c.events.emitError("gateway reported payment failed", requestID)

	default:
		// Still pending: refresh display-relevant fields only, the
		// enumeration value does not change.
		c.mu.Unlock()
	}
}

// expire is the countdown's zero callback. Whichever terminal
// transition happens first — Confirmed via poll or Expired here — wins,
// and the loser is disarmed immediately.
func (c *Controller) expire() {
	c.mu.Lock()
	if c.status != StatusAwaiting {
		c.mu.Unlock()
		return
	}
	requestID := c.requestID()
	c.status = StatusExpired
	c.poller.Disarm()
	c.countdown.Disarm()
	c.mu.Unlock()

	utils.Info("payment", "Payment window expired unconfirmed", "request_id", requestID)
	c.events.emitStatusChanged(StatusExpired)
	c.events.emitExpired()
}

// requestID is a lock-held helper for log fields.
func (c *Controller) requestID() string {
	if c.req == nil {
		return ""
	}
	return c.req.InstallmentID
}
