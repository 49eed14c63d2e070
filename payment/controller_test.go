package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrpay/payment"
	"qrpay/payment/paymenttest"
)

// recorder captures controller events for assertions.
type recorder struct {
	mu        sync.Mutex
	generated []payment.QRCode
	statuses  []payment.Status
	confirmed []payment.Confirmation
	expired   int
	ticks     int
	errors    []string
}

func (r *recorder) events() payment.Events {
	return payment.Events{
		Generated: func(qr payment.QRCode) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.generated = append(r.generated, qr)
		},
		StatusChanged: func(status payment.Status) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, status)
		},
		Confirmed: func(conf payment.Confirmation) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.confirmed = append(r.confirmed, conf)
		},
		Expired: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.expired++
		},
		Tick: func(time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ticks++
		},
		Error: func(message, requestID string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, message)
		},
	}
}

type notifierSpy struct {
	mu       sync.Mutex
	requests []string
	messages []string
}

func (n *notifierSpy) GenerateFailed(ctx context.Context, requestID, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, requestID)
	n.messages = append(n.messages, message)
}

type fixture struct {
	clock    *paymenttest.FakeClock
	gateway  *paymenttest.MockGateway
	rec      *recorder
	notifier *notifierSpy
	ctrl     *payment.Controller
}

func newFixture(validity time.Duration) *fixture {
	clock := paymenttest.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	gateway := paymenttest.NewMockGateway(clock, validity)
	rec := &recorder{}
	notifier := &notifierSpy{}
	ctrl := payment.New(payment.Config{
		Gateway:  gateway,
		Notifier: notifier,
		Events:   rec.events(),
		Clock:    clock,
	})
	return &fixture{clock: clock, gateway: gateway, rec: rec, notifier: notifier, ctrl: ctrl}
}

func (f *fixture) openAndGenerate(t *testing.T, requestID string, amount float64) payment.QRCode {
	t.Helper()
	require.NoError(t, f.ctrl.Open(context.Background(), payment.Request{
		InstallmentID: requestID,
		Amount:        amount,
		Currency:      "USD",
	}))
	require.NoError(t, f.ctrl.Generate(context.Background()))
	qr := f.ctrl.QR()
	require.NotNil(t, qr)
	return *qr
}

func TestOpenRejectsInvalidRequests(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	err := f.ctrl.Open(context.Background(), payment.Request{Amount: 10, Currency: "USD"})
	assertions.ErrorIs(err, payment.ErrMissingID)

	err = f.ctrl.Open(context.Background(), payment.Request{InstallmentID: "inst-1", Amount: 0, Currency: "USD"})
	assertions.ErrorIs(err, payment.ErrInvalidAmount)

	assertions.Equal(payment.StatusIdle, f.ctrl.Status())
}

func TestGenerateEmitsQRCode(t *testing.T) {
	// Scenario: generate with amount 150.00 produces a payment id,
	// image data and the gateway-reported validity window.
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	qr := f.openAndGenerate(t, "inst-150", 150.00)

	assertions.NotEmpty(qr.PaymentID)
	assertions.NotEmpty(qr.ImageData)
	assertions.Equal(f.clock.Now().Add(15*time.Minute), qr.ExpiresAt)
	assertions.Equal(payment.StatusAwaiting, f.ctrl.Status())

	assertions.Len(f.rec.generated, 1)
	assertions.Equal(qr.PaymentID, f.rec.generated[0].PaymentID)
	assertions.Equal([]payment.Status{payment.StatusAwaiting}, f.rec.statuses)
}

func TestSecondGenerateWhileLiveIsNoOp(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	f.openAndGenerate(t, "inst-1", 50)
	assertions.NoError(f.ctrl.Generate(context.Background()))

	assertions.Equal(1, f.gateway.GenerateCalls(), "at most one live QR per request")
	assertions.Len(f.rec.generated, 1)
}

func TestGenerateFailureReturnsToIdleAndNotifiesAdmin(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	require.NoError(t, f.ctrl.Open(context.Background(), payment.Request{
		InstallmentID: "inst-err", Amount: 75, Currency: "USD",
	}))

	f.gateway.FailGenerate(errors.New("processor unavailable"))
	err := f.ctrl.Generate(context.Background())

	var gwErr *payment.GatewayError
	assertions.ErrorAs(err, &gwErr)
	assertions.Equal(payment.StatusIdle, f.ctrl.Status())
	assertions.Len(f.rec.errors, 1)
	assertions.Equal([]string{"inst-err"}, f.notifier.requests)

	// Recovery: a later generate succeeds from Idle.
	f.gateway.FailGenerate(nil)
	assertions.NoError(f.ctrl.Generate(context.Background()))
	assertions.Equal(payment.StatusAwaiting, f.ctrl.Status())
}

func TestFirstPollFiresAfterInitialDelay(t *testing.T) {
	// Scenario: zero queries at 119s post-generation, exactly one at 120s.
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	f.openAndGenerate(t, "inst-1", 100)

	f.clock.Advance(119 * time.Second)
	assertions.Equal(0, f.gateway.QueryCalls())

	f.clock.Advance(1 * time.Second)
	assertions.Equal(1, f.gateway.QueryCalls())

	f.clock.Advance(30 * time.Second)
	assertions.Equal(2, f.gateway.QueryCalls())
}

func TestPollConfirmationDisarmsEverything(t *testing.T) {
	// Scenario: a completed+verified query confirms the payment, fires
	// the hand-off exactly once and disarms poller and countdown.
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	qr := f.openAndGenerate(t, "inst-1", 100)
	f.gateway.SetReport(qr.PaymentID, payment.StatusReport{
		Status:   payment.GatewayStatusCompleted,
		Verified: true,
		Raw:      "settled",
	})

	f.clock.Advance(120 * time.Second)

	assertions.Equal(payment.StatusConfirmed, f.ctrl.Status())
	assertions.Len(f.rec.confirmed, 1)
	assertions.Equal(qr.PaymentID, f.rec.confirmed[0].PaymentID)
	assertions.Equal("settled", f.ctrl.RawStatus())

	// Neither schedule survives confirmation: no further queries, no
	// expiry signal even after the original validity window passes.
	queries := f.gateway.QueryCalls()
	f.clock.Advance(time.Hour)
	assertions.Equal(queries, f.gateway.QueryCalls())
	assertions.Equal(0, f.rec.expired)
}

func TestConfirmationIsIdempotentAcrossRacingSources(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	qr := f.openAndGenerate(t, "inst-1", 100)
	f.gateway.SetReport(qr.PaymentID, payment.StatusReport{
		Status:   payment.GatewayStatusCompleted,
		Verified: true,
	})

	// Manual check confirms first; the scheduled poll lands later with
	// the same verdict and must be ignored.
	require.NoError(t, f.ctrl.ManualCheck(context.Background()))
	f.clock.Advance(120 * time.Second)

	assertions.Equal(payment.StatusConfirmed, f.ctrl.Status())
	assertions.Len(f.rec.confirmed, 1, "hand-off trigger fires exactly once")

	countConfirmedStatus := 0
	for _, s := range f.rec.statuses {
		if s == payment.StatusConfirmed {
			countConfirmedStatus++
		}
	}
	assertions.Equal(1, countConfirmedStatus)
}

func TestUnverifiedCompletionStaysAwaiting(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	qr := f.openAndGenerate(t, "inst-1", 100)
	f.gateway.SetReport(qr.PaymentID, payment.StatusReport{
		Status:   payment.GatewayStatusCompleted,
		Verified: false,
		Raw:      "completed-unverified",
	})

	require.NoError(t, f.ctrl.ManualCheck(context.Background()))

	assertions.Equal(payment.StatusAwaiting, f.ctrl.Status())
	assertions.Equal("completed-unverified", f.ctrl.RawStatus())
	assertions.Empty(f.rec.confirmed)
}

func TestExpiryWhileUnconfirmed(t *testing.T) {
	// Scenario: countdown reaches zero with no confirmation; the state
	// becomes Expired and the poller is disarmed.
	assertions := assert.New(t)
	f := newFixture(5 * time.Minute)

	f.openAndGenerate(t, "inst-1", 100)
	f.clock.Advance(5 * time.Minute)

	assertions.Equal(payment.StatusExpired, f.ctrl.Status())
	assertions.Equal(1, f.rec.expired)

	queries := f.gateway.QueryCalls()
	f.clock.Advance(10 * time.Minute)
	assertions.Equal(queries, f.gateway.QueryCalls(), "no polls after expiry")
	assertions.Equal(1, f.rec.expired)

	// Expired is terminal for this cycle; the caller starts a fresh one.
	assertions.NoError(f.ctrl.Generate(context.Background()))
	assertions.Equal(payment.StatusAwaiting, f.ctrl.Status())
}

func TestTransientPollFailureKeepsSchedule(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	qr := f.openAndGenerate(t, "inst-1", 100)
	f.gateway.FailQuery(errors.New("gateway timeout"))

	f.clock.Advance(120 * time.Second)
	assertions.Equal(payment.StatusAwaiting, f.ctrl.Status())
	assertions.Empty(f.rec.errors, "transient poll failures are not surfaced to the payer")

	// The schedule self-corrects on the next tick.
	f.gateway.FailQuery(nil)
	f.gateway.SetReport(qr.PaymentID, payment.StatusReport{
		Status:   payment.GatewayStatusCompleted,
		Verified: true,
	})
	f.clock.Advance(30 * time.Second)
	assertions.Equal(payment.StatusConfirmed, f.ctrl.Status())
}

func TestGatewayFailedReportIsTerminal(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	qr := f.openAndGenerate(t, "inst-1", 100)
	f.gateway.SetReport(qr.PaymentID, payment.StatusReport{Status: payment.GatewayStatusFailed})

	require.NoError(t, f.ctrl.ManualCheck(context.Background()))

	assertions.Equal(payment.StatusFailed, f.ctrl.Status())
	assertions.Len(f.rec.errors, 1)

	queries := f.gateway.QueryCalls()
	f.clock.Advance(time.Hour)
	assertions.Equal(queries, f.gateway.QueryCalls())
	assertions.Equal(0, f.rec.expired)
}

func TestCloseCancelsAllScheduledWork(t *testing.T) {
	// No callback scheduled before Close may mutate state after it:
	// advance time well past every original schedule and assert nothing
	// changes.
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	f.openAndGenerate(t, "inst-1", 100)
	f.ctrl.Close()
	f.ctrl.Close() // idempotent

	assertions.Equal(payment.StatusIdle, f.ctrl.Status())
	assertions.Nil(f.ctrl.QR())

	f.clock.Advance(time.Hour)
	assertions.Equal(0, f.gateway.QueryCalls())
	assertions.Equal(0, f.rec.expired)
	assertions.Equal(payment.StatusIdle, f.ctrl.Status())
}

func TestManualCheckRequiresAwaitingState(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	err := f.ctrl.ManualCheck(context.Background())
	assertions.ErrorIs(err, payment.ErrNotAwaiting)
}

func TestOpenResumesPendingPaymentWithoutGenerate(t *testing.T) {
	// Scenario: close then open on the same request while the QR is
	// still valid resumes AwaitingConfirmation with the original
	// payment id and records no duplicate generate call.
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	qr := f.openAndGenerate(t, "inst-1", 100)
	f.ctrl.Close()

	require.NoError(t, f.ctrl.Open(context.Background(), payment.Request{
		InstallmentID: "inst-1", Amount: 100, Currency: "USD",
	}))

	assertions.Equal(payment.StatusAwaiting, f.ctrl.Status())
	resumed := f.ctrl.QR()
	require.NotNil(t, resumed)
	assertions.Equal(qr.PaymentID, resumed.PaymentID)
	assertions.Equal(1, f.gateway.GenerateCalls(), "resume must not call generate")

	// The resumed session polls and can confirm like a fresh one.
	f.gateway.SetReport(qr.PaymentID, payment.StatusReport{
		Status:   payment.GatewayStatusCompleted,
		Verified: true,
	})
	f.clock.Advance(120 * time.Second)
	assertions.Equal(payment.StatusConfirmed, f.ctrl.Status())
}

func TestOpenWithoutPendingStaysIdle(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	require.NoError(t, f.ctrl.Open(context.Background(), payment.Request{
		InstallmentID: "inst-new", Amount: 20, Currency: "USD",
	}))

	assertions.Equal(payment.StatusIdle, f.ctrl.Status())
	assertions.Nil(f.ctrl.QR())
	assertions.Equal(0, f.gateway.QueryCalls())
}

func TestOpenOnDifferentRequestClosesPreviousSession(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	f.openAndGenerate(t, "inst-1", 100)

	require.NoError(t, f.ctrl.Open(context.Background(), payment.Request{
		InstallmentID: "inst-2", Amount: 60, Currency: "USD",
	}))
	assertions.Equal(payment.StatusIdle, f.ctrl.Status())

	// Timers from the first session must not mutate state for the
	// second one.
	f.clock.Advance(time.Hour)
	assertions.Equal(0, f.gateway.QueryCalls())
	assertions.Equal(0, f.rec.expired)
	assertions.Equal(payment.StatusIdle, f.ctrl.Status())
}

func TestCountdownTicksReachCaller(t *testing.T) {
	assertions := assert.New(t)
	f := newFixture(15 * time.Minute)

	f.openAndGenerate(t, "inst-1", 100)
	f.clock.Advance(10 * time.Second)

	assertions.Equal(10, f.rec.ticks)
	assertions.Equal(15*time.Minute-10*time.Second, f.ctrl.Remaining())
}
