package payment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"qrpay/payment"
	"qrpay/payment/paymenttest"
)

func TestPollerDelayedThenPeriodic(t *testing.T) {
	assertions := assert.New(t)

	clock := paymenttest.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	poller := payment.NewPoller(clock, 120*time.Second, 30*time.Second)

	ticks := 0
	poller.Arm(func() { ticks++ })
	assertions.True(poller.Armed())

	// First check never fires before the initial delay has elapsed.
	clock.Advance(119 * time.Second)
	assertions.Equal(0, ticks)

	clock.Advance(1 * time.Second)
	assertions.Equal(1, ticks)

	// Subsequent checks are spaced by exactly the poll interval.
	clock.Advance(29 * time.Second)
	assertions.Equal(1, ticks)
	clock.Advance(1 * time.Second)
	assertions.Equal(2, ticks)
	clock.Advance(90 * time.Second)
	assertions.Equal(5, ticks)
}

func TestPollerRearmReplacesSchedule(t *testing.T) {
	assertions := assert.New(t)

	clock := paymenttest.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	poller := payment.NewPoller(clock, 10*time.Second, 5*time.Second)

	first, second := 0, 0
	poller.Arm(func() { first++ })
	clock.Advance(4 * time.Second)

	// Re-arming without disarming must replace the previous schedule so
	// two poll streams never run for the same payment.
	poller.Arm(func() { second++ })
	clock.Advance(20 * time.Second)

	assertions.Equal(0, first)
	assertions.Equal(3, second) // at +10, +15, +20 relative to re-arm
}

func TestPollerDisarmIsIdempotentAndFinal(t *testing.T) {
	assertions := assert.New(t)

	clock := paymenttest.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	poller := payment.NewPoller(clock, 10*time.Second, 5*time.Second)

	ticks := 0
	poller.Arm(func() { ticks++ })
	clock.Advance(15 * time.Second)
	assertions.Equal(2, ticks)

	poller.Disarm()
	poller.Disarm()
	assertions.False(poller.Armed())

	// Time passing after disarm fires nothing.
	clock.Advance(time.Hour)
	assertions.Equal(2, ticks)
}

func TestPollerDisarmBeforeFirstTick(t *testing.T) {
	assertions := assert.New(t)

	clock := paymenttest.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	poller := payment.NewPoller(clock, 120*time.Second, 30*time.Second)

	ticks := 0
	poller.Arm(func() { ticks++ })
	poller.Disarm()

	clock.Advance(10 * time.Minute)
	assertions.Equal(0, ticks)
}
