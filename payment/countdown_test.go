package payment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"qrpay/payment"
	"qrpay/payment/paymenttest"
)

func TestCountdownTicksDownAndExpiresOnce(t *testing.T) {
	assertions := assert.New(t)

	clock := paymenttest.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	countdown := payment.NewCountdown(clock, time.Second)

	var remaining []time.Duration
	expired := 0
	countdown.Arm(clock.Now().Add(5*time.Second),
		func(r time.Duration) { remaining = append(remaining, r) },
		func() { expired++ })

	clock.Advance(3 * time.Second)
	assertions.Equal([]time.Duration{4 * time.Second, 3 * time.Second, 2 * time.Second}, remaining)
	assertions.Equal(0, expired)

	clock.Advance(10 * time.Second)
	assertions.Equal(1, expired, "expiry fires exactly once and ticking stops")
	assertions.Len(remaining, 4)
	assertions.Equal(time.Second, remaining[3])

	clock.Advance(time.Hour)
	assertions.Equal(1, expired)
}

func TestCountdownDisarmStopsTicking(t *testing.T) {
	assertions := assert.New(t)

	clock := paymenttest.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	countdown := payment.NewCountdown(clock, time.Second)

	ticks, expired := 0, 0
	countdown.Arm(clock.Now().Add(30*time.Second),
		func(time.Duration) { ticks++ },
		func() { expired++ })

	clock.Advance(5 * time.Second)
	assertions.Equal(5, ticks)

	countdown.Disarm()
	countdown.Disarm()
	assertions.False(countdown.Armed())

	clock.Advance(time.Minute)
	assertions.Equal(5, ticks)
	assertions.Equal(0, expired, "no expiry after disarm, even past the deadline")
}

func TestCountdownRearmReplacesDeadline(t *testing.T) {
	assertions := assert.New(t)

	clock := paymenttest.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	countdown := payment.NewCountdown(clock, time.Second)

	firstExpired, secondExpired := 0, 0
	countdown.Arm(clock.Now().Add(3*time.Second), nil, func() { firstExpired++ })
	countdown.Arm(clock.Now().Add(10*time.Second), nil, func() { secondExpired++ })

	clock.Advance(5 * time.Second)
	assertions.Equal(0, firstExpired, "replaced countdown must not fire")
	assertions.Equal(0, secondExpired)

	clock.Advance(5 * time.Second)
	assertions.Equal(1, secondExpired)
}
