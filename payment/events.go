package payment

import "time"

// Events are the caller-facing lifecycle hooks. The controller carries
// no presentation or notification dependency; the caller wires these to
// whatever layer it uses (SSE, logs, a message broker). Every field is
// optional — nil hooks are skipped.
//
// Hooks are invoked outside the controller's state lock, so they may
// call back into the controller (e.g. read Status) without deadlocking.
type Events struct {
	// Generated fires after a successful generate with the live QR code.
	Generated func(qr QRCode)
	// StatusChanged fires whenever the lifecycle enumeration changes
	// value. Non-terminal poll updates that only refresh the raw gateway
	// status do not fire it.
	StatusChanged func(status Status)
	// Confirmed fires exactly once when the payment settles. This is the
	// receipt hand-off trigger.
	Confirmed func(conf Confirmation)
	// Expired fires when the countdown reaches zero unconfirmed.
	Expired func()
	// Tick fires on every countdown tick with the remaining validity,
	// clamped to zero.
	Tick func(remaining time.Duration)
	// Error fires for payer-blocking failures (generate and resume).
	// Transient poll failures are logged, not surfaced here, because the
	// schedule self-corrects on its next tick.
	Error func(message, requestID string)
}

func (e Events) emitGenerated(qr QRCode) {
	if e.Generated != nil {
		e.Generated(qr)
	}
}

func (e Events) emitStatusChanged(status Status) {
	if e.StatusChanged != nil {
		e.StatusChanged(status)
	}
}

func (e Events) emitConfirmed(conf Confirmation) {
	if e.Confirmed != nil {
		e.Confirmed(conf)
	}
}

func (e Events) emitExpired() {
	if e.Expired != nil {
		e.Expired()
	}
}

func (e Events) emitTick(remaining time.Duration) {
	if e.Tick != nil {
		e.Tick(remaining)
	}
}

func (e Events) emitError(message, requestID string) {
	if e.Error != nil {
		e.Error(message, requestID)
	}
}
