package payment

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a payment session. Exactly one value
// holds at a time; transitions are owned by the Controller.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusAwaiting   Status = "awaiting_confirmation"
	StatusConfirmed  Status = "confirmed"
	StatusExpired    Status = "expired"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the controller will not transition out of s
// without a fresh generate cycle.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusExpired || s == StatusFailed
}

// Gateway status strings as reported by QueryStatus.
const (
	GatewayStatusPending   = "pending"
	GatewayStatusCompleted = "completed"
	GatewayStatusFailed    = "failed"
)

var (
	ErrNoOpenRequest = errors.New("no payment request is open")
	ErrNotAwaiting   = errors.New("no payment is awaiting confirmation")
	ErrInvalidAmount = errors.New("payment amount must be positive")
	ErrMissingID     = errors.New("payment request id is required")
)

// Request identifies the installment being paid. It is immutable for the
// lifetime of one controller session.
type Request struct {
	// InstallmentID identifies the scheduled payment obligation
	InstallmentID string `json:"requestId" validate:"required"`
	// Amount in major currency units (e.g. 150.00)
	Amount float64 `json:"amount" validate:"required,gt=0"`
	// ISO 4217 currency code
	Currency string `json:"currency" validate:"required,len=3"`
}

// Validate checks the constraints the controller enforces at Open.
func (r Request) Validate() error {
	if r.InstallmentID == "" {
		return ErrMissingID
	}
	if r.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// QRCode bundles a machine-readable payment image with its gateway
// payment id and validity window. At most one QRCode is live
// (non-expired, non-terminal) per Request at any time.
type QRCode struct {
	PaymentID   string    `json:"paymentId"`
	ImageData   []byte    `json:"imageData"`
	GeneratedAt time.Time `json:"generatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// StatusReport is the gateway's answer to a status query.
type StatusReport struct {
	// Status is one of the GatewayStatus* values
	Status string `json:"status"`
	// Verified is set once the gateway has settled the payment
	Verified bool `json:"verified"`
	// Raw carries the unmapped processor status for display/logging
	Raw string `json:"raw,omitempty"`
}

// Confirmation is handed to the caller exactly once when a payment
// reaches the Confirmed state.
type Confirmation struct {
	RequestID   string    `json:"requestId"`
	PaymentID   string    `json:"paymentId"`
	Raw         string    `json:"raw,omitempty"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// ReceiptFile is an optional proof-of-payment attachment, only accepted
// once the payment is Confirmed. Validation of type and size belongs to
// the receipt hand-off collaborator, not the controller.
type ReceiptFile struct {
	Name string
	MIME string
	Data []byte
}
