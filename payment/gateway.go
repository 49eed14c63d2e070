package payment

import "context"

// Gateway is the external payment processor boundary. Implementations
// must treat QueryStatus and FindPending as idempotent reads; the
// controller relies on that to let a manual check race a scheduled poll
// without locking around the network call.
type Gateway interface {
	// Generate creates a time-bounded payment code for the given request
	// and amount. Fails with *GatewayError on transport or validation
	// failure.
	Generate(ctx context.Context, requestID string, amount float64) (*QRCode, error)

	// QueryStatus reports the canonical settlement state of a payment.
	QueryStatus(ctx context.Context, paymentID string) (StatusReport, error)

	// FindPending returns the still-pending QR code previously generated
	// for the request, or nil when there is none.
	FindPending(ctx context.Context, requestID string) (*QRCode, error)

	// UploadReceipt attaches proof-of-payment to a settled payment.
	// Fails with *UploadError for oversized or invalid files.
	UploadReceipt(ctx context.Context, paymentID string, file ReceiptFile) error
}

// Notifier is the admin-notification collaborator. It is invoked only
// for generate failures, which block the payer and cannot self-heal;
// transient poll failures are never routed here.
type Notifier interface {
	GenerateFailed(ctx context.Context, requestID, message string)
}
