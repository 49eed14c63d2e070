package payment

import "fmt"

// GatewayError wraps a failed gateway call. Op is the gateway operation
// that failed ("generate", "query", "find-pending").
type GatewayError struct {
	Op        string
	RequestID string
	Err       error
}

func (e *GatewayError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("gateway %s failed for request %s: %v", e.Op, e.RequestID, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// UploadError wraps a failed or rejected receipt upload.
type UploadError struct {
	PaymentID string
	Reason    string
	Err       error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("receipt upload failed for payment %s: %s: %v", e.PaymentID, e.Reason, e.Err)
	}
	return fmt.Sprintf("receipt upload rejected for payment %s: %s", e.PaymentID, e.Reason)
}

func (e *UploadError) Unwrap() error { return e.Err }
