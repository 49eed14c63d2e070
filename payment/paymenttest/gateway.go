package paymenttest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrpay/payment"
)

// MockGateway is an in-memory payment.Gateway whose answers are scripted
// by the test. All methods are safe for concurrent use and count their
// calls so tests can assert schedule behaviour (e.g. exactly one query
// after the initial poll delay).
type MockGateway struct {
	clock payment.Clock
	// Validity is the window reported on generated codes
	Validity time.Duration

	mu            sync.Mutex
	generateErr   error
	queryErr      error
	findErr       error
	uploadErr     error
	pending       map[string]*payment.QRCode // by request id
	reports       map[string]payment.StatusReport
	generateCalls int
	queryCalls    int
	findCalls     int
	uploads       []payment.ReceiptFile
}

func NewMockGateway(clock payment.Clock, validity time.Duration) *MockGateway {
	return &MockGateway{
		clock:    clock,
		Validity: validity,
		pending:  make(map[string]*payment.QRCode),
		reports:  make(map[string]payment.StatusReport),
	}
}

func (g *MockGateway) Generate(ctx context.Context, requestID string, amount float64) (*payment.QRCode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generateCalls++
	if g.generateErr != nil {
		return nil, &payment.GatewayError{Op: "generate", RequestID: requestID, Err: g.generateErr}
	}
	now := g.clock.Now()
	qr := &payment.QRCode{
		PaymentID:   uuid.NewString(),
		ImageData:   []byte("qr-png-" + requestID),
		GeneratedAt: now,
		ExpiresAt:   now.Add(g.Validity),
	}
	g.pending[requestID] = qr
	g.reports[qr.PaymentID] = payment.StatusReport{Status: payment.GatewayStatusPending}
	return qr, nil
}

func (g *MockGateway) QueryStatus(ctx context.Context, paymentID string) (payment.StatusReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	if g.queryErr != nil {
		return payment.StatusReport{}, &payment.GatewayError{Op: "query", Err: g.queryErr}
	}
	report, ok := g.reports[paymentID]
	if !ok {
		return payment.StatusReport{Status: payment.GatewayStatusPending}, nil
	}
	return report, nil
}

func (g *MockGateway) FindPending(ctx context.Context, requestID string) (*payment.QRCode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.findCalls++
	if g.findErr != nil {
		return nil, &payment.GatewayError{Op: "find-pending", RequestID: requestID, Err: g.findErr}
	}
	qr, ok := g.pending[requestID]
	if !ok || !qr.ExpiresAt.After(g.clock.Now()) {
		return nil, nil
	}
	copied := *qr
	return &copied, nil
}

func (g *MockGateway) UploadReceipt(ctx context.Context, paymentID string, file payment.ReceiptFile) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.uploadErr != nil {
		return &payment.UploadError{PaymentID: paymentID, Reason: "rejected", Err: g.uploadErr}
	}
	g.uploads = append(g.uploads, file)
	return nil
}

// SetReport scripts the answer for subsequent status queries.
func (g *MockGateway) SetReport(paymentID string, report payment.StatusReport) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reports[paymentID] = report
}

// FailGenerate makes Generate fail with err until cleared with nil.
func (g *MockGateway) FailGenerate(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generateErr = err
}

// FailQuery makes QueryStatus fail with err until cleared with nil.
func (g *MockGateway) FailQuery(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryErr = err
}

// FailUpload makes UploadReceipt fail with err until cleared with nil.
func (g *MockGateway) FailUpload(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploadErr = err
}

// FailFind makes FindPending fail with err until cleared with nil.
func (g *MockGateway) FailFind(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.findErr = err
}

// SeedPending registers an existing pending code for a request, as if a
// previous session had generated it.
func (g *MockGateway) SeedPending(requestID string, qr payment.QRCode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	copied := qr
	g.pending[requestID] = &copied
	if _, ok := g.reports[qr.PaymentID]; !ok {
		g.reports[qr.PaymentID] = payment.StatusReport{Status: payment.GatewayStatusPending}
	}
}

func (g *MockGateway) GenerateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generateCalls
}

func (g *MockGateway) QueryCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryCalls
}

func (g *MockGateway) Uploads() []payment.ReceiptFile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payment.ReceiptFile(nil), g.uploads...)
}
