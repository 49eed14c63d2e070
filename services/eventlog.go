package services

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"qrpay/utils"
)

// PaymentEventType classifies lifecycle events written to the daily log.
type PaymentEventType string

const (
	PaymentEventGenerated PaymentEventType = "generated"
	PaymentEventResumed   PaymentEventType = "resumed"
	PaymentEventConfirmed PaymentEventType = "confirmed"
	PaymentEventExpired   PaymentEventType = "expired"
	PaymentEventFailed    PaymentEventType = "failed"
	PaymentEventClosed    PaymentEventType = "closed"
	PaymentEventReceipt   PaymentEventType = "receipt_uploaded"
)

// PaymentEvent is one row of the daily CSV log.
type PaymentEvent struct {
	RequestID string
	PaymentID string
	Type      PaymentEventType
	Amount    float64
	Currency  string
	Detail    string
}

// EventLogger appends payment lifecycle events to a daily CSV file in
// an accounting-friendly format. Writes are serialized so concurrent
// sessions cannot interleave half-written rows.
type EventLogger struct {
	Dir string

	mu sync.Mutex
}

func NewEventLogger(dir string) *EventLogger {
	return &EventLogger{Dir: dir}
}

// Log appends one event row, creating the file with headers when the
// day rolls over.
func (l *EventLogger) Log(event PaymentEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	filename := filepath.Join(l.Dir, now.Format("2006-01-02")+".csv")

	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create event log directory: %w", err)
	}

	fileExists := true
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		fileExists = false
	}

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			utils.Error("eventlog", "Error closing event log file", "error", err)
		}
	}()

	writer := csv.NewWriter(f)
	defer writer.Flush()

	if !fileExists {
		headers := []string{
			"Date", "Time", "Request ID", "Payment ID", "Event", "Amount", "Currency", "Detail",
		}
		if err := writer.Write(headers); err != nil {
			return err
		}
	}

	amount := ""
	if event.Amount > 0 {
		amount = fmt.Sprintf("%.2f", event.Amount)
	}
	record := []string{
		now.Format("01/02/2006"),
		now.Format("15:04:05"),
		event.RequestID,
		event.PaymentID,
		string(event.Type),
		amount,
		event.Currency,
		event.Detail,
	}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("error writing event record: %w", err)
	}

	utils.Debug("eventlog", "Payment event logged",
		"request_id", event.RequestID, "payment_id", event.PaymentID, "event", string(event.Type))
	return nil
}

// LogQuick records an event that carries no amount data.
func (l *EventLogger) LogQuick(requestID, paymentID string, eventType PaymentEventType) {
	if err := l.Log(PaymentEvent{RequestID: requestID, PaymentID: paymentID, Type: eventType}); err != nil {
		utils.Error("eventlog", "Error logging payment event",
			"request_id", requestID, "event", string(eventType), "error", err)
	}
}
