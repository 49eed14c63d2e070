package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"qrpay/payment"
	"qrpay/utils"
)

// MaxReceiptSize is the largest proof-of-payment file accepted.
const MaxReceiptSize = 5 << 20 // 5MB

var allowedReceiptTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"application/pdf": true,
}

// ReceiptRecord is one line of the append-only receipt log.
type ReceiptRecord struct {
	PaymentID      string `json:"payment_id"`
	RequestID      string `json:"request_id"`
	Filename       string `json:"filename"`
	ContentType    string `json:"content_type"`
	Size           int    `json:"size"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	DeliveryStatus string `json:"delivery_status"`
}

// ReceiptService is the hand-off collaborator invoked after a payment
// reaches Confirmed. It enforces the file constraints, forwards the
// upload to the gateway and keeps an append-only JSON log of hand-offs.
// The controller itself only gates on Confirmed state; everything else
// lives here.
type ReceiptService struct {
	Gateway payment.Gateway
	Dir     string
}

func NewReceiptService(gateway payment.Gateway, dir string) *ReceiptService {
	return &ReceiptService{Gateway: gateway, Dir: dir}
}

// Validate checks type and size before any network call.
func (s *ReceiptService) Validate(paymentID string, receipt payment.ReceiptFile) error {
	if len(receipt.Data) == 0 {
		return &payment.UploadError{PaymentID: paymentID, Reason: "empty file"}
	}
	if len(receipt.Data) > MaxReceiptSize {
		return &payment.UploadError{
			PaymentID: paymentID,
			Reason:    fmt.Sprintf("file exceeds %d bytes", MaxReceiptSize),
		}
	}

	contentType := receipt.MIME
	if contentType == "" {
		contentType = http.DetectContentType(receipt.Data)
	}
	if !allowedReceiptTypes[contentType] {
		return &payment.UploadError{
			PaymentID: paymentID,
			Reason:    fmt.Sprintf("unsupported content type %s", contentType),
		}
	}
	return nil
}

// HandOff validates, uploads and records a receipt.
func (s *ReceiptService) HandOff(ctx context.Context, requestID, paymentID string, receipt payment.ReceiptFile) error {
	if err := s.Validate(paymentID, receipt); err != nil {
		utils.Warn("receipt", "Receipt rejected", "payment_id", paymentID, "filename", receipt.Name, "error", err)
		return err
	}

	if err := s.Gateway.UploadReceipt(ctx, paymentID, receipt); err != nil {
		record := s.newRecord(requestID, paymentID, receipt, "failed")
		if logErr := s.saveRecord(record); logErr != nil {
			utils.Error("receipt", "Error recording failed upload", "payment_id", paymentID, "error", logErr)
		}
		return err
	}

	record := s.newRecord(requestID, paymentID, receipt, "delivered")
	if err := s.saveRecord(record); err != nil {
		// The upload succeeded; a logging failure must not fail the
		// hand-off.
		utils.Error("receipt", "Error recording receipt", "payment_id", paymentID, "error", err)
	}
	return nil
}

func (s *ReceiptService) newRecord(requestID, paymentID string, receipt payment.ReceiptFile, status string) ReceiptRecord {
	now := time.Now()
	contentType := receipt.MIME
	if contentType == "" {
		contentType = http.DetectContentType(receipt.Data)
	}
	return ReceiptRecord{
		PaymentID:      paymentID,
		RequestID:      requestID,
		Filename:       receipt.Name,
		ContentType:    contentType,
		Size:           len(receipt.Data),
		Date:           now.Format("01/02/2006"),
		Time:           now.Format("15:04:05"),
		DeliveryStatus: status,
	}
}

// saveRecord appends the record to the daily JSON log.
func (s *ReceiptService) saveRecord(record ReceiptRecord) error {
	today := time.Now().Format("2006-01-02")
	filename := filepath.Join(s.Dir, "receipts-"+today+".json")

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create receipts directory: %w", err)
	}

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open receipts log file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			utils.Error("receipt", "Error closing receipts log file", "error", err)
		}
	}()

	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("error marshaling receipt record: %w", err)
	}
	if _, err := f.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("error writing receipt record: %w", err)
	}

	utils.Info("receipt", "Receipt record saved", "payment_id", record.PaymentID, "status", record.DeliveryStatus)
	return nil
}
