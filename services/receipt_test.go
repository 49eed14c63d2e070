package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrpay/payment"
	"qrpay/payment/paymenttest"
)

// Minimal valid PNG header so content sniffing recognizes the payload.
var pngBytes = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{0}, 64)...)

func newReceiptFixture(t *testing.T) (*ReceiptService, *paymenttest.MockGateway) {
	t.Helper()
	clock := paymenttest.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	gateway := paymenttest.NewMockGateway(clock, 15*time.Minute)
	return NewReceiptService(gateway, t.TempDir()), gateway
}

func TestValidateRejectsEmptyFile(t *testing.T) {
	svc, _ := newReceiptFixture(t)

	err := svc.Validate("pay_1", payment.ReceiptFile{Name: "r.png", MIME: "image/png"})

	var uploadErr *payment.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, "empty file", uploadErr.Reason)
}

func TestValidateRejectsOversizedFile(t *testing.T) {
	svc, _ := newReceiptFixture(t)

	big := payment.ReceiptFile{Name: "r.png", MIME: "image/png", Data: make([]byte, MaxReceiptSize+1)}
	err := svc.Validate("pay_1", big)

	var uploadErr *payment.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Contains(t, uploadErr.Reason, "exceeds")
}

func TestValidateRejectsUnsupportedType(t *testing.T) {
	svc, _ := newReceiptFixture(t)

	err := svc.Validate("pay_1", payment.ReceiptFile{Name: "r.zip", MIME: "application/zip", Data: []byte("PK")})

	var uploadErr *payment.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Contains(t, uploadErr.Reason, "unsupported content type")
}

func TestValidateSniffsTypeWhenMIMEMissing(t *testing.T) {
	svc, _ := newReceiptFixture(t)

	assert.NoError(t, svc.Validate("pay_1", payment.ReceiptFile{Name: "r.png", Data: pngBytes}))
}

func TestHandOffUploadsAndRecords(t *testing.T) {
	svc, gateway := newReceiptFixture(t)

	receipt := payment.ReceiptFile{Name: "proof.png", MIME: "image/png", Data: pngBytes}
	require.NoError(t, svc.HandOff(context.Background(), "req-1", "pay_1", receipt))

	require.Len(t, gateway.Uploads(), 1)
	assert.Equal(t, "proof.png", gateway.Uploads()[0].Name)

	record := readLastRecord(t, svc.Dir)
	assert.Equal(t, "pay_1", record.PaymentID)
	assert.Equal(t, "req-1", record.RequestID)
	assert.Equal(t, "delivered", record.DeliveryStatus)
	assert.Equal(t, len(pngBytes), record.Size)
}

func TestHandOffRecordsFailedUpload(t *testing.T) {
	svc, gateway := newReceiptFixture(t)
	gateway.FailUpload(errors.New("stripe unavailable"))

	receipt := payment.ReceiptFile{Name: "proof.png", MIME: "image/png", Data: pngBytes}
	err := svc.HandOff(context.Background(), "req-1", "pay_1", receipt)
	require.Error(t, err)

	record := readLastRecord(t, svc.Dir)
	assert.Equal(t, "failed", record.DeliveryStatus)
}

func TestHandOffSkipsGatewayOnValidationFailure(t *testing.T) {
	svc, gateway := newReceiptFixture(t)

	err := svc.HandOff(context.Background(), "req-1", "pay_1", payment.ReceiptFile{Name: "r.png"})
	require.Error(t, err)
	assert.Empty(t, gateway.Uploads())
}

func readLastRecord(t *testing.T, dir string) ReceiptRecord {
	t.Helper()
	filename := filepath.Join(dir, "receipts-"+time.Now().Format("2006-01-02")+".json")
	data, err := os.ReadFile(filename)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.NotEmpty(t, lines)

	var record ReceiptRecord
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &record))
	return record
}
