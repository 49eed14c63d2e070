package handlers

import (
	"encoding/base64"
	"fmt"
	"html"
	"time"

	"github.com/a-h/templ"

	"qrpay/payment"
)

// Status messages shown under the progress bar.
var paymentProgressMessages = map[string]string{
	"default":  "Waiting for QR code scan...",
	"scanning": "Please scan the QR code with your camera app",
}

func getPaymentMessage(status string) string {
	if message, exists := paymentProgressMessages[status]; exists {
		return message
	}
	return paymentProgressMessages["default"]
}

// qrCodeFragment renders the freshly generated QR code as an inline PNG.
func qrCodeFragment(requestID string, qr *payment.QRCode) templ.Component {
	encoded := base64.StdEncoding.EncodeToString(qr.ImageData)
	qrHTML := fmt.Sprintf(
		`<div class="qr-display" id="qr-%s"><img src="data:image/png;base64,%s" alt="Payment QR code"/><p>%s</p><p><small>Payment ID: %s</small></p></div>`,
		html.EscapeString(requestID),
		encoded,
		getPaymentMessage("scanning"),
		html.EscapeString(qr.PaymentID),
	)
	return templ.Raw(qrHTML)
}

// progressFragment renders the countdown and progress bar. Window is the
// full validity window so the bar fills as the deadline approaches.
// Single line to avoid newline issues in SSE.
func progressFragment(requestID string, remaining, window time.Duration) templ.Component {
	secondsRemaining := int(remaining.Seconds())
	if secondsRemaining < 0 {
		secondsRemaining = 0
	}

	progressWidth := 100.0
	if window > 0 {
		elapsed := window - remaining
		progressWidth = (elapsed.Seconds() / window.Seconds()) * 100
		if progressWidth > 100 {
			progressWidth = 100
		}
		if progressWidth < 0 {
			progressWidth = 0
		}
	}

	progressHTML := fmt.Sprintf(
		`<div class="payment-progress qr-progress"><p>%s</p><p>Payment expires in <span id="countdown">%d</span> seconds</p><div class="progress-bar"><div class="progress-fill" style="width: %.1f%%;"></div></div><p><small>Request: %s</small></p></div>`,
		getPaymentMessage("default"),
		secondsRemaining,
		progressWidth,
		html.EscapeString(requestID),
	)
	return templ.Raw(progressHTML)
}

// confirmedFragment replaces the QR display once payment is confirmed.
func confirmedFragment(requestID, paymentID string) templ.Component {
	return templ.Raw(fmt.Sprintf(
		`<div class="payment-result payment-confirmed"><h4>Payment Confirmed</h4><p>Your payment was received. You can upload a receipt for your records.</p><p><small>Request: %s | Payment ID: %s</small></p></div>`,
		html.EscapeString(requestID),
		html.EscapeString(paymentID),
	))
}

// expiredFragment replaces the QR display once the window runs out.
func expiredFragment(requestID string) templ.Component {
	return templ.Raw(fmt.Sprintf(
		`<div class="payment-result payment-expired"><h4>Payment Expired</h4><p>The QR code is no longer valid. Generate a new one to retry.</p><p><small>Request: %s</small></p></div>`,
		html.EscapeString(requestID),
	))
}

// errorFragment carries a failure message to the watching client.
func errorFragment(requestID, message string) templ.Component {
	return templ.Raw(fmt.Sprintf(
		`<div class="payment-result payment-error"><h4>Payment Problem</h4><p>%s</p><p><small>Request: %s</small></p></div>`,
		html.EscapeString(message),
		html.EscapeString(requestID),
	))
}
