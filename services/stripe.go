package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/file"
	"github.com/stripe/stripe-go/v74/paymentlink"
	"github.com/stripe/stripe-go/v74/price"

	"qrpay/payment"
	"qrpay/utils"
)

const (
	qrImageSize = 256

	metadataRequestID = "request_id"
	metadataExpiresAt = "expires_at"
)

// StripeGateway implements payment.Gateway on top of Stripe payment
// links. A generated link carries the installment id and expiry in its
// metadata so a later session can find and resume it; the QR image is
// rendered locally from the link URL.
type StripeGateway struct {
	// ProductID is the Stripe product the per-payment prices attach to
	ProductID string
	// Validity is the window a generated code stays payable
	Validity time.Duration
}

func NewStripeGateway(productID string, validity time.Duration) *StripeGateway {
	return &StripeGateway{ProductID: productID, Validity: validity}
}

// Generate creates a one-off price and payment link for the amount,
// then renders the link URL as a QR code.
func (g *StripeGateway) Generate(ctx context.Context, requestID string, amount float64) (*payment.QRCode, error) {
	priceParams := &stripe.PriceParams{
		Currency:   stripe.String(string(stripe.CurrencyUSD)),
		UnitAmount: stripe.Int64(int64(amount * 100)), // cents
		Product:    stripe.String(g.ProductID),
		Nickname:   stripe.String(fmt.Sprintf("Installment %s", requestID)),
	}
	priceParams.Context = ctx
	pr, err := price.New(priceParams)
	if err != nil {
		return nil, &payment.GatewayError{Op: "generate", RequestID: requestID, Err: err}
	}

	now := time.Now()
	expiresAt := now.Add(g.Validity)

	linkParams := &stripe.PaymentLinkParams{
		LineItems: []*stripe.PaymentLinkLineItemParams{{
			Price:    stripe.String(pr.ID),
			Quantity: stripe.Int64(1),
		}},
	}
	linkParams.Context = ctx
	linkParams.AddMetadata(metadataRequestID, requestID)
	linkParams.AddMetadata(metadataExpiresAt, expiresAt.Format(time.RFC3339))

	link, err := paymentlink.New(linkParams)
	if err != nil {
		return nil, &payment.GatewayError{Op: "generate", RequestID: requestID, Err: err}
	}

	png, err := renderQRCode(link.URL)
	if err != nil {
		return nil, &payment.GatewayError{Op: "generate", RequestID: requestID, Err: err}
	}

	utils.Info("stripe", "Payment link created",
		"request_id", requestID, "payment_id", link.ID, "amount", amount, "expires_at", expiresAt)

	return &payment.QRCode{
		PaymentID:   link.ID,
		ImageData:   png,
		GeneratedAt: now,
		ExpiresAt:   expiresAt,
	}, nil
}

// QueryStatus maps the payment link plus its checkout sessions onto the
// gateway status contract. A payment is completed once a session
// reached "complete", and verified once that session's payment status
// is "paid".
func (g *StripeGateway) QueryStatus(ctx context.Context, paymentID string) (payment.StatusReport, error) {
	getParams := &stripe.PaymentLinkParams{}
	getParams.Context = ctx
	pl, err := paymentlink.Get(paymentID, getParams)
	if err != nil {
		return payment.StatusReport{}, &payment.GatewayError{Op: "query", Err: err}
	}

	listParams := &stripe.CheckoutSessionListParams{}
	listParams.Context = ctx
	listParams.PaymentLink = stripe.String(paymentID)

	iter := session.List(listParams)
	for iter.Next() {
		s := iter.CheckoutSession()
		if s.Status != stripe.CheckoutSessionStatusComplete {
			continue
		}
		return payment.StatusReport{
			Status:   payment.GatewayStatusCompleted,
			Verified: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
			Raw:      string(s.PaymentStatus),
		}, nil
	}
	if err := iter.Err(); err != nil {
		return payment.StatusReport{}, &payment.GatewayError{Op: "query", Err: err}
	}

	if !pl.Active {
		// Deactivated without a completed session: declined or
		// administratively cancelled.
		return payment.StatusReport{Status: payment.GatewayStatusFailed, Raw: "link_inactive"}, nil
	}
	return payment.StatusReport{Status: payment.GatewayStatusPending, Raw: "link_active"}, nil
}

// FindPending looks for an active, unexpired payment link carrying the
// request id in its metadata. Expired leftovers found on the way are
// deactivated so they cannot be paid late.
func (g *StripeGateway) FindPending(ctx context.Context, requestID string) (*payment.QRCode, error) {
	listParams := &stripe.PaymentLinkListParams{}
	listParams.Context = ctx
	listParams.Active = stripe.Bool(true)

	iter := paymentlink.List(listParams)
	for iter.Next() {
		pl := iter.PaymentLink()
		if pl.Metadata[metadataRequestID] != requestID {
			continue
		}

		expiresAt, err := time.Parse(time.RFC3339, pl.Metadata[metadataExpiresAt])
		if err != nil {
			utils.Warn("stripe", "Payment link has unparseable expiry metadata", "payment_id", pl.ID, "error", err)
			continue
		}
		if !expiresAt.After(time.Now()) {
			if err := g.Deactivate(ctx, pl.ID); err != nil {
				utils.Error("stripe", "Error deactivating expired payment link", "payment_id", pl.ID, "error", err)
			}
			continue
		}

		png, err := renderQRCode(pl.URL)
		if err != nil {
			return nil, &payment.GatewayError{Op: "find-pending", RequestID: requestID, Err: err}
		}

		utils.Info("stripe", "Found pending payment link",
			"request_id", requestID, "payment_id", pl.ID, "expires_at", expiresAt)
		return &payment.QRCode{
			PaymentID:   pl.ID,
			ImageData:   png,
			GeneratedAt: time.Unix(pl.Created, 0),
			ExpiresAt:   expiresAt,
		}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, &payment.GatewayError{Op: "find-pending", RequestID: requestID, Err: err}
	}
	return nil, nil
}

// UploadReceipt attaches the proof-of-payment file to Stripe.
func (g *StripeGateway) UploadReceipt(ctx context.Context, paymentID string, receipt payment.ReceiptFile) error {
	fileParams := &stripe.FileParams{
		FileReader: bytes.NewReader(receipt.Data),
		Filename:   stripe.String(receipt.Name),
		Purpose:    stripe.String(string(stripe.FilePurposeDisputeEvidence)),
	}
	fileParams.Context = ctx

	f, err := file.New(fileParams)
	if err != nil {
		return &payment.UploadError{PaymentID: paymentID, Reason: "stripe upload failed", Err: err}
	}

	utils.Info("stripe", "Receipt uploaded", "payment_id", paymentID, "file_id", f.ID, "size", len(receipt.Data))
	return nil
}

// Deactivate turns off a payment link so the code can no longer be
// paid. Used when the countdown expires or the session is cancelled.
func (g *StripeGateway) Deactivate(ctx context.Context, paymentID string) error {
	params := &stripe.PaymentLinkParams{Active: stripe.Bool(false)}
	params.Context = ctx
	if _, err := paymentlink.Update(paymentID, params); err != nil {
		return fmt.Errorf("deactivate payment link %s: %w", paymentID, err)
	}
	utils.Info("stripe", "Payment link deactivated", "payment_id", paymentID)
	return nil
}

// renderQRCode produces the PNG the payer's banking app scans.
func renderQRCode(url string) ([]byte, error) {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	png, err := code.PNG(qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("render qr png: %w", err)
	}
	return png, nil
}
