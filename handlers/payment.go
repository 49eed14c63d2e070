package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"qrpay/payment"
	"qrpay/services"
	"qrpay/utils"
)

// LinkDeactivator invalidates a gateway payment artifact once its window
// has run out. Optional: nil skips deactivation.
type LinkDeactivator interface {
	Deactivate(ctx context.Context, paymentID string) error
}

// Deps are the collaborators the payment handlers operate on, injected
// once at startup.
type Deps struct {
	Gateway     payment.Gateway
	Deactivator LinkDeactivator
	Notifier    payment.Notifier
	EventLog    *services.EventLogger
	Receipts    *services.ReceiptService

	InitialPollDelay time.Duration
	PollInterval     time.Duration
	CountdownTick    time.Duration
}

var (
	GlobalSessionManager = NewSessionManager()
	GlobalSSEBroadcaster = NewSSEBroadcaster()

	deps     Deps
	validate = validator.New()
)

// Setup wires the handler package to its collaborators. Must be called
// before the server starts accepting requests.
func Setup(d Deps) {
	deps = d
}

type qrView struct {
	PaymentID   string    `json:"paymentId"`
	Image       string    `json:"image"`
	GeneratedAt time.Time `json:"generatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type statusResponse struct {
	RequestID        string  `json:"requestId"`
	Status           string  `json:"status"`
	RawStatus        string  `json:"rawStatus,omitempty"`
	SecondsRemaining int     `json:"secondsRemaining"`
	QR               *qrView `json:"qr,omitempty"`
}

func buildStatusResponse(requestID string, ctrl *payment.Controller) statusResponse {
	resp := statusResponse{
		RequestID:        requestID,
		Status:           string(ctrl.Status()),
		RawStatus:        ctrl.RawStatus(),
		SecondsRemaining: int(ctrl.Remaining().Seconds()),
	}
	if qr := ctrl.QR(); qr != nil {
		resp.QR = &qrView{
			PaymentID:   qr.PaymentID,
			Image:       base64.StdEncoding.EncodeToString(qr.ImageData),
			GeneratedAt: qr.GeneratedAt,
			ExpiresAt:   qr.ExpiresAt,
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		utils.Error("handlers", "Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// buildController assembles a controller whose lifecycle events drive
// the SSE stream and the accounting log for this request.
func buildController(requestID string) *payment.Controller {
	var ctrl *payment.Controller

	events := payment.Events{
		Generated: func(qr payment.QRCode) {
			if req := ctrl.Request(); req != nil {
				logEvent(services.PaymentEvent{
					RequestID: requestID,
					PaymentID: qr.PaymentID,
					Type:      services.PaymentEventGenerated,
					Amount:    req.Amount,
					Currency:  req.Currency,
				})
			}
			GlobalSSEBroadcaster.Broadcast(requestID, "payment-update", qrCodeFragment(requestID, &qr))
		},
		Tick: func(remaining time.Duration) {
			window := time.Duration(0)
			if qr := ctrl.QR(); qr != nil {
				window = qr.ExpiresAt.Sub(qr.GeneratedAt)
			}
			GlobalSSEBroadcaster.Broadcast(requestID, "payment-update", progressFragment(requestID, remaining, window))
		},
		Confirmed: func(conf payment.Confirmation) {
			deps.EventLog.LogQuick(requestID, conf.PaymentID, services.PaymentEventConfirmed)
			GlobalSSEBroadcaster.Broadcast(requestID, "modal-update", confirmedFragment(requestID, conf.PaymentID))
		},
		Expired: func() {
			paymentID := ""
			if qr := ctrl.QR(); qr != nil {
				paymentID = qr.PaymentID
			}
			deps.EventLog.LogQuick(requestID, paymentID, services.PaymentEventExpired)
			if deps.Deactivator != nil && paymentID != "" {
				if err := deps.Deactivator.Deactivate(context.Background(), paymentID); err != nil {
					utils.Warn("handlers", "Error deactivating expired payment", "payment_id", paymentID, "error", err)
				}
			}
			GlobalSSEBroadcaster.Broadcast(requestID, "modal-update", expiredFragment(requestID))
		},
		Error: func(message, reqID string) {
			logEvent(services.PaymentEvent{
				RequestID: reqID,
				Type:      services.PaymentEventFailed,
				Detail:    message,
			})
			GlobalSSEBroadcaster.Broadcast(reqID, "modal-update", errorFragment(reqID, message))
		},
	}

	ctrl = payment.New(payment.Config{
		Gateway:          deps.Gateway,
		Notifier:         deps.Notifier,
		Events:           events,
		InitialPollDelay: deps.InitialPollDelay,
		PollInterval:     deps.PollInterval,
		CountdownTick:    deps.CountdownTick,
	})
	return ctrl
}

func logEvent(event services.PaymentEvent) {
	if err := deps.EventLog.Log(event); err != nil {
		utils.Error("handlers", "Error logging payment event",
			"request_id", event.RequestID, "event", string(event.Type), "error", err)
	}
}

// OpenPaymentHandler opens a payment session for an installment. If the
// gateway already holds a live pending payment for this request, the
// session resumes watching it instead of requiring a fresh generate.
func OpenPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req payment.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "requestId, positive amount and 3-letter currency are required")
		return
	}

	ctrl := buildController(req.InstallmentID)
	if err := ctrl.Open(r.Context(), req); err != nil {
		if errors.Is(err, payment.ErrMissingID) || errors.Is(err, payment.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "error checking for pending payment")
		return
	}

	GlobalSessionManager.Add(&Session{
		RequestID:  req.InstallmentID,
		Controller: ctrl,
		OpenedAt:   time.Now(),
	})

	if ctrl.Status() == payment.StatusAwaiting {
		paymentID := ""
		if qr := ctrl.QR(); qr != nil {
			paymentID = qr.PaymentID
		}
		deps.EventLog.LogQuick(req.InstallmentID, paymentID, services.PaymentEventResumed)
	}

	writeJSON(w, http.StatusOK, buildStatusResponse(req.InstallmentID, ctrl))
}

// GeneratePaymentHandler creates a QR code for the open session and
// starts the countdown plus the delayed confirmation polling.
func GeneratePaymentHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}

	if err := session.Controller.Generate(r.Context()); err != nil {
		if errors.Is(err, payment.ErrNoOpenRequest) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "error generating payment QR code")
		return
	}

	writeJSON(w, http.StatusOK, buildStatusResponse(session.RequestID, session.Controller))
}

// CheckPaymentHandler runs an immediate status check, bypassing the
// poll schedule without disturbing it.
func CheckPaymentHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}

	if err := session.Controller.ManualCheck(r.Context()); err != nil {
		if errors.Is(err, payment.ErrNotAwaiting) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "error checking payment status")
		return
	}

	writeJSON(w, http.StatusOK, buildStatusResponse(session.RequestID, session.Controller))
}

// PaymentStatusHandler reports the current session state.
func PaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, buildStatusResponse(session.RequestID, session.Controller))
}

// ClosePaymentHandler tears the session down. A pending gateway payment
// stays live so a later open can resume it.
func ClosePaymentHandler(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request_id parameter required")
		return
	}

	if session, exists := GlobalSessionManager.Get(requestID); exists {
		paymentID := ""
		if qr := session.Controller.QR(); qr != nil {
			paymentID = qr.PaymentID
		}
		deps.EventLog.LogQuick(requestID, paymentID, services.PaymentEventClosed)
	}
	GlobalSessionManager.Close(requestID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// ReceiptUploadHandler accepts a proof-of-payment file for a confirmed
// payment and hands it to the gateway.
func ReceiptUploadHandler(w http.ResponseWriter, r *http.Request) {
	// One extra MB of multipart framing headroom over the receipt cap.
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxReceiptSize+1<<20)
	if err := r.ParseMultipartForm(services.MaxReceiptSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "receipt upload too large")
		return
	}

	requestID := r.FormValue("request_id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request_id parameter required")
		return
	}

	session, exists := GlobalSessionManager.Get(requestID)
	if !exists {
		writeError(w, http.StatusNotFound, "no session for request")
		return
	}
	if session.Controller.Status() != payment.StatusConfirmed {
		writeError(w, http.StatusConflict, "receipt uploads require a confirmed payment")
		return
	}

	file, header, err := r.FormFile("receipt")
	if err != nil {
		writeError(w, http.StatusBadRequest, "receipt file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "error reading receipt file")
		return
	}

	qr := session.Controller.QR()
	if qr == nil {
		writeError(w, http.StatusConflict, "no payment on record for this session")
		return
	}

	receipt := payment.ReceiptFile{
		Name: header.Filename,
		MIME: header.Header.Get("Content-Type"),
		Data: data,
	}
	if err := deps.Receipts.HandOff(r.Context(), requestID, qr.PaymentID, receipt); err != nil {
		var uploadErr *payment.UploadError
		if errors.As(err, &uploadErr) && uploadErr.Err == nil {
			writeError(w, http.StatusBadRequest, uploadErr.Reason)
			return
		}
		writeError(w, http.StatusBadGateway, "error delivering receipt")
		return
	}

	deps.EventLog.LogQuick(requestID, qr.PaymentID, services.PaymentEventReceipt)
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func requestIDFrom(r *http.Request) string {
	if id := r.URL.Query().Get("request_id"); id != "" {
		return id
	}
	return r.FormValue("request_id")
}

func sessionFromRequest(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	requestID := requestIDFrom(r)
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request_id parameter required")
		return nil, false
	}
	session, exists := GlobalSessionManager.Get(requestID)
	if !exists {
		writeError(w, http.StatusNotFound, "no session for request")
		return nil, false
	}
	return session, true
}
