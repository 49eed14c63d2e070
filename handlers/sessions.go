package handlers

import (
	"sync"
	"time"

	"qrpay/payment"
	"qrpay/utils"
)

// Session binds one payment request to its lifecycle controller.
type Session struct {
	RequestID  string
	Controller *payment.Controller
	OpenedAt   time.Time
}

// SessionManager tracks the live controller per payment request. Each
// controller owns exactly one request at a time; replacing a session
// closes the previous controller first so its timers cannot leak into
// the new one.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Add registers a session, closing any previous one for the same
// request.
func (sm *SessionManager) Add(session *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if prev, exists := sm.sessions[session.RequestID]; exists {
		prev.Controller.Close()
		utils.Info("sessions", "Replaced existing payment session", "request_id", session.RequestID)
	}
	sm.sessions[session.RequestID] = session
}

// Get retrieves the session for a request id.
func (sm *SessionManager) Get(requestID string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	session, exists := sm.sessions[requestID]
	return session, exists
}

// Close closes the controller and removes the session. Safe to call for
// an unknown request id.
func (sm *SessionManager) Close(requestID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[requestID]; exists {
		session.Controller.Close()
		delete(sm.sessions, requestID)
		utils.Info("sessions", "Closed payment session", "request_id", requestID)
	}
}

// CloseAll tears down every live session. Called on shutdown so no
// scheduled work outlives the server.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		session.Controller.Close()
		delete(sm.sessions, id)
	}
	utils.Info("sessions", "Closed all payment sessions")
}

// ActiveCount returns the number of live sessions.
func (sm *SessionManager) ActiveCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
