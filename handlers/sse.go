package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/a-h/templ"

	"qrpay/utils"
)

// SSEConnection represents a Server-Sent Events connection
type SSEConnection struct {
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	RequestID string
	Done      chan bool

	writeMu sync.Mutex
}

// SSEBroadcaster manages SSE connections and broadcasting
type SSEBroadcaster struct {
	connections map[string]*SSEConnection
	mutex       sync.RWMutex
}

func NewSSEBroadcaster() *SSEBroadcaster {
	return &SSEBroadcaster{connections: make(map[string]*SSEConnection)}
}

// AddConnection adds a new SSE connection for a payment request
func (b *SSEBroadcaster) AddConnection(requestID string, w http.ResponseWriter) *SSEConnection {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	conn := &SSEConnection{
		Writer:    w,
		Flusher:   flusher,
		RequestID: requestID,
		Done:      make(chan bool),
	}

	b.mutex.Lock()
	if prev, exists := b.connections[requestID]; exists {
		close(prev.Done)
	}
	b.connections[requestID] = conn
	b.mutex.Unlock()

	utils.Info("sse", "New connection for payment request", "request_id", requestID)
	return conn
}

// RemoveConnection removes an SSE connection
func (b *SSEBroadcaster) RemoveConnection(requestID string, conn *SSEConnection) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	current, exists := b.connections[requestID]
	if !exists || current != conn {
		return
	}
	close(current.Done)
	delete(b.connections, requestID)
	utils.Info("sse", "Removed connection", "request_id", requestID)
}

// Broadcast renders the component and sends it as the named SSE event
// to the connection watching this payment request, if any.
func (b *SSEBroadcaster) Broadcast(requestID, event string, component templ.Component) {
	b.mutex.RLock()
	conn, exists := b.connections[requestID]
	b.mutex.RUnlock()

	if !exists {
		return
	}

	var buf strings.Builder
	if err := component.Render(context.Background(), &buf); err != nil {
		utils.Error("sse", "Error rendering component", "request_id", requestID, "error", err)
		return
	}

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	fmt.Fprintf(conn.Writer, "event: %s\n", event)
	fmt.Fprintf(conn.Writer, "data: %s\n\n", buf.String())
	conn.Flusher.Flush()
}

// PaymentSSEHandler streams payment lifecycle updates for one request.
// The controller's events are already wired to the broadcaster; this
// handler only parks the connection until the client goes away.
func PaymentSSEHandler(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		http.Error(w, "request_id parameter required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	conn := GlobalSSEBroadcaster.AddConnection(requestID, w)
	if conn == nil {
		http.Error(w, "SSE not supported by client", http.StatusInternalServerError)
		return
	}

	select {
	case <-conn.Done:
	case <-r.Context().Done():
		GlobalSSEBroadcaster.RemoveConnection(requestID, conn)
	}
}
