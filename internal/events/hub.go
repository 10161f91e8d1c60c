// Package events streams session phase transitions to WebSocket observers so
// a UI can mirror server-authoritative state without polling.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/slothwake/sloth/internal/domain"
)

// Transition is one published phase change.
type Transition struct {
	SessionID       string       `json:"session_id"`
	Phase           domain.Phase `json:"phase"`
	EscalationLevel int          `json:"escalation_level"`
	Released        bool         `json:"released"`
	At              time.Time    `json:"at"`
}

const writeTimeout = 5 * time.Second

// Hub fans transitions out to the observers of each session id.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds an observer for a session id.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.active[sessionID]; !exists {
		h.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	h.active[sessionID][conn] = struct{}{}
	slog.Debug("Session observer registered", "session_id", sessionID)
}

// Unregister removes an observer.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.active[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.active, sessionID)
		}
	}
}

// Observers reports how many connections watch a session id.
func (h *Hub) Observers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

// PublishTransition implements protocol.TransitionSink. Write failures drop
// the observer; the protocol never blocks on a slow client.
func (h *Hub) PublishTransition(sessionID string, phase domain.Phase, escalationLevel int, released bool) {
	payload, err := json.Marshal(Transition{
		SessionID:       sessionID,
		Phase:           phase,
		EscalationLevel: escalationLevel,
		Released:        released,
		At:              time.Now(),
	})
	if err != nil {
		slog.Error("Failed to marshal transition", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[sessionID]))
	for conn := range h.active[sessionID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			slog.Debug("Dropping slow session observer", "session_id", sessionID, "error", err)
			h.Unregister(sessionID, conn)
			_ = conn.Close(websocket.StatusPolicyViolation, "write timeout")
		}
	}
}

// CloseSession disconnects every observer of a session id.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	conns := h.active[sessionID]
	delete(h.active, sessionID)
	h.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
}

// ServeHTTP upgrades the connection and streams transitions for the session
// id given in the query string until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept session observer", "error", err)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close observer connection", "error", closeErr)
		}
	}()

	h.Register(sessionID, conn)
	defer h.Unregister(sessionID, conn)

	// Observers never send; block reading until the peer closes.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
