package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for scope subscriptions
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleScopeConnection handles WebSocket connections for a specific scope
func (h *WebSocketHandler) HandleScopeConnection(w http.ResponseWriter, r *http.Request) {
	scopeIDStr := r.URL.Query().Get("scope_id")
	if scopeIDStr == "" {
		http.Error(w, "scope_id is required", http.StatusBadRequest)
		return
	}

	scopeID, err := uuid.Parse(scopeIDStr)
	if err != nil {
		http.Error(w, "invalid scope_id format", http.StatusBadRequest)
		return
	}

	// The client id tags fast-path relays so senders can drop their own echo.
	// In production this would come from the authentication layer.
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	if err := h.connectionManager.UpgradeConnection(w, r, clientID, scopeID); err != nil {
		log.Error().
			Err(err).
			Str("scope_id", scopeID.String()).
			Str("client_id", clientID).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}

	// Connection is now handled by the connection manager
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/timer", h.HandleScopeConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
