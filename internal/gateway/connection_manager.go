package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections for timer scopes
type ConnectionManager struct {
	// Connection pools organized by scope ID
	scopeConnections map[uuid.UUID]map[*Connection]bool
	mu               sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Event broadcasting
	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID       string
	ClientID string
	ScopeID  uuid.UUID
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	ScopeID  uuid.UUID
	Event    *TimerEvent
	ClientID string // Optional: if set, only send to this client
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	cm := &ConnectionManager{
		scopeConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}

	return cm
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and joins the
// client to its scope's subscriber group
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, clientID string, scopeID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		ScopeID:     scopeID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("client_id", clientID).
		Str("scope_id", scopeID.String()).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.scopeConnections[conn.ScopeID] == nil {
		cm.scopeConnections[conn.ScopeID] = make(map[*Connection]bool)
	}
	cm.scopeConnections[conn.ScopeID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("scope_id", conn.ScopeID.String()).
		Int("total_connections", len(cm.scopeConnections[conn.ScopeID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.scopeConnections[conn.ScopeID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)

			// Clean up empty scope connection pools
			if len(connections) == 0 {
				delete(cm.scopeConnections, conn.ScopeID)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("client_id", conn.ClientID).
				Str("scope_id", conn.ScopeID.String()).
				Msg("connection unregistered")
		}
	}
}

// BroadcastToScope sends an event to all connections subscribed to a scope
func (cm *ConnectionManager) BroadcastToScope(scopeID uuid.UUID, event *TimerEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{ScopeID: scopeID, Event: event}:
	default:
		log.Warn().Str("scope_id", scopeID.String()).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToClient sends an event to a specific client in a scope
func (cm *ConnectionManager) BroadcastToClient(scopeID uuid.UUID, clientID string, event *TimerEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{ScopeID: scopeID, Event: event, ClientID: clientID}:
	default:
		log.Warn().
			Str("scope_id", scopeID.String()).
			Str("client_id", clientID).
			Msg("broadcast channel full, dropping client message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.scopeConnections[message.ScopeID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot connections to avoid holding the lock during sends
	var targetConnections []*Connection
	for conn := range connections {
		if message.ClientID != "" && conn.ClientID != message.ClientID {
			continue
		}
		targetConnections = append(targetConnections, conn)
	}
	cm.mu.RUnlock()

	// Marshal the event once
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targetConnections {
		select {
		case conn.Send <- eventData:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("client_id", conn.ClientID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("scope_id", message.ScopeID.String()).
		Int("connections", len(targetConnections)).
		Msg("event broadcasted")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	scopeCounts := make(map[string]int)

	for scopeID, connections := range cm.scopeConnections {
		count := len(connections)
		totalConnections += count
		scopeCounts[scopeID.String()] = count
	}

	return map[string]interface{}{
		"total_connections": totalConnections,
		"active_scopes":     len(cm.scopeConnections),
		"scope_connections": scopeCounts,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// ClientMessage is a message received from a websocket client. The only
// accepted type is "pause-fast", the latency-critical pause relay. Seq is the
// sender's last-seen session seq, relayed so receivers can order the pause
// against durable events.
type ClientMessage struct {
	Type        string    `json:"type"`
	TimerID     uuid.UUID `json:"timer_id"`
	CurrentTime int64     `json:"current_time"`
	Seq         int64     `json:"seq"`
}

// handleClientMessage processes messages received from the client. Fast-path
// pauses bypass the transition engine entirely: the relay goes straight back
// out to every member of the scope, sender included, tagged with the sender's
// client id. The durable pause arrives separately through the REST surface.
func (c *Connection) handleClientMessage(message []byte) {
	var cm ClientMessage
	if err := json.Unmarshal(message, &cm); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping malformed client message")
		return
	}

	switch cm.Type {
	case "pause-fast":
		payload, err := json.Marshal(PauseFastPayload{
			TimerID:     cm.TimerID,
			CurrentTime: cm.CurrentTime,
			Seq:         cm.Seq,
			SenderID:    c.ClientID,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal pause-fast payload")
			return
		}

		event := &TimerEvent{
			ID:        uuid.New().String(),
			ScopeID:   c.ScopeID.String(),
			Type:      EventTypeTimerPauseFast,
			Seq:       0, // provisional; ordering rides the payload's seq
			Timestamp: time.Now(),
			Data:      payload,
		}
		c.Manager.BroadcastToScope(c.ScopeID, event)

		log.Debug().
			Str("connection_id", c.ID).
			Str("client_id", c.ClientID).
			Str("timer_id", cm.TimerID.String()).
			Int64("current_time", cm.CurrentTime).
			Msg("relayed fast-path pause")

	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", cm.Type).
			Msg("ignoring unknown client message type")
	}
}
