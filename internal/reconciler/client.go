package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stagecue/stagecue/internal/gateway"
	"github.com/stagecue/stagecue/internal/models"
)

// ResyncFunc fetches the authoritative timeset for the watched timer,
// typically via the engine's GET session endpoint. It runs after every
// (re)connect because events sent while disconnected are gone for good.
type ResyncFunc func(ctx context.Context) (models.Timeset, error)

// ClientConfig holds configuration for a gateway websocket client
type ClientConfig struct {
	GatewayURL    string // e.g. "ws://localhost:8080/ws/timer"
	ScopeID       uuid.UUID
	ClientID      string
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	ReconnectWait time.Duration
}

// DefaultClientConfig returns default websocket client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		ReconnectWait: 2 * time.Second,
	}
}

// Client maintains one websocket subscription to a scope and feeds every
// received event into the reconciler.
type Client struct {
	config     ClientConfig
	reconciler *Reconciler
	resync     ResyncFunc

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(config ClientConfig, rec *Reconciler, resync ResyncFunc) *Client {
	return &Client{
		config:     config,
		reconciler: rec,
		resync:     resync,
	}
}

// Run connects to the gateway and reads events until ctx is cancelled,
// redialing with a fixed wait after any failure.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().
				Err(err).
				Str("scope_id", c.config.ScopeID.String()).
				Msg("gateway connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.ReconnectWait):
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	u := fmt.Sprintf("%s?scope_id=%s&client_id=%s",
		c.config.GatewayURL, c.config.ScopeID, url.QueryEscape(c.config.ClientID))

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	log.Info().
		Str("scope_id", c.config.ScopeID.String()).
		Str("client_id", c.config.ClientID).
		Msg("connected to gateway")

	// Events sent while we were away are not replayed; fetch the current
	// session before trusting the local view again.
	if c.resync != nil {
		ts, err := c.resync(ctx)
		if err != nil {
			return fmt.Errorf("resync session: %w", err)
		}
		c.reconciler.ApplyTimeset(c.config.ScopeID, ts)
	}

	// The watcher must die with this connection, not with ctx, or every
	// reconnect would leak one goroutine.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watcherDone:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}

		var evt gateway.TimerEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Warn().Err(err).Msg("dropping malformed gateway event")
			continue
		}

		if err := c.reconciler.ApplyEvent(&evt); err != nil {
			log.Warn().
				Err(err).
				Str("event_type", string(evt.Type)).
				Msg("failed to apply gateway event")
		}
	}
}

// SendPauseFast relays a pause through the gateway to every member of the
// scope and applies it locally at the same time, so the sender's own display
// freezes without waiting for the round trip. The caller still issues the
// durable pause via the REST surface.
func (c *Client) SendPauseFast(timerID uuid.UUID, currentTime int64) error {
	seq, _ := c.reconciler.SeqFor(c.config.ScopeID)
	c.reconciler.ApplyLocalPause(c.config.ScopeID, timerID, currentTime)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	msg := gateway.ClientMessage{
		Type:        "pause-fast",
		TimerID:     timerID,
		CurrentTime: currentTime,
		Seq:         seq,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal pause-fast: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send pause-fast: %w", err)
	}
	return nil
}
