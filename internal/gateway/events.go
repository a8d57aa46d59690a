package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stagecue/stagecue/internal/models"
)

// TimerEvent is the envelope delivered to websocket subscribers.
type TimerEvent struct {
	ID        string          `json:"id"`        // Event UUID
	ScopeID   string          `json:"scope_id"`  // Owning scope UUID
	Type      EventType       `json:"type"`      // Event type
	Seq       int64           `json:"seq"`       // Per-scope sequence; 0 for fast-path relays
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of timer event
type EventType string

const (
	EventTypeTimerStarted   EventType = "timer-started"
	EventTypeTimerReset     EventType = "timer-reset"
	EventTypeTimerUpdated   EventType = "timer-updated"
	EventTypeTimerPauseFast EventType = "timer-pause-fast"
)

// PauseFastPayload is a fast-path pause relayed verbatim through the server:
// the originating client computed CurrentTime locally and every scope member,
// including the sender, receives it before the durable pause lands. SenderID
// lets the sender ignore its own echo; Seq is the session seq the sender had
// when it pressed pause, so receivers can drop a relay that a newer durable
// event has already overtaken.
type PauseFastPayload struct {
	TimerID     uuid.UUID `json:"timer_id"`
	CurrentTime int64     `json:"current_time"`
	Seq         int64     `json:"seq"`
	SenderID    string    `json:"sender_id"`
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *TimerEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeTimerStarted, EventTypeTimerReset, EventTypeTimerUpdated:
		var payload models.Timeset
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimerPauseFast:
		var payload PauseFastPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
