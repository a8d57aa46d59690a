package session

import (
	"github.com/google/uuid"
)

// PauseRequest carries the optional client-observed clock readings for a
// durable pause. Timestamp is the client's pause moment (epoch ms);
// CurrentTime is the display value the client froze at. Both correct for the
// network round trip between the button press and the server processing it.
type PauseRequest struct {
	TimerID     uuid.UUID `json:"timer_id"`
	Timestamp   *int64    `json:"timestamp,omitempty"`
	CurrentTime *int64    `json:"current_time,omitempty"`
}

// AdjustRequest shifts a session's deadline by DeltaMs (positive adds time).
type AdjustRequest struct {
	TimerID uuid.UUID `json:"timer_id"`
	DeltaMs int64     `json:"delta_ms"`
}
