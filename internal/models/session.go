package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus defines the run state of a timer session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "RUNNING"
	SessionStatusPaused  SessionStatus = "PAUSED"
	SessionStatusStopped SessionStatus = "STOPPED"
)

// TimerSession is the single mutable record of a scope's active timer.
// At most one session exists per scope; activating a different timer
// supersedes the old session in place.
//
// Anchor fields are epoch milliseconds. Nil encodes "not set":
// STOPPED clears all three, RUNNING has Kickoff and no LastStop,
// PAUSED has both Kickoff and LastStop.
type TimerSession struct {
	ScopeID   uuid.UUID     `json:"scope_id"`
	TimerID   uuid.UUID     `json:"timer_id"`
	Kickoff   *int64        `json:"kickoff,omitempty"`
	Deadline  *int64        `json:"deadline,omitempty"`
	LastStop  *int64        `json:"last_stop,omitempty"`
	Status    SessionStatus `json:"status"`
	Seq       int64         `json:"seq"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Timeset is the compact wire projection of a session sent to observers.
type Timeset struct {
	TimerID  uuid.UUID `json:"timer_id"`
	Running  bool      `json:"running"`
	Kickoff  *int64    `json:"kickoff,omitempty"`
	Deadline *int64    `json:"deadline,omitempty"`
	LastStop *int64    `json:"last_stop,omitempty"`
	Seq      int64     `json:"seq"`
}
