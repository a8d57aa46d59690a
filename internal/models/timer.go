package models

import (
	"github.com/google/uuid"
)

// Appearance defines how a timer renders its current value.
type Appearance string

const (
	AppearanceCountdown Appearance = "COUNTDOWN"
	AppearanceCountup   Appearance = "COUNTUP"
	AppearanceTimeOfDay Appearance = "TIME_OF_DAY"
	AppearanceHidden    Appearance = "HIDDEN"
)

// TimerConfig holds the static attributes of a timer. It is owned by the
// CRUD layer and read-only here; the calculator and transition engine treat
// it as immutable.
type TimerConfig struct {
	ID              uuid.UUID  `json:"id"`
	ScopeID         uuid.UUID  `json:"scope_id"`
	Name            string     `json:"name,omitempty"`
	DurationMs      int64      `json:"duration_ms"`
	Appearance      Appearance `json:"appearance"`
	YellowWarningMs int64      `json:"yellow_warning_ms,omitempty"`
	RedWarningMs    int64      `json:"red_warning_ms,omitempty"`
}
