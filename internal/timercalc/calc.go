// Package timercalc maps a timer config and session onto the value a display
// should show right now. It is a pure function of its inputs so the server
// and every client compute identical results from the same session; that is
// what lets clients tick locally between broadcasts.
package timercalc

import (
	"time"

	"github.com/stagecue/stagecue/internal/models"
)

// Warning classifies how close a countdown is to its thresholds.
type Warning string

const (
	WarningNone   Warning = "NONE"
	WarningYellow Warning = "YELLOW"
	WarningRed    Warning = "RED"
)

// State is the displayable result for one instant.
type State struct {
	// CurrentTime is the display value in milliseconds. For TIME_OF_DAY it
	// is the wall clock as epoch ms.
	CurrentTime int64
	IsRunning   bool
	ElapsedMs   int64
	Warning     Warning
}

// Compute renders the displayable state of cfg's timer at now. sess may be
// nil (no session yet for the scope, or the scope's session belongs to a
// different timer): the timer then shows its idle face.
func Compute(cfg models.TimerConfig, sess *models.TimerSession, now time.Time) State {
	nowMs := now.UnixMilli()

	if sess == nil || sess.Kickoff == nil {
		return State{
			CurrentTime: idleTime(cfg, nowMs),
			IsRunning:   false,
			ElapsedMs:   0,
			Warning:     warningFor(cfg, idleTime(cfg, nowMs)),
		}
	}

	var elapsed int64
	switch {
	case sess.Status == models.SessionStatusRunning:
		elapsed = nowMs - *sess.Kickoff
	case sess.LastStop != nil:
		elapsed = *sess.LastStop - *sess.Kickoff
	}
	if elapsed < 0 {
		elapsed = 0
	}

	var current int64
	switch cfg.Appearance {
	case models.AppearanceCountdown:
		current = cfg.DurationMs - elapsed
		if current < 0 {
			current = 0
		}
	case models.AppearanceCountup:
		current = elapsed
	case models.AppearanceTimeOfDay:
		current = nowMs
	case models.AppearanceHidden:
		// Suppressed by appearance, not by value.
		current = 0
	}

	return State{
		CurrentTime: current,
		IsRunning:   sess.Status == models.SessionStatusRunning,
		ElapsedMs:   elapsed,
		Warning:     warningFor(cfg, current),
	}
}

func idleTime(cfg models.TimerConfig, nowMs int64) int64 {
	switch cfg.Appearance {
	case models.AppearanceTimeOfDay:
		return nowMs
	case models.AppearanceHidden:
		return 0
	default:
		return cfg.DurationMs
	}
}

// warningFor only applies to countdowns; other appearances have no notion of
// running low.
func warningFor(cfg models.TimerConfig, current int64) Warning {
	if cfg.Appearance != models.AppearanceCountdown {
		return WarningNone
	}
	if cfg.RedWarningMs > 0 && current <= cfg.RedWarningMs {
		return WarningRed
	}
	if cfg.YellowWarningMs > 0 && current <= cfg.YellowWarningMs {
		return WarningYellow
	}
	return WarningNone
}
