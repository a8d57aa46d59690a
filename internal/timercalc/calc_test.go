package timercalc

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/stagecue/stagecue/internal/models"
)

func countdownConfig(durationMs int64) models.TimerConfig {
	return models.TimerConfig{
		ID:         uuid.New(),
		ScopeID:    uuid.New(),
		DurationMs: durationMs,
		Appearance: models.AppearanceCountdown,
	}
}

func msPtr(v int64) *int64 { return &v }

func TestComputeNoSession(t *testing.T) {
	now := time.UnixMilli(1_000_000)

	cases := []struct {
		name       string
		appearance models.Appearance
		want       int64
	}{
		{name: "countdown shows full duration", appearance: models.AppearanceCountdown, want: 600000},
		{name: "countup shows full duration", appearance: models.AppearanceCountup, want: 600000},
		{name: "time of day shows wall clock", appearance: models.AppearanceTimeOfDay, want: 1_000_000},
		{name: "hidden shows zero", appearance: models.AppearanceHidden, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := countdownConfig(600000)
			cfg.Appearance = tc.appearance

			state := Compute(cfg, nil, now)
			assert.Equal(t, tc.want, state.CurrentTime)
			assert.False(t, state.IsRunning)
			assert.Zero(t, state.ElapsedMs)
		})
	}
}

func TestComputeRunningCountdown(t *testing.T) {
	cfg := countdownConfig(600000)
	kickoff := int64(2_000_000)
	sess := &models.TimerSession{
		TimerID: cfg.ID,
		ScopeID: cfg.ScopeID,
		Kickoff: msPtr(kickoff),
		Status:  models.SessionStatusRunning,
	}

	state := Compute(cfg, sess, time.UnixMilli(kickoff+1000))
	assert.Equal(t, int64(599000), state.CurrentTime)
	assert.True(t, state.IsRunning)
	assert.Equal(t, int64(1000), state.ElapsedMs)
}

func TestComputeCountdownNeverNegative(t *testing.T) {
	cfg := countdownConfig(600000)
	kickoff := int64(2_000_000)
	sess := &models.TimerSession{
		TimerID: cfg.ID,
		Kickoff: msPtr(kickoff),
		Status:  models.SessionStatusRunning,
	}

	// Long past the deadline.
	state := Compute(cfg, sess, time.UnixMilli(kickoff+900000))
	assert.Equal(t, int64(0), state.CurrentTime)
	assert.Equal(t, int64(900000), state.ElapsedMs)

	// Kickoff in the future clamps elapsed to zero instead of going over
	// the full duration.
	state = Compute(cfg, sess, time.UnixMilli(kickoff-5000))
	assert.Equal(t, int64(0), state.ElapsedMs)
	assert.Equal(t, cfg.DurationMs, state.CurrentTime)
}

func TestComputePausedUsesLastStop(t *testing.T) {
	cfg := countdownConfig(600000)
	kickoff := int64(2_000_000)
	sess := &models.TimerSession{
		TimerID:  cfg.ID,
		Kickoff:  msPtr(kickoff),
		LastStop: msPtr(kickoff + 200000),
		Status:   models.SessionStatusPaused,
	}

	// The wall clock keeps moving but the paused value does not.
	for _, offset := range []int64{200000, 250000, 900000} {
		state := Compute(cfg, sess, time.UnixMilli(kickoff+offset))
		assert.Equal(t, int64(400000), state.CurrentTime)
		assert.False(t, state.IsRunning)
		assert.Equal(t, int64(200000), state.ElapsedMs)
	}
}

func TestComputeCountupAndTimeOfDay(t *testing.T) {
	cfg := countdownConfig(600000)
	kickoff := int64(2_000_000)
	sess := &models.TimerSession{
		TimerID: cfg.ID,
		Kickoff: msPtr(kickoff),
		Status:  models.SessionStatusRunning,
	}

	cfg.Appearance = models.AppearanceCountup
	state := Compute(cfg, sess, time.UnixMilli(kickoff+42000))
	assert.Equal(t, int64(42000), state.CurrentTime)

	cfg.Appearance = models.AppearanceTimeOfDay
	state = Compute(cfg, sess, time.UnixMilli(kickoff+42000))
	assert.Equal(t, kickoff+42000, state.CurrentTime)

	cfg.Appearance = models.AppearanceHidden
	state = Compute(cfg, sess, time.UnixMilli(kickoff+42000))
	assert.Equal(t, int64(0), state.CurrentTime)
	assert.True(t, state.IsRunning)
}

func TestComputeWarnings(t *testing.T) {
	cfg := countdownConfig(600000)
	cfg.YellowWarningMs = 120000
	cfg.RedWarningMs = 30000
	kickoff := int64(2_000_000)
	sess := &models.TimerSession{
		TimerID: cfg.ID,
		Kickoff: msPtr(kickoff),
		Status:  models.SessionStatusRunning,
	}

	cases := []struct {
		name    string
		elapsed int64
		want    Warning
	}{
		{name: "plenty of time", elapsed: 100000, want: WarningNone},
		{name: "yellow threshold", elapsed: 480000, want: WarningYellow},
		{name: "red threshold", elapsed: 575000, want: WarningRed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := Compute(cfg, sess, time.UnixMilli(kickoff+tc.elapsed))
			assert.Equal(t, tc.want, state.Warning)
		})
	}
}
