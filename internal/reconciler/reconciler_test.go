package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecue/stagecue/internal/gateway"
	"github.com/stagecue/stagecue/internal/models"
)

type reconcilerFixture struct {
	rec     *Reconciler
	clock   *clockwork.FakeClock
	cfg     models.TimerConfig
	updates <-chan Update
}

func newReconcilerFixture(t *testing.T, clientID string) *reconcilerFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClock()
	rec := NewReconciler(clientID, clock)
	cfg := models.TimerConfig{
		ID:         uuid.New(),
		ScopeID:    uuid.New(),
		DurationMs: 600000,
		Appearance: models.AppearanceCountdown,
	}

	return &reconcilerFixture{
		rec:     rec,
		clock:   clock,
		cfg:     cfg,
		updates: rec.Watch(ctx, cfg),
	}
}

// runningTimeset builds a started timeset anchored at the fixture clock's now.
func (f *reconcilerFixture) runningTimeset(seq int64) models.Timeset {
	kickoff := f.clock.Now().UnixMilli()
	deadline := kickoff + f.cfg.DurationMs
	return models.Timeset{
		TimerID:  f.cfg.ID,
		Running:  true,
		Kickoff:  &kickoff,
		Deadline: &deadline,
		Seq:      seq,
	}
}

func (f *reconcilerFixture) drain() {
	for {
		select {
		case <-f.updates:
		default:
			return
		}
	}
}

func timerEvent(t *testing.T, eventType gateway.EventType, scopeID uuid.UUID, seq int64, payload any) *gateway.TimerEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &gateway.TimerEvent{
		ID:        uuid.New().String(),
		ScopeID:   scopeID.String(),
		Type:      eventType,
		Seq:       seq,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func TestApplyTimesetRendersRunning(t *testing.T) {
	f := newReconcilerFixture(t, "display-1")

	f.rec.ApplyTimeset(f.cfg.ScopeID, f.runningTimeset(1))

	u, ok := f.rec.Snapshot(f.cfg.ScopeID)
	require.True(t, ok)
	assert.True(t, u.State.IsRunning)
	assert.Equal(t, f.cfg.DurationMs, u.State.CurrentTime)
	assert.Equal(t, int64(1), u.Seq)

	// The merge also pushes an update out immediately, without waiting for
	// a tick.
	select {
	case got := <-f.updates:
		assert.Equal(t, u.State.CurrentTime, got.State.CurrentTime)
	default:
		t.Fatal("expected an update after ApplyTimeset")
	}
}

func TestStaleTimesetDiscarded(t *testing.T) {
	f := newReconcilerFixture(t, "display-1")

	f.rec.ApplyTimeset(f.cfg.ScopeID, f.runningTimeset(3))

	stopped := models.Timeset{TimerID: f.cfg.ID, Seq: 2}
	f.rec.ApplyTimeset(f.cfg.ScopeID, stopped)

	u, ok := f.rec.Snapshot(f.cfg.ScopeID)
	require.True(t, ok)
	assert.True(t, u.State.IsRunning, "lower-seq timeset must not overwrite")
	assert.Equal(t, int64(3), u.Seq)
}

func TestFastPathPauseFreezesDisplay(t *testing.T) {
	f := newReconcilerFixture(t, "display-1")

	f.rec.ApplyTimeset(f.cfg.ScopeID, f.runningTimeset(1))
	f.clock.Advance(5 * time.Second)
	f.drain()

	evt := timerEvent(t, gateway.EventTypeTimerPauseFast, f.cfg.ScopeID, 0, gateway.PauseFastPayload{
		TimerID:     f.cfg.ID,
		CurrentTime: 595000,
		Seq:         1,
		SenderID:    "controller-7",
	})
	require.NoError(t, f.rec.ApplyEvent(evt))

	u, ok := f.rec.Snapshot(f.cfg.ScopeID)
	require.True(t, ok)
	assert.False(t, u.State.IsRunning)
	assert.Equal(t, int64(595000), u.State.CurrentTime)

	// Wall clock moving on must not thaw the frozen value.
	f.clock.Advance(30 * time.Second)
	u, _ = f.rec.Snapshot(f.cfg.ScopeID)
	assert.Equal(t, int64(595000), u.State.CurrentTime)
}

func TestStaleFastPathPauseDiscarded(t *testing.T) {
	f := newReconcilerFixture(t, "display-1")

	// The view has already applied the durable restart at seq 3; a relay
	// stamped with the seq its sender saw before that restart is late.
	f.rec.ApplyTimeset(f.cfg.ScopeID, f.runningTimeset(3))

	evt := timerEvent(t, gateway.EventTypeTimerPauseFast, f.cfg.ScopeID, 0, gateway.PauseFastPayload{
		TimerID:     f.cfg.ID,
		CurrentTime: 123000,
		Seq:         1,
		SenderID:    "controller-7",
	})
	require.NoError(t, f.rec.ApplyEvent(evt))

	u, ok := f.rec.Snapshot(f.cfg.ScopeID)
	require.True(t, ok)
	assert.True(t, u.State.IsRunning, "overtaken relay must not pause a newer running session")
	assert.Equal(t, int64(3), u.Seq)

	// A relay stamped with the current seq still applies.
	fresh := timerEvent(t, gateway.EventTypeTimerPauseFast, f.cfg.ScopeID, 0, gateway.PauseFastPayload{
		TimerID:     f.cfg.ID,
		CurrentTime: 598000,
		Seq:         3,
		SenderID:    "controller-7",
	})
	require.NoError(t, f.rec.ApplyEvent(fresh))

	u, _ = f.rec.Snapshot(f.cfg.ScopeID)
	assert.False(t, u.State.IsRunning)
	assert.Equal(t, int64(598000), u.State.CurrentTime)
}

func TestOwnPauseEchoIgnored(t *testing.T) {
	f := newReconcilerFixture(t, "controller-7")

	f.rec.ApplyTimeset(f.cfg.ScopeID, f.runningTimeset(1))

	evt := timerEvent(t, gateway.EventTypeTimerPauseFast, f.cfg.ScopeID, 0, gateway.PauseFastPayload{
		TimerID:     f.cfg.ID,
		CurrentTime: 595000,
		Seq:         1,
		SenderID:    "controller-7",
	})
	require.NoError(t, f.rec.ApplyEvent(evt))

	u, ok := f.rec.Snapshot(f.cfg.ScopeID)
	require.True(t, ok)
	assert.True(t, u.State.IsRunning, "own relay echo must not re-apply the pause")
}

func TestDurableEventSupersedesProvisionalPause(t *testing.T) {
	f := newReconcilerFixture(t, "controller-7")

	f.rec.ApplyTimeset(f.cfg.ScopeID, f.runningTimeset(1))
	f.clock.Advance(5 * time.Second)

	f.rec.ApplyLocalPause(f.cfg.ScopeID, f.cfg.ID, 595000)
	u, _ := f.rec.Snapshot(f.cfg.ScopeID)
	assert.False(t, u.State.IsRunning)
	assert.Equal(t, int64(595000), u.State.CurrentTime)

	// The confirmed pause lands 200ms later than the optimistic freeze;
	// the durable timeset wins and the frozen value is dropped.
	kickoff := f.clock.Now().UnixMilli() - 5000
	deadline := kickoff + f.cfg.DurationMs
	lastStop := kickoff + 5200
	f.rec.ApplyTimeset(f.cfg.ScopeID, models.Timeset{
		TimerID:  f.cfg.ID,
		Running:  false,
		Kickoff:  &kickoff,
		Deadline: &deadline,
		LastStop: &lastStop,
		Seq:      2,
	})

	u, _ = f.rec.Snapshot(f.cfg.ScopeID)
	assert.False(t, u.State.IsRunning)
	assert.Equal(t, int64(594800), u.State.CurrentTime)
	assert.Equal(t, int64(2), u.Seq)
}

func TestApplyEventRoutesTimesetPayloads(t *testing.T) {
	f := newReconcilerFixture(t, "display-1")

	evt := timerEvent(t, gateway.EventTypeTimerStarted, f.cfg.ScopeID, 1, f.runningTimeset(1))
	require.NoError(t, f.rec.ApplyEvent(evt))

	u, ok := f.rec.Snapshot(f.cfg.ScopeID)
	require.True(t, ok)
	assert.True(t, u.State.IsRunning)

	reset := timerEvent(t, gateway.EventTypeTimerReset, f.cfg.ScopeID, 2, models.Timeset{TimerID: f.cfg.ID, Seq: 2})
	require.NoError(t, f.rec.ApplyEvent(reset))

	u, _ = f.rec.Snapshot(f.cfg.ScopeID)
	assert.False(t, u.State.IsRunning)
	assert.Equal(t, f.cfg.DurationMs, u.State.CurrentTime)
}

func TestTickLoopRendersWhileRunning(t *testing.T) {
	f := newReconcilerFixture(t, "display-1")

	f.rec.ApplyTimeset(f.cfg.ScopeID, f.runningTimeset(1))
	f.drain()

	// The ticker only exists while the session runs; wait for the loop to
	// arm it before advancing.
	f.clock.BlockUntil(1)
	f.clock.Advance(TickInterval)

	select {
	case u := <-f.updates:
		assert.True(t, u.State.IsRunning)
		assert.Equal(t, f.cfg.DurationMs-TickInterval.Milliseconds(), u.State.CurrentTime)
	case <-time.After(time.Second):
		t.Fatal("expected a tick update")
	}
}

func TestTickLoopStopsWhenPaused(t *testing.T) {
	f := newReconcilerFixture(t, "display-1")

	f.rec.ApplyTimeset(f.cfg.ScopeID, f.runningTimeset(1))
	f.clock.BlockUntil(1)

	f.rec.ApplyLocalPause(f.cfg.ScopeID, f.cfg.ID, 600000)
	f.drain()

	// Give the loop a moment to stop its ticker and park; after that, time
	// passing emits nothing.
	time.Sleep(50 * time.Millisecond)
	f.drain()
	f.clock.Advance(10 * TickInterval)

	select {
	case u := <-f.updates:
		t.Fatalf("unexpected update while paused: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnwatchDropsScope(t *testing.T) {
	f := newReconcilerFixture(t, "display-1")

	f.rec.Unwatch(f.cfg.ScopeID)
	_, ok := f.rec.Snapshot(f.cfg.ScopeID)
	assert.False(t, ok)

	// Applying to an unwatched scope is a silent no-op.
	f.rec.ApplyTimeset(f.cfg.ScopeID, f.runningTimeset(1))
	_, ok = f.rec.Snapshot(f.cfg.ScopeID)
	assert.False(t, ok)
}
