// Package reconciler holds a client's local mirror of each watched scope's
// timer session. Authoritative events overwrite the mirror, fast-path pauses
// apply provisionally, and a local tick re-renders the display value between
// network messages so the countdown appears to move continuously.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/stagecue/stagecue/internal/gateway"
	"github.com/stagecue/stagecue/internal/models"
	"github.com/stagecue/stagecue/internal/timercalc"
)

// TickInterval is how often a running scope re-renders its display value.
const TickInterval = 100 * time.Millisecond

// Update is one rendered refresh of a watched scope.
type Update struct {
	ScopeID uuid.UUID
	TimerID uuid.UUID
	Seq     int64
	State   timercalc.State
}

// Reconciler merges authoritative events, fast-path relays, and optimistic
// local predictions into one view per scope. Views are keyed by scope so one
// process can observe many scopes without cross-talk; there is no
// package-level state.
type Reconciler struct {
	clientID string
	clock    clockwork.Clock

	mu     sync.Mutex
	scopes map[uuid.UUID]*scopeView
}

type scopeView struct {
	cfg  models.TimerConfig
	sess *models.TimerSession

	// frozen is the display value given by a fast-path or optimistic pause,
	// shown until the durable transition arrives and supersedes it.
	frozen *int64

	updates chan Update
	wake    chan struct{}
	cancel  context.CancelFunc
}

// NewReconciler creates a reconciler for one client identity. clientID must
// match the id used on the websocket so the client's own fast-path echo is
// dropped.
func NewReconciler(clientID string, clock clockwork.Clock) *Reconciler {
	return &Reconciler{
		clientID: clientID,
		clock:    clock,
		scopes:   make(map[uuid.UUID]*scopeView),
	}
}

// Watch registers a scope and returns the channel its rendered updates arrive
// on. The tick loop runs only while the session is running and stops with ctx.
// Watching an already-watched scope replaces its config and returns the same
// channel.
func (r *Reconciler) Watch(ctx context.Context, cfg models.TimerConfig) <-chan Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sv, ok := r.scopes[cfg.ScopeID]; ok {
		sv.cfg = cfg
		return sv.updates
	}

	tickCtx, cancel := context.WithCancel(ctx)
	sv := &scopeView{
		cfg:     cfg,
		updates: make(chan Update, 16),
		wake:    make(chan struct{}, 1),
		cancel:  cancel,
	}
	r.scopes[cfg.ScopeID] = sv

	go r.tickLoop(tickCtx, cfg.ScopeID, sv)

	log.Debug().
		Str("scope_id", cfg.ScopeID.String()).
		Str("timer_id", cfg.ID.String()).
		Msg("watching scope")
	return sv.updates
}

// Unwatch stops the scope's tick loop and drops its view.
func (r *Reconciler) Unwatch(scopeID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sv, ok := r.scopes[scopeID]; ok {
		sv.cancel()
		delete(r.scopes, scopeID)
	}
}

// ApplyEvent merges one gateway event into the scope's view.
func (r *Reconciler) ApplyEvent(evt *gateway.TimerEvent) error {
	scopeID, err := uuid.Parse(evt.ScopeID)
	if err != nil {
		return fmt.Errorf("parse scope id: %w", err)
	}

	switch evt.Type {
	case gateway.EventTypeTimerStarted, gateway.EventTypeTimerReset, gateway.EventTypeTimerUpdated:
		var ts models.Timeset
		if err := json.Unmarshal(evt.Data, &ts); err != nil {
			return fmt.Errorf("unmarshal timeset: %w", err)
		}
		r.ApplyTimeset(scopeID, ts)
		return nil

	case gateway.EventTypeTimerPauseFast:
		var p gateway.PauseFastPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return fmt.Errorf("unmarshal pause-fast payload: %w", err)
		}
		if p.SenderID == r.clientID {
			// Own echo; already applied optimistically.
			return nil
		}
		r.applyPause(scopeID, p.TimerID, p.CurrentTime, p.Seq)
		return nil

	default:
		log.Debug().Str("type", string(evt.Type)).Msg("ignoring unknown event type")
		return nil
	}
}

// ApplyTimeset overwrites the scope's view with an authoritative timeset,
// unless a higher-sequence one was already applied. Used for both broadcast
// events and reconnect resyncs, which is what reconciles optimistic local
// state back to the server's truth.
func (r *Reconciler) ApplyTimeset(scopeID uuid.UUID, ts models.Timeset) {
	r.mu.Lock()
	sv, ok := r.scopes[scopeID]
	if !ok {
		r.mu.Unlock()
		return
	}

	if sv.sess != nil && ts.Seq < sv.sess.Seq {
		r.mu.Unlock()
		log.Debug().
			Str("scope_id", scopeID.String()).
			Int64("seq", ts.Seq).
			Int64("have", sv.sess.Seq).
			Msg("discarding stale timeset")
		return
	}

	status := models.SessionStatusStopped
	switch {
	case ts.Running:
		status = models.SessionStatusRunning
	case ts.Kickoff != nil:
		status = models.SessionStatusPaused
	}

	sv.sess = &models.TimerSession{
		ScopeID:  scopeID,
		TimerID:  ts.TimerID,
		Kickoff:  ts.Kickoff,
		Deadline: ts.Deadline,
		LastStop: ts.LastStop,
		Status:   status,
		Seq:      ts.Seq,
	}
	sv.frozen = nil
	r.mu.Unlock()

	r.emit(scopeID)
	r.wakeTick(scopeID)
}

// ApplyLocalPause records the controller's own optimistic pause before the
// server confirms it. A later authoritative event with a higher seq
// overwrites it.
func (r *Reconciler) ApplyLocalPause(scopeID, timerID uuid.UUID, currentTime int64) {
	seq, _ := r.SeqFor(scopeID)
	r.applyPause(scopeID, timerID, currentTime, seq)
}

// SeqFor reports the highest session seq the scope's view has applied. It is
// what a controller stamps onto its fast-path relays.
func (r *Reconciler) SeqFor(scopeID uuid.UUID) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sv, ok := r.scopes[scopeID]
	if !ok || sv.sess == nil {
		return 0, ok
	}
	return sv.sess.Seq, true
}

// applyPause merges a provisional pause stamped with the sender's last-seen
// seq. A relay that a newer durable event has already overtaken is dropped:
// without the gate, a delayed relay would freeze the display while the
// server's session runs on, with nothing due to correct it.
func (r *Reconciler) applyPause(scopeID, timerID uuid.UUID, currentTime, seq int64) {
	r.mu.Lock()
	sv, ok := r.scopes[scopeID]
	if !ok {
		r.mu.Unlock()
		return
	}

	if sv.sess != nil && sv.sess.Seq > seq {
		r.mu.Unlock()
		log.Debug().
			Str("scope_id", scopeID.String()).
			Int64("seq", seq).
			Int64("have", sv.sess.Seq).
			Msg("discarding stale fast-path pause")
		return
	}

	frozen := currentTime
	if sv.sess == nil {
		sv.sess = &models.TimerSession{ScopeID: scopeID, TimerID: timerID}
	}
	sv.sess.TimerID = timerID
	sv.sess.Status = models.SessionStatusPaused
	sv.frozen = &frozen
	r.mu.Unlock()

	r.emit(scopeID)
	r.wakeTick(scopeID)
}

// Snapshot renders the scope's current displayable state right now.
func (r *Reconciler) Snapshot(scopeID uuid.UUID) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sv, ok := r.scopes[scopeID]
	if !ok {
		return Update{}, false
	}
	return r.render(scopeID, sv), true
}

func (r *Reconciler) render(scopeID uuid.UUID, sv *scopeView) Update {
	state := timercalc.Compute(sv.cfg, sv.sess, r.clock.Now())
	if sv.frozen != nil && sv.sess != nil && sv.sess.Status == models.SessionStatusPaused {
		state.CurrentTime = *sv.frozen
		state.IsRunning = false
	}

	u := Update{ScopeID: scopeID, TimerID: sv.cfg.ID, State: state}
	if sv.sess != nil {
		u.TimerID = sv.sess.TimerID
		u.Seq = sv.sess.Seq
	}
	return u
}

func (r *Reconciler) emit(scopeID uuid.UUID) {
	r.mu.Lock()
	sv, ok := r.scopes[scopeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	u := r.render(scopeID, sv)
	ch := sv.updates
	r.mu.Unlock()

	select {
	case ch <- u:
	default:
		// Consumer is behind; the next tick or event refreshes it.
	}
}

func (r *Reconciler) wakeTick(scopeID uuid.UUID) {
	r.mu.Lock()
	sv, ok := r.scopes[scopeID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case sv.wake <- struct{}{}:
	default:
	}
}

func (r *Reconciler) isRunning(sv *scopeView) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sv.sess != nil && sv.sess.Status == models.SessionStatusRunning
}

// tickLoop re-renders a running scope every TickInterval. The ticker exists
// only while the session runs; a stopped or paused scope parks on the wake
// channel instead of ticking against a frozen value.
func (r *Reconciler) tickLoop(ctx context.Context, scopeID uuid.UUID, sv *scopeView) {
	for {
		if !r.isRunning(sv) {
			select {
			case <-ctx.Done():
				return
			case <-sv.wake:
				continue
			}
		}

		ticker := r.clock.NewTicker(TickInterval)
		for r.isRunning(sv) {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-sv.wake:
			case <-ticker.Chan():
				r.emit(scopeID)
			}
		}
		ticker.Stop()
	}
}
