package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/stagecue/stagecue/internal/models"
)

// maxPauseSkewMs bounds how far a client-supplied pause currentTime may
// disagree with the server-computed elapsed before the server value wins.
// 5s covers browser timer drift plus a round trip; anything beyond that is a
// wrong clock, not latency.
const maxPauseSkewMs = 5000

// SessionRepository defines what the transition engine needs from the store.
type SessionRepository interface {
	GetTimerConfig(ctx context.Context, id uuid.UUID) (*models.TimerConfig, error)
	GetSession(ctx context.Context, scopeID uuid.UUID) (*models.TimerSession, error)
	ReplaceSession(ctx context.Context, sess *models.TimerSession, expectedSeq int64) error
}

// EventPublisher fans an accepted transition's timeset out to the scope's
// subscribers. Publish failures never roll back the transition.
type EventPublisher interface {
	PublishTimerStarted(ctx context.Context, scopeID uuid.UUID, ts models.Timeset) error
	PublishTimerReset(ctx context.Context, scopeID uuid.UUID, ts models.Timeset) error
	PublishTimerUpdated(ctx context.Context, scopeID uuid.UUID, ts models.Timeset) error
}

// App is the session transition engine. Every mutating operation runs on the
// owning scope's single-writer goroutine and bumps the session's seq, so
// observers can order events regardless of arrival order.
type App struct {
	repo      SessionRepository
	publisher EventPublisher
	scopes    *ScopeRegistry
	clock     clockwork.Clock
}

func NewApp(repo SessionRepository, publisher EventPublisher, scopes *ScopeRegistry, clock clockwork.Clock) *App {
	return &App{
		repo:      repo,
		publisher: publisher,
		scopes:    scopes,
		clock:     clock,
	}
}

// Get returns the rendered timeset for a timer, for initial load and
// reconnect resync. A timer that is not the scope's active one renders idle.
func (a *App) Get(ctx context.Context, timerID uuid.UUID) (models.Timeset, error) {
	cfg, err := a.repo.GetTimerConfig(ctx, timerID)
	if err != nil {
		return models.Timeset{}, err
	}
	cur, err := a.repo.GetSession(ctx, cfg.ScopeID)
	if err != nil {
		return models.Timeset{}, err
	}
	return timesetFor(cfg.ID, cur), nil
}

// Start activates a timer. A PAUSED session for the same timer resumes with
// its remaining time preserved; anything else (fresh scope, stopped session,
// or a different timer taking over) supersedes the scope's session with a new
// running one.
func (a *App) Start(ctx context.Context, timerID uuid.UUID) (models.Timeset, error) {
	return a.transition(ctx, timerID, a.start)
}

func (a *App) start(ctx context.Context, cfg *models.TimerConfig, cur *models.TimerSession) (models.Timeset, error) {
	now := a.clock.Now().UnixMilli()

	next := &models.TimerSession{
		ScopeID: cfg.ScopeID,
		TimerID: cfg.ID,
		Status:  models.SessionStatusRunning,
		Seq:     seqOf(cur) + 1,
	}

	if cur != nil && cur.TimerID == cfg.ID &&
		cur.Status == models.SessionStatusPaused &&
		cur.Kickoff != nil && cur.LastStop != nil {
		// Resume: carry the remaining time across the pause gap.
		remaining := cfg.DurationMs - (*cur.LastStop - *cur.Kickoff)
		if remaining < 0 {
			remaining = 0
		}
		kickoff, deadline := now, now+remaining
		next.Kickoff, next.Deadline = &kickoff, &deadline
	} else {
		kickoff, deadline := now, now+cfg.DurationMs
		next.Kickoff, next.Deadline = &kickoff, &deadline
	}

	if err := a.repo.ReplaceSession(ctx, next, seqOf(cur)); err != nil {
		return models.Timeset{}, err
	}

	ts := timesetFor(cfg.ID, next)
	if err := a.publisher.PublishTimerStarted(ctx, cfg.ScopeID, ts); err != nil {
		log.Warn().Err(err).Str("timer_id", cfg.ID.String()).Msg("failed to publish timer-started")
	}

	log.Info().
		Str("scope_id", cfg.ScopeID.String()).
		Str("timer_id", cfg.ID.String()).
		Int64("deadline", *next.Deadline).
		Int64("seq", next.Seq).
		Msg("timer started")
	return ts, nil
}

// Pause freezes a running session. When the client supplies the display value
// it observed at the button press (or, failing that, its press timestamp), the
// elapsed time is derived from it so the freeze lands where the controller saw
// it, within maxPauseSkewMs.
func (a *App) Pause(ctx context.Context, req PauseRequest) (models.Timeset, error) {
	return a.transition(ctx, req.TimerID, func(ctx context.Context, cfg *models.TimerConfig, cur *models.TimerSession) (models.Timeset, error) {
		return a.pause(ctx, cfg, cur, req)
	})
}

func (a *App) pause(ctx context.Context, cfg *models.TimerConfig, cur *models.TimerSession, req PauseRequest) (models.Timeset, error) {
	if cur == nil || cur.TimerID != cfg.ID {
		return models.Timeset{}, fmt.Errorf("pause timer %s: %w", cfg.ID, ErrNotActive)
	}
	if cur.Status != models.SessionStatusRunning || cur.Kickoff == nil {
		return models.Timeset{}, fmt.Errorf("pause timer %s: %w", cfg.ID, ErrNotRunning)
	}

	now := a.clock.Now().UnixMilli()
	elapsed := now - *cur.Kickoff

	switch {
	case req.CurrentTime != nil && cur.Deadline != nil:
		fromClient := (*cur.Deadline - *cur.Kickoff) - *req.CurrentTime
		if withinSkew(fromClient, elapsed) {
			elapsed = fromClient
		} else {
			log.Warn().
				Str("timer_id", cfg.ID.String()).
				Int64("client_elapsed", fromClient).
				Int64("server_elapsed", elapsed).
				Msg("client pause time outside skew tolerance, using server clock")
		}
	case req.Timestamp != nil:
		fromClient := *req.Timestamp - *cur.Kickoff
		if withinSkew(fromClient, elapsed) {
			elapsed = fromClient
		} else {
			log.Warn().
				Str("timer_id", cfg.ID.String()).
				Int64("client_elapsed", fromClient).
				Int64("server_elapsed", elapsed).
				Msg("client pause timestamp outside skew tolerance, using server clock")
		}
	}
	if elapsed < 0 {
		elapsed = 0
	}

	stop := *cur.Kickoff + elapsed
	next := *cur
	next.LastStop = &stop
	next.Status = models.SessionStatusPaused
	next.Seq = cur.Seq + 1

	if err := a.repo.ReplaceSession(ctx, &next, cur.Seq); err != nil {
		return models.Timeset{}, err
	}

	ts := timesetFor(cfg.ID, &next)
	if err := a.publisher.PublishTimerUpdated(ctx, cfg.ScopeID, ts); err != nil {
		log.Warn().Err(err).Str("timer_id", cfg.ID.String()).Msg("failed to publish timer-updated")
	}

	log.Info().
		Str("scope_id", cfg.ScopeID.String()).
		Str("timer_id", cfg.ID.String()).
		Int64("elapsed_ms", elapsed).
		Int64("seq", next.Seq).
		Msg("timer paused")
	return ts, nil
}

// Reset supersedes the scope's session with a fresh STOPPED one. Resetting an
// already-stopped session is a no-op and re-emits nothing.
func (a *App) Reset(ctx context.Context, timerID uuid.UUID) (models.Timeset, error) {
	return a.transition(ctx, timerID, a.reset)
}

func (a *App) reset(ctx context.Context, cfg *models.TimerConfig, cur *models.TimerSession) (models.Timeset, error) {
	if cur == nil || cur.TimerID != cfg.ID {
		return models.Timeset{}, fmt.Errorf("reset timer %s: %w", cfg.ID, ErrNotActive)
	}

	if cur.Status == models.SessionStatusStopped &&
		cur.Kickoff == nil && cur.Deadline == nil && cur.LastStop == nil {
		return timesetFor(cfg.ID, cur), nil
	}

	next := &models.TimerSession{
		ScopeID: cfg.ScopeID,
		TimerID: cfg.ID,
		Status:  models.SessionStatusStopped,
		Seq:     cur.Seq + 1,
	}

	if err := a.repo.ReplaceSession(ctx, next, cur.Seq); err != nil {
		return models.Timeset{}, err
	}

	ts := timesetFor(cfg.ID, next)
	if err := a.publisher.PublishTimerReset(ctx, cfg.ScopeID, ts); err != nil {
		log.Warn().Err(err).Str("timer_id", cfg.ID.String()).Msg("failed to publish timer-reset")
	}

	log.Info().
		Str("scope_id", cfg.ScopeID.String()).
		Str("timer_id", cfg.ID.String()).
		Int64("seq", next.Seq).
		Msg("timer reset")
	return ts, nil
}

// Adjust shifts the deadline of the scope's session by DeltaMs. Kickoff and
// status are untouched; a session with no deadline (stopped) is a no-op.
func (a *App) Adjust(ctx context.Context, req AdjustRequest) (models.Timeset, error) {
	return a.transition(ctx, req.TimerID, func(ctx context.Context, cfg *models.TimerConfig, cur *models.TimerSession) (models.Timeset, error) {
		return a.adjust(ctx, cfg, cur, req.DeltaMs)
	})
}

func (a *App) adjust(ctx context.Context, cfg *models.TimerConfig, cur *models.TimerSession, deltaMs int64) (models.Timeset, error) {
	if cur == nil || cur.TimerID != cfg.ID {
		return models.Timeset{}, fmt.Errorf("adjust timer %s: %w", cfg.ID, ErrNotActive)
	}
	if cur.Deadline == nil {
		return timesetFor(cfg.ID, cur), nil
	}

	deadline := *cur.Deadline + deltaMs
	next := *cur
	next.Deadline = &deadline
	next.Seq = cur.Seq + 1

	if err := a.repo.ReplaceSession(ctx, &next, cur.Seq); err != nil {
		return models.Timeset{}, err
	}

	ts := timesetFor(cfg.ID, &next)
	if err := a.publisher.PublishTimerUpdated(ctx, cfg.ScopeID, ts); err != nil {
		log.Warn().Err(err).Str("timer_id", cfg.ID.String()).Msg("failed to publish timer-updated")
	}

	log.Info().
		Str("scope_id", cfg.ScopeID.String()).
		Str("timer_id", cfg.ID.String()).
		Int64("delta_ms", deltaMs).
		Int64("seq", next.Seq).
		Msg("timer adjusted")
	return ts, nil
}

type transitionFn func(ctx context.Context, cfg *models.TimerConfig, cur *models.TimerSession) (models.Timeset, error)

// transition resolves the timer's scope and executes fn on that scope's
// writer goroutine with the current session loaded.
func (a *App) transition(ctx context.Context, timerID uuid.UUID, fn transitionFn) (models.Timeset, error) {
	cfg, err := a.repo.GetTimerConfig(ctx, timerID)
	if err != nil {
		return models.Timeset{}, err
	}

	var (
		ts    models.Timeset
		fnErr error
	)
	err = a.scopes.Do(ctx, cfg.ScopeID, func() {
		var cur *models.TimerSession
		cur, fnErr = a.repo.GetSession(ctx, cfg.ScopeID)
		if fnErr != nil {
			return
		}
		ts, fnErr = fn(ctx, cfg, cur)
	})
	if err != nil {
		return models.Timeset{}, err
	}
	return ts, fnErr
}

// timesetFor projects a session onto the wire shape. sess may be nil or
// belong to a different timer, in which case the timer renders idle.
func timesetFor(timerID uuid.UUID, sess *models.TimerSession) models.Timeset {
	if sess == nil || sess.TimerID != timerID {
		return models.Timeset{TimerID: timerID, Running: false, Seq: seqOf(sess)}
	}
	return models.Timeset{
		TimerID:  sess.TimerID,
		Running:  sess.Status == models.SessionStatusRunning,
		Kickoff:  sess.Kickoff,
		Deadline: sess.Deadline,
		LastStop: sess.LastStop,
		Seq:      sess.Seq,
	}
}

func withinSkew(client, server int64) bool {
	diff := client - server
	return diff >= -maxPauseSkewMs && diff <= maxPauseSkewMs
}

func seqOf(sess *models.TimerSession) int64 {
	if sess == nil {
		return 0
	}
	return sess.Seq
}
