package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagecue/stagecue/internal/models"
)

// Repository reads timer configs and owns the timer_sessions table.
//
// Expected schema (timers is owned by the CRUD layer, read-only here):
//
//	CREATE TABLE timer_sessions (
//	    scope_id   uuid PRIMARY KEY,
//	    timer_id   uuid NOT NULL,
//	    kickoff    bigint,
//	    deadline   bigint,
//	    last_stop  bigint,
//	    status     text NOT NULL,
//	    seq        bigint NOT NULL,
//	    updated_at timestamptz NOT NULL DEFAULT now()
//	);
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

func (r *Repository) GetTimerConfig(ctx context.Context, id uuid.UUID) (*models.TimerConfig, error) {
	const q = `
		SELECT id, scope_id, name, duration_ms, appearance, yellow_warning_ms, red_warning_ms
		FROM timers
		WHERE id = $1`

	var cfg models.TimerConfig
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&cfg.ID,
		&cfg.ScopeID,
		&cfg.Name,
		&cfg.DurationMs,
		&cfg.Appearance,
		&cfg.YellowWarningMs,
		&cfg.RedWarningMs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("timer %s: %w", id, ErrNotFound)
		}
		return nil, storeErr("get timer config", err)
	}
	return &cfg, nil
}

// GetSession returns the scope's current session, or nil when the scope has
// never started a timer.
func (r *Repository) GetSession(ctx context.Context, scopeID uuid.UUID) (*models.TimerSession, error) {
	const q = `
		SELECT scope_id, timer_id, kickoff, deadline, last_stop, status, seq, updated_at
		FROM timer_sessions
		WHERE scope_id = $1`

	var sess models.TimerSession
	err := r.pool.QueryRow(ctx, q, scopeID).Scan(
		&sess.ScopeID,
		&sess.TimerID,
		&sess.Kickoff,
		&sess.Deadline,
		&sess.LastStop,
		&sess.Status,
		&sess.Seq,
		&sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("get session", err)
	}
	return &sess, nil
}

// ReplaceSession writes sess as the scope's authoritative session in one
// statement. The conditional upsert is what makes "supersede" atomic: readers
// never observe a scope without a session mid-replace, and a concurrent writer
// that already bumped seq past expectedSeq surfaces as ErrConflict.
func (r *Repository) ReplaceSession(ctx context.Context, sess *models.TimerSession, expectedSeq int64) error {
	const q = `
		INSERT INTO timer_sessions (scope_id, timer_id, kickoff, deadline, last_stop, status, seq, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (scope_id) DO UPDATE
		SET timer_id   = EXCLUDED.timer_id,
		    kickoff    = EXCLUDED.kickoff,
		    deadline   = EXCLUDED.deadline,
		    last_stop  = EXCLUDED.last_stop,
		    status     = EXCLUDED.status,
		    seq        = EXCLUDED.seq,
		    updated_at = now()
		WHERE timer_sessions.seq = $8`

	tag, err := r.pool.Exec(ctx, q,
		sess.ScopeID,
		sess.TimerID,
		sess.Kickoff,
		sess.Deadline,
		sess.LastStop,
		sess.Status,
		sess.Seq,
		expectedSeq,
	)
	if err != nil {
		return storeErr("replace session", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scope %s at seq %d: %w", sess.ScopeID, expectedSeq, ErrConflict)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrStoreUnavailable)
}
