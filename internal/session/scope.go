package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ScopeRegistry runs one single-writer goroutine per scope and funnels every
// transition for that scope through it. The supersede semantics of start and
// reset assume no concurrent writer; serializing in-process here, with the
// repository's version check as the cross-process backstop, closes the
// lost-update race.
type ScopeRegistry struct {
	ctx    context.Context
	mu     sync.Mutex
	actors map[uuid.UUID]*scopeActor
}

type scopeActor struct {
	jobs chan func()
}

func NewScopeRegistry(ctx context.Context) *ScopeRegistry {
	return &ScopeRegistry{
		ctx:    ctx,
		actors: make(map[uuid.UUID]*scopeActor),
	}
}

// Do executes fn on scopeID's writer goroutine and waits for it to finish.
// fn must not call back into Do for the same scope.
func (r *ScopeRegistry) Do(ctx context.Context, scopeID uuid.UUID, fn func()) error {
	a := r.actor(scopeID)

	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}

	select {
	case a.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return r.ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The job may still run; the caller just stops waiting.
		return ctx.Err()
	}
}

func (r *ScopeRegistry) actor(scopeID uuid.UUID) *scopeActor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[scopeID]; ok {
		return a
	}

	a := &scopeActor{jobs: make(chan func(), 16)}
	r.actors[scopeID] = a
	go a.loop(r.ctx, scopeID)

	log.Debug().Str("scope_id", scopeID.String()).Msg("scope writer started")
	return a
}

func (a *scopeActor) loop(ctx context.Context, scopeID uuid.UUID) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("scope_id", scopeID.String()).Msg("scope writer stopped")
			return
		case job := <-a.jobs:
			job()
		}
	}
}
