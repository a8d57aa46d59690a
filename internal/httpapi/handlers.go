// Package httpapi exposes the transition engine's request surface. Each
// operation returns the rendered timeset for the target timer. No request
// deadline is imposed server-side; callers should apply their own (a few
// seconds matches UI feedback latency).
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stagecue/stagecue/internal/session"
)

// Handler serves the timer session routes
type Handler struct {
	app *session.App
}

func NewHandler(app *session.App) *Handler {
	return &Handler{
		app: app,
	}
}

// RegisterRoutes registers the timer session routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/timers/", h.handleTimerRequest)
	log.Info().Msg("timer session routes registered")
}

// handleTimerRequest dispatches /api/timers/{id}/{op}
func (h *Handler) handleTimerRequest(w http.ResponseWriter, r *http.Request) {
	timerID, op, ok := parseTimerPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case op == "session" && r.Method == http.MethodGet:
		h.handleGetSession(w, r, timerID)
	case op == "start" && r.Method == http.MethodPost:
		h.handleStart(w, r, timerID)
	case op == "pause" && r.Method == http.MethodPost:
		h.handlePause(w, r, timerID)
	case op == "reset" && r.Method == http.MethodPost:
		h.handleReset(w, r, timerID)
	case op == "adjust" && r.Method == http.MethodPost:
		h.handleAdjust(w, r, timerID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request, timerID uuid.UUID) {
	ts, err := h.app.Get(r.Context(), timerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ts)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request, timerID uuid.UUID) {
	ts, err := h.app.Start(r.Context(), timerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ts)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request, timerID uuid.UUID) {
	var body struct {
		Timestamp   *int64 `json:"timestamp,omitempty"`
		CurrentTime *int64 `json:"current_time,omitempty"`
	}
	// An empty body is a plain server-clock pause.
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ts, err := h.app.Pause(r.Context(), session.PauseRequest{
		TimerID:     timerID,
		Timestamp:   body.Timestamp,
		CurrentTime: body.CurrentTime,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ts)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request, timerID uuid.UUID) {
	ts, err := h.app.Reset(r.Context(), timerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ts)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request, timerID uuid.UUID) {
	var body struct {
		DeltaMs int64 `json:"delta_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ts, err := h.app.Adjust(r.Context(), session.AdjustRequest{
		TimerID: timerID,
		DeltaMs: body.DeltaMs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ts)
}

// parseTimerPath extracts the timer id and operation from a path like
// /api/timers/{id}/start
func parseTimerPath(path string) (uuid.UUID, string, bool) {
	rest, ok := strings.CutPrefix(path, "/api/timers/")
	if !ok {
		return uuid.Nil, "", false
	}

	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 {
		return uuid.Nil, "", false
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, parts[1], true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses. Only
// StoreUnavailable is worth a retry; the rest are terminal for the request.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNotActive), errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, session.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		log.Error().Err(err).Msg("timer request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
