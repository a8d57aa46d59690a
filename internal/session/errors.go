package session

import "errors"

// ErrNotFound is returned when the timer id is unknown
var ErrNotFound = errors.New("timer not found")

// ErrNotActive is returned when the operation targets a timer that is not the
// scope's currently active one
var ErrNotActive = errors.New("timer not active")

// ErrNotRunning is returned when pause is requested on a non-running session
var ErrNotRunning = errors.New("session not running")

// ErrConflict is returned when a concurrent writer replaced the session first
var ErrConflict = errors.New("session version conflict")

// ErrStoreUnavailable is returned on durable-store I/O failure; it is the only
// kind callers should retry
var ErrStoreUnavailable = errors.New("session store unavailable")
