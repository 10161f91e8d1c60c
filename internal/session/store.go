// Package session owns the authoritative phase state machine storage for wake
// sessions.
package session

import (
	"context"
	"errors"

	"github.com/slothwake/sloth/internal/domain"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Store persists active sessions. Implementations must serialize Mutate calls
// per session id so phase transitions and escalation counters are linearizable;
// different ids are independent. Sessions are handed out by value (copies) so
// no caller can mutate shared state outside Mutate.
type Store interface {
	// Create registers a new session. The id must be unique.
	Create(ctx context.Context, s *domain.Session) error

	// Get returns a copy of the session, or ErrNotFound.
	Get(ctx context.Context, id string) (domain.Session, error)

	// Mutate applies fn to the session under the per-id lock and returns a
	// copy of the result. If fn returns an error the session is left as fn
	// left it; fn must not retain the pointer.
	Mutate(ctx context.Context, id string, fn func(*domain.Session) error) (domain.Session, error)

	// Expire removes a session. Subsequent operations return ErrNotFound.
	Expire(ctx context.Context, id string) error
}
