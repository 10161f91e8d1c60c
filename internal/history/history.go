// Package history provides append-only wake-history persistence. Records are
// analytics input for adaptive tuning; they never drive control flow.
package history

import (
	"context"
	"time"
)

// Record is one wake session's lifecycle row.
type Record struct {
	SessionID      string     `json:"session_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Released       bool       `json:"released"`
	FailedAttempts int        `json:"failed_attempts"`
	NudgeCount     int        `json:"nudge_count"`
}

// Repository persists wake history.
type Repository interface {
	// RecordStart writes the start row for a session.
	RecordStart(ctx context.Context, sessionID string, startedAt time.Time) error

	// RecordEnd marks a session finished (released or abandoned).
	RecordEnd(ctx context.Context, sessionID string, released bool, failedAttempts, nudgeCount int) error

	// Recent returns the most recent records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying database.
	Close() error
}
