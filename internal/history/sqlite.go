package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/slothwake/sloth/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS wake_history (
		session_id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		released INTEGER NOT NULL DEFAULT 0,
		failed_attempts INTEGER NOT NULL DEFAULT 0,
		nudge_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_wake_history_started ON wake_history(started_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordStart writes the start row for a session.
func (s *SQLiteStore) RecordStart(ctx context.Context, sessionID string, startedAt time.Time) error {
	query := `
	INSERT INTO wake_history (session_id, started_at, released)
	VALUES (?, ?, 0)
	ON CONFLICT(session_id) DO UPDATE SET started_at = excluded.started_at`

	return s.execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, startedAt.Unix())
		if err != nil {
			return fmt.Errorf("record session start: %w", err)
		}
		return nil
	})
}

// RecordEnd marks a session finished.
func (s *SQLiteStore) RecordEnd(ctx context.Context, sessionID string, released bool, failedAttempts, nudgeCount int) error {
	query := `
	UPDATE wake_history
	SET ended_at = ?, released = ?, failed_attempts = ?, nudge_count = ?
	WHERE session_id = ?`

	return s.execWithRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, query,
			time.Now().Unix(), boolToInt(released), failedAttempts, nudgeCount, sessionID)
		if err != nil {
			return fmt.Errorf("record session end: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Warn("RecordEnd affected 0 rows", "session_id", sessionID)
		}
		return nil
	})
}

// Recent returns the most recent records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
	SELECT session_id, started_at, ended_at, released, failed_attempts, nudge_count
	FROM wake_history ORDER BY started_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query wake history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close wake history rows", "error", closeErr)
		}
	}()

	var records []Record
	for rows.Next() {
		var rec Record
		var startedAt int64
		var endedAt sql.NullInt64
		var released int

		if err := rows.Scan(&rec.SessionID, &startedAt, &endedAt, &released,
			&rec.FailedAttempts, &rec.NudgeCount); err != nil {
			return nil, fmt.Errorf("scan wake history row: %w", err)
		}

		rec.StartedAt = time.Unix(startedAt, 0)
		if endedAt.Valid {
			ts := time.Unix(endedAt.Int64, 0)
			rec.EndedAt = &ts
		}
		rec.Released = released != 0
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wake history: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// execWithRetry retries writes with exponential backoff on SQLITE_BUSY. The
// history writer races with nothing but itself, but WAL checkpoints can still
// hold the lock briefly.
func (s *SQLiteStore) execWithRetry(ctx context.Context, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			return err
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("History write hit SQLITE_BUSY, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
