package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slothwake/sloth/internal/domain"
)

// MemoryStore is the single in-memory session authority. An outer RWMutex
// guards the map; each entry carries its own mutex so mutations for one id
// never block other ids.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	s    domain.Session
	gone bool // set by the sweeper; blocks mutation-after-expiry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*entry)}
}

// Create registers a new session.
func (m *MemoryStore) Create(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = &entry{s: *s}
	return nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(_ context.Context, id string) (domain.Session, error) {
	e := m.lookup(id)
	if e == nil {
		return domain.Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return domain.Session{}, ErrNotFound
	}
	return e.s, nil
}

// Mutate applies fn under the per-id lock.
func (m *MemoryStore) Mutate(_ context.Context, id string, fn func(*domain.Session) error) (domain.Session, error) {
	e := m.lookup(id)
	if e == nil {
		return domain.Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return domain.Session{}, ErrNotFound
	}
	if err := fn(&e.s); err != nil {
		return e.s, err
	}
	return e.s, nil
}

// Expire removes a session.
func (m *MemoryStore) Expire(_ context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.gone = true
	e.mu.Unlock()
	return nil
}

// Len reports the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// sweep removes sessions idle longer than ttl and returns how many it dropped.
func (m *MemoryStore) sweep(ttl time.Duration, now time.Time) int {
	m.mu.RLock()
	snapshot := make(map[string]*entry, len(m.sessions))
	for id, e := range m.sessions {
		snapshot[id] = e
	}
	m.mu.RUnlock()

	removed := 0
	for id, e := range snapshot {
		e.mu.Lock()
		expired := e.s.Expired(ttl, now)
		if expired {
			e.gone = true
		}
		e.mu.Unlock()
		if !expired {
			continue
		}
		m.mu.Lock()
		if m.sessions[id] == e {
			delete(m.sessions, id)
			removed++
		}
		m.mu.Unlock()
	}
	return removed
}

// StartSweeper runs a background goroutine that periodically drops sessions
// past the inactivity TTL. It stops when ctx is canceled.
func (m *MemoryStore) StartSweeper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "ttl", ttl, "interval", interval)
		for {
			select {
			case <-ticker.C:
				if removed := m.sweep(ttl, time.Now()); removed > 0 {
					slog.Info("Session sweeper dropped expired sessions", "count", removed)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
