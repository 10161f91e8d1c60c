package domain

import (
	"time"
)

// Session holds the authoritative state for one wake event. It is owned by the
// session store; all mutation goes through the store's Mutate operation so
// concurrent validates against the same id are serialized.
type Session struct {
	ID              string
	Phase           Phase
	EscalationLevel int
	FailedAttempts  int
	NudgeCount      int
	SpokenVerified  bool
	ProofCaptured   bool
	RoutineStep     int
	RoutineComplete bool
	PersonalityID   string
	UserName        string
	CreatedAt       time.Time
	LastActivityAt  time.Time
	ReleasedAt      *time.Time
}

// Released reports whether the session reached the terminal phase.
func (s *Session) Released() bool {
	return s.Phase == PhaseRelease
}

// Release moves the session into the terminal phase. ReleasedAt is set exactly
// once, on entry.
func (s *Session) Release(now time.Time) {
	if s.Phase == PhaseRelease {
		return
	}
	s.Phase = PhaseRelease
	s.ReleasedAt = &now
}

// RecordFailure bumps the failure counters. EscalationLevel is monotonic for
// the life of the session.
func (s *Session) RecordFailure() {
	s.EscalationLevel++
	s.FailedAttempts++
}

// Expired reports whether the session has been inactive longer than ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivityAt) > ttl
}

// Touch updates the inactivity clock.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}
