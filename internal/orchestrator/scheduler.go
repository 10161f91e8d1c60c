// Package orchestrator drives the wake loop from the consuming side: playback
// sequencing, idle/retry timers, and gesture-gated audio unlocking.
package orchestrator

import (
	"sync"
	"time"
)

// TimerPurpose names a scheduler slot. Each purpose holds at most one pending
// timer; arming again supersedes the earlier one.
type TimerPurpose string

const (
	TimerCountdown   TimerPurpose = "countdown"
	TimerIdleNudge   TimerPurpose = "idle_nudge"
	TimerAutoRecord  TimerPurpose = "auto_record"
	TimerSilentRetry TimerPurpose = "silent_retry"
)

type timerHandle struct {
	gen   uint64
	timer *time.Timer
	fn    func()
}

// Scheduler owns named cancellable timers. A fired callback runs only if its
// arm generation is still current, so a stale timer that escapes Stop can
// never act on superseded state.
type Scheduler struct {
	mu     sync.Mutex
	nextID uint64
	timers map[TimerPurpose]*timerHandle
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[TimerPurpose]*timerHandle)}
}

// Arm schedules fn to run after d, replacing any pending timer for the same
// purpose.
func (s *Scheduler) Arm(purpose TimerPurpose, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[purpose]; ok {
		prev.timer.Stop()
	}
	s.nextID++
	gen := s.nextID
	h := &timerHandle{gen: gen, fn: fn}
	h.timer = time.AfterFunc(d, func() { s.fire(purpose, gen) })
	s.timers[purpose] = h
}

// Cancel drops any pending timer for the purpose.
func (s *Scheduler) Cancel(purpose TimerPurpose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.timers[purpose]; ok {
		h.timer.Stop()
		delete(s.timers, purpose)
	}
}

// CancelAll drops every pending timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for purpose, h := range s.timers {
		h.timer.Stop()
		delete(s.timers, purpose)
	}
}

// Pending reports whether a timer is armed for the purpose.
func (s *Scheduler) Pending(purpose TimerPurpose) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[purpose]
	return ok
}

// fire runs the callback for (purpose, gen) if that arm is still current.
func (s *Scheduler) fire(purpose TimerPurpose, gen uint64) {
	s.mu.Lock()
	h, ok := s.timers[purpose]
	if !ok || h.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, purpose)
	fn := h.fn
	s.mu.Unlock()

	fn()
}
