package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/slothwake/sloth/internal/domain"
	"github.com/slothwake/sloth/internal/protocol"
	"github.com/slothwake/sloth/internal/session"
)

// Client is the server half of the session protocol as seen from the
// orchestrator. Implementations translate transport errors to the protocol
// sentinels (session.ErrNotFound, protocol.ErrInvalidPhase).
type Client interface {
	Start(ctx context.Context, alarmTime, userName string) (*protocol.StartResult, error)
	Validate(ctx context.Context, sessionID, typed, spoken string) (*protocol.ValidateResult, error)
	Nudge(ctx context.Context, sessionID string) (*protocol.StartResult, error)
}

// Recorder captures one spoken-keyword candidate. Microphone capture and
// transcription hide behind the single call.
type Recorder interface {
	Capture(ctx context.Context) (string, error)
}

// Display presents message text and owns the locked-attention mode.
type Display interface {
	Show(text string)
	Engage()
	Release()
}

// Config tunes the orchestrator's timer discipline.
type Config struct {
	AlarmTime string
	UserName  string

	// CountdownDelay separates the alarm trigger from the first Start call.
	CountdownDelay time.Duration
	// IdleNudgeDelay is how long an AWAKENING session may sit silent before
	// the orchestrator requests a nudge.
	IdleNudgeDelay time.Duration
	// AutoRecordDelay is the grace window before the microphone starts
	// capturing on the user's turn.
	AutoRecordDelay time.Duration
	// SilentRetryDelay bounds how long a failed attempt may go unanswered
	// before an empty attempt is auto-submitted to force a fresh prompt.
	SilentRetryDelay time.Duration
}

// DefaultConfig mirrors the pacing of the reference client.
func DefaultConfig() Config {
	return Config{
		CountdownDelay:   3 * time.Second,
		IdleNudgeDelay:   20 * time.Second,
		AutoRecordDelay:  2 * time.Second,
		SilentRetryDelay: 12 * time.Second,
	}
}

// Orchestrator drives the wake loop: it issues Start, plays each response,
// arms the idle/retry timers, and feeds user input back through Validate
// until the session releases. Timer callbacks re-check phase and released
// before acting, so a stale callback never fires against an ineligible
// session.
type Orchestrator struct {
	client   Client
	recorder Recorder
	display  Display
	player   *Player
	sched    *Scheduler
	cfg      Config

	ctx context.Context

	mu               sync.Mutex
	sessionID        string
	phase            domain.Phase
	escalationLevel  int
	speakNow         bool
	spokenVerified   bool
	released         bool
	validateInFlight bool
}

// New wires an orchestrator. recorder may be nil; auto-record is then
// disabled and the user submits spoken input explicitly.
func New(client Client, recorder Recorder, display Display, player *Player, cfg Config) *Orchestrator {
	return &Orchestrator{
		client:   client,
		recorder: recorder,
		display:  display,
		player:   player,
		sched:    NewScheduler(),
		cfg:      cfg,
	}
}

// Begin arms the countdown toward the first Start call. The context bounds
// every request the orchestrator makes for this session.
func (o *Orchestrator) Begin(ctx context.Context) {
	o.ctx = ctx
	o.sched.Arm(TimerCountdown, o.cfg.CountdownDelay, o.onCountdown)
}

// Gesture records a user interaction: it unlocks buffered playback and
// engages the locked-attention presentation.
func (o *Orchestrator) Gesture() {
	o.player.Unlock()
	o.display.Engage()
}

// SubmitTyped feeds a typed token into the validate loop.
func (o *Orchestrator) SubmitTyped(typed string) {
	o.Gesture()
	o.submit(typed, "")
}

// SubmitSpoken feeds a spoken-keyword candidate into the validate loop.
func (o *Orchestrator) SubmitSpoken(spoken string) {
	o.submit("", spoken)
}

// Released reports whether the session has reached its terminal state.
func (o *Orchestrator) Released() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.released
}

// Phase returns the last phase observed from the server.
func (o *Orchestrator) Phase() domain.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// onCountdown fires when the countdown elapses and starts the session.
func (o *Orchestrator) onCountdown() {
	res, err := o.client.Start(o.ctx, o.cfg.AlarmTime, o.cfg.UserName)
	if err != nil {
		slog.Warn("Start failed, retrying", "error", err)
		o.sched.Arm(TimerCountdown, o.cfg.CountdownDelay, o.onCountdown)
		return
	}

	o.mu.Lock()
	o.sessionID = res.SessionID
	o.phase = res.Phase
	o.escalationLevel = res.EscalationLevel
	o.speakNow = res.PromptText != ""
	o.spokenVerified = false
	o.released = false
	o.mu.Unlock()

	o.display.Engage()
	o.deliver(res.Text, res.AudioRef, res.PromptAudioRef)
}

// onIdle fires when an AWAKENING session has sat silent too long.
func (o *Orchestrator) onIdle() {
	o.mu.Lock()
	eligible := o.sessionID != "" && o.phase == domain.PhaseAwakening && !o.released
	id := o.sessionID
	o.mu.Unlock()
	if !eligible {
		return
	}

	res, err := o.client.Nudge(o.ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		o.restart()
		return
	case errors.Is(err, protocol.ErrInvalidPhase):
		// The session moved on between the check and the call.
		return
	case err != nil:
		slog.Warn("Nudge failed", "error", err)
		o.sched.Arm(TimerIdleNudge, o.cfg.IdleNudgeDelay, o.onIdle)
		return
	}

	o.deliver(res.Text, res.AudioRef, res.PromptAudioRef)
}

// onAutoRecord fires on the user's turn after the grace delay.
func (o *Orchestrator) onAutoRecord() {
	o.mu.Lock()
	eligible := o.recorder != nil && o.speakNow && !o.spokenVerified &&
		!o.validateInFlight && !o.released
	o.mu.Unlock()
	if !eligible {
		return
	}

	spoken, err := o.recorder.Capture(o.ctx)
	if err != nil {
		slog.Warn("Audio capture failed", "error", err)
		return
	}
	if spoken == "" {
		return
	}
	o.submit("", spoken)
}

// onSilentRetry fires when a failed attempt has gone unanswered; an empty
// attempt forces a fresh prompt from the server.
func (o *Orchestrator) onSilentRetry() {
	o.mu.Lock()
	eligible := !o.released && (o.phase == domain.PhaseResisting || o.phase == domain.PhaseEscalating)
	o.mu.Unlock()
	if !eligible {
		return
	}
	o.submit("", "")
}

// submit runs one Validate round trip and applies the response.
func (o *Orchestrator) submit(typed, spoken string) {
	o.mu.Lock()
	if o.sessionID == "" || o.released || o.validateInFlight {
		o.mu.Unlock()
		return
	}
	o.validateInFlight = true
	id := o.sessionID
	o.mu.Unlock()

	// Any new submission supersedes the pending retry and recording timers.
	o.sched.Cancel(TimerSilentRetry)
	o.sched.Cancel(TimerAutoRecord)

	res, err := o.client.Validate(o.ctx, id, typed, spoken)

	o.mu.Lock()
	o.validateInFlight = false
	o.mu.Unlock()

	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			o.restart()
			return
		}
		slog.Warn("Validate failed", "error", err)
		return
	}

	o.mu.Lock()
	o.phase = res.Phase
	o.escalationLevel = res.EscalationLevel
	o.spokenVerified = res.SpokenVerified
	o.released = res.Released
	o.speakNow = res.PromptText != "" && !res.SpokenVerified
	o.mu.Unlock()

	if res.Released {
		o.finish(res.Text, res.AudioRef)
		return
	}

	o.deliver(res.Text, res.AudioRef, res.PromptAudioRef)

	if !res.Valid && (res.Phase == domain.PhaseResisting || res.Phase == domain.PhaseEscalating) {
		o.sched.Arm(TimerSilentRetry, o.cfg.SilentRetryDelay, o.onSilentRetry)
	}
}

// deliver shows and plays one response, then re-arms the timers the new
// state calls for.
func (o *Orchestrator) deliver(text, audioRef, promptAudioRef string) {
	o.display.Show(text)
	o.player.Sequence(audioRef, promptAudioRef, true)

	o.mu.Lock()
	phase := o.phase
	speakNow := o.speakNow && !o.spokenVerified
	released := o.released
	o.mu.Unlock()

	if released {
		return
	}
	if phase == domain.PhaseAwakening {
		o.sched.Arm(TimerIdleNudge, o.cfg.IdleNudgeDelay, o.onIdle)
	} else {
		o.sched.Cancel(TimerIdleNudge)
	}
	if speakNow {
		o.sched.Arm(TimerAutoRecord, o.cfg.AutoRecordDelay, o.onAutoRecord)
	} else {
		o.sched.Cancel(TimerAutoRecord)
	}
}

// finish tears the loop down on release: every timer is cancelled and never
// re-armed, and the locked-attention mode ends.
func (o *Orchestrator) finish(text, audioRef string) {
	o.sched.CancelAll()
	o.display.Show(text)
	o.player.Sequence(audioRef, "", true)
	o.display.Release()
	slog.Info("Wake session released")
}

// restart clears a vanished session and re-arms the countdown so the loop
// begins again with a fresh id.
func (o *Orchestrator) restart() {
	o.sched.CancelAll()
	o.mu.Lock()
	o.sessionID = ""
	o.phase = ""
	o.speakNow = false
	o.spokenVerified = false
	o.released = false
	o.mu.Unlock()
	slog.Warn("Session expired, restarting")
	o.sched.Arm(TimerCountdown, o.cfg.CountdownDelay, o.onCountdown)
}
