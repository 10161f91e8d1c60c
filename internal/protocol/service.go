package protocol

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slothwake/sloth/internal/domain"
	"github.com/slothwake/sloth/internal/history"
	"github.com/slothwake/sloth/internal/keyword"
	"github.com/slothwake/sloth/internal/message"
	"github.com/slothwake/sloth/internal/session"
	"github.com/slothwake/sloth/internal/speech"
)

// Config tunes the protocol.
type Config struct {
	// Policy is the active keyword configuration.
	Policy keyword.Policy
	// EscalateThreshold is the escalation level above which failed validates
	// resolve to ESCALATING instead of RESISTING.
	EscalateThreshold int
	// EnableProof gates the camera proof-of-action extension.
	EnableProof bool
	// EnableRoutine gates the morning-routine extension; when on, the second
	// compliant pass enters ROUTINE_ACTIVE instead of releasing.
	EnableRoutine bool
}

// Service is the protocol orchestrator. Safe for concurrent use; per-session
// serialization is delegated to the store, message selection is guarded here.
type Service struct {
	store session.Store
	synth speech.Synthesizer
	hist  history.Repository
	sink  TransitionSink
	cfg   Config

	selMu sync.Mutex
	sel   *message.Selector
}

// NewService wires the protocol. hist and sink may be nil.
func NewService(store session.Store, sel *message.Selector, synth speech.Synthesizer, hist history.Repository, sink TransitionSink, cfg Config) *Service {
	return &Service{store: store, sel: sel, synth: synth, hist: hist, sink: sink, cfg: cfg}
}

// Start creates a session in AWAKENING and returns the first message pair.
// A failing synthesizer degrades the response to text-only; the session is
// still created.
func (s *Service) Start(ctx context.Context, alarmTime, userName, personalityID string) (*StartResult, error) {
	now := time.Now()
	sess := &domain.Session{
		ID:             uuid.NewString(),
		Phase:          domain.PhaseAwakening,
		PersonalityID:  domain.PersonalityByID(personalityID).ID,
		UserName:       userName,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	if s.hist != nil {
		if err := s.hist.RecordStart(ctx, sess.ID, now); err != nil {
			slog.Warn("Failed to record session start", "session_id", sess.ID, "error", err)
		}
	}

	msgCtx := message.Context{UserName: userName, AlarmTime: alarmTime}
	msg, prompt := s.phrase(sess.Phase, sess.EscalationLevel, sess.PersonalityID, msgCtx)
	s.publish(sess)

	slog.Info("Wake session started", "session_id", sess.ID, "personality", sess.PersonalityID)

	return &StartResult{
		SessionID:       sess.ID,
		Phase:           sess.Phase,
		EscalationLevel: sess.EscalationLevel,
		MessageID:       msg.TemplateID,
		Text:            msg.Text,
		AudioRef:        s.synthRef(ctx, msg.Text),
		PromptText:      prompt.Text,
		PromptAudioRef:  s.synthRef(ctx, prompt.Text),
	}, nil
}

// Validate runs the two-stage keyword check and applies the phase transition.
// Returns session.ErrNotFound for unknown or expired ids. A failing keyword
// check is a normal outcome (Valid=false), never an error.
func (s *Service) Validate(ctx context.Context, sessionID, typed, spoken string) (*ValidateResult, error) {
	var msg message.Built
	var valid bool

	sess, err := s.store.Mutate(ctx, sessionID, func(sess *domain.Session) error {
		sess.Touch(time.Now())
		valid, msg = s.applyValidate(sess, typed, spoken)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sess.Released() && s.hist != nil {
		if err := s.hist.RecordEnd(ctx, sess.ID, true, sess.FailedAttempts, sess.NudgeCount); err != nil {
			slog.Warn("Failed to record session end", "session_id", sess.ID, "error", err)
		}
	}
	s.publish(&sess)

	res := &ValidateResult{
		Valid:           valid,
		Phase:           sess.Phase,
		EscalationLevel: sess.EscalationLevel,
		MessageID:       msg.TemplateID,
		Text:            msg.Text,
		AudioRef:        s.synthRef(ctx, msg.Text),
		Released:        sess.Released(),
		SpokenVerified:  sess.SpokenVerified,
	}

	// No listening prompt once the session is released or while the next step
	// is typed-only.
	if !sess.Released() && !s.typedOnly(&sess) {
		prompt := s.listening()
		res.PromptText = prompt.Text
		res.PromptAudioRef = s.synthRef(ctx, prompt.Text)
	}
	return res, nil
}

// Nudge re-prompts an idle AWAKENING session. Returns ErrInvalidPhase in any
// other phase, leaving the session untouched.
func (s *Service) Nudge(ctx context.Context, sessionID string) (*StartResult, error) {
	sess, err := s.store.Mutate(ctx, sessionID, func(sess *domain.Session) error {
		if sess.Phase != domain.PhaseAwakening {
			return ErrInvalidPhase
		}
		sess.NudgeCount++
		sess.Touch(time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	msgCtx := message.Context{UserName: sess.UserName}
	msg, prompt := s.phrase(domain.PhaseAwakening, 0, sess.PersonalityID, msgCtx)

	slog.Debug("Session nudged", "session_id", sess.ID, "nudge_count", sess.NudgeCount)

	return &StartResult{
		SessionID:       sess.ID,
		Phase:           sess.Phase,
		EscalationLevel: sess.EscalationLevel,
		MessageID:       msg.TemplateID,
		Text:            msg.Text,
		AudioRef:        s.synthRef(ctx, msg.Text),
		PromptText:      prompt.Text,
		PromptAudioRef:  s.synthRef(ctx, prompt.Text),
	}, nil
}

// Proof marks camera proof-of-action as captured.
func (s *Service) Proof(ctx context.Context, sessionID string) error {
	if !s.cfg.EnableProof {
		return ErrFeatureDisabled
	}
	_, err := s.store.Mutate(ctx, sessionID, func(sess *domain.Session) error {
		sess.ProofCaptured = true
		sess.Touch(time.Now())
		return nil
	})
	return err
}

// RoutineNext advances the morning routine; the last step releases.
func (s *Service) RoutineNext(ctx context.Context, sessionID string) (*RoutineResult, error) {
	if !s.cfg.EnableRoutine {
		return nil, ErrFeatureDisabled
	}

	steps := message.RoutineStepCount()
	sess, err := s.store.Mutate(ctx, sessionID, func(sess *domain.Session) error {
		if sess.Phase != domain.PhaseRoutineActive {
			return ErrInvalidPhase
		}
		sess.RoutineStep++
		sess.Touch(time.Now())
		if sess.RoutineStep >= steps {
			sess.RoutineComplete = true
			sess.Release(time.Now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sess.Released() && s.hist != nil {
		if err := s.hist.RecordEnd(ctx, sess.ID, true, sess.FailedAttempts, sess.NudgeCount); err != nil {
			slog.Warn("Failed to record session end", "session_id", sess.ID, "error", err)
		}
	}
	s.publish(&sess)

	p := domain.PersonalityByID(sess.PersonalityID)
	msgCtx := message.Context{UserName: sess.UserName}
	var msg message.Built
	s.selMu.Lock()
	if sess.RoutineComplete {
		msg = s.sel.Pick(domain.PhaseRelease, sess.EscalationLevel, p, msgCtx)
	} else {
		msg = s.sel.PickStep(sess.RoutineStep, p, msgCtx)
	}
	prompt := s.sel.ListeningPrompt()
	s.selMu.Unlock()

	res := &RoutineResult{
		StepIndex:       sess.RoutineStep,
		Text:            msg.Text,
		AudioRef:        s.synthRef(ctx, msg.Text),
		RoutineComplete: sess.RoutineComplete,
	}
	if !sess.Released() {
		res.PromptText = prompt.Text
		res.PromptAudioRef = s.synthRef(ctx, prompt.Text)
	}
	return res, nil
}

// applyValidate mutates the session for one validate call and picks the
// response line. Runs under the store's per-id lock.
func (s *Service) applyValidate(sess *domain.Session, typed, spoken string) (bool, message.Built) {
	p := domain.PersonalityByID(sess.PersonalityID)
	msgCtx := message.Context{UserName: sess.UserName}

	// RELEASE is terminal and the routine advances only via RoutineNext; a
	// validate in either phase changes nothing.
	if sess.Phase == domain.PhaseRelease {
		return false, s.pick(domain.PhaseRelease, sess.EscalationLevel, p, msgCtx)
	}
	if sess.Phase == domain.PhaseRoutineActive {
		s.selMu.Lock()
		defer s.selMu.Unlock()
		return false, s.sel.PickStep(sess.RoutineStep, p, msgCtx)
	}

	if s.typedOnly(sess) {
		// Second stage (or single-channel mode): only the typed token counts.
		if s.cfg.Policy.MatchTyped(typed) == keyword.FullOK {
			return true, s.advanceCompliant(sess, p, msgCtx)
		}
		return false, s.recordFail(sess, p, msgCtx)
	}

	switch s.cfg.Policy.Match(typed, spoken) {
	case keyword.FullOK:
		sess.SpokenVerified = true
		return true, s.advanceCompliant(sess, p, msgCtx)
	case keyword.SpokenOnlyOK:
		// The spoken half passed on its own; the phase holds until the typed
		// half arrives in a follow-up call.
		sess.SpokenVerified = true
		return true, message.Fixed("correct:phrase", "Correct. Now type yes or ok.")
	default:
		return false, s.recordFail(sess, p, msgCtx)
	}
}

// advanceCompliant applies a passing validate: first pass lands in COMPLIANT,
// the second releases (or enters the routine when enabled).
func (s *Service) advanceCompliant(sess *domain.Session, p domain.Personality, msgCtx message.Context) message.Built {
	if sess.Phase != domain.PhaseCompliant {
		sess.Phase = domain.PhaseCompliant
		return s.pick(domain.PhaseCompliant, sess.EscalationLevel, p, msgCtx)
	}
	if s.cfg.EnableRoutine {
		sess.Phase = domain.PhaseRoutineActive
		sess.RoutineStep = 0
		s.selMu.Lock()
		defer s.selMu.Unlock()
		return s.sel.PickStep(0, p, msgCtx)
	}
	sess.Release(time.Now())
	return s.pick(domain.PhaseRelease, sess.EscalationLevel, p, msgCtx)
}

// recordFail applies a failing validate: counters bump unconditionally and the
// phase resolves to RESISTING or ESCALATING by escalation level.
func (s *Service) recordFail(sess *domain.Session, p domain.Personality, msgCtx message.Context) message.Built {
	sess.RecordFailure()
	if sess.EscalationLevel > s.cfg.EscalateThreshold {
		sess.Phase = domain.PhaseEscalating
	} else {
		sess.Phase = domain.PhaseResisting
	}
	return s.pick(sess.Phase, sess.EscalationLevel, p, msgCtx)
}

// typedOnly reports whether the next validate stage only consults the typed
// channel.
func (s *Service) typedOnly(sess *domain.Session) bool {
	return s.cfg.Policy.Mode == keyword.ModeSingle || sess.SpokenVerified
}

func (s *Service) pick(phase domain.Phase, level int, p domain.Personality, msgCtx message.Context) message.Built {
	s.selMu.Lock()
	defer s.selMu.Unlock()
	return s.sel.Pick(phase, level, p, msgCtx)
}

func (s *Service) phrase(phase domain.Phase, level int, personalityID string, msgCtx message.Context) (message.Built, message.Built) {
	p := domain.PersonalityByID(personalityID)
	s.selMu.Lock()
	defer s.selMu.Unlock()
	return s.sel.Pick(phase, level, p, msgCtx), s.sel.ListeningPrompt()
}

func (s *Service) listening() message.Built {
	s.selMu.Lock()
	defer s.selMu.Unlock()
	return s.sel.ListeningPrompt()
}

// synthRef renders text to audio, degrading to an empty ref on failure so the
// state machine never stalls on the synthesis collaborator.
func (s *Service) synthRef(ctx context.Context, text string) string {
	if s.synth == nil || text == "" {
		return ""
	}
	ref, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		slog.Warn("Synthesis degraded to text-only", "error", err)
		return ""
	}
	return ref
}

func (s *Service) publish(sess *domain.Session) {
	if s.sink == nil {
		return
	}
	s.sink.PublishTransition(sess.ID, sess.Phase, sess.EscalationLevel, sess.Released())
}
