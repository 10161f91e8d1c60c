// Package protocol implements the server half of the wake-session contract:
// Start, Validate and Nudge (plus the optional proof and routine extensions),
// orchestrating the session store, keyword matcher, message selector and the
// external synthesis collaborator.
package protocol

import (
	"errors"

	"github.com/slothwake/sloth/internal/domain"
)

// ErrInvalidPhase is returned when an operation is not legal in the session's
// current phase. The session is left untouched.
var ErrInvalidPhase = errors.New("operation not allowed in current phase")

// ErrFeatureDisabled is returned for the proof/routine extensions when the
// corresponding feature flag is off.
var ErrFeatureDisabled = errors.New("feature disabled")

// StartResult is the response shape of Start and Nudge.
type StartResult struct {
	SessionID       string       `json:"session_id"`
	Phase           domain.Phase `json:"phase"`
	EscalationLevel int          `json:"escalation_level"`
	MessageID       string       `json:"message_id"`
	Text            string       `json:"text"`
	AudioRef        string       `json:"audio_url"`
	PromptText      string       `json:"prompt_text,omitempty"`
	PromptAudioRef  string       `json:"prompt_audio_url,omitempty"`
}

// ValidateResult is the response shape of Validate. Valid reflects whether
// this specific call passed the keyword check, independent of the phase it
// lands in.
type ValidateResult struct {
	Valid           bool         `json:"valid"`
	Phase           domain.Phase `json:"phase"`
	EscalationLevel int          `json:"escalation_level"`
	MessageID       string       `json:"message_id"`
	Text            string       `json:"text"`
	AudioRef        string       `json:"audio_url"`
	Released        bool         `json:"released"`
	SpokenVerified  bool         `json:"spoken_verified"`
	PromptText      string       `json:"prompt_text,omitempty"`
	PromptAudioRef  string       `json:"prompt_audio_url,omitempty"`
}

// RoutineResult is the response shape of RoutineNext.
type RoutineResult struct {
	StepIndex       int    `json:"step_index"`
	Text            string `json:"text"`
	AudioRef        string `json:"audio_url"`
	RoutineComplete bool   `json:"routine_complete"`
	PromptText      string `json:"prompt_text,omitempty"`
	PromptAudioRef  string `json:"prompt_audio_url,omitempty"`
}

// TransitionSink receives phase transitions for observers (the websocket event
// feed). A nil sink is allowed.
type TransitionSink interface {
	PublishTransition(sessionID string, phase domain.Phase, escalationLevel int, released bool)
}
