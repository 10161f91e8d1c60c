// Package message selects personality-driven dialogue lines for each session
// phase, plus the short listening prompts played before the user's turn.
package message

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/slothwake/sloth/internal/domain"
)

// Built is one resolved dialogue line with a stable template id for
// analytics and tests.
type Built struct {
	TemplateID string
	Text       string
}

// Context carries substitution values for templates. Placeholders use
// {userName} and {time}.
type Context struct {
	UserName  string
	AlarmTime string
}

// phaseMessages orders each bucket mild to harsh; escalation pushes the draw
// window toward the tail.
var phaseMessages = map[domain.Phase][]string{
	domain.PhaseAwakening: {
		"Hey {userName}. Wake up.\nNow.",
		"Eyes open... right now.",
		"Up. On your feet.",
		"Rise up... before this gets unpleasant.",
		"Get up. You're not in charge here.",
		"Alarm's over. Sleep is not.",
		"You said you'd wake.\nProve it.",
		"This is not optional. Get up.",
		"You are awake now... act like it.",
	},
	domain.PhaseResisting: {
		"That's the wrong word. Say awake or up, then type yes or ok.",
		"That was wrong... try again.",
		"Wrong word. Say it right.",
		"Nice try. Again.",
		"You know the word. Use it.",
		"You're stalling. I see you.",
		"Cute. Fix it.",
		"Is that really your best? Say the word.",
	},
	domain.PhaseEscalating: {
		"Sit up. Now.",
		"No more stalling. Say the word.",
		"Say the word... correctly.",
		"Are you still lying down? Fix that.",
		"Last chance. Don't blow it.",
		"Get moving. I'm done waiting.",
	},
	domain.PhaseCompliant: {
		"Good... stay with me.",
		"That's more like it.",
		"There we go.\nDon't drift.",
		"I knew you'd listen.",
		"Better. Keep going.",
		"See? You can do this.",
	},
	domain.PhaseRoutineActive: {
		"Posture. Fix it.",
		"Hold it. Don't rush.",
		"Slow down. I'm watching.",
		"Focus. Almost there.",
	},
	domain.PhaseRelease: {
		"You're done. Good work.",
		"That's it. See you tomorrow.",
		"We're finished. Rest earned.",
	},
}

// listeningMessages is the disjoint table for the user's-turn prompt, keyed by
// nothing but index; every phase shares it.
var listeningMessages = []string{
	"Say the word. I'm listening.",
	"Your turn. Say it.",
	"Go on. I'm listening.",
	"Say the word.",
	"I'm listening. Say it.",
	"Your turn. Say the word.",
	"Say it. I'm waiting.",
	"The word. Now.",
	"Go on. Say the word.",
	"Say the word. Your turn.",
}

func init() {
	// Fail at construction time rather than falling back silently.
	for _, p := range domain.Phases {
		if len(phaseMessages[p]) == 0 {
			panic(fmt.Sprintf("message: no templates for phase %s", p))
		}
	}
}

// RoutineStepCount reports how many morning-routine steps the table defines.
func RoutineStepCount() int {
	return len(phaseMessages[domain.PhaseRoutineActive])
}

// Selector draws dialogue lines. The random source is injected so selection is
// reproducible in tests; a Selector is not safe for concurrent use and callers
// guard it.
type Selector struct {
	rng *rand.Rand
}

// NewSelector creates a selector over the given source.
func NewSelector(rng *rand.Rand) *Selector {
	return &Selector{rng: rng}
}

// Pick draws a line for the phase. The personality's intensity curve maps the
// escalation level to a floor index; the draw is uniform over [floor, end] so
// repeated failures trend harsher without repeating a single line.
func (s *Selector) Pick(phase domain.Phase, level int, p domain.Personality, ctx Context) Built {
	bucket := phaseMessages[phase]
	maxIdx := len(bucket) - 1
	lo := p.IntensityFloor(level)
	if lo > maxIdx {
		lo = maxIdx
	}
	idx := lo + s.rng.Intn(maxIdx-lo+1)
	return Built{
		TemplateID: fmt.Sprintf("%s:%s:%d", p.ID, phase, idx),
		Text:       expand(bucket[idx], ctx),
	}
}

// PickStep returns the routine line for a fixed step index, clamped to the
// table. Deterministic: routine steps are a sequence, not a mood.
func (s *Selector) PickStep(step int, p domain.Personality, ctx Context) Built {
	bucket := phaseMessages[domain.PhaseRoutineActive]
	if step < 0 {
		step = 0
	}
	if step >= len(bucket) {
		step = len(bucket) - 1
	}
	return Built{
		TemplateID: fmt.Sprintf("%s:%s:%d", p.ID, domain.PhaseRoutineActive, step),
		Text:       expand(bucket[step], ctx),
	}
}

// ListeningPrompt draws the secondary "your turn to speak" line.
func (s *Selector) ListeningPrompt() Built {
	idx := s.rng.Intn(len(listeningMessages))
	return Built{
		TemplateID: fmt.Sprintf("listening:%d", idx),
		Text:       listeningMessages[idx],
	}
}

// Fixed returns a literal line under a stable id, for the protocol's
// instructional responses ("Correct. Now type yes or ok.").
func Fixed(id, text string) Built {
	return Built{TemplateID: id, Text: text}
}

func expand(tmpl string, ctx Context) string {
	name := ctx.UserName
	if name == "" {
		name = "you"
	}
	out := strings.ReplaceAll(tmpl, "{userName}", name)
	out = strings.ReplaceAll(out, "{time}", ctx.AlarmTime)
	return out
}
