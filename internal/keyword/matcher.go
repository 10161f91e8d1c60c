// Package keyword implements the pure pass/fail decision for wake-session
// proof-of-compliance input.
package keyword

import (
	"regexp"
	"strings"
)

// Result is the outcome of a single match call.
type Result string

const (
	// Fail means neither channel satisfied the active policy.
	Fail Result = "fail"
	// SpokenOnlyOK means the spoken phrase matched but the typed token did not.
	// The caller is expected to submit the typed half in a follow-up call.
	SpokenOnlyOK Result = "spoken_only_ok"
	// FullOK means the policy is fully satisfied.
	FullOK Result = "full_ok"
)

// Mode selects between the dual-channel and unified single-channel policies.
type Mode string

const (
	// ModeDual requires a spoken phrase and a typed token from independent sets.
	ModeDual Mode = "dual"
	// ModeSingle accepts any keyword from the unified set, typed alone.
	ModeSingle Mode = "single"
)

// Normalizer canonicalizes raw input before membership checks. Pluggable so a
// fuzzy matcher can be swapped in without touching callers.
type Normalizer func(string) string

var (
	edgePunct  = regexp.MustCompile(`^[.!?,;:]+|[.!?,;:]+$`)
	whitespace = regexp.MustCompile(`\s+`)
	bareIm     = regexp.MustCompile(`\bim\b`)
)

// Normalize is the default normalizer: lowercase, trim, strip edge
// punctuation, collapse whitespace, straighten apostrophes, and canonicalize
// "im" to "i'm" so STT output like "im awake" matches.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "’", "'")
	s = edgePunct.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	s = bareIm.ReplaceAllString(s, "i'm")
	return strings.TrimSpace(s)
}

// Policy is the active keyword configuration. Sets hold already-normalized
// members; NewPolicy takes care of that.
type Policy struct {
	Mode      Mode
	Spoken    map[string]struct{}
	Typed     map[string]struct{}
	Unified   map[string]struct{}
	Normalize Normalizer
}

// NewPolicy builds a policy from raw keyword lists, normalizing every member
// with the given normalizer (Normalize when nil).
func NewPolicy(mode Mode, spoken, typed, unified []string, n Normalizer) Policy {
	if n == nil {
		n = Normalize
	}
	return Policy{
		Mode:      mode,
		Spoken:    toSet(spoken, n),
		Typed:     toSet(typed, n),
		Unified:   toSet(unified, n),
		Normalize: n,
	}
}

func toSet(words []string, n Normalizer) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if canonical := n(w); canonical != "" {
			set[canonical] = struct{}{}
		}
	}
	return set
}

func member(set map[string]struct{}, word string) bool {
	_, ok := set[word]
	return ok
}

// Match decides pass/fail for one validate call. Empty typed and empty spoken
// input is always Fail. In dual mode a correct typed token alongside an
// incorrect spoken phrase is Fail: both channels must pass in the same call.
func (p Policy) Match(typed, spoken string) Result {
	n := p.Normalize
	if n == nil {
		n = Normalize
	}
	typed = n(typed)
	spoken = n(spoken)
	if typed == "" && spoken == "" {
		return Fail
	}

	if p.Mode == ModeSingle {
		if member(p.Unified, typed) {
			return FullOK
		}
		return Fail
	}

	spokenOK := spoken != "" && member(p.Spoken, spoken)
	typedOK := typed != "" && member(p.Typed, typed)
	switch {
	case spokenOK && typedOK:
		return FullOK
	case spokenOK:
		return SpokenOnlyOK
	default:
		return Fail
	}
}

// MatchTyped checks only the typed channel against the dual-mode typed set.
// Used once the spoken half has already been verified for the session.
func (p Policy) MatchTyped(typed string) Result {
	n := p.Normalize
	if n == nil {
		n = Normalize
	}
	typed = n(typed)
	if typed == "" {
		return Fail
	}
	set := p.Typed
	if p.Mode == ModeSingle {
		set = p.Unified
	}
	if member(set, typed) {
		return FullOK
	}
	return Fail
}
