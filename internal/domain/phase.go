// Package domain contains core domain types for the SLOTH wake-session server.
package domain

// Phase is the session's current stage in the enforced compliance ritual.
type Phase string

const (
	// PhaseAwakening is the initial phase right after the alarm fires.
	PhaseAwakening Phase = "AWAKENING"
	// PhaseResisting is entered after early failed validations.
	PhaseResisting Phase = "RESISTING"
	// PhaseEscalating is entered once failures accumulate past the configured threshold.
	PhaseEscalating Phase = "ESCALATING"
	// PhaseCompliant is entered on the first passing validation.
	PhaseCompliant Phase = "COMPLIANT"
	// PhaseRoutineActive is the optional morning-routine phase between COMPLIANT and RELEASE.
	PhaseRoutineActive Phase = "ROUTINE_ACTIVE"
	// PhaseRelease is terminal; the user regains unrestricted control.
	PhaseRelease Phase = "RELEASE"
)

// Phases lists every valid phase. Message tables are validated against this
// list at construction time so an unhandled phase fails fast instead of
// silently falling back.
var Phases = []Phase{
	PhaseAwakening,
	PhaseResisting,
	PhaseEscalating,
	PhaseCompliant,
	PhaseRoutineActive,
	PhaseRelease,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the phase ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseRelease
}
