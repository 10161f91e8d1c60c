package domain

// Tone describes the register a personality speaks in.
type Tone string

const (
	// ToneSarcastic is the default drill-sergeant-with-a-smirk register.
	ToneSarcastic Tone = "sarcastic"
	// ToneCaring is a softer register for gentler wake schedules.
	ToneCaring Tone = "caring"
)

// Personality describes how the system should talk. Instances are immutable
// and selected once at session creation; message selection stays predictable
// because the curve is fixed data.
type Personality struct {
	ID             string
	Tone           Tone
	IntensityCurve []int // escalation level -> intensity floor, clamped at the end
	SwearAllowance bool
}

// IntensityFloor maps an escalation level to the minimum intensity index the
// selector may draw from. Levels beyond the curve clamp to its last entry.
func (p Personality) IntensityFloor(level int) int {
	if len(p.IntensityCurve) == 0 {
		return 0
	}
	if level < 0 {
		level = 0
	}
	if level >= len(p.IntensityCurve) {
		return p.IntensityCurve[len(p.IntensityCurve)-1]
	}
	return p.IntensityCurve[level]
}

// DefaultPersonality is used when Start does not name one.
var DefaultPersonality = Personality{
	ID:             "default_savage",
	Tone:           ToneSarcastic,
	IntensityCurve: []int{0, 1, 2, 3, 4, 5},
	SwearAllowance: false,
}

// Personalities is the read-only process-wide catalog.
var Personalities = map[string]Personality{
	DefaultPersonality.ID: DefaultPersonality,
	"soft_sunrise": {
		ID:             "soft_sunrise",
		Tone:           ToneCaring,
		IntensityCurve: []int{0, 0, 1, 1, 2, 2},
		SwearAllowance: false,
	},
}

// PersonalityByID looks up a personality, falling back to the default.
func PersonalityByID(id string) Personality {
	if p, ok := Personalities[id]; ok {
		return p
	}
	return DefaultPersonality
}
