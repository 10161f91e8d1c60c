// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	AudioDir    string

	// SessionTTL is the inactivity window after which a session expires and
	// subsequent calls see NotFound.
	SessionTTL    time.Duration
	SweepInterval time.Duration

	// EscalateThreshold is the escalation level above which failed validates
	// resolve to ESCALATING instead of RESISTING.
	EscalateThreshold int

	// KeywordMode is "dual" (spoken phrase + typed token) or "single"
	// (unified set, typed alone).
	KeywordMode     string
	SpokenKeywords  []string
	TypedKeywords   []string
	UnifiedKeywords []string

	// TTSCommand/STTCommand are engine command templates; empty disables the
	// engine and responses degrade to text-only.
	TTSCommand   string
	STTCommand   string
	SynthTimeout time.Duration

	EnableProof   bool
	EnableRoutine bool
}

// defaultSpoken mirrors the phrases the wake ritual accepts after
// normalization; variants like "im awake" normalize onto these.
var defaultSpoken = []string{
	"i'm awake", "i am awake", "awake",
	"i'm up", "i am up", "up",
	"wake up", "get up", "a wake", "awaken", "wake",
}

var defaultTyped = []string{"yes", "ok", "okay"}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/sloth_wake.db"),
		AudioDir:          getEnv("AUDIO_DIR", "./data/audio"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 30*time.Minute),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", time.Minute),
		EscalateThreshold: getEnvInt("ESCALATE_THRESHOLD", 2),
		KeywordMode:       strings.ToLower(getEnv("KEYWORD_MODE", "dual")),
		SpokenKeywords:    getEnvList("SPOKEN_KEYWORDS", defaultSpoken),
		TypedKeywords:     getEnvList("TYPED_KEYWORDS", defaultTyped),
		UnifiedKeywords:   getEnvList("UNIFIED_KEYWORDS", defaultTyped),
		TTSCommand:        getEnv("TTS_COMMAND", ""),
		STTCommand:        getEnv("STT_COMMAND", ""),
		SynthTimeout:      getEnvDuration("SYNTH_TIMEOUT", 15*time.Second),
		EnableProof:       getEnvBool("ENABLE_PROOF", false),
		EnableRoutine:     getEnvBool("ENABLE_ROUTINE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AudioDir == "" {
		return fmt.Errorf("AUDIO_DIR cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.EscalateThreshold < 0 {
		return fmt.Errorf("ESCALATE_THRESHOLD must be >= 0")
	}
	switch c.KeywordMode {
	case "dual":
		if len(c.SpokenKeywords) == 0 || len(c.TypedKeywords) == 0 {
			return fmt.Errorf("dual mode needs SPOKEN_KEYWORDS and TYPED_KEYWORDS")
		}
	case "single":
		if len(c.UnifiedKeywords) == 0 {
			return fmt.Errorf("single mode needs UNIFIED_KEYWORDS")
		}
	default:
		return fmt.Errorf("KEYWORD_MODE must be \"dual\" or \"single\", got %q", c.KeywordMode)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
