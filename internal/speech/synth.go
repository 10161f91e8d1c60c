// Package speech wraps the external text-to-speech and speech-to-text
// collaborators. Both are optional: an unavailable engine degrades the session
// to text-only instead of stalling the state machine.
package speech

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnavailable indicates the speech engine is missing or failed; callers
// degrade to text-only responses.
var ErrUnavailable = errors.New("speech engine unavailable")

// Synthesizer turns a line of dialogue into a servable audio reference.
type Synthesizer interface {
	// Synthesize returns the URL path of the rendered audio, e.g.
	// "/static/audio/1234.wav".
	Synthesize(ctx context.Context, text string) (string, error)
}

// Engine renders text to a WAV file on disk. Implementations are expected to
// honor ctx cancellation.
type Engine interface {
	SynthesizeToFile(ctx context.Context, text, outPath string) error
}

// cacheVersion is part of the cache key; bump it when changing voice or
// post-processing so stale audio regenerates.
const cacheVersion = 1

// baseURL is where cmd/server mounts the audio directory.
const baseURL = "/static/audio"

// FileSynthesizer caches rendered audio on disk keyed by text hash, so
// repeated lines (there are only a few dozen templates) synthesize once.
type FileSynthesizer struct {
	engine  Engine
	dir     string
	timeout time.Duration
}

// NewFileSynthesizer creates a synthesizer writing under dir. A nil engine is
// allowed and yields ErrUnavailable on every call.
func NewFileSynthesizer(engine Engine, dir string, timeout time.Duration) (*FileSynthesizer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FileSynthesizer{engine: engine, dir: dir, timeout: timeout}, nil
}

// Synthesize renders text (or serves the cached file) and returns its URL path.
func (s *FileSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	if s.engine == nil {
		return "", ErrUnavailable
	}

	filename := fmt.Sprintf("%d.wav", cacheKey(text))
	outPath := filepath.Join(s.dir, filename)
	ref := baseURL + "/" + filename

	if _, err := os.Stat(outPath); err == nil {
		return ref, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Render to a temp name first so a half-written file is never served.
	tmpPath := outPath + ".tmp"
	if err := s.engine.SynthesizeToFile(ctx, text, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		slog.Warn("TTS synthesis failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("publish audio file: %w", err)
	}
	return ref, nil
}

func cacheKey(text string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%s", cacheVersion, text)
	return h.Sum64()
}

// CommandEngine shells out to a TTS command line. The template uses {text} and
// {out} placeholders, e.g. "espeak-ng -w {out} {text}".
type CommandEngine struct {
	template string
}

// NewCommandEngine builds an engine from a command template. Empty template
// returns nil, which FileSynthesizer treats as no engine.
func NewCommandEngine(template string) *CommandEngine {
	if strings.TrimSpace(template) == "" {
		return nil
	}
	return &CommandEngine{template: template}
}

// SynthesizeToFile runs the configured command.
func (e *CommandEngine) SynthesizeToFile(ctx context.Context, text, outPath string) error {
	parts := strings.Fields(e.template)
	if len(parts) == 0 {
		return ErrUnavailable
	}
	args := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		p = strings.ReplaceAll(p, "{text}", text)
		p = strings.ReplaceAll(p, "{out}", outPath)
		args = append(args, p)
	}

	cmd := exec.CommandContext(ctx, parts[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tts command: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}
