package speech

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Transcriber turns recorded audio into a spoken-keyword candidate.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, ext string) (string, error)
}

// CommandTranscriber shells out to an STT command line. The template uses an
// {in} placeholder for the audio file; the transcript is read from stdout.
// Example: "whisper-cli --no-timestamps {in}".
type CommandTranscriber struct {
	template string
	timeout  time.Duration
}

// NewCommandTranscriber builds a transcriber from a command template. Empty
// template returns nil; callers treat nil as no engine.
func NewCommandTranscriber(template string, timeout time.Duration) *CommandTranscriber {
	if strings.TrimSpace(template) == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandTranscriber{template: template, timeout: timeout}
}

// Transcribe writes the audio to a temp file and runs the configured command.
func (t *CommandTranscriber) Transcribe(ctx context.Context, audio []byte, ext string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	if ext == "" {
		ext = ".webm"
	}

	tmp, err := os.CreateTemp("", "sloth-stt-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp audio file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(audio); err != nil {
		return "", fmt.Errorf("write temp audio file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	parts := strings.Fields(t.template)
	if len(parts) == 0 {
		return "", ErrUnavailable
	}
	args := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		args = append(args, strings.ReplaceAll(p, "{in}", tmp.Name()))
	}

	cmd := exec.CommandContext(ctx, parts[0], args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: stt command: %v", ErrUnavailable, err)
	}
	return strings.TrimSpace(string(out)), nil
}
