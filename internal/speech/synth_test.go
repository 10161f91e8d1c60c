package speech

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingEngine struct {
	calls atomic.Int32
	fail  bool
}

func (e *countingEngine) SynthesizeToFile(_ context.Context, text, outPath string) error {
	e.calls.Add(1)
	if e.fail {
		return errors.New("engine exploded")
	}
	return os.WriteFile(outPath, []byte("RIFF"+text), 0644)
}

func TestFileSynthesizer_CacheHitSkipsEngine(t *testing.T) {
	engine := &countingEngine{}
	synth, err := NewFileSynthesizer(engine, t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("NewFileSynthesizer failed: %v", err)
	}
	ctx := context.Background()

	ref1, err := synth.Synthesize(ctx, "Wake up.")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	ref2, err := synth.Synthesize(ctx, "Wake up.")
	if err != nil {
		t.Fatalf("second Synthesize failed: %v", err)
	}

	if ref1 != ref2 {
		t.Errorf("cache produced different refs: %q vs %q", ref1, ref2)
	}
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("Expected 1 engine call, got %d", got)
	}
	if !strings.HasPrefix(ref1, "/static/audio/") || !strings.HasSuffix(ref1, ".wav") {
		t.Errorf("unexpected ref shape %q", ref1)
	}
}

func TestFileSynthesizer_DistinctTextDistinctRefs(t *testing.T) {
	synth, _ := NewFileSynthesizer(&countingEngine{}, t.TempDir(), time.Second)
	ctx := context.Background()

	a, _ := synth.Synthesize(ctx, "Wake up.")
	b, _ := synth.Synthesize(ctx, "You're done.")
	if a == b {
		t.Errorf("different lines mapped to the same audio ref %q", a)
	}
}

func TestFileSynthesizer_NilEngineUnavailable(t *testing.T) {
	synth, _ := NewFileSynthesizer(nil, t.TempDir(), time.Second)
	if _, err := synth.Synthesize(context.Background(), "hello"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestFileSynthesizer_EngineFailureUnavailable(t *testing.T) {
	synth, _ := NewFileSynthesizer(&countingEngine{fail: true}, t.TempDir(), time.Second)
	if _, err := synth.Synthesize(context.Background(), "hello"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestNewCommandEngine_EmptyTemplate(t *testing.T) {
	if e := NewCommandEngine("  "); e != nil {
		t.Error("Expected nil engine for empty template")
	}
}

func TestNewCommandTranscriber_EmptyTemplate(t *testing.T) {
	if tr := NewCommandTranscriber("", time.Second); tr != nil {
		t.Error("Expected nil transcriber for empty template")
	}
}

func TestCommandTranscriber_EmptyAudio(t *testing.T) {
	tr := NewCommandTranscriber("cat {in}", time.Second)
	text, err := tr.Transcribe(context.Background(), nil, ".wav")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "" {
		t.Errorf("Expected empty transcript, got %q", text)
	}
}
