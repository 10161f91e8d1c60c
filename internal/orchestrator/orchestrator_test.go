package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/slothwake/sloth/internal/domain"
	"github.com/slothwake/sloth/internal/protocol"
	"github.com/slothwake/sloth/internal/session"
)

type validateCall struct {
	typed  string
	spoken string
}

// fakeClient scripts the server half of the protocol.
type fakeClient struct {
	mu            sync.Mutex
	startCalls    int
	nudgeCalls    int
	validateCalls []validateCall
	validateQueue []*protocol.ValidateResult
	validateErr   error
}

func (c *fakeClient) Start(_ context.Context, _, _ string) (*protocol.StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCalls++
	return &protocol.StartResult{
		SessionID:  "sess-1",
		Phase:      domain.PhaseAwakening,
		Text:       "Wake up.",
		AudioRef:   "/static/audio/main.wav",
		PromptText: "Say the word.",
	}, nil
}

func (c *fakeClient) Validate(_ context.Context, _ string, typed, spoken string) (*protocol.ValidateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validateCalls = append(c.validateCalls, validateCall{typed: typed, spoken: spoken})
	if c.validateErr != nil {
		return nil, c.validateErr
	}
	if len(c.validateQueue) > 0 {
		res := c.validateQueue[0]
		c.validateQueue = c.validateQueue[1:]
		return res, nil
	}
	return &protocol.ValidateResult{
		Valid:      false,
		Phase:      domain.PhaseResisting,
		Text:       "Wrong word.",
		PromptText: "Say the word.",
	}, nil
}

func (c *fakeClient) Nudge(_ context.Context, _ string) (*protocol.StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nudgeCalls++
	return &protocol.StartResult{
		SessionID:  "sess-1",
		Phase:      domain.PhaseAwakening,
		Text:       "Still there?",
		PromptText: "Say the word.",
	}, nil
}

func (c *fakeClient) counts() (int, int, []validateCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := make([]validateCall, len(c.validateCalls))
	copy(calls, c.validateCalls)
	return c.startCalls, c.nudgeCalls, calls
}

type fakeDisplay struct {
	mu       sync.Mutex
	shown    []string
	engaged  bool
	released bool
}

func (d *fakeDisplay) Show(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, text)
}

func (d *fakeDisplay) Engage() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engaged = true
}

func (d *fakeDisplay) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
}

func (d *fakeDisplay) wasReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

type fakeRecorder struct {
	spoken string
	calls  int
}

func (r *fakeRecorder) Capture(context.Context) (string, error) {
	r.calls++
	return r.spoken, nil
}

type nullSink struct{}

func (nullSink) Play(string) error { return nil }

// longConfig arms every timer far in the future so tests force callbacks
// deterministically instead of sleeping.
func longConfig() Config {
	return Config{
		CountdownDelay:   time.Hour,
		IdleNudgeDelay:   time.Hour,
		AutoRecordDelay:  time.Hour,
		SilentRetryDelay: time.Hour,
	}
}

func newStarted(t *testing.T, client *fakeClient, rec Recorder) (*Orchestrator, *fakeDisplay) {
	t.Helper()
	display := &fakeDisplay{}
	player := NewPlayer(nullSink{}, 0, 0)
	player.Unlock()
	o := New(client, rec, display, player, longConfig())
	o.Begin(context.Background())
	o.sched.fire(TimerCountdown, gen(t, o.sched, TimerCountdown))
	return o, display
}

func pass(phase domain.Phase, released, spokenVerified bool, prompt string) *protocol.ValidateResult {
	return &protocol.ValidateResult{
		Valid:          true,
		Phase:          phase,
		Released:       released,
		SpokenVerified: spokenVerified,
		Text:           "Good.",
		PromptText:     prompt,
	}
}

func TestOrchestrator_StartArmsTimers(t *testing.T) {
	client := &fakeClient{}
	o, display := newStarted(t, client, &fakeRecorder{spoken: "awake"})

	if o.Phase() != domain.PhaseAwakening {
		t.Errorf("Expected AWAKENING, got %s", o.Phase())
	}
	if !o.sched.Pending(TimerIdleNudge) {
		t.Error("Expected idle-nudge timer armed after start")
	}
	if !o.sched.Pending(TimerAutoRecord) {
		t.Error("Expected auto-record timer armed on the user's turn")
	}
	display.mu.Lock()
	engaged := display.engaged
	display.mu.Unlock()
	if !engaged {
		t.Error("Expected locked-attention mode engaged")
	}
}

func TestOrchestrator_DoubleIdleArmFiresOneNudge(t *testing.T) {
	client := &fakeClient{}
	o, _ := newStarted(t, client, nil)

	stale := gen(t, o.sched, TimerIdleNudge)
	o.sched.Arm(TimerIdleNudge, time.Hour, o.onIdle)
	current := gen(t, o.sched, TimerIdleNudge)

	o.sched.fire(TimerIdleNudge, stale)
	o.sched.fire(TimerIdleNudge, current)

	if _, nudges, _ := client.counts(); nudges != 1 {
		t.Errorf("Expected exactly 1 nudge, got %d", nudges)
	}
}

func TestOrchestrator_IdleRearmsAfterNudge(t *testing.T) {
	client := &fakeClient{}
	o, _ := newStarted(t, client, nil)

	o.sched.fire(TimerIdleNudge, gen(t, o.sched, TimerIdleNudge))

	if _, nudges, _ := client.counts(); nudges != 1 {
		t.Fatalf("Expected 1 nudge, got %d", nudges)
	}
	if !o.sched.Pending(TimerIdleNudge) {
		t.Error("Expected idle timer re-armed after nudge delivery")
	}
}

func TestOrchestrator_StaleIdleCallbackChecksPhase(t *testing.T) {
	client := &fakeClient{validateQueue: []*protocol.ValidateResult{
		pass(domain.PhaseCompliant, false, true, ""),
	}}
	o, _ := newStarted(t, client, nil)

	o.SubmitTyped("yes")
	if o.Phase() != domain.PhaseCompliant {
		t.Fatalf("Expected COMPLIANT, got %s", o.Phase())
	}
	if o.sched.Pending(TimerIdleNudge) {
		t.Error("Idle timer must be cancelled outside AWAKENING")
	}

	// Even a callback that somehow survives cancellation must not nudge.
	o.onIdle()
	if _, nudges, _ := client.counts(); nudges != 0 {
		t.Errorf("Expected no nudge outside AWAKENING, got %d", nudges)
	}
}

func TestOrchestrator_FailedValidateArmsSilentRetry(t *testing.T) {
	client := &fakeClient{}
	o, _ := newStarted(t, client, nil)

	o.SubmitTyped("banana")
	if !o.sched.Pending(TimerSilentRetry) {
		t.Fatal("Expected silent-retry timer after a failing validate")
	}

	o.sched.fire(TimerSilentRetry, gen(t, o.sched, TimerSilentRetry))

	_, _, calls := client.counts()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 validate calls, got %d", len(calls))
	}
	if calls[1].typed != "" || calls[1].spoken != "" {
		t.Errorf("Silent retry must submit an empty attempt, got %+v", calls[1])
	}
}

func TestOrchestrator_NewSubmissionCancelsSilentRetry(t *testing.T) {
	client := &fakeClient{}
	o, _ := newStarted(t, client, nil)

	o.SubmitTyped("banana")
	stale := gen(t, o.sched, TimerSilentRetry)

	o.SubmitTyped("banana again")
	o.sched.fire(TimerSilentRetry, stale)

	// Two user submissions plus the retry armed by the second one; the stale
	// retry must not have produced a third validate.
	_, _, calls := client.counts()
	if len(calls) != 2 {
		t.Errorf("Expected 2 validate calls, got %d", len(calls))
	}
}

func TestOrchestrator_AutoRecordCapturesAndSubmits(t *testing.T) {
	rec := &fakeRecorder{spoken: "i'm awake"}
	client := &fakeClient{validateQueue: []*protocol.ValidateResult{
		pass(domain.PhaseAwakening, false, true, ""),
	}}
	o, _ := newStarted(t, client, rec)

	o.sched.fire(TimerAutoRecord, gen(t, o.sched, TimerAutoRecord))

	_, _, calls := client.counts()
	if len(calls) != 1 || calls[0].spoken != "i'm awake" || calls[0].typed != "" {
		t.Fatalf("Expected spoken-only validate, got %+v", calls)
	}

	// Second stage is typed-only; the recorder must not run again.
	o.onAutoRecord()
	if rec.calls != 1 {
		t.Errorf("Expected 1 capture, got %d", rec.calls)
	}
}

func TestOrchestrator_ReleaseTearsEverythingDown(t *testing.T) {
	client := &fakeClient{validateQueue: []*protocol.ValidateResult{
		pass(domain.PhaseCompliant, false, true, ""),
		pass(domain.PhaseRelease, true, true, ""),
	}}
	o, display := newStarted(t, client, &fakeRecorder{spoken: "awake"})

	o.SubmitTyped("yes")
	o.SubmitTyped("ok")

	if !o.Released() {
		t.Fatal("Expected released")
	}
	for _, p := range []TimerPurpose{TimerCountdown, TimerIdleNudge, TimerAutoRecord, TimerSilentRetry} {
		if o.sched.Pending(p) {
			t.Errorf("Timer %s must be cancelled on release", p)
		}
	}
	if !display.wasReleased() {
		t.Error("Locked-attention mode must end on release")
	}

	// Nothing re-arms after release.
	_, _, before := client.counts()
	o.SubmitTyped("yes")
	o.onIdle()
	_, nudges, after := client.counts()
	if len(after) != len(before) || nudges != 0 {
		t.Error("No calls may be issued after release")
	}
}

func TestOrchestrator_NotFoundRestartsLoop(t *testing.T) {
	client := &fakeClient{validateErr: session.ErrNotFound}
	o, _ := newStarted(t, client, nil)

	o.SubmitTyped("yes")

	if !o.sched.Pending(TimerCountdown) {
		t.Error("Expected countdown re-armed after session vanished")
	}
	o.mu.Lock()
	id := o.sessionID
	o.mu.Unlock()
	if id != "" {
		t.Errorf("Expected cleared session id, got %q", id)
	}
}
