package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/slothwake/sloth/internal/keyword"
	"github.com/slothwake/sloth/internal/message"
	"github.com/slothwake/sloth/internal/protocol"
	"github.com/slothwake/sloth/internal/session"
)

type fakeSynth struct{}

func (fakeSynth) Synthesize(_ context.Context, _ string) (string, error) {
	return "/static/audio/fake.wav", nil
}

type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	return string(audio), nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := protocol.Config{
		Policy: keyword.NewPolicy(keyword.ModeDual,
			[]string{"i'm awake", "i'm up", "awake"},
			[]string{"yes", "ok", "okay"},
			nil, nil),
		EscalateThreshold: 2,
	}
	sel := message.NewSelector(rand.New(rand.NewSource(1)))
	svc := protocol.NewService(session.NewMemoryStore(), sel, fakeSynth{}, nil, nil, cfg)

	r := chi.NewRouter()
	NewSessionHandler(svc, echoTranscriber{}, nil).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, data
}

func startSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, data := postJSON(t, srv.URL+"/session/start", map[string]string{"alarm_time": "07:00"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d", resp.StatusCode)
	}
	id, _ := data["session_id"].(string)
	if id == "" {
		t.Fatal("missing session_id")
	}
	return id
}

func TestStart_ReturnsAwakening(t *testing.T) {
	srv := newTestServer(t)

	resp, data := postJSON(t, srv.URL+"/session/start",
		map[string]string{"alarm_time": "07:00", "user_name": "Test"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if data["phase"] != "AWAKENING" {
		t.Errorf("Expected AWAKENING, got %v", data["phase"])
	}
	if data["escalation_level"].(float64) != 0 {
		t.Errorf("Expected escalation 0, got %v", data["escalation_level"])
	}
	if data["audio_url"] != "/static/audio/fake.wav" {
		t.Errorf("unexpected audio_url %v", data["audio_url"])
	}
	if data["prompt_text"] == "" || data["text"] == "" {
		t.Errorf("missing text fields: %v", data)
	}
}

func TestValidate_UnknownSession404(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := postJSON(t, srv.URL+"/session/validate",
		map[string]string{"session_id": uuid.NewString(), "keyword": "yes"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestValidate_WrongPhraseNotValid(t *testing.T) {
	srv := newTestServer(t)
	id := startSession(t, srv)

	resp, data := postJSON(t, srv.URL+"/session/validate",
		map[string]string{"session_id": id, "keyword": "wrongphrase", "spoken": "wrongphrase"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if data["valid"] != false {
		t.Error("Expected valid=false")
	}
	phase := data["phase"].(string)
	if phase != "RESISTING" && phase != "ESCALATING" {
		t.Errorf("Expected failure phase, got %s", phase)
	}
	if data["released"] != false || data["spoken_verified"] != false {
		t.Errorf("unexpected flags: %v", data)
	}
}

func TestValidate_PhraseThenTypeThenRelease(t *testing.T) {
	srv := newTestServer(t)
	id := startSession(t, srv)

	// Step 1: correct spoken phrase.
	_, d0 := postJSON(t, srv.URL+"/session/validate",
		map[string]string{"session_id": id, "spoken": "i'm awake"})
	if d0["valid"] != true || d0["spoken_verified"] != true || d0["released"] != false {
		t.Fatalf("unexpected step-1 response: %v", d0)
	}

	// Step 2: typed keyword lands in COMPLIANT.
	_, d1 := postJSON(t, srv.URL+"/session/validate",
		map[string]string{"session_id": id, "keyword": "yes"})
	if d1["valid"] != true || d1["phase"] != "COMPLIANT" || d1["released"] != false {
		t.Fatalf("unexpected step-2 response: %v", d1)
	}

	// Step 3: second pass releases.
	_, d2 := postJSON(t, srv.URL+"/session/validate",
		map[string]string{"session_id": id, "keyword": "yes"})
	if d2["valid"] != true || d2["phase"] != "RELEASE" || d2["released"] != true {
		t.Fatalf("unexpected step-3 response: %v", d2)
	}
}

func TestNudge_FlowAndErrors(t *testing.T) {
	srv := newTestServer(t)
	id := startSession(t, srv)

	resp, data := postJSON(t, srv.URL+"/session/nudge", map[string]string{"session_id": id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if data["phase"] != "AWAKENING" {
		t.Errorf("Expected AWAKENING, got %v", data["phase"])
	}

	resp, _ = postJSON(t, srv.URL+"/session/nudge", map[string]string{"session_id": uuid.NewString()})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	// Move past AWAKENING, then nudge must 400.
	postJSON(t, srv.URL+"/session/validate", map[string]string{"session_id": id, "spoken": "awake"})
	postJSON(t, srv.URL+"/session/validate", map[string]string{"session_id": id, "keyword": "yes"})
	resp, _ = postJSON(t, srv.URL+"/session/nudge", map[string]string{"session_id": id})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestProof_DisabledReturns403(t *testing.T) {
	srv := newTestServer(t)
	id := startSession(t, srv)

	resp, _ := postJSON(t, srv.URL+"/session/proof", map[string]string{"session_id": id})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}
}

func TestTranscribe_RoundTrip(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := fw.Write([]byte("i'm awake")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = mw.Close()

	resp, err := http.Post(srv.URL+"/session/transcribe", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var data map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data["text"] != "i'm awake" {
		t.Errorf("Expected transcript echo, got %q", data["text"])
	}
}

func TestValidate_MalformedBody400(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/session/validate", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}
