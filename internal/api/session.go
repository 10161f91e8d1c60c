package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/slothwake/sloth/internal/history"
	"github.com/slothwake/sloth/internal/protocol"
	"github.com/slothwake/sloth/internal/session"
	"github.com/slothwake/sloth/internal/speech"
)

// maxAudioUpload bounds transcription uploads (a few seconds of webm/wav).
const maxAudioUpload = 10 << 20

// SessionHandler exposes the session protocol over HTTP.
type SessionHandler struct {
	svc         *protocol.Service
	transcriber speech.Transcriber
	hist        history.Repository
}

// NewSessionHandler creates the handler. transcriber and hist may be nil;
// the corresponding endpoints then degrade (503) or are skipped.
func NewSessionHandler(svc *protocol.Service, transcriber speech.Transcriber, hist history.Repository) *SessionHandler {
	return &SessionHandler{svc: svc, transcriber: transcriber, hist: hist}
}

// RegisterRoutes registers the session protocol routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/validate", h.Validate)
		r.Post("/nudge", h.Nudge)
		r.Post("/proof", h.Proof)
		r.Post("/routine/next", h.RoutineNext)
		r.Post("/transcribe", h.Transcribe)
	})
	if h.hist != nil {
		r.Get("/history/recent", h.RecentHistory)
	}
}

type startRequest struct {
	AlarmTime     string `json:"alarm_time"`
	UserName      string `json:"user_name"`
	PersonalityID string `json:"personality_id"`
}

// Start begins a wake session and returns the first message pair.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.Start(r.Context(), req.AlarmTime, req.UserName, req.PersonalityID)
	if err != nil {
		slog.Error("Failed to start session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	JSON(w, http.StatusOK, res)
}

type validateRequest struct {
	SessionID string `json:"session_id"`
	Keyword   string `json:"keyword"`
	Spoken    string `json:"spoken"`
}

// Validate runs the keyword check. A failing check is a 200 with valid=false;
// only unknown/expired sessions are errors.
func (h *SessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.Validate(r.Context(), req.SessionID, req.Keyword, req.Spoken)
	if err != nil {
		h.protocolError(w, err, req.SessionID)
		return
	}
	JSON(w, http.StatusOK, res)
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// Nudge re-prompts an idle AWAKENING session.
func (h *SessionHandler) Nudge(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.Nudge(r.Context(), req.SessionID)
	if err != nil {
		h.protocolError(w, err, req.SessionID)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Proof marks camera proof-of-action as captured.
func (h *SessionHandler) Proof(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.svc.Proof(r.Context(), req.SessionID); err != nil {
		h.protocolError(w, err, req.SessionID)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RoutineNext advances the morning routine.
func (h *SessionHandler) RoutineNext(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.RoutineNext(r.Context(), req.SessionID)
	if err != nil {
		h.protocolError(w, err, req.SessionID)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Transcribe converts an uploaded audio clip into a spoken-keyword candidate.
func (h *SessionHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		Error(w, http.StatusServiceUnavailable, "speech-to-text not configured")
		return
	}

	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		Error(w, http.StatusBadRequest, "audio file required")
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Debug("Failed to close upload", "error", closeErr)
		}
	}()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	text, err := h.transcriber.Transcribe(r.Context(), audio, filepath.Ext(header.Filename))
	if err != nil {
		if errors.Is(err, speech.ErrUnavailable) {
			Error(w, http.StatusServiceUnavailable, "speech-to-text unavailable")
			return
		}
		slog.Error("Transcription failed", "error", err)
		Error(w, http.StatusInternalServerError, "transcription failed")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"text": text})
}

// RecentHistory returns the latest wake-history records.
func (h *SessionHandler) RecentHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.hist.Recent(r.Context(), 20)
	if err != nil {
		slog.Error("Failed to load wake history", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	JSON(w, http.StatusOK, records)
}

// protocolError maps protocol sentinels to HTTP statuses.
func (h *SessionHandler) protocolError(w http.ResponseWriter, err error, sessionID string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, protocol.ErrInvalidPhase):
		Error(w, http.StatusBadRequest, "operation not allowed in current phase")
	case errors.Is(err, protocol.ErrFeatureDisabled):
		Error(w, http.StatusForbidden, "feature disabled")
	default:
		slog.Error("Session operation failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
