// SLOTH - Wake-Alarm Session Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/slothwake/sloth/internal/api"
	"github.com/slothwake/sloth/internal/config"
	"github.com/slothwake/sloth/internal/events"
	"github.com/slothwake/sloth/internal/history"
	"github.com/slothwake/sloth/internal/keyword"
	"github.com/slothwake/sloth/internal/message"
	"github.com/slothwake/sloth/internal/middleware"
	"github.com/slothwake/sloth/internal/protocol"
	"github.com/slothwake/sloth/internal/session"
	"github.com/slothwake/sloth/internal/speech"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	hist, err := history.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize wake history", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := hist.Close(); closeErr != nil {
			slog.Error("Failed to close wake history", "error", closeErr)
		}
	}()

	if err := hist.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	var engine speech.Engine
	if ce := speech.NewCommandEngine(cfg.TTSCommand); ce != nil {
		engine = ce
	}
	synth, err := speech.NewFileSynthesizer(engine, cfg.AudioDir, cfg.SynthTimeout)
	if err != nil {
		slog.Error("Failed to initialize synthesizer", "error", err)
		os.Exit(1)
	}
	if engine == nil {
		slog.Info("TTS_COMMAND not set, responses degrade to text-only")
	}

	var transcriber speech.Transcriber
	if ct := speech.NewCommandTranscriber(cfg.STTCommand, cfg.SynthTimeout); ct != nil {
		transcriber = ct
	} else {
		slog.Info("STT_COMMAND not set, transcription endpoint disabled")
	}

	// Initialize services.
	mode := keyword.ModeDual
	if cfg.KeywordMode == "single" {
		mode = keyword.ModeSingle
	}
	policy := keyword.NewPolicy(mode, cfg.SpokenKeywords, cfg.TypedKeywords, cfg.UnifiedKeywords, nil)

	store := session.NewMemoryStore()
	hub := events.NewHub()
	sel := message.NewSelector(rand.New(rand.NewSource(time.Now().UnixNano())))
	svc := protocol.NewService(store, sel, synth, hist, hub, protocol.Config{
		Policy:            policy,
		EscalateThreshold: cfg.EscalateThreshold,
		EnableProof:       cfg.EnableProof,
		EnableRoutine:     cfg.EnableRoutine,
	})

	// Initialize handlers.
	sessionHandler := api.NewSessionHandler(svc, transcriber, hist)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.FrontendURL))

	sessionHandler.RegisterRoutes(r)

	// WebSocket phase-transition feed.
	r.Get("/ws/session", hub.ServeHTTP)

	// Synthesized clips are served straight off the cache directory.
	r.Handle("/static/audio/*", http.StripPrefix("/static/audio/",
		http.FileServer(http.Dir(cfg.AudioDir))))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartSweeper(ctx, cfg.SessionTTL, cfg.SweepInterval)
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
