package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverwoodlabs/riverwood-voice/internal/brain"
	"github.com/riverwoodlabs/riverwood-voice/internal/config"
	"github.com/riverwoodlabs/riverwood-voice/internal/dialogue"
	"github.com/riverwoodlabs/riverwood-voice/internal/httpapi"
	"github.com/riverwoodlabs/riverwood-voice/internal/memory"
	"github.com/riverwoodlabs/riverwood-voice/internal/observability"
	"github.com/riverwoodlabs/riverwood-voice/internal/session"
	"github.com/riverwoodlabs/riverwood-voice/internal/speech"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "riverwood-voice").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	embedder := memory.NewHashEmbedder(cfg.MemoryEmbeddingDim)
	store, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.MemoryDBPath, embedder)
	if err != nil {
		logger.Fatal().Err(err).Msg("memory store init failed")
	}
	defer store.Close()
	logger.Info().Str("backend", storeLabel(cfg)).Msg("memory store ready")

	completer, err := brain.New(brain.Config{
		Provider:  cfg.BrainProvider,
		APIKey:    cfg.GroqAPIKey,
		BaseURL:   cfg.GroqBaseURL,
		ChatModel: cfg.GroqChatModel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("brain adapter init failed")
	}

	transcriber, synthesizer, speechLabel, err := speech.New(speech.Config{
		Provider:           cfg.SpeechProvider,
		GroqAPIKey:         cfg.GroqAPIKey,
		GroqBaseURL:        cfg.GroqBaseURL,
		GroqWhisperModel:   cfg.GroqWhisperModel,
		ElevenLabsAPIKey:   cfg.ElevenLabsAPIKey,
		ElevenLabsBaseURL:  cfg.ElevenLabsBaseURL,
		ElevenLabsVoiceID:  cfg.ElevenLabsVoiceID,
		ElevenLabsTTSModel: cfg.ElevenLabsTTSModel,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("speech provider init failed")
	}
	logger.Info().Str("provider", speechLabel).Msg("speech provider ready")

	persona := dialogue.DefaultPersona
	if cfg.PersonaFile != "" {
		data, err := os.ReadFile(cfg.PersonaFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PersonaFile).Msg("persona file unreadable")
		}
		if p := strings.TrimSpace(string(data)); p != "" {
			persona = p
		}
	}

	sessions := session.NewManager(cfg.SessionIdleTimeout)

	orchestrator := dialogue.New(sessions, store, completer, transcriber, synthesizer,
		metrics, logger, dialogue.Config{
			Persona:               persona,
			ChatModel:             cfg.GroqChatModel,
			InsightModel:          cfg.GroqInsightModel,
			ContextCharBudget:     cfg.ContextCharBudget,
			RecentTurnWindow:      cfg.RecentTurnWindow,
			MemoryTopK:            cfg.MemoryTopK,
			MaxCompletionAttempts: cfg.MaxCompletionAttempts,
			TurnTimeout:           cfg.TurnTimeout,
		})
	sessions.SetExpireHook(orchestrator.HandleExpiry)

	api := httpapi.New(cfg, orchestrator, metrics, speechLabel)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		logger.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	// Drain pending memory-note writes before the store closes.
	_ = orchestrator.Close()

	logger.Info().Msg("shutdown complete")
}

func storeLabel(cfg config.Config) string {
	switch {
	case cfg.DatabaseURL != "":
		return "postgres"
	case cfg.MemoryDBPath != "":
		return "sqlite"
	default:
		return "in-memory"
	}
}
