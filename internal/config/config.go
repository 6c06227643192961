package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the Riverwood voice agent.
type Config struct {
	BindAddr           string
	ShutdownTimeout    time.Duration
	SessionIdleTimeout time.Duration
	MetricsNamespace   string

	AllowAnyOrigin bool

	// Orchestrator knobs. All read once at construction time.
	PersonaFile           string
	ContextCharBudget     int
	RecentTurnWindow      int
	MemoryTopK            int
	MaxCompletionAttempts int
	TurnTimeout           time.Duration

	BrainProvider  string
	SpeechProvider string

	GroqAPIKey       string
	GroqBaseURL      string
	GroqChatModel    string
	GroqInsightModel string
	GroqWhisperModel string

	ElevenLabsAPIKey   string
	ElevenLabsBaseURL  string
	ElevenLabsVoiceID  string
	ElevenLabsTTSModel string

	DatabaseURL        string
	MemoryDBPath       string
	MemoryEmbeddingDim int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "riverwood"),
		AllowAnyOrigin:   false,
		PersonaFile:      envTrimmed("AGENT_PERSONA_FILE"),
		BrainProvider:    envOrDefault("BRAIN_PROVIDER", "auto"),
		SpeechProvider:   envOrDefault("SPEECH_PROVIDER", "auto"),
		GroqAPIKey:       envTrimmed("GROQ_API_KEY"),
		GroqBaseURL:      envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqChatModel:    envOrDefault("GROQ_CHAT_MODEL", "llama-3.3-70b-versatile"),
		GroqInsightModel: envOrDefault("GROQ_INSIGHT_MODEL", "llama-3.3-70b-versatile"),
		GroqWhisperModel: envOrDefault("GROQ_WHISPER_MODEL", "whisper-large-v3-turbo"),
		ElevenLabsAPIKey: envTrimmed("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault(
			"ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		// Default to the warm female premade voice used for the Riverwood persona.
		ElevenLabsVoiceID:     envOrDefault("ELEVENLABS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsTTSModel:    envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		DatabaseURL:           envTrimmed("DATABASE_URL"),
		MemoryDBPath:          envTrimmed("MEMORY_DB_PATH"),
		MemoryEmbeddingDim:    256,
		ContextCharBudget:     6000,
		RecentTurnWindow:      8,
		MemoryTopK:            3,
		MaxCompletionAttempts: 3,
		TurnTimeout:           30 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		SessionIdleTimeout:    2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnTimeout, err = durationFromEnv("AGENT_TURN_TIMEOUT", cfg.TurnTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextCharBudget, err = intFromEnv("AGENT_CONTEXT_CHAR_BUDGET", cfg.ContextCharBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.RecentTurnWindow, err = intFromEnv("AGENT_RECENT_TURN_WINDOW", cfg.RecentTurnWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryTopK, err = intFromEnv("AGENT_MEMORY_TOP_K", cfg.MemoryTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxCompletionAttempts, err = intFromEnv("AGENT_MAX_COMPLETION_ATTEMPTS", cfg.MaxCompletionAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryEmbeddingDim, err = intFromEnv("MEMORY_EMBEDDING_DIM", cfg.MemoryEmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("AGENT_TURN_TIMEOUT must be positive")
	}
	if cfg.ContextCharBudget <= 0 {
		return Config{}, fmt.Errorf("AGENT_CONTEXT_CHAR_BUDGET must be positive")
	}
	if cfg.RecentTurnWindow <= 0 {
		return Config{}, fmt.Errorf("AGENT_RECENT_TURN_WINDOW must be positive")
	}
	if cfg.MemoryTopK < 0 {
		return Config{}, fmt.Errorf("AGENT_MEMORY_TOP_K must be >= 0")
	}
	if cfg.MaxCompletionAttempts <= 0 {
		return Config{}, fmt.Errorf("AGENT_MAX_COMPLETION_ATTEMPTS must be positive")
	}
	if cfg.MemoryEmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("MEMORY_EMBEDDING_DIM must be positive")
	}
	if cfg.DatabaseURL != "" && cfg.MemoryDBPath != "" {
		return Config{}, fmt.Errorf("DATABASE_URL and MEMORY_DB_PATH are mutually exclusive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
