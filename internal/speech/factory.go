package speech

import (
	"fmt"
	"strings"
)

// Config selects and configures the speech backends.
type Config struct {
	Provider string // auto | cloud | mock

	GroqAPIKey       string
	GroqBaseURL      string
	GroqWhisperModel string

	ElevenLabsAPIKey   string
	ElevenLabsBaseURL  string
	ElevenLabsVoiceID  string
	ElevenLabsTTSModel string
}

// New builds the transcriber/synthesizer pair and reports the resolved
// provider label for metrics. Cloud mode uses Groq Whisper + ElevenLabs; auto
// picks cloud when both keys are present and keeps the mock as a sticky
// fallback so a provider outage degrades instead of failing turns.
func New(cfg Config) (Transcriber, Synthesizer, string, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	cloudConfigured := strings.TrimSpace(cfg.GroqAPIKey) != "" &&
		strings.TrimSpace(cfg.ElevenLabsAPIKey) != ""

	switch provider {
	case "cloud":
		if !cloudConfigured {
			return nil, nil, "", fmt.Errorf(
				"SPEECH_PROVIDER=cloud requires GROQ_API_KEY and ELEVENLABS_API_KEY")
		}
		t, s := cloudPair(cfg)
		return t, s, "cloud", nil
	case "mock":
		m := NewMockProvider()
		return m, m, "mock", nil
	case "auto":
		if !cloudConfigured {
			m := NewMockProvider()
			return m, m, "mock", nil
		}
		ct, cs := cloudPair(cfg)
		m := NewMockProvider()
		t, s := NewFailoverPair(ct, cs, m, m)
		return t, s, "cloud", nil
	default:
		return nil, nil, "", fmt.Errorf(
			"invalid SPEECH_PROVIDER: %q (expected auto|cloud|mock)", cfg.Provider)
	}
}

func cloudPair(cfg Config) (Transcriber, Synthesizer) {
	t := NewGroqTranscriber(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqWhisperModel)
	s := NewElevenLabsSynthesizer(
		cfg.ElevenLabsAPIKey, cfg.ElevenLabsBaseURL, cfg.ElevenLabsVoiceID, cfg.ElevenLabsTTSModel)
	return t, s
}
