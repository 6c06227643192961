package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/riverwoodlabs/riverwood-voice/internal/reliability"
)

// ElevenLabsSynthesizer converts reply text to speech via the ElevenLabs
// HTTP API, returning a complete MP3 clip.
type ElevenLabsSynthesizer struct {
	apiKey  string
	baseURL string
	voiceID string
	modelID string
	client  *http.Client
}

func NewElevenLabsSynthesizer(apiKey, baseURL, voiceID, modelID string) *ElevenLabsSynthesizer {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	return &ElevenLabsSynthesizer{
		apiKey:  apiKey,
		baseURL: baseURL,
		voiceID: voiceID,
		modelID: modelID,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (Clip, error) {
	if strings.TrimSpace(text) == "" {
		return Clip{}, reliability.New(reliability.KindClient, "speech.synthesize",
			errors.New("empty text"))
	}

	payload, err := json.Marshal(ttsRequest{Text: text, ModelID: s.modelID})
	if err != nil {
		return Clip{}, reliability.New(reliability.KindInternal, "speech.synthesize", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=mp3_44100_128", s.baseURL, s.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Clip{}, reliability.New(reliability.KindInternal, "speech.synthesize", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	res, err := s.client.Do(req)
	if err != nil {
		return Clip{}, reliability.New(reliability.KindUpstreamTransient, "speech.synthesize", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Clip{}, reliability.New(
			reliability.KindForHTTPStatus(res.StatusCode),
			"speech.synthesize",
			fmt.Errorf("elevenlabs status %d: %s", res.StatusCode, strings.TrimSpace(string(msg))),
		)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Clip{}, reliability.New(reliability.KindUpstreamTransient, "speech.synthesize", err)
	}
	return Clip{Data: data, Format: "audio/mpeg"}, nil
}
