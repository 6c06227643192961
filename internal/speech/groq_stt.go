package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/riverwoodlabs/riverwood-voice/internal/reliability"
)

// GroqTranscriber transcribes audio through the Groq Whisper endpoint.
type GroqTranscriber struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewGroqTranscriber(apiKey, baseURL, model string) *GroqTranscriber {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	return &GroqTranscriber{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *GroqTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", reliability.New(reliability.KindClient, "speech.transcribe",
			errors.New("empty audio payload"))
	}
	if strings.TrimSpace(filename) == "" {
		filename = "audio.mp3"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", reliability.New(reliability.KindInternal, "speech.transcribe", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", reliability.New(reliability.KindInternal, "speech.transcribe", err)
	}
	_ = mw.WriteField("model", t.model)
	_ = mw.WriteField("response_format", "text")
	_ = mw.WriteField("language", "hi")
	if err := mw.Close(); err != nil {
		return "", reliability.New(reliability.KindInternal, "speech.transcribe", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", reliability.New(reliability.KindInternal, "speech.transcribe", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	res, err := t.client.Do(req)
	if err != nil {
		return "", reliability.New(reliability.KindUpstreamTransient, "speech.transcribe", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", reliability.New(
			reliability.KindForHTTPStatus(res.StatusCode),
			"speech.transcribe",
			fmt.Errorf("whisper status %d: %s", res.StatusCode, strings.TrimSpace(string(msg))),
		)
	}

	text, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", reliability.New(reliability.KindUpstreamTransient, "speech.transcribe", err)
	}
	return strings.TrimSpace(string(text)), nil
}
