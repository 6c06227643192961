package brain

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

// GroqCompleter calls a Groq (OpenAI-compatible) chat completions endpoint.
type GroqCompleter struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewGroqCompleter(apiKey, baseURL, model string) *GroqCompleter {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	return &GroqCompleter{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *GroqCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", reliability.New(reliability.KindInternal, "brain.complete", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", reliability.New(reliability.KindInternal, "brain.complete", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", reliability.New(transportKind(err), "brain.complete", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", reliability.New(
			reliability.KindForHTTPStatus(res.StatusCode),
			"brain.complete",
			fmt.Errorf("groq status %d: %s", res.StatusCode, strings.TrimSpace(string(body))),
		)
	}

	var parsed chatResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", reliability.New(reliability.KindUpstreamTransient, "brain.complete",
			fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", reliability.New(reliability.KindUpstreamTransient, "brain.complete",
			errors.New("empty choices in completion response"))
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// transportKind classifies network-level failures: timeouts and cancellations
// are worth retrying, everything else at this layer usually is too (DNS blips,
// connection resets), except an already-cancelled caller context.
func transportKind(err error) reliability.Kind {
	if errors.Is(err, context.Canceled) {
		return reliability.KindUpstreamPermanent
	}
	return reliability.KindUpstreamTransient
}
