// Package brain adapts the language-model completion service. Adapters hold
// no conversational state; context assembly is the orchestrator's job.
package brain

import (
	"context"
	"fmt"
	"strings"
)

// Message is one entry of the composed completion context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries the fully assembled context for one completion call.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Completer produces a reply for an assembled context. Failures carry a
// reliability.Kind so the orchestrator can decide retry-vs-abort.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config selects and configures the completion backend.
type Config struct {
	Provider  string // auto | groq | mock
	APIKey    string
	BaseURL   string
	ChatModel string
}

// New builds a Completer. In auto mode Groq is used when an API key is
// configured, otherwise the mock backend.
func New(cfg Config) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}
	switch provider {
	case "groq":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("BRAIN_PROVIDER=groq but GROQ_API_KEY is not set")
		}
		return NewGroqCompleter(cfg.APIKey, cfg.BaseURL, cfg.ChatModel), nil
	case "mock":
		return NewMockCompleter(), nil
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewGroqCompleter(cfg.APIKey, cfg.BaseURL, cfg.ChatModel), nil
		}
		return NewMockCompleter(), nil
	default:
		return nil, fmt.Errorf("invalid BRAIN_PROVIDER: %q (expected auto|groq|mock)", cfg.Provider)
	}
}
