package brain

import (
	"context"
	"strings"
)

// MockCompleter is the local fallback backend used when no API key is
// configured. It produces a deterministic Hinglish acknowledgement so the
// full pipeline stays exercisable in dev.
type MockCompleter struct {
	// ReplyFn overrides the canned reply when set. Tests use it to script
	// failures and specific outputs.
	ReplyFn func(ctx context.Context, req Request) (string, error)
}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (m *MockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if m.ReplyFn != nil {
		return m.ReplyFn(ctx, req)
	}
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(last) == "" {
		return "haan, boliye. main sun rahi hoon.", nil
	}
	return "theek hai, aapne poocha: " + last + ". site par kaam chal raha hai, update milta rahega.", nil
}
