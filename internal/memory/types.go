package memory

import (
	"context"
	"time"
)

// NoteKind distinguishes per-exchange insights from whole-session summaries.
type NoteKind string

const (
	KindExchange       NoteKind = "exchange"
	KindSessionSummary NoteKind = "session_summary"
)

// Note is a durable free-text insight derived from a conversation. The
// embedding is produced by the store's own encoder; callers treat it as
// opaque. SessionID is a weak back-reference, never an ownership link.
type Note struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      NoteKind  `json:"kind"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Scored pairs a note with its similarity to a query.
type Scored struct {
	Note
	Similarity float64 `json:"similarity"`
}

// Store is the semantic memory contract. Query on an empty or cold store
// returns an empty slice, never an error; notes are written once and never
// mutated. Concurrent Append/Query from different sessions must be safe.
type Store interface {
	Append(ctx context.Context, note Note) error
	Query(ctx context.Context, text string, topK int) ([]Scored, error)
	Close() error
}
