package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps notes in process memory. Used for local/dev runs and
// as the degraded-mode store in tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	notes    []Note
	embedder Embedder
}

func NewInMemoryStore(embedder Embedder) *InMemoryStore {
	if embedder == nil {
		embedder = NewHashEmbedder(0)
	}
	return &InMemoryStore{embedder: embedder}
}

func (s *InMemoryStore) Append(_ context.Context, note Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if len(note.Embedding) == 0 {
		note.Embedding = s.embedder.Embed(note.Text)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, note)
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, text string, topK int) ([]Scored, error) {
	if topK <= 0 {
		return nil, nil
	}
	query := s.embedder.Embed(text)

	s.mu.RLock()
	candidates := make([]Scored, 0, len(s.notes))
	for _, n := range s.notes {
		candidates = append(candidates, Scored{Note: n, Similarity: cosine(query, n.Embedding)})
	}
	s.mu.RUnlock()

	return rankTopK(candidates, topK), nil
}

func (s *InMemoryStore) Close() error { return nil }

// rankTopK orders by similarity descending with recency breaking ties.
func rankTopK(candidates []Scored, topK int) []Scored {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}
