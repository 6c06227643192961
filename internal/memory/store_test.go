package memory

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryQueryEmptyStore(t *testing.T) {
	s := NewInMemoryStore(nil)
	got, err := s.Query(context.Background(), "plot update", 3)
	if err != nil {
		t.Fatalf("Query() on empty store error = %v, want nil", err)
	}
	if len(got) != 0 {
		t.Fatalf("Query() on empty store returned %d notes, want 0", len(got))
	}
}

func TestInMemoryRanksBySimilarity(t *testing.T) {
	s := NewInMemoryStore(nil)
	ctx := context.Background()

	notes := []Note{
		{SessionID: "s1", Kind: KindExchange, Text: "customer asked about painting progress on plot 42"},
		{SessionID: "s2", Kind: KindExchange, Text: "site visit scheduled for saturday morning"},
		{SessionID: "s3", Kind: KindExchange, Text: "payment reminder discussed for 2bhk booking"},
	}
	for _, n := range notes {
		if err := s.Append(ctx, n); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := s.Query(ctx, "painting progress plot", 2)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query() returned %d notes, want 2", len(got))
	}
	if got[0].SessionID != "s1" {
		t.Fatalf("top note from session %q, want s1 (painting note)", got[0].SessionID)
	}
	if got[0].Similarity < got[1].Similarity {
		t.Fatalf("results not ordered by similarity: %v < %v", got[0].Similarity, got[1].Similarity)
	}
}

func TestRankTopKRecencyTieBreak(t *testing.T) {
	old := Scored{Note: Note{ID: "old", CreatedAt: time.Now().Add(-time.Hour)}, Similarity: 0.5}
	fresh := Scored{Note: Note{ID: "fresh", CreatedAt: time.Now()}, Similarity: 0.5}

	got := rankTopK([]Scored{old, fresh}, 1)
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("tie should prefer the most recent note, got %+v", got)
	}
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(128)
	a := e.Embed("kal painting ka kaam shuru hua")
	b := e.Embed("kal painting ka kaam shuru hua")

	if len(a) != 128 {
		t.Fatalf("Embed() dim = %d, want 128", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Embed() not deterministic at index %d", i)
		}
	}
	if sim := cosine(a, b); sim < 0.999 || sim > 1.001 {
		t.Fatalf("self-similarity = %v, want ~1", sim)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, t.TempDir()+"/notes.db", NewHashEmbedder(64))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	if got, err := s.Query(ctx, "anything", 3); err != nil || len(got) != 0 {
		t.Fatalf("cold store Query() = (%d, %v), want (0, nil)", len(got), err)
	}

	err = s.Append(ctx, Note{
		SessionID: "s1",
		Kind:      KindExchange,
		Text:      "user asked about roadwork near gate two",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := s.Query(ctx, "roadwork gate", 3)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Query() returned %d notes, want 1", len(got))
	}
	if got[0].SessionID != "s1" || got[0].Kind != KindExchange {
		t.Fatalf("unexpected note: %+v", got[0])
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("note should have generated ID and timestamp: %+v", got[0])
	}
}

func TestVectorLiteral(t *testing.T) {
	got := vectorLiteral([]float64{0.5, -1, 0})
	want := "[0.5,-1,0]"
	if got != want {
		t.Fatalf("vectorLiteral() = %q, want %q", got, want)
	}
}
