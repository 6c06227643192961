package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists notes in a local SQLite file with JSON-encoded
// embeddings, ranked by brute-force cosine scan at query time. It is the
// default durable backend when no Postgres is configured.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
}

func NewSQLiteStore(ctx context.Context, path string, embedder Embedder) (*SQLiteStore, error) {
	if embedder == nil {
		embedder = NewHashEmbedder(0)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The scan-based Query holds a single reader; serialize writers too so
	// concurrent sessions never trip SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS memory_notes (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, embedder: embedder}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, note Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if len(note.Embedding) == 0 {
		note.Embedding = s.embedder.Embed(note.Text)
	}

	blob, err := json.Marshal(note.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_notes (id, session_id, kind, content, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		note.ID, note.SessionID, string(note.Kind), note.Text, string(blob),
		note.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, text string, topK int) ([]Scored, error) {
	if topK <= 0 {
		return nil, nil
	}
	query := s.embedder.Embed(text)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, content, embedding, created_at FROM memory_notes`)
	if err != nil {
		return nil, fmt.Errorf("scan notes: %w", err)
	}
	defer rows.Close()

	var candidates []Scored
	for rows.Next() {
		var n Note
		var kind, blob, createdAt string
		if err := rows.Scan(&n.ID, &n.SessionID, &kind, &n.Text, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note row: %w", err)
		}
		n.Kind = NoteKind(kind)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			n.CreatedAt = ts
		}
		if err := json.Unmarshal([]byte(blob), &n.Embedding); err != nil {
			continue // skip notes with unreadable embeddings
		}
		candidates = append(candidates, Scored{Note: n, Similarity: cosine(query, n.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate note rows: %w", err)
	}

	return rankTopK(candidates, topK), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
