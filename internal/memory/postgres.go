package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists notes in PostgreSQL with pgvector similarity search.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

func NewPostgresStore(ctx context.Context, databaseURL string, embedder Embedder) (*PostgresStore, error) {
	if embedder == nil {
		embedder = NewHashEmbedder(0)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool, embedder.Dim()); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, embedder: embedder}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_notes (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, dim),
		`CREATE INDEX IF NOT EXISTS idx_memory_notes_created ON memory_notes (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, note Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if len(note.Embedding) == 0 {
		note.Embedding = s.embedder.Embed(note.Text)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_notes (id, session_id, kind, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5::vector, $6)`,
		note.ID, note.SessionID, string(note.Kind), note.Text,
		vectorLiteral(note.Embedding), note.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, text string, topK int) ([]Scored, error) {
	if topK <= 0 {
		return nil, nil
	}
	query := vectorLiteral(s.embedder.Embed(text))

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, kind, content, 1 - (embedding <=> $1::vector) AS similarity, created_at
		 FROM memory_notes
		 ORDER BY embedding <=> $1::vector ASC, created_at DESC
		 LIMIT $2`,
		query, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	items := make([]Scored, 0, topK)
	for rows.Next() {
		var n Scored
		var kind string
		if err := rows.Scan(&n.ID, &n.SessionID, &kind, &n.Text, &n.Similarity, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note row: %w", err)
		}
		n.Kind = NoteKind(kind)
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate note rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func vectorLiteral(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}
