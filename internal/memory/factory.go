package memory

import (
	"context"
	"strings"
)

// NewStore selects a backend: Postgres when DATABASE_URL is set, a local
// SQLite file when MEMORY_DB_PATH is set, otherwise in-process memory.
func NewStore(ctx context.Context, databaseURL, sqlitePath string, embedder Embedder) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL, embedder)
	}
	if strings.TrimSpace(sqlitePath) != "" {
		return NewSQLiteStore(ctx, sqlitePath, embedder)
	}
	return NewInMemoryStore(embedder), nil
}
