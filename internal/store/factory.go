package store

import (
	"context"
	"strings"
)

// NewStore picks a backend: postgres when DATABASE_URL is set, sqlite when a
// file path is configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(sqlitePath) != "" {
		return NewSQLiteStore(sqlitePath)
	}
	return NewMemoryStore(), nil
}
