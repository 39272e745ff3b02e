package memory

import (
	"context"
	"strings"
)

// NewPointerStore creates a postgres-backed pointer store when a database URL is set, a
// sqlite-backed one when a file path is set, and an in-memory one otherwise.
func NewPointerStore(ctx context.Context, databaseURL, sqlitePath string) (PointerStore, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresPointerStore(ctx, databaseURL)
	}
	if strings.TrimSpace(sqlitePath) != "" {
		return NewSQLitePointerStore(ctx, sqlitePath)
	}
	return NewInMemoryPointerStore(), nil
}
