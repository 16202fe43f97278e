package store

import (
	"context"
	"strings"
)

// sqlitePath returns the file path of a "sqlite://" or "file:" DSN.
func sqlitePath(dsn string) (string, bool) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://"), true
	case strings.HasPrefix(dsn, "file:"):
		return dsn, true
	}
	return "", false
}

// Open picks the backend from the DSN: "sqlite://path" opens an embedded
// SQLite file, anything else is handed to Postgres.
func Open(ctx context.Context, dsn string) (Store, error) {
	if path, ok := sqlitePath(dsn); ok {
		return NewSQLite(ctx, path)
	}
	return NewPostgres(ctx, dsn)
}
