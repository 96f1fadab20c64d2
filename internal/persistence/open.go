// Package persistence selects a credential store backend from a DSN.
package persistence

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityrelay/internal/domain"
	"example.com/activityrelay/internal/persistence/postgres"
	"example.com/activityrelay/internal/persistence/sqlite"
)

// Store is a credential store that can manage its own schema and lifecycle.
type Store interface {
	domain.CredentialStore
	EnsureSchema(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by the DSN scheme:
// postgres:// and postgresql:// use pgx, sqlite:// and file: use the embedded SQLite store.
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.NewRepository(pool), nil
	case "sqlite", "file":
		path, err := sqlitePath(dsn)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database scheme: %q", parsed.Scheme)
	}
}

func sqlitePath(dsn string) (string, error) {
	lower := strings.ToLower(dsn)
	var path string
	switch {
	case strings.HasPrefix(lower, "sqlite://"):
		path = dsn[len("sqlite://"):]
	case strings.HasPrefix(lower, "sqlite:"):
		path = dsn[len("sqlite:"):]
	case strings.HasPrefix(lower, "file://"):
		path = dsn[len("file://"):]
	case strings.HasPrefix(lower, "file:"):
		path = dsn[len("file:"):]
	}
	if path == "" {
		return "", fmt.Errorf("sqlite dsn %q has no path", dsn)
	}
	return path, nil
}
