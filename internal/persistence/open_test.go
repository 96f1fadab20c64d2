package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activityrelay/internal/domain"
)

func TestSQLitePath(t *testing.T) {
	cases := map[string]string{
		"sqlite:///var/lib/relay/relay.db": "/var/lib/relay/relay.db",
		"sqlite://relay.db":                "relay.db",
		"sqlite::memory:":                  ":memory:",
		"file:data/relay.db":               "data/relay.db",
	}
	for dsn, want := range cases {
		got, err := sqlitePath(dsn)
		require.NoError(t, err, dsn)
		require.Equal(t, want, got, dsn)
	}

	_, err := sqlitePath("sqlite://")
	require.Error(t, err)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/relay")
	require.ErrorContains(t, err, "unsupported database scheme")

	_, err = Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestOpenSQLiteFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "relay.db")

	store, err := Open(ctx, "sqlite://"+path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Upsert(ctx, domain.Credential{
		ExternalAccountID: 1,
		NotifyTarget:      "chat",
		AccessToken:       "a",
		RefreshToken:      "r",
		ExpiresAt:         time.Unix(1_900_000_000, 0),
	}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
