package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activityrelay/internal/domain"
	"example.com/activityrelay/internal/observability"
)

const schema = `CREATE TABLE IF NOT EXISTS credentials (
    athlete_id    BIGINT PRIMARY KEY,
    display_name  TEXT NOT NULL DEFAULT '',
    notify_target TEXT NOT NULL,
    access_token  TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at    BIGINT NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Repository provides Postgres-backed credential storage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the credentials table when it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return storageError(err)
	}
	return nil
}

// Upsert inserts a credential or replaces every field of the existing row.
func (r *Repository) Upsert(ctx context.Context, credential domain.Credential) error {
	const stmt = `INSERT INTO credentials (athlete_id, display_name, notify_target, access_token, refresh_token, expires_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (athlete_id) DO UPDATE SET
            display_name = EXCLUDED.display_name,
            notify_target = EXCLUDED.notify_target,
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, stmt,
		credential.ExternalAccountID,
		credential.DisplayName,
		credential.NotifyTarget,
		credential.AccessToken,
		credential.RefreshToken,
		credential.ExpiresAt.Unix(),
		now,
	)
	if err != nil {
		return storageError(err)
	}
	observability.RecordCredentialUpserted(now)
	return nil
}

// FindByExternalAccountID returns nil, nil when no credential exists for the athlete.
func (r *Repository) FindByExternalAccountID(ctx context.Context, athleteID int64) (*domain.Credential, error) {
	const query = `SELECT athlete_id, display_name, notify_target, access_token, refresh_token, expires_at
        FROM credentials WHERE athlete_id=$1`

	var (
		credential domain.Credential
		expiresAt  int64
	)
	row := r.pool.QueryRow(ctx, query, athleteID)
	err := row.Scan(&credential.ExternalAccountID, &credential.DisplayName, &credential.NotifyTarget, &credential.AccessToken, &credential.RefreshToken, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storageError(err)
	}
	credential.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &credential, nil
}

// UpdateTokens rewrites the token triple of an existing credential.
func (r *Repository) UpdateTokens(ctx context.Context, athleteID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	const stmt = `UPDATE credentials SET access_token=$2, refresh_token=$3, expires_at=$4, updated_at=$5 WHERE athlete_id=$1`

	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, stmt, athleteID, accessToken, refreshToken, expiresAt.Unix(), now)
	if err != nil {
		return storageError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %w", domain.ErrStorage, domain.ErrCredentialNotFound)
	}
	observability.RecordCredentialUpserted(now)
	return nil
}

// Count reports the number of stored credentials.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&n); err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func storageError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStorage, err)
}
