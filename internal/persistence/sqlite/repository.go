// Package sqlite stores credentials in an embedded SQLite file for single-node deployments.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"example.com/activityrelay/internal/domain"
	"example.com/activityrelay/internal/observability"
)

// credentialRow maps onto the same columns as the Postgres credentials table.
type credentialRow struct {
	AthleteID    int64     `gorm:"column:athlete_id;primaryKey;autoIncrement:false"`
	DisplayName  string    `gorm:"column:display_name;not null;default:''"`
	NotifyTarget string    `gorm:"column:notify_target;not null"`
	AccessToken  string    `gorm:"column:access_token;not null"`
	RefreshToken string    `gorm:"column:refresh_token;not null"`
	ExpiresAt    int64     `gorm:"column:expires_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (credentialRow) TableName() string { return "credentials" }

// Repository provides gorm-backed credential storage.
type Repository struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path, creating parent directories as needed.
func Open(path string) (*Repository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection would open its own empty in-memory database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	} else if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return NewRepository(db), nil
}

// NewRepository wraps an existing gorm handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema migrates the credentials table.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&credentialRow{}); err != nil {
		return storageError(err)
	}
	return nil
}

// Upsert inserts a credential or replaces every field of the existing row.
func (r *Repository) Upsert(ctx context.Context, credential domain.Credential) error {
	now := time.Now().UTC()
	row := credentialRow{
		AthleteID:    credential.ExternalAccountID,
		DisplayName:  credential.DisplayName,
		NotifyTarget: credential.NotifyTarget,
		AccessToken:  credential.AccessToken,
		RefreshToken: credential.RefreshToken,
		ExpiresAt:    credential.ExpiresAt.Unix(),
		UpdatedAt:    now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "athlete_id"}}, UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return storageError(err)
	}
	observability.RecordCredentialUpserted(now)
	return nil
}

// FindByExternalAccountID returns nil, nil when no credential exists for the athlete.
func (r *Repository) FindByExternalAccountID(ctx context.Context, athleteID int64) (*domain.Credential, error) {
	var row credentialRow
	err := r.db.WithContext(ctx).Where("athlete_id = ?", athleteID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageError(err)
	}
	return &domain.Credential{
		ExternalAccountID: row.AthleteID,
		DisplayName:       row.DisplayName,
		NotifyTarget:      row.NotifyTarget,
		AccessToken:       row.AccessToken,
		RefreshToken:      row.RefreshToken,
		ExpiresAt:         time.Unix(row.ExpiresAt, 0).UTC(),
	}, nil
}

// UpdateTokens rewrites the token triple of an existing credential.
func (r *Repository) UpdateTokens(ctx context.Context, athleteID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&credentialRow{}).
		Where("athlete_id = ?", athleteID).
		Updates(map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_at":    expiresAt.Unix(),
			"updated_at":    now,
		})
	if res.Error != nil {
		return storageError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %w", domain.ErrStorage, domain.ErrCredentialNotFound)
	}
	observability.RecordCredentialUpserted(now)
	return nil
}

// Count reports the number of stored credentials.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&credentialRow{}).Count(&n).Error; err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database handle.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func storageError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStorage, err)
}
