package domain

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"example.com/activityrelay/internal/observability"
)

// RefresherOption configures optional behaviour for the TokenRefresher.
type RefresherOption func(*TokenRefresher)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *TokenRefresher) {
		r.now = now
	}
}

// WithRefresherLogger overrides the logger used to report refreshes.
func WithRefresherLogger(logger *log.Logger) RefresherOption {
	return func(r *TokenRefresher) {
		r.logger = logger
	}
}

// TokenRefresher swaps expired access tokens for fresh ones, one exchange per account at a time.
type TokenRefresher struct {
	store     CredentialStore
	exchanger TokenExchanger
	group     singleflight.Group
	now       func() time.Time
	logger    *log.Logger
}

// NewTokenRefresher constructs a TokenRefresher.
func NewTokenRefresher(store CredentialStore, exchanger TokenExchanger, opts ...RefresherOption) *TokenRefresher {
	r := &TokenRefresher{
		store:     store,
		exchanger: exchanger,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    log.New(log.Writer(), "[refresher] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureFresh returns the credential unchanged while its access token is valid, otherwise a
// refreshed copy that has already been persisted. Concurrent callers for the same account share
// a single provider exchange and observe the same result.
func (r *TokenRefresher) EnsureFresh(ctx context.Context, credential Credential) (Credential, error) {
	if !credential.Expired(r.now()) {
		return credential, nil
	}

	key := strconv.FormatInt(credential.ExternalAccountID, 10)
	// The leader's cancellation must not fail callers that joined its flight.
	flightCtx := context.WithoutCancel(ctx)
	value, err, shared := r.group.Do(key, func() (interface{}, error) {
		return r.refresh(flightCtx, credential.ExternalAccountID)
	})
	if err != nil {
		return Credential{}, err
	}
	if shared {
		r.logger.Printf("refresh shared (athlete=%d)", credential.ExternalAccountID)
	}
	return value.(Credential), nil
}

func (r *TokenRefresher) refresh(ctx context.Context, accountID int64) (Credential, error) {
	// Re-read inside the flight: a caller that lost the race sees the winner's tokens here.
	stored, err := r.store.FindByExternalAccountID(ctx, accountID)
	if err != nil {
		return Credential{}, err
	}
	if stored == nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrStorage, ErrCredentialNotFound)
	}
	if !stored.Expired(r.now()) {
		observability.RecordTokenRefresh("reused")
		return *stored, nil
	}

	start := time.Now()
	grant, err := r.exchanger.Refresh(ctx, stored.RefreshToken)
	observability.ObserveOutbound("token_refresh", time.Since(start))
	if err != nil {
		observability.RecordTokenRefresh("failed")
		return Credential{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	refreshed := *stored
	refreshed.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		refreshed.RefreshToken = grant.RefreshToken
	}
	refreshed.ExpiresAt = grant.ExpiresAt

	if err := r.store.UpdateTokens(ctx, accountID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.ExpiresAt); err != nil {
		observability.RecordTokenRefresh("persist_failed")
		return Credential{}, err
	}

	observability.RecordTokenRefresh("refreshed")
	r.logger.Printf("tokens refreshed (athlete=%d, expires_at=%s)", accountID, refreshed.ExpiresAt.Format(time.RFC3339))
	return refreshed, nil
}
