// Package domain holds the credential lifecycle and activity notification pipeline.
package domain

import (
	"context"
	"strings"
	"time"
)

// Credential is the OAuth token pair bound to one external athlete account.
type Credential struct {
	ExternalAccountID int64
	DisplayName       string
	NotifyTarget      string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
}

// Expired reports whether the access token can no longer be used at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Athlete is the provider profile returned with a token grant.
type Athlete struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// FullName joins first and last name, falling back to the username.
func (a Athlete) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
	if name == "" {
		return a.Username
	}
	return name
}

// DisplayName prefers the username and falls back to the full name.
func (a Athlete) DisplayName() string {
	if strings.TrimSpace(a.Username) != "" {
		return strings.TrimSpace(a.Username)
	}
	return a.FullName()
}

// TokenGrant is the result of exchanging an authorization code or refresh token.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Athlete      Athlete
}

// ActivityEvent is a single inbound push notification from the provider.
type ActivityEvent struct {
	ObjectType     string
	AspectType     string
	ObjectID       int64
	OwnerID        int64
	EventTime      int64
	SubscriptionID int64
}

// ActivityDetail is the subset of a provider activity needed to build a notification.
type ActivityDetail struct {
	ID                  int64
	Category            string
	Name                string
	Description         string
	MovingTimeSeconds   int64
	DistanceMeters      float64
	ElevationGainMeters *float64
	Calories            *float64
}

// CredentialStore persists credentials keyed by external account id.
type CredentialStore interface {
	Upsert(ctx context.Context, credential Credential) error
	FindByExternalAccountID(ctx context.Context, id int64) (*Credential, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
}

// TokenExchanger talks to the provider token endpoint.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code string) (TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (TokenGrant, error)
}

// ActivityFetcher loads activity details with an athlete access token.
type ActivityFetcher interface {
	GetActivity(ctx context.Context, accessToken string, activityID int64) (ActivityDetail, error)
}

// Notifier delivers formatted text to an addressable target.
type Notifier interface {
	Send(ctx context.Context, target, text string) error
}

// DeliveryLedger records which notifications were already claimed.
type DeliveryLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// AuthURLBuilder produces the provider authorization link for a notify target.
type AuthURLBuilder interface {
	AuthorizeURL(notifyTarget string) (string, error)
}
