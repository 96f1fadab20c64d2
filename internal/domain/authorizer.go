package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"example.com/activityrelay/internal/events"
	"example.com/activityrelay/internal/observability"
)

// ErrMissingCode is returned when the callback carries no authorization code.
var ErrMissingCode = errors.New("authorization code is required")

// AuthorizerOption configures optional behaviour for the Authorizer.
type AuthorizerOption func(*Authorizer)

// WithAuthorizerLogger overrides the logger used by the Authorizer.
func WithAuthorizerLogger(logger *log.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		a.logger = logger
	}
}

// WithAuthorizerPublisher announces new connections downstream.
func WithAuthorizerPublisher(publisher EventPublisher) AuthorizerOption {
	return func(a *Authorizer) {
		a.publisher = publisher
	}
}

// Authorizer completes the OAuth callback: code exchange, credential upsert, connected notice.
type Authorizer struct {
	exchanger TokenExchanger
	store     CredentialStore
	notifier  Notifier
	publisher EventPublisher
	logger    *log.Logger
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(exchanger TokenExchanger, store CredentialStore, notifier Notifier, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		exchanger: exchanger,
		store:     store,
		notifier:  notifier,
		logger:    log.New(log.Writer(), "[authorizer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Complete exchanges code for a credential bound to notifyTarget. Re-authorizing an existing
// athlete replaces every stored field, including the notify target.
func (a *Authorizer) Complete(ctx context.Context, code, notifyTarget string) (*Credential, error) {
	code = strings.TrimSpace(code)
	notifyTarget = strings.TrimSpace(notifyTarget)
	if code == "" {
		return nil, ErrMissingCode
	}
	if notifyTarget == "" {
		return nil, ErrInvalidState
	}

	start := time.Now()
	grant, err := a.exchanger.ExchangeCode(ctx, code)
	observability.ObserveOutbound("token_exchange", time.Since(start))
	if err != nil {
		observability.RecordAuthorization("exchange_failed")
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	credential := Credential{
		ExternalAccountID: grant.Athlete.ID,
		DisplayName:       grant.Athlete.DisplayName(),
		NotifyTarget:      notifyTarget,
		AccessToken:       grant.AccessToken,
		RefreshToken:      grant.RefreshToken,
		ExpiresAt:         grant.ExpiresAt,
	}
	if err := a.store.Upsert(ctx, credential); err != nil {
		observability.RecordAuthorization("storage_failed")
		return nil, err
	}
	observability.RecordAuthorization("connected")
	a.logger.Printf("athlete %d connected (target=%s)", credential.ExternalAccountID, notifyTarget)

	if err := a.notifier.Send(ctx, notifyTarget, FormatConnected(grant.Athlete)); err != nil {
		a.logger.Printf("connected notice failed (target=%s): %v", notifyTarget, err)
		observability.RecordDispatchFailure()
	}

	if a.publisher != nil {
		connected := events.AthleteConnected{
			AthleteID:    credential.ExternalAccountID,
			DisplayName:  credential.DisplayName,
			NotifyTarget: notifyTarget,
			OccurredAt:   time.Now().UTC(),
		}
		if err := a.publisher.PublishAthleteConnected(ctx, connected); err != nil {
			a.logger.Printf("publish connected failed (athlete=%d): %v", credential.ExternalAccountID, err)
		}
	}

	return &credential, nil
}
