package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/activityrelay/internal/events"
	"example.com/activityrelay/internal/observability"
)

// Event kinds the processor acts on; everything else is ignored.
const (
	ObjectTypeActivity = "activity"
	AspectTypeCreate   = "create"
)

// Outcome is the terminal state of a processed activity event.
type Outcome string

const (
	// OutcomeIgnored means the event needed no notification.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDropped means a notification was due but could not be produced.
	OutcomeDropped Outcome = "dropped"
	// OutcomeDelivered means dispatch was attempted.
	OutcomeDelivered Outcome = "delivered"
)

// Reasons attached to outcomes for logs and metrics.
const (
	ReasonUnsupportedEvent = "unsupported_event"
	ReasonUnknownOwner     = "unknown_owner"
	ReasonDuplicate        = "duplicate"
	ReasonStorageError     = "storage_error"
	ReasonRefreshFailed    = "refresh_failed"
	ReasonFetchFailed      = "fetch_failed"
	ReasonDispatchFailed   = "dispatch_failed"
)

const (
	defaultDeliveryTTL = 24 * time.Hour
	reauthPromptTTL    = 30 * 24 * time.Hour
)

// Result reports what happened to an event.
type Result struct {
	Outcome Outcome
	Reason  string
}

// CredentialRefresher guarantees a usable access token.
type CredentialRefresher interface {
	EnsureFresh(ctx context.Context, credential Credential) (Credential, error)
}

// EventPublisher announces delivered notifications and new connections downstream.
type EventPublisher interface {
	PublishActivityNotified(ctx context.Context, event events.ActivityNotified) error
	PublishAthleteConnected(ctx context.Context, event events.AthleteConnected) error
}

// ProcessorOption configures optional behaviour for the Processor.
type ProcessorOption func(*Processor)

// WithLogger overrides the logger used to report event handling.
func WithLogger(logger *log.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithLedger enables delivery de-duplication; claims expire after ttl.
func WithLedger(ledger DeliveryLedger, ttl time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.ledger = ledger
		if ttl > 0 {
			p.deliveryTTL = ttl
		}
	}
}

// WithPublisher forwards delivered notifications to an event stream.
func WithPublisher(publisher EventPublisher) ProcessorOption {
	return func(p *Processor) {
		p.publisher = publisher
	}
}

// WithReauthPrompt sends owners a new authorization link once per failed refresh token.
// It only takes effect together with WithLedger.
func WithReauthPrompt(builder AuthURLBuilder) ProcessorOption {
	return func(p *Processor) {
		p.authURLs = builder
	}
}

// Processor turns activity-created events into notifications.
type Processor struct {
	store       CredentialStore
	refresher   CredentialRefresher
	fetcher     ActivityFetcher
	notifier    Notifier
	ledger      DeliveryLedger
	deliveryTTL time.Duration
	publisher   EventPublisher
	authURLs    AuthURLBuilder
	logger      *log.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(store CredentialStore, refresher CredentialRefresher, fetcher ActivityFetcher, notifier Notifier, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:       store,
		refresher:   refresher,
		fetcher:     fetcher,
		notifier:    notifier,
		deliveryTTL: defaultDeliveryTTL,
		logger:      log.New(log.Writer(), "[processor] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs one event through filter, owner lookup, refresh, fetch, format and dispatch.
// It never returns an error: every failure ends in an Ignored or Dropped result.
func (p *Processor) Handle(ctx context.Context, event ActivityEvent) Result {
	id := uuid.NewString()

	if event.ObjectType != ObjectTypeActivity || event.AspectType != AspectTypeCreate {
		return p.finish(id, event, Result{Outcome: OutcomeIgnored, Reason: ReasonUnsupportedEvent})
	}

	owner, err := p.store.FindByExternalAccountID(ctx, event.OwnerID)
	if err != nil {
		p.logger.Printf("[%s] owner lookup failed (athlete=%d): %v", id, event.OwnerID, err)
		return p.finish(id, event, Result{Outcome: OutcomeDropped, Reason: ReasonStorageError})
	}
	if owner == nil {
		p.logger.Printf("[%s] no credential for athlete %d", id, event.OwnerID)
		return p.finish(id, event, Result{Outcome: OutcomeIgnored, Reason: ReasonUnknownOwner})
	}

	key := fmt.Sprintf("activity:%d", event.ObjectID)
	if !p.claim(ctx, id, key) {
		return p.finish(id, event, Result{Outcome: OutcomeIgnored, Reason: ReasonDuplicate})
	}

	credential, err := p.refresher.EnsureFresh(ctx, *owner)
	if err != nil {
		p.release(ctx, id, key)
		p.logger.Printf("[%s] credential refresh failed (athlete=%d): %v", id, event.OwnerID, err)
		if errors.Is(err, ErrRefreshFailed) {
			p.promptReauth(ctx, id, *owner)
			return p.finish(id, event, Result{Outcome: OutcomeDropped, Reason: ReasonRefreshFailed})
		}
		return p.finish(id, event, Result{Outcome: OutcomeDropped, Reason: ReasonStorageError})
	}

	start := time.Now()
	detail, err := p.fetcher.GetActivity(ctx, credential.AccessToken, event.ObjectID)
	observability.ObserveOutbound("activity_fetch", time.Since(start))
	if err != nil {
		p.release(ctx, id, key)
		p.logger.Printf("[%s] activity fetch failed (activity=%d): %v", id, event.ObjectID, err)
		return p.finish(id, event, Result{Outcome: OutcomeDropped, Reason: ReasonFetchFailed})
	}
	if detail.ID == 0 {
		detail.ID = event.ObjectID
	}

	message := FormatActivity(detail, credential.DisplayName)
	result := Result{Outcome: OutcomeDelivered}

	start = time.Now()
	err = p.notifier.Send(ctx, credential.NotifyTarget, message)
	observability.ObserveOutbound("notification_dispatch", time.Since(start))
	if err != nil {
		p.logger.Printf("[%s] dispatch failed (target=%s): %v", id, credential.NotifyTarget, err)
		observability.RecordDispatchFailure()
		result.Reason = ReasonDispatchFailed
	}

	if p.publisher != nil {
		notified := events.ActivityNotified{
			ActivityID:   detail.ID,
			AthleteID:    credential.ExternalAccountID,
			Category:     detail.Category,
			NotifyTarget: credential.NotifyTarget,
			Dispatched:   err == nil,
			OccurredAt:   time.Now().UTC(),
		}
		if pubErr := p.publisher.PublishActivityNotified(ctx, notified); pubErr != nil {
			p.logger.Printf("[%s] publish failed (activity=%d): %v", id, detail.ID, pubErr)
		}
	}

	return p.finish(id, event, result)
}

func (p *Processor) claim(ctx context.Context, id, key string) bool {
	if p.ledger == nil {
		return true
	}
	claimed, err := p.ledger.Claim(ctx, key, p.deliveryTTL)
	if err != nil {
		// Without the ledger the event is still delivered, only de-duplication is lost.
		p.logger.Printf("[%s] ledger claim failed (key=%s): %v", id, key, err)
		return true
	}
	return claimed
}

func (p *Processor) release(ctx context.Context, id, key string) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.Release(ctx, key); err != nil {
		p.logger.Printf("[%s] ledger release failed (key=%s): %v", id, key, err)
	}
}

func (p *Processor) promptReauth(ctx context.Context, id string, owner Credential) {
	if p.ledger == nil || p.authURLs == nil {
		return
	}
	sum := sha256.Sum256([]byte(owner.RefreshToken))
	key := fmt.Sprintf("reauth:%d:%s", owner.ExternalAccountID, hex.EncodeToString(sum[:])[:12])
	claimed, err := p.ledger.Claim(ctx, key, reauthPromptTTL)
	if err != nil || !claimed {
		return
	}
	link, err := p.authURLs.AuthorizeURL(owner.NotifyTarget)
	if err != nil {
		p.logger.Printf("[%s] build authorize url failed: %v", id, err)
		return
	}
	if err := p.notifier.Send(ctx, owner.NotifyTarget, FormatReauthPrompt(owner.DisplayName, link)); err != nil {
		p.logger.Printf("[%s] reauth prompt failed (target=%s): %v", id, owner.NotifyTarget, err)
		observability.RecordDispatchFailure()
	}
}

func (p *Processor) finish(id string, event ActivityEvent, result Result) Result {
	observability.RecordEventOutcome(string(result.Outcome), result.Reason)
	p.logger.Printf("[%s] %s %s object=%d owner=%d -> %s %s", id, event.ObjectType, event.AspectType, event.ObjectID, event.OwnerID, result.Outcome, result.Reason)
	return result
}
