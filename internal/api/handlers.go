// Package api exposes the relay's HTTP surface: the OAuth callback, the provider webhook and a
// small operator API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/activityrelay/internal/auth"
	"example.com/activityrelay/internal/domain"
	"example.com/activityrelay/internal/strava"
)

const maxWebhookBody = 64 << 10

// Authorizer completes an OAuth callback.
type Authorizer interface {
	Complete(ctx context.Context, code, notifyTarget string) (*domain.Credential, error)
}

// StateDecoder recovers the notify target carried by the OAuth state parameter.
type StateDecoder interface {
	Decode(state string) (string, error)
}

// EventSubmitter accepts webhook events for asynchronous processing.
type EventSubmitter interface {
	Submit(ctx context.Context, event domain.ActivityEvent)
}

// CredentialReader looks up stored credentials.
type CredentialReader interface {
	FindByExternalAccountID(ctx context.Context, athleteID int64) (*domain.Credential, error)
}

// SubscriptionManager registers and lists webhook push subscriptions.
type SubscriptionManager interface {
	CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (strava.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]strava.Subscription, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires collaborators into the Handler.
type Dependencies struct {
	Authorizer    Authorizer
	States        StateDecoder
	Events        EventSubmitter
	Credentials   CredentialReader
	AuthURLs      domain.AuthURLBuilder
	Subscriptions SubscriptionManager
	Health        Pinger
	VerifyToken   string
	CallbackURL   string
	Logger        *log.Logger
}

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	deps   Dependencies
	logger *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lshortfile)
	}
	return &Handler{deps: deps, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth", h.authCallback)
	mux.HandleFunc("/webhook", h.webhook)
	mux.HandleFunc("/healthz", h.healthz)
	mux.HandleFunc("/v1/authorize-url", h.authorizeURL)
	mux.HandleFunc("/v1/credentials/", h.credentialByID)
	mux.HandleFunc("/v1/subscriptions", h.subscriptions)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Health.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) authCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	query := r.URL.Query()
	if denied := query.Get("error"); denied != "" {
		writePage(w, http.StatusBadRequest, "Authorization was not granted: "+denied)
		return
	}

	code := strings.TrimSpace(query.Get("code"))
	state := strings.TrimSpace(query.Get("state"))
	if code == "" || state == "" {
		writePage(w, http.StatusBadRequest, "Missing code or state.")
		return
	}

	target, err := h.deps.States.Decode(state)
	if err != nil {
		h.logger.Printf("rejected authorization state: %v", err)
		writePage(w, http.StatusBadRequest, "This authorization link is invalid or has expired.")
		return
	}

	credential, err := h.deps.Authorizer.Complete(r.Context(), code, target)
	if err != nil {
		if errors.Is(err, domain.ErrMissingCode) || errors.Is(err, domain.ErrInvalidState) {
			writePage(w, http.StatusBadRequest, "Missing code or state.")
			return
		}
		h.logger.Printf("authorization failed: %v", err)
		writePage(w, http.StatusInternalServerError, "Authorization failed. Please try again.")
		return
	}

	writePage(w, http.StatusOK, "Strava connected for "+credential.DisplayName+". You can close this page.")
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handshake(w, r)
	case http.MethodPost:
		h.receiveEvent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) handshake(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := domain.VerifyHandshake(query.Get("hub.mode"), query.Get("hub.verify_token"), query.Get("hub.challenge"), h.deps.VerifyToken)
	if err != nil {
		h.logger.Printf("webhook handshake rejected (mode=%q)", query.Get("hub.mode"))
		writeError(w, http.StatusForbidden, "forbidden", "verification failed")
		return
	}
	if result.Status == domain.HandshakeIncomplete {
		writeError(w, http.StatusBadRequest, "invalid_request", "hub.mode and hub.verify_token are required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": result.Challenge})
}

// WebhookEvent is the push payload delivered to POST /webhook.
type WebhookEvent struct {
	ObjectType     string                 `json:"object_type"`
	ObjectID       int64                  `json:"object_id"`
	AspectType     string                 `json:"aspect_type"`
	OwnerID        int64                  `json:"owner_id"`
	EventTime      int64                  `json:"event_time"`
	SubscriptionID int64                  `json:"subscription_id"`
	Updates        map[string]interface{} `json:"updates,omitempty"`
}

func (e WebhookEvent) toDomain() domain.ActivityEvent {
	return domain.ActivityEvent{
		ObjectType:     e.ObjectType,
		AspectType:     e.AspectType,
		ObjectID:       e.ObjectID,
		OwnerID:        e.OwnerID,
		EventTime:      e.EventTime,
		SubscriptionID: e.SubscriptionID,
	}
}

// receiveEvent always acknowledges with 200 so the provider does not retry; processing
// happens after the acknowledgement.
func (h *Handler) receiveEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))

	if err != nil {
		h.logger.Printf("read webhook body: %v", err)
		return
	}
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Printf("malformed webhook payload: %v", err)
		return
	}
	h.deps.Events.Submit(r.Context(), event.toDomain())
}

func (h *Handler) authorizeURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	target := strings.TrimSpace(r.URL.Query().Get("notify_target"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing notify_target parameter")
		return
	}
	link, err := h.deps.AuthURLs.AuthorizeURL(target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	h.logger.Printf("authorize url issued for %s by %s", target, actor(r))
	writeJSON(w, http.StatusOK, AuthorizeURLResponse{URL: link, NotifyTarget: target})
}

func (h *Handler) credentialByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/v1/credentials/")
	athleteID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || athleteID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "athlete id must be a positive integer")
		return
	}

	credential, err := h.deps.Credentials.FindByExternalAccountID(r.Context(), athleteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if credential == nil {
		writeError(w, http.StatusNotFound, "not_found", "credential not found")
		return
	}
	writeJSON(w, http.StatusOK, toCredentialView(*credential, time.Now()))
}

func (h *Handler) subscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		subs, err := h.deps.Subscriptions.ListSubscriptions(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, ListSubscriptionsResponse{Items: subs})
	case http.MethodPost:
		sub, err := h.deps.Subscriptions.CreateSubscription(r.Context(), h.deps.CallbackURL, h.deps.VerifyToken)
		if err != nil {
			writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
			return
		}
		h.logger.Printf("push subscription %d created by %s", sub.ID, actor(r))
		writeJSON(w, http.StatusCreated, sub)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// actor names the admin behind a request for audit lines.
func actor(r *http.Request) string {
	if claims, ok := auth.FromContext(r.Context()); ok && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}

// AuthorizeURLResponse carries a consent link for a notify target.
type AuthorizeURLResponse struct {
	URL          string `json:"url"`
	NotifyTarget string `json:"notify_target"`
}

// CredentialView describes a stored credential without its tokens.
type CredentialView struct {
	AthleteID    int64     `json:"athlete_id"`
	DisplayName  string    `json:"display_name"`
	NotifyTarget string    `json:"notify_target"`
	ExpiresAt    time.Time `json:"expires_at"`
	Expired      bool      `json:"expired"`
}

// ListSubscriptionsResponse packages push subscriptions.
type ListSubscriptionsResponse struct {
	Items []strava.Subscription `json:"items"`
}

func toCredentialView(c domain.Credential, now time.Time) CredentialView {
	return CredentialView{
		AthleteID:    c.ExternalAccountID,
		DisplayName:  c.DisplayName,
		NotifyTarget: c.NotifyTarget,
		ExpiresAt:    c.ExpiresAt,
		Expired:      c.Expired(now),
	}
}

func writePage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
