package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activityrelay/internal/auth"
	"example.com/activityrelay/internal/domain"
	"example.com/activityrelay/internal/strava"
)

type stubAuthorizer struct {
	code   string
	target string
	err    error
}

func (s *stubAuthorizer) Complete(_ context.Context, code, target string) (*domain.Credential, error) {
	s.code, s.target = code, target
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Credential{ExternalAccountID: 42, DisplayName: "kipchoge", NotifyTarget: target}, nil
}

type prefixStates struct{}

func (prefixStates) Decode(state string) (string, error) {
	if !strings.HasPrefix(state, "ok:") {
		return "", domain.ErrInvalidState
	}
	return strings.TrimPrefix(state, "ok:"), nil
}

type recordingSubmitter struct {
	mu     sync.Mutex
	events []domain.ActivityEvent
}

func (r *recordingSubmitter) Submit(_ context.Context, event domain.ActivityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type stubCredentials map[int64]domain.Credential

func (s stubCredentials) FindByExternalAccountID(_ context.Context, id int64) (*domain.Credential, error) {
	c, ok := s[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s stubCredentials) Upsert(_ context.Context, c domain.Credential) error {
	s[c.ExternalAccountID] = c
	return nil
}

func (s stubCredentials) UpdateTokens(context.Context, int64, string, string, time.Time) error {
	return nil
}

type stubAuthURLs struct{}

func (stubAuthURLs) AuthorizeURL(target string) (string, error) {
	return "https://www.strava.com/oauth/authorize?state=" + target, nil
}

type stubSubscriptions struct {
	created []string
	err     error
}

func (s *stubSubscriptions) CreateSubscription(_ context.Context, callbackURL, verifyToken string) (strava.Subscription, error) {
	if s.err != nil {
		return strava.Subscription{}, s.err
	}
	s.created = append(s.created, callbackURL+"|"+verifyToken)
	return strava.Subscription{ID: 555, CallbackURL: callbackURL}, nil
}

func (s *stubSubscriptions) ListSubscriptions(context.Context) ([]strava.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []strava.Subscription{{ID: 555, CallbackURL: "https://relay.example.com/webhook"}}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func newTestMux(deps Dependencies) *http.ServeMux {
	if deps.VerifyToken == "" {
		deps.VerifyToken = "verify-me"
	}
	mux := http.NewServeMux()
	NewHandler(deps).RegisterRoutes(mux)
	return mux
}

func serve(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAuthCallback(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		authz := &stubAuthorizer{}
		mux := newTestMux(Dependencies{Authorizer: authz, States: prefixStates{}})

		rec := serve(mux, http.MethodGet, "/auth?code=abc&state=ok:-1001", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "kipchoge")
		require.Equal(t, "abc", authz.code)
		require.Equal(t, "-1001", authz.target)
	})

	t.Run("missing code or state", func(t *testing.T) {
		authz := &stubAuthorizer{}
		mux := newTestMux(Dependencies{Authorizer: authz, States: prefixStates{}})

		require.Equal(t, http.StatusBadRequest, serve(mux, http.MethodGet, "/auth?state=ok:-1001", "").Code)
		require.Equal(t, http.StatusBadRequest, serve(mux, http.MethodGet, "/auth?code=abc", "").Code)
		require.Empty(t, authz.code)
	})

	t.Run("tampered state", func(t *testing.T) {
		authz := &stubAuthorizer{}
		mux := newTestMux(Dependencies{Authorizer: authz, States: prefixStates{}})

		rec := serve(mux, http.MethodGet, "/auth?code=abc&state=forged", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Empty(t, authz.code)
	})

	t.Run("denied by athlete", func(t *testing.T) {
		mux := newTestMux(Dependencies{Authorizer: &stubAuthorizer{}, States: prefixStates{}})
		rec := serve(mux, http.MethodGet, "/auth?error=access_denied&state=ok:-1001", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("exchange failure", func(t *testing.T) {
		authz := &stubAuthorizer{err: fmt.Errorf("exchange authorization code: %w", domain.ErrTransport)}
		mux := newTestMux(Dependencies{Authorizer: authz, States: prefixStates{}})

		rec := serve(mux, http.MethodGet, "/auth?code=abc&state=ok:-1001", "")
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestWebhookHandshake(t *testing.T) {
	mux := newTestMux(Dependencies{})

	rec := serve(mux, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=15f7d1a91c1f40f8a748fd134752feb3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "15f7d1a91c1f40f8a748fd134752feb3", body["hub.challenge"])

	rec = serve(mux, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=x", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(mux, http.MethodGet, "/webhook?hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=x", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(mux, http.MethodGet, "/webhook", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookEventAlwaysAcknowledged(t *testing.T) {
	submitter := &recordingSubmitter{}
	mux := newTestMux(Dependencies{Events: submitter})

	payload := `{"aspect_type":"create","event_time":1549560669,"object_id":1360128428,"object_type":"activity","owner_id":134815,"subscription_id":120475,"updates":{}}`
	rec := serve(mux, http.MethodPost, "/webhook", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())

	rec = serve(mux, http.MethodPost, "/webhook", `{not json`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())

	require.Len(t, submitter.events, 1)
	require.Equal(t, domain.ActivityEvent{
		ObjectType:     "activity",
		AspectType:     "create",
		ObjectID:       1360128428,
		OwnerID:        134815,
		EventTime:      1549560669,
		SubscriptionID: 120475,
	}, submitter.events[0])
}

type failingFetcher struct{}

func (failingFetcher) GetActivity(context.Context, string, int64) (domain.ActivityDetail, error) {
	return domain.ActivityDetail{}, fmt.Errorf("%w: timeout", domain.ErrTransport)
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, string, string) error { return nil }

type passthroughRefresher struct{}

func (passthroughRefresher) EnsureFresh(_ context.Context, c domain.Credential) (domain.Credential, error) {
	return c, nil
}

type processingSubmitter struct {
	processor *domain.Processor
	results   []domain.Result
}

func (s *processingSubmitter) Submit(ctx context.Context, event domain.ActivityEvent) {
	s.results = append(s.results, s.processor.Handle(ctx, event))
}

func TestWebhookAcknowledgesWhenFetchFails(t *testing.T) {
	creds := stubCredentials{134815: {
		ExternalAccountID: 134815,
		NotifyTarget:      "-1001",
		AccessToken:       "a",
		ExpiresAt:         time.Now().Add(time.Hour),
	}}
	submitter := &processingSubmitter{
		processor: domain.NewProcessor(creds, passthroughRefresher{}, failingFetcher{}, nopNotifier{}),
	}
	mux := newTestMux(Dependencies{Events: submitter})

	rec := serve(mux, http.MethodPost, "/webhook", `{"aspect_type":"create","object_id":1,"object_type":"activity","owner_id":134815}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []domain.Result{{Outcome: domain.OutcomeDropped, Reason: domain.ReasonFetchFailed}}, submitter.results)
}

func TestAuthorizeURLEndpoint(t *testing.T) {
	mux := newTestMux(Dependencies{AuthURLs: stubAuthURLs{}})

	rec := serve(mux, http.MethodGet, "/v1/authorize-url?notify_target=-1001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AuthorizeURLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "-1001", resp.NotifyTarget)
	require.True(t, strings.HasSuffix(resp.URL, "state=-1001"))

	rec = serve(mux, http.MethodGet, "/v1/authorize-url", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCredentialByID(t *testing.T) {
	expires := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	mux := newTestMux(Dependencies{Credentials: stubCredentials{42: {
		ExternalAccountID: 42,
		DisplayName:       "kipchoge",
		NotifyTarget:      "-1001",
		AccessToken:       "secret-access",
		RefreshToken:      "secret-refresh",
		ExpiresAt:         expires,
	}}})

	rec := serve(mux, http.MethodGet, "/v1/credentials/42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret-")

	var view CredentialView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.EqualValues(t, 42, view.AthleteID)
	require.Equal(t, "-1001", view.NotifyTarget)
	require.True(t, view.Expired)

	require.Equal(t, http.StatusNotFound, serve(mux, http.MethodGet, "/v1/credentials/7", "").Code)
	require.Equal(t, http.StatusBadRequest, serve(mux, http.MethodGet, "/v1/credentials/abc", "").Code)
}

func TestSubscriptionsEndpoint(t *testing.T) {
	subs := &stubSubscriptions{}
	mux := newTestMux(Dependencies{Subscriptions: subs, CallbackURL: "https://relay.example.com/webhook"})

	rec := serve(mux, http.MethodPost, "/v1/subscriptions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, []string{"https://relay.example.com/webhook|verify-me"}, subs.created)

	rec = serve(mux, http.MethodGet, "/v1/subscriptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListSubscriptionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)

	failing := newTestMux(Dependencies{Subscriptions: &stubSubscriptions{err: domain.ErrTransport}})
	require.Equal(t, http.StatusBadGateway, serve(failing, http.MethodGet, "/v1/subscriptions", "").Code)
}

func TestHealthz(t *testing.T) {
	require.Equal(t, http.StatusOK, serve(newTestMux(Dependencies{}), http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(newTestMux(Dependencies{Health: failingPinger{}}), http.MethodGet, "/healthz", "").Code)
}

func TestAdminActionsLogSubject(t *testing.T) {
	var buf bytes.Buffer
	subs := &stubSubscriptions{}
	mux := newTestMux(Dependencies{
		AuthURLs:      stubAuthURLs{},
		Subscriptions: subs,
		CallbackURL:   "https://relay.example.com/webhook",
		Logger:        log.New(&buf, "", 0),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Subject: "ops@example.com", Scopes: map[string]struct{}{auth.ScopeAdmin: {}}}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, buf.String(), "push subscription 555 created by ops@example.com")

	rec = serve(mux, http.MethodGet, "/v1/authorize-url?notify_target=-1001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, buf.String(), "authorize url issued for -1001 by anonymous")
}
