// Package strava talks to the Strava OAuth and REST APIs.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"example.com/activityrelay/internal/domain"
)

const (
	DefaultBaseURL = "https://www.strava.com"
	DefaultAuthURL = "https://www.strava.com/oauth/authorize"

	// Scope is sent verbatim; Strava expects a comma separated list.
	Scope = "read,activity:read"
)

// StateEncoder turns a notify target into the opaque OAuth state value.
type StateEncoder interface {
	Encode(notifyTarget string) (string, error)
}

type plainState struct{}

func (plainState) Encode(notifyTarget string) (string, error) { return notifyTarget, nil }

// Config describes the registered application.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	AuthURL      string
	RedirectURL  string
	Timeout      time.Duration
}

// Option configures optional client behaviour.
type Option func(*Client)

// WithStateEncoder signs or otherwise encodes the state parameter of authorization links.
func WithStateEncoder(encoder StateEncoder) Option {
	return func(c *Client) {
		c.state = encoder
	}
}

// WithHTTPClient overrides the HTTP client used for every call.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// Client implements token exchange, activity lookup and push subscription management.
type Client struct {
	cfg        Config
	oauth      *oauth2.Config
	httpClient *http.Client
	state      StateEncoder
}

// NewClient constructs a Client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.BaseURL + "/api/v3/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      []string{Scope},
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
		state:      plainState{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthorizeURL builds the consent link whose callback will bind the athlete to notifyTarget.
func (c *Client) AuthorizeURL(notifyTarget string) (string, error) {
	state, err := c.state.Encode(notifyTarget)
	if err != nil {
		return "", err
	}
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force")), nil
}

// ExchangeCode trades an authorization code for tokens and the athlete profile.
func (c *Client) ExchangeCode(ctx context.Context, code string) (domain.TokenGrant, error) {
	token, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return domain.TokenGrant{}, tokenError(err)
	}
	grant := grantFromToken(token)
	if raw := token.Extra("athlete"); raw != nil {
		athlete, err := decodeAthlete(raw)
		if err != nil {
			return domain.TokenGrant{}, fmt.Errorf("%w: decode athlete: %v", domain.ErrTransport, err)
		}
		grant.Athlete = athlete
	}
	if grant.Athlete.ID == 0 {
		return domain.TokenGrant{}, fmt.Errorf("%w: token response carries no athlete", domain.ErrTransport)
	}
	return grant, nil
}

// Refresh trades a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	source := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return domain.TokenGrant{}, tokenError(err)
	}
	return grantFromToken(token), nil
}

// GetActivity fetches the detailed activity as seen by the token's owner.
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (domain.ActivityDetail, error) {
	endpoint := fmt.Sprintf("%s/api/v3/activities/%d", c.cfg.BaseURL, activityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.ActivityDetail{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	var payload activityPayload
	if err := c.do(req, &payload); err != nil {
		return domain.ActivityDetail{}, err
	}
	return payload.toDomain(), nil
}

// Subscription is a registered webhook push subscription.
type Subscription struct {
	ID          int64     `json:"id"`
	CallbackURL string    `json:"callback_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateSubscription registers callbackURL for push events. Strava calls the callback's GET
// handshake with verifyToken before answering.
func (c *Client) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (Subscription, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"callback_url":  {callbackURL},
		"verify_token":  {verifyToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v3/push_subscriptions", strings.NewReader(form.Encode()))
	if err != nil {
		return Subscription{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var sub Subscription
	if err := c.do(req, &sub); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// ListSubscriptions returns the application's push subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	query := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v3/push_subscriptions?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var subs []Subscription
	if err := c.do(req, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %w", domain.ErrTransport, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrTransport, err)
	}
	return nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// APIError represents a non-successful Strava response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return "strava responded with status " + strconv.Itoa(e.Status)
	}
	return fmt.Sprintf("strava responded with status %d: %s", e.Status, e.Body)
}

func tokenError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.Response != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, &APIError{Status: retrieve.Response.StatusCode, Body: strings.TrimSpace(string(retrieve.Body))})
	}
	return fmt.Errorf("%w: %v", domain.ErrTransport, err)
}

func grantFromToken(token *oauth2.Token) domain.TokenGrant {
	grant := domain.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
	}
	if at, ok := numeric(token.Extra("expires_at")); ok && at > 0 {
		grant.ExpiresAt = time.Unix(at, 0).UTC()
	}
	return grant
}

func numeric(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

type athletePayload struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

func decodeAthlete(raw interface{}) (domain.Athlete, error) {
	body, err := json.Marshal(raw)
	if err != nil {
		return domain.Athlete{}, err
	}
	var payload athletePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Athlete{}, err
	}
	return domain.Athlete{
		ID:        payload.ID,
		Username:  payload.Username,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	}, nil
}

type activityPayload struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	SportType          string   `json:"sport_type"`
	Description        string   `json:"description"`
	MovingTime         int64    `json:"moving_time"`
	Distance           float64  `json:"distance"`
	TotalElevationGain *float64 `json:"total_elevation_gain"`
	Calories           *float64 `json:"calories"`
}

func (p activityPayload) toDomain() domain.ActivityDetail {
	category := p.Type
	if category == "" {
		category = p.SportType
	}
	return domain.ActivityDetail{
		ID:                  p.ID,
		Category:            category,
		Name:                p.Name,
		Description:         p.Description,
		MovingTimeSeconds:   p.MovingTime,
		DistanceMeters:      p.Distance,
		ElevationGainMeters: p.TotalElevationGain,
		Calories:            p.Calories,
	}
}
