package auth

import (
	"net/http"
	"strings"
)

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// PublicPaths skips the provider-facing and operational routes.
func PublicPaths(r *http.Request) bool {
	switch r.URL.Path {
	case "/auth", "/webhook", "/healthz", "/metrics":
		return true
	}
	return false
}

// Middleware provides HTTP middleware for bearer-token validation.
type Middleware struct {
	Config        Config
	Skipper       Skipper
	RequiredScope string
}

// NewMiddleware constructs a middleware that requires scope on every request not skipped.
func NewMiddleware(cfg Config, skipper Skipper, scope string) Middleware {
	return Middleware{Config: cfg, Skipper: skipper, RequiredScope: scope}
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if m.RequiredScope != "" && !claims.HasScope(m.RequiredScope) {
			http.Error(w, "missing scope "+m.RequiredScope, http.StatusForbidden)
			return
		}
		ctx := WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) parseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return nil, ErrInvalidToken
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return Parse(token, m.Config)
}
