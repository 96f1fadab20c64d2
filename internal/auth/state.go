package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"example.com/activityrelay/internal/domain"
)

const stateIssuer = "activityrelay-state"

// StateCodec carries the notify target through the OAuth state parameter. With a secret the
// target travels as a short-lived HS256 token; without one it is passed through unchanged.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec constructs a StateCodec. A non-positive ttl defaults to fifteen minutes.
func NewStateCodec(secret string, ttl time.Duration) *StateCodec {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &StateCodec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithTTL returns a codec sharing this secret whose states live for ttl. States from either
// codec decode with the other.
func (c *StateCodec) WithTTL(ttl time.Duration) *StateCodec {
	if ttl <= 0 {
		return c
	}
	return &StateCodec{secret: c.secret, ttl: ttl, now: c.now}
}

// Signed reports whether states are signed.
func (c *StateCodec) Signed() bool {
	return len(c.secret) > 0
}

// Encode produces the state value for notifyTarget.
func (c *StateCodec) Encode(notifyTarget string) (string, error) {
	if !c.Signed() {
		return notifyTarget, nil
	}
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": stateIssuer,
		"nt":  notifyTarget,
		"iat": now.Unix(),
		"exp": now.Add(c.ttl).Unix(),
	})
	return token.SignedString(c.secret)
}

// Decode recovers the notify target from state. Failures wrap domain.ErrInvalidState.
func (c *StateCodec) Decode(state string) (string, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return "", domain.ErrInvalidState
	}
	if !c.Signed() {
		return state, nil
	}

	parsed, err := jwt.Parse(state, hmacKey(string(c.secret)),
		jwt.WithIssuer(stateIssuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", domain.ErrInvalidState
	}
	target, _ := claims["nt"].(string)
	if strings.TrimSpace(target) == "" {
		return "", domain.ErrInvalidState
	}
	return target, nil
}
