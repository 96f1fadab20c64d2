package domain

import "errors"

var (
	// ErrStorage indicates the credential store was unavailable or rejected a write.
	ErrStorage = errors.New("credential storage failure")
	// ErrCredentialNotFound is returned when a partial update targets a missing row.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrRefreshFailed indicates the provider rejected a refresh token exchange.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrTransport wraps outbound HTTP failures, timeouts included.
	ErrTransport = errors.New("provider transport failure")
	// ErrRejected is returned when a subscription handshake does not validate.
	ErrRejected = errors.New("subscription handshake rejected")
	// ErrInvalidState is returned when the OAuth state parameter cannot be trusted.
	ErrInvalidState = errors.New("invalid authorization state")
)
