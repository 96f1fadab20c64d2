package domain

import "crypto/subtle"

// SubscribeMode is the only hub.mode value accepted during verification.
const SubscribeMode = "subscribe"

// HandshakeStatus classifies a subscription verification request.
type HandshakeStatus int

const (
	// HandshakeIncomplete means neither mode nor token was supplied.
	HandshakeIncomplete HandshakeStatus = iota
	// HandshakeAccepted means the challenge should be echoed back.
	HandshakeAccepted
)

// HandshakeResult carries the challenge to echo on acceptance.
type HandshakeResult struct {
	Status    HandshakeStatus
	Challenge string
}

// VerifyHandshake validates a push subscription challenge against the shared verify token.
// Absent mode and token yield HandshakeIncomplete; any other mismatch returns ErrRejected.
func VerifyHandshake(mode, token, challenge, expectedToken string) (HandshakeResult, error) {
	if mode == "" && token == "" {
		return HandshakeResult{Status: HandshakeIncomplete}, nil
	}
	if mode != SubscribeMode || expectedToken == "" {
		return HandshakeResult{}, ErrRejected
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return HandshakeResult{}, ErrRejected
	}
	return HandshakeResult{Status: HandshakeAccepted, Challenge: challenge}, nil
}
