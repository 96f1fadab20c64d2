// Package ledger records which deliveries have already been claimed.
package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps claims in process memory for single-node or local deployments.
type MemoryLedger struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryLedger constructs an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Claim records key until ttl elapses. It reports false while an earlier claim is live.
func (l *MemoryLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.claims[key]; ok && expiry.After(now) {
		return false, nil
	}
	l.claims[key] = now.Add(ttl)
	l.sweep(now)
	return true, nil
}

// Release forgets key.
func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, key)
	return nil
}

func (l *MemoryLedger) sweep(now time.Time) {
	for key, expiry := range l.claims {
		if !expiry.After(now) {
			delete(l.claims, key)
		}
	}
}
