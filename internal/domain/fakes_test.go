package domain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"example.com/activityrelay/internal/events"
)

type memStore struct {
	mu        sync.Mutex
	creds     map[int64]Credential
	findErr   error
	updateErr error
	finds     int32
}

func newMemStore(creds ...Credential) *memStore {
	s := &memStore{creds: make(map[int64]Credential)}
	for _, c := range creds {
		s.creds[c.ExternalAccountID] = c
	}
	return s
}

func (s *memStore) Upsert(_ context.Context, c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.ExternalAccountID] = c
	return nil
}

func (s *memStore) FindByExternalAccountID(_ context.Context, id int64) (*Credential, error) {
	atomic.AddInt32(&s.finds, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	c, ok := s.creds[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memStore) UpdateTokens(_ context.Context, id int64, access, refresh string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	c, ok := s.creds[id]
	if !ok {
		return errors.Join(ErrStorage, ErrCredentialNotFound)
	}
	c.AccessToken, c.RefreshToken, c.ExpiresAt = access, refresh, expiresAt
	s.creds[id] = c
	return nil
}

func (s *memStore) get(id int64) Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[id]
}

type fakeExchanger struct {
	refreshes int32
	delay     time.Duration
	grant     TokenGrant
	err       error
	codes     []string
}

func (f *fakeExchanger) ExchangeCode(_ context.Context, code string) (TokenGrant, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return TokenGrant{}, f.err
	}
	return f.grant, nil
}

func (f *fakeExchanger) Refresh(_ context.Context, _ string) (TokenGrant, error) {
	atomic.AddInt32(&f.refreshes, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return TokenGrant{}, f.err
	}
	return f.grant, nil
}

type fakeFetcher struct {
	detail ActivityDetail
	err    error
	calls  int32
	token  string
}

func (f *fakeFetcher) GetActivity(_ context.Context, accessToken string, _ int64) (ActivityDetail, error) {
	atomic.AddInt32(&f.calls, 1)
	f.token = accessToken
	if f.err != nil {
		return ActivityDetail{}, f.err
	}
	return f.detail, nil
}

type sentMessage struct {
	target string
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{target: target, text: text})
	return f.err
}

func (f *fakeNotifier) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeLedger struct {
	mu       sync.Mutex
	claims   map[string]bool
	claimErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claims: make(map[string]bool)}
}

func (l *fakeLedger) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimErr != nil {
		return false, l.claimErr
	}
	if l.claims[key] {
		return false, nil
	}
	l.claims[key] = true
	return true, nil
}

func (l *fakeLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, key)
	return nil
}

func (l *fakeLedger) has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claims[key]
}

type fakePublisher struct {
	mu        sync.Mutex
	notified  []events.ActivityNotified
	connected []events.AthleteConnected
}

func (p *fakePublisher) PublishActivityNotified(_ context.Context, e events.ActivityNotified) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notified = append(p.notified, e)
	return nil
}

func (p *fakePublisher) PublishAthleteConnected(_ context.Context, e events.AthleteConnected) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = append(p.connected, e)
	return nil
}

type fakeAuthURLs struct{}

func (fakeAuthURLs) AuthorizeURL(target string) (string, error) {
	return "https://www.strava.com/oauth/authorize?state=" + target, nil
}
