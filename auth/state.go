package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// LoginState is what the callback needs to finish a login it did not start.
type LoginState struct {
	Nonce     string
	Verifier  string
	ReturnURL string
	expiry    time.Time
}

// StateStore tracks short lived OAuth2 state values used to defend against
// CSRF during the authorization code flow.
type StateStore struct {
	mu     sync.Mutex
	values map[string]LoginState
	ttl    time.Duration
	now    func() time.Time
}

// NewStateStore constructs a state store with the provided TTL.
func NewStateStore(ttl time.Duration) *StateStore {
	return &StateStore{
		values: make(map[string]LoginState),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Create registers a new login attempt and returns its state value.
func (s *StateStore) Create(returnURL string) (string, LoginState, error) {
	state, err := randomToken()
	if err != nil {
		return "", LoginState{}, err
	}

	nonce, err := randomToken()
	if err != nil {
		return "", LoginState{}, err
	}

	entry := LoginState{
		Nonce:     nonce,
		Verifier:  oauth2.GenerateVerifier(),
		ReturnURL: returnURL,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.expiry = s.now().Add(s.ttl)
	s.values[state] = entry
	s.evictExpiredLocked()
	return state, entry, nil
}

// Verify consumes an existing state value and returns the stored login
// attempt if it exists and is not expired.
func (s *StateStore) Verify(state string) (LoginState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.values[state]
	if !ok {
		return LoginState{}, false
	}

	delete(s.values, state)
	if s.now().After(entry.expiry) {
		return LoginState{}, false
	}

	s.evictExpiredLocked()
	return entry, true
}

func (s *StateStore) evictExpiredLocked() {
	now := s.now()
	for key, entry := range s.values {
		if now.After(entry.expiry) {
			delete(s.values, key)
		}
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
