package memory

import (
	"context"
	"sync"
	"time"
)

// TokenStore es la versión en memoria del store de jti (modo dev / tests).
type TokenStore struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	now    func() time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *TokenStore) Put(ctx context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expiry[jti] = s.now().Add(ttl)
	return nil
}

func (s *TokenStore) Take(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.expiry[jti]
	if !ok {
		return false, nil
	}
	delete(s.expiry, jti)
	return s.now().Before(exp), nil
}

func (s *TokenStore) Discard(ctx context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.expiry, jti)
	return nil
}
