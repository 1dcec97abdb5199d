package keys

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// -------------------------
// Test repo (in-memory)
// -------------------------

var errRepoNotFound = errors.New("repo: not found")

type testRepo struct {
	mu   sync.Mutex
	byID map[string]Key
}

func newTestRepo() *testRepo {
	return &testRepo{byID: map[string]Key{}}
}

func (r *testRepo) Create(ctx context.Context, k Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k.ID == "" {
		return errors.New("repo: id required")
	}
	r.byID[k.ID] = k
	return nil
}

func (r *testRepo) GetByID(ctx context.Context, id string) (Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[id]
	if !ok {
		return Key{}, errRepoNotFound
	}
	return k, nil
}

func (r *testRepo) FindBySessionAndPhoto(ctx context.Context, sessionID, photoID string, now time.Time) (Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.byID {
		if k.SessionID == sessionID && k.PhotoID == photoID {
			return k, nil
		}
	}
	return Key{}, errRepoNotFound
}

func (r *testRepo) ListBySession(ctx context.Context, sessionID string) ([]Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Key, 0)
	for _, k := range r.byID {
		if k.SessionID == sessionID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (r *testRepo) ConsumeIfEligible(ctx context.Context, id string, now time.Time) (Key, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[id]
	if !ok || !k.Usable(now) {
		return Key{}, false, nil
	}
	k.CurrentUses++
	t := now
	k.LastUsedAt = &t
	r.byID[id] = k
	return k, true, nil
}

func (r *testRepo) Revoke(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[id]
	if !ok {
		return false, errRepoNotFound
	}
	changed := !k.IsRevoked
	k.IsRevoked = true
	r.byID[id] = k
	return changed, nil
}

func (r *testRepo) RevokeBySession(ctx context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, k := range r.byID {
		if k.SessionID == sessionID && !k.IsRevoked {
			k.IsRevoked = true
			r.byID[id] = k
			n++
		}
	}
	return n, nil
}

func (r *testRepo) RevokeExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, k := range r.byID {
		if !k.IsRevoked && !now.Before(k.ExpiresAt) {
			k.IsRevoked = true
			r.byID[id] = k
			n++
		}
	}
	return n, nil
}

type testTokens struct {
	mu   sync.Mutex
	live map[string]bool
}

func (s *testTokens) Put(ctx context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[jti] = true
	return nil
}

func (s *testTokens) Take(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.live[jti]
	delete(s.live, jti)
	return ok, nil
}

func (s *testTokens) Discard(ctx context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, jti)
	return nil
}

func newTestManager(t *testing.T, now time.Time) (*Manager, *testRepo) {
	t.Helper()
	w, err := NewWrapper("test-wrap-secret")
	if err != nil {
		t.Fatalf("NewWrapper: %v", err)
	}
	repo := newTestRepo()
	m, err := NewManager(repo, w, &testTokens{live: map[string]bool{}}, TokenConfig{Secret: "test-token-secret", Issuer: "medshare-test"}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.now = func() time.Time { return now }
	return m, repo
}

func mintTestKey(t *testing.T, m *Manager, expiresAt time.Time) Key {
	t.Helper()
	k, err := m.Mint(context.Background(), MintInput{
		SessionID:       "s1",
		PhotoID:         "p1",
		ProfessionalID:  "doc",
		ValidityMinutes: 5,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return k
}

// -------------------------
// Tests
// -------------------------

func TestMint_SingleUseBoundToSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	k := mintTestKey(t, m, now.Add(24*time.Hour))
	if k.MaxUses != 1 || k.CurrentUses != 0 {
		t.Fatalf("expected maxUses=1 currentUses=0, got %d/%d", k.MaxUses, k.CurrentUses)
	}
	if !k.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("expected expiresAt to follow session, got %s", k.ExpiresAt)
	}
	if k.EncryptedKey == "" || k.DerivationParams == "" {
		t.Fatalf("expected wrapped key material")
	}

	if _, err := m.Mint(context.Background(), MintInput{SessionID: "s1", PhotoID: "p1"}); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConsume_ExactlyOnceUnderConcurrency(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)
	k := mintTestKey(t, m, now.Add(time.Hour))

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Consume(context.Background(), k.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok, failed := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrKeyExhausted), errors.Is(err, ErrKeyRevoked):
			failed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || failed != n-1 {
		t.Fatalf("expected 1 success and %d failures, got %d/%d", n-1, ok, failed)
	}
}

func TestConsume_ClassifiesFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("expired", func(t *testing.T) {
		m, _ := newTestManager(t, now)
		k := mintTestKey(t, m, now.Add(-time.Minute))
		if _, err := m.Consume(ctx, k.ID); err != ErrKeyExpired {
			t.Fatalf("expected ErrKeyExpired, got %v", err)
		}
	})

	t.Run("revoked", func(t *testing.T) {
		m, _ := newTestManager(t, now)
		k := mintTestKey(t, m, now.Add(time.Hour))
		if err := m.Revoke(ctx, k.ID); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		// Idempotente
		if err := m.Revoke(ctx, k.ID); err != nil {
			t.Fatalf("second Revoke: %v", err)
		}
		if _, err := m.Consume(ctx, k.ID); err != ErrKeyRevoked {
			t.Fatalf("expected ErrKeyRevoked, got %v", err)
		}
	})

	t.Run("exhausted wins over revoked", func(t *testing.T) {
		m, _ := newTestManager(t, now)
		k := mintTestKey(t, m, now.Add(time.Hour))
		if _, err := m.Consume(ctx, k.ID); err != nil {
			t.Fatalf("first Consume: %v", err)
		}
		_ = m.Revoke(ctx, k.ID)
		if _, err := m.Consume(ctx, k.ID); err != ErrKeyExhausted {
			t.Fatalf("expected ErrKeyExhausted, got %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		m, _ := newTestManager(t, now)
		if _, err := m.Consume(ctx, "nope"); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSweepExpired_RevokesOnlyExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m, repo := newTestManager(t, now)

	old := mintTestKey(t, m, now.Add(-time.Hour))
	fresh := mintTestKey(t, m, now.Add(time.Hour))

	n, err := m.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 revoked, got %d", n)
	}
	if !repo.byID[old.ID].IsRevoked || repo.byID[fresh.ID].IsRevoked {
		t.Fatalf("unexpected revocation state")
	}

	// Segunda corrida: nada nuevo
	n, _ = m.SweepExpired(context.Background())
	if n != 0 {
		t.Fatalf("expected idempotent sweep, got %d", n)
	}
}

func TestToken_RedeemOnceAndDiscard(t *testing.T) {
	now := time.Now()
	m, _ := newTestManager(t, now)
	ctx := context.Background()

	k := mintTestKey(t, m, now.Add(time.Hour))

	if _, err := m.IssueToken(ctx, TokenInput{Key: k, ViewingEventID: "ev1", ProfessionalID: "doc", TTL: 5 * time.Minute}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unconsumed key, got %v", err)
	}

	k, err := m.Consume(ctx, k.ID)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	tok, err := m.IssueToken(ctx, TokenInput{Key: k, ViewingEventID: "ev1", ProfessionalID: "doc", TTL: 5 * time.Minute})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if !tok.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected token expiry %s", tok.ExpiresAt)
	}

	claims, err := m.ParseToken(tok.Value)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.KeyID != k.ID || claims.SessionID != "s1" || claims.PhotoID != "p1" || claims.ViewingEventID() != "ev1" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	material, err := m.Redeem(ctx, claims)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if len(material) != KeySize {
		t.Fatalf("expected %d bytes, got %d", KeySize, len(material))
	}

	if _, err := m.Redeem(ctx, claims); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid on second redeem, got %v", err)
	}

	// Token descartado al cerrar la vista
	k2, _ := m.Mint(ctx, MintInput{SessionID: "s1", PhotoID: "p2", ProfessionalID: "doc", ValidityMinutes: 5, ExpiresAt: now.Add(time.Hour)})
	k2, _ = m.Consume(ctx, k2.ID)
	tok2, err := m.IssueToken(ctx, TokenInput{Key: k2, ViewingEventID: "ev2", ProfessionalID: "doc", TTL: 5 * time.Minute})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if err := m.DiscardToken(ctx, "ev2"); err != nil {
		t.Fatalf("DiscardToken: %v", err)
	}
	claims2, err := m.ParseToken(tok2.Value)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if _, err := m.Redeem(ctx, claims2); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid after discard, got %v", err)
	}
}

func TestToken_RejectsExpiredAndForeign(t *testing.T) {
	now := time.Now()
	m, _ := newTestManager(t, now)
	ctx := context.Background()

	k := mintTestKey(t, m, now.Add(time.Hour))
	k, _ = m.Consume(ctx, k.ID)

	tok, err := m.IssueToken(ctx, TokenInput{Key: k, ViewingEventID: "ev1", ProfessionalID: "doc", TTL: time.Minute})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	m.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := m.ParseToken(tok.Value); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}

	other, _ := newTestManager(t, now)
	other.signer.secret = []byte("another-secret")
	if _, err := other.ParseToken(tok.Value); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}

func TestToken_RequiresDecryptionAudience(t *testing.T) {
	now := time.Now()
	m, _ := newTestManager(t, now)
	ctx := context.Background()

	k := mintTestKey(t, m, now.Add(time.Hour))
	k, _ = m.Consume(ctx, k.ID)

	tok, err := m.IssueToken(ctx, TokenInput{Key: k, ViewingEventID: "ev1", ProfessionalID: "doc", TTL: time.Minute})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := m.ParseToken(tok.Value)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != TokenAudience {
		t.Fatalf("expected aud %q, got %v", TokenAudience, claims.Audience)
	}

	// mismo secreto y emisor, sin aud: así se ve un bearer token
	bearer := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		KeyID: k.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "ev1",
			Subject:   "doc",
			Issuer:    "medshare-test",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	raw, err := bearer.SignedString([]byte("test-token-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseToken(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid without audience, got %v", err)
	}
}
