package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"medical-photo-sharing/internal/domain/keys"
)

// keyRepo serializa consume/revoke con el mismo mutex: el check-and-increment
// es atómico respecto de cualquier otro writer.
type keyRepo struct {
	mu   sync.Mutex
	byID map[string]keys.Key
}

func NewKeyRepo() keys.Repository {
	return &keyRepo{
		byID: make(map[string]keys.Key),
	}
}

func (r *keyRepo) Create(ctx context.Context, k keys.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(k.ID) == "" {
		return errors.New("key id required")
	}
	if _, exists := r.byID[k.ID]; exists {
		return errors.New("key already exists")
	}
	r.byID[k.ID] = k
	return nil
}

func (r *keyRepo) GetByID(ctx context.Context, id string) (keys.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.byID[id]
	if !ok {
		return keys.Key{}, ErrNotFound
	}
	return k, nil
}

func (r *keyRepo) FindBySessionAndPhoto(ctx context.Context, sessionID, photoID string, now time.Time) (keys.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best keys.Key
	found := false
	for _, k := range r.byID {
		if k.SessionID != sessionID || k.PhotoID != photoID {
			continue
		}
		if !found {
			best, found = k, true
			continue
		}
		bu, ku := best.Usable(now), k.Usable(now)
		if (ku && !bu) || (ku == bu && k.CreatedAt.After(best.CreatedAt)) {
			best = k
		}
	}
	if !found {
		return keys.Key{}, ErrNotFound
	}
	return best, nil
}

func (r *keyRepo) ListBySession(ctx context.Context, sessionID string) ([]keys.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]keys.Key, 0)
	for _, k := range r.byID {
		if k.SessionID == sessionID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *keyRepo) ConsumeIfEligible(ctx context.Context, id string, now time.Time) (keys.Key, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.byID[id]
	if !ok || !k.Usable(now) {
		return keys.Key{}, false, nil
	}
	k.CurrentUses++
	usedAt := now
	k.LastUsedAt = &usedAt
	r.byID[id] = k
	return k, true, nil
}

func (r *keyRepo) Revoke(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if k.IsRevoked {
		return false, nil
	}
	k.IsRevoked = true
	r.byID[id] = k
	return true, nil
}

func (r *keyRepo) RevokeBySession(ctx context.Context, sessionID string) (int, error) {
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

func (r *keyRepo) RevokeExpired(ctx context.Context, now time.Time) (int, error) {
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
