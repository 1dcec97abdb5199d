package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"medical-photo-sharing/internal/domain/access"
)

// accessRepo: el conteo y el insert de CreateWithinLimit corren bajo el mismo lock.
type accessRepo struct {
	mu   sync.RWMutex
	byID map[string]access.AccessSession
}

func NewAccessRepo() access.Repository {
	return &accessRepo{
		byID: make(map[string]access.AccessSession),
	}
}

func (r *accessRepo) CreateWithinLimit(ctx context.Context, a access.AccessSession, limit int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(a.ID) == "" {
		return false, errors.New("access session id required")
	}
	if _, exists := r.byID[a.ID]; exists {
		return false, errors.New("access session already exists")
	}
	if r.countLocked(a.MedicalSessionID) >= limit {
		return false, nil
	}
	r.byID[a.ID] = a
	return true, nil
}

func (r *accessRepo) GetByID(ctx context.Context, id string) (access.AccessSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return access.AccessSession{}, ErrNotFound
	}
	return a, nil
}

func (r *accessRepo) ListBySession(ctx context.Context, sessionID string) ([]access.AccessSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]access.AccessSession, 0)
	for _, a := range r.byID {
		if a.MedicalSessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (r *accessRepo) IDsBySession(ctx context.Context, sessionID string) ([]string, error) {
	items, err := r.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, a := range items {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (r *accessRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.countLocked(sessionID), nil
}

func (r *accessRepo) End(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if !a.IsActive {
		return false, nil
	}
	r.byID[id] = endAccess(a, at)
	return true, nil
}

func (r *accessRepo) EndActiveBySession(ctx context.Context, sessionID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, a := range r.byID {
		if a.MedicalSessionID == sessionID && a.IsActive {
			r.byID[id] = endAccess(a, at)
			n++
		}
	}
	return n, nil
}

func (r *accessRepo) EndExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, a := range r.byID {
		if a.IsActive && !now.Before(a.ExpiresAt) {
			r.byID[id] = endAccess(a, now)
			n++
		}
	}
	return n, nil
}

func (r *accessRepo) countLocked(sessionID string) int {
	n := 0
	for _, a := range r.byID {
		if a.MedicalSessionID == sessionID {
			n++
		}
	}
	return n
}

func endAccess(a access.AccessSession, at time.Time) access.AccessSession {
	endedAt := at
	a.EndedAt = &endedAt
	a.IsActive = false
	return a
}
