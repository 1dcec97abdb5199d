package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"medical-photo-sharing/internal/domain/sharing"
)

type sessionRepo struct {
	mu   sync.RWMutex
	byID map[string]sharing.Session
}

func NewSessionRepo() sharing.Repository {
	return &sessionRepo{
		byID: make(map[string]sharing.Session),
	}
}

func (r *sessionRepo) Create(ctx context.Context, s sharing.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(s.ID) == "" {
		return errors.New("session id required")
	}
	if _, exists := r.byID[s.ID]; exists {
		return errors.New("session already exists")
	}
	r.byID[s.ID] = cloneSession(s)
	return nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (sharing.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return sharing.Session{}, ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *sessionRepo) Transition(ctx context.Context, id string, from []sharing.Status, to sharing.Status, at time.Time, reason *string) (sharing.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return sharing.Session{}, false, ErrNotFound
	}
	if !statusIn(s.Status, from) {
		return cloneSession(s), false, nil
	}

	s.Status = to
	s.UpdatedAt = at
	if to == sharing.StatusRevokedByPatient {
		revokedAt := at
		s.RevokedAt = &revokedAt
		if reason != nil {
			v := *reason
			s.RevokedReason = &v
		}
	}
	r.byID[id] = s
	return cloneSession(s), true, nil
}

func (r *sessionRepo) ListByPatient(ctx context.Context, patientID string) ([]sharing.Session, error) {
	return r.filter(func(s sharing.Session) bool { return s.PatientID == patientID }), nil
}

func (r *sessionRepo) ListByProfessional(ctx context.Context, professionalID string) ([]sharing.Session, error) {
	return r.filter(func(s sharing.Session) bool { return s.ProfessionalID == professionalID }), nil
}

func (r *sessionRepo) ListExpirable(ctx context.Context, now time.Time) ([]sharing.Session, error) {
	return r.filter(func(s sharing.Session) bool {
		return statusIn(s.Status, sharing.OpenStatuses) && s.ExpiresAt.Before(now)
	}), nil
}

func (r *sessionRepo) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]sharing.Session, error) {
	return r.filter(func(s sharing.Session) bool {
		return statusIn(s.Status, sharing.OpenStatuses) && !s.ExpiresAt.Before(from) && s.ExpiresAt.Before(to)
	}), nil
}

func (r *sessionRepo) ListByStatus(ctx context.Context, status sharing.Status) ([]sharing.Session, error) {
	return r.filter(func(s sharing.Session) bool { return s.Status == status }), nil
}

func (r *sessionRepo) ListCreatedSince(ctx context.Context, since time.Time) ([]sharing.Session, error) {
	return r.filter(func(s sharing.Session) bool { return !s.CreatedAt.Before(since) }), nil
}

// filter devuelve copias ordenadas por created_at desc.
func (r *sessionRepo) filter(keep func(sharing.Session) bool) []sharing.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]sharing.Session, 0)
	for _, s := range r.byID {
		if keep(s) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func statusIn(s sharing.Status, set []sharing.Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// cloneSession evita compartir el slice de fotos con el caller.
func cloneSession(s sharing.Session) sharing.Session {
	s.PhotoIDs = append([]string(nil), s.PhotoIDs...)
	return s
}
