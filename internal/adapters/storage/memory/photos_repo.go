package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"medical-photo-sharing/internal/domain/photos"
)

var (
	ErrNotFound = errors.New("not found")
)

type photoRepo struct {
	mu   sync.RWMutex
	byID map[string]photos.Photo
}

func NewPhotoRepo() photos.Repository {
	return &photoRepo{
		byID: make(map[string]photos.Photo),
	}
}

func (r *photoRepo) Create(ctx context.Context, p photos.Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(p.ID) == "" {
		return errors.New("photo id required")
	}
	if _, exists := r.byID[p.ID]; exists {
		return errors.New("photo already exists")
	}
	r.byID[p.ID] = p
	return nil
}

func (r *photoRepo) GetByID(ctx context.Context, id string) (photos.Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return photos.Photo{}, ErrNotFound
	}
	return p, nil
}

func (r *photoRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]photos.Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]photos.Photo, 0)
	for _, p := range r.byID {
		if p.OwnerUserID == ownerUserID {
			out = append(out, p)
		}
	}

	// Orden estable por fecha de captura (solo para consistencia en dev)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CaptureDate.Before(out[j].CaptureDate)
	})

	return out, nil
}
