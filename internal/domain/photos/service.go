package photos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("photo not found")
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

type RegisterInput struct {
	Filename    string
	Angle       Angle
	CaptureDate time.Time
}

// Register da de alta la metadata de una foto ya subida (cifrada) por el paciente.
func (s *Service) Register(ctx context.Context, ownerUserID string, in RegisterInput) (Photo, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	filename := strings.TrimSpace(in.Filename)
	if ownerUserID == "" || filename == "" {
		return Photo{}, ErrInvalidInput
	}
	if !in.Angle.Valid() {
		return Photo{}, ErrInvalidInput
	}

	now := s.now()
	capture := in.CaptureDate
	if capture.IsZero() {
		capture = now
	}

	p := Photo{
		ID:          uuid.NewString(),
		OwnerUserID: ownerUserID,
		Filename:    filename,
		Angle:       in.Angle,
		CaptureDate: capture,
		UploadedAt:  now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return Photo{}, err
	}
	return p, nil
}

// GetByID devuelve ErrNotFound también para fotos borradas.
func (s *Service) GetByID(ctx context.Context, id string) (Photo, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Photo{}, ErrNotFound
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil || p.IsDeleted {
		return Photo{}, ErrNotFound
	}
	return p, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerUserID string) ([]Photo, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return nil, ErrInvalidInput
	}
	items, err := s.repo.ListByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	out := make([]Photo, 0, len(items))
	for _, p := range items {
		if !p.IsDeleted {
			out = append(out, p)
		}
	}
	return out, nil
}
