package photos

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errRepoNotFound = errors.New("repo: not found")

type testRepo struct {
	byID map[string]Photo
}

func (r *testRepo) Create(ctx context.Context, p Photo) error {
	r.byID[p.ID] = p
	return nil
}

func (r *testRepo) GetByID(ctx context.Context, id string) (Photo, error) {
	p, ok := r.byID[id]
	if !ok {
		return Photo{}, errRepoNotFound
	}
	return p, nil
}

func (r *testRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]Photo, error) {
	out := make([]Photo, 0)
	for _, p := range r.byID {
		if p.OwnerUserID == ownerUserID {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestRegister(t *testing.T) {
	repo := &testRepo{byID: map[string]Photo{}}
	svc := NewService(repo)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	p, err := svc.Register(context.Background(), "p1", RegisterInput{Filename: "enc-abc.bin", Angle: AngleVertex})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.ID == "" || !p.CaptureDate.Equal(now) || !p.UploadedAt.Equal(now) {
		t.Fatalf("unexpected photo: %+v", p)
	}

	if _, err := svc.Register(context.Background(), "p1", RegisterInput{Filename: "x", Angle: "TOP"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad angle, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "p1", RegisterInput{Angle: AngleBack}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty filename, got %v", err)
	}
}

func TestGetByID_HidesDeleted(t *testing.T) {
	repo := &testRepo{byID: map[string]Photo{
		"live":    {ID: "live", OwnerUserID: "p1"},
		"deleted": {ID: "deleted", OwnerUserID: "p1", IsDeleted: true},
	}}
	svc := NewService(repo)

	if _, err := svc.GetByID(context.Background(), "live"); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if _, err := svc.GetByID(context.Background(), "deleted"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted photo, got %v", err)
	}

	items, _ := svc.ListByOwner(context.Background(), "p1")
	if len(items) != 1 {
		t.Fatalf("deleted photos must not be listed, got %d", len(items))
	}
}
