package photos

import "context"

type Repository interface {
	Create(ctx context.Context, p Photo) error
	GetByID(ctx context.Context, id string) (Photo, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]Photo, error)
}
