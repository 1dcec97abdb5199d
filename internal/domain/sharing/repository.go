package sharing

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, s Session) error
	GetByID(ctx context.Context, id string) (Session, error)

	// Transition mueve la sesión a `to` sólo si su estado actual está en `from`.
	// Devuelve la sesión resultante y si el cambio se aplicó. Para
	// REVOKED_BY_PATIENT también fija revoked_at y revoked_reason.
	Transition(ctx context.Context, id string, from []Status, to Status, at time.Time, reason *string) (Session, bool, error)

	ListByPatient(ctx context.Context, patientID string) ([]Session, error)
	ListByProfessional(ctx context.Context, professionalID string) ([]Session, error)

	// ListExpirable: estado abierto y expires_at < now.
	ListExpirable(ctx context.Context, now time.Time) ([]Session, error)
	// ListExpiringBetween: estado abierto y from <= expires_at < to.
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]Session, error)
	ListByStatus(ctx context.Context, status Status) ([]Session, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]Session, error)
}
