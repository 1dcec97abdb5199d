package access

import (
	"context"
	"time"
)

type Repository interface {
	// CreateWithinLimit inserta sólo si la sesión de sharing tiene menos de
	// `limit` access sessions (activos o históricos). El conteo y el insert
	// van juntos: en memoria bajo lock, en Postgres en una transacción con
	// la fila de la sesión bloqueada.
	CreateWithinLimit(ctx context.Context, a AccessSession, limit int) (bool, error)

	GetByID(ctx context.Context, id string) (AccessSession, error)
	ListBySession(ctx context.Context, sessionID string) ([]AccessSession, error)
	IDsBySession(ctx context.Context, sessionID string) ([]string, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)

	// End sólo aplica si el access session sigue activo.
	End(ctx context.Context, id string, at time.Time) (bool, error)
	EndActiveBySession(ctx context.Context, sessionID string, at time.Time) (int, error)
	EndExpired(ctx context.Context, now time.Time) (int, error)
}
