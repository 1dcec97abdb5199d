package keys

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, k Key) error
	GetByID(ctx context.Context, id string) (Key, error)

	// FindBySessionAndPhoto prefiere una llave usable; si no hay, la más reciente.
	FindBySessionAndPhoto(ctx context.Context, sessionID, photoID string, now time.Time) (Key, error)
	ListBySession(ctx context.Context, sessionID string) ([]Key, error)

	// ConsumeIfEligible incrementa current_uses sólo si la llave no está
	// revocada, no venció y tiene usos disponibles. Debe ser atómico: con
	// N llamadas concurrentes sobre la misma llave, a lo sumo una devuelve true.
	ConsumeIfEligible(ctx context.Context, id string, now time.Time) (Key, bool, error)

	Revoke(ctx context.Context, id string) (bool, error)
	RevokeBySession(ctx context.Context, sessionID string) (int, error)
	RevokeExpired(ctx context.Context, now time.Time) (int, error)
}

// TokenStore guarda los jti vivos de los tokens de descifrado.
// Take es get-and-delete: un token se canjea una sola vez.
type TokenStore interface {
	Put(ctx context.Context, jti string, ttl time.Duration) error
	Take(ctx context.Context, jti string) (bool, error)
	Discard(ctx context.Context, jti string) error
}
