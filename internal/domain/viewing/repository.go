package viewing

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, e Event) error
	GetByID(ctx context.Context, id string) (Event, error)
	ListByAccessSessions(ctx context.Context, accessSessionIDs []string) ([]Event, error)

	// End fija ended_at/duration/reason sólo si el evento sigue abierto.
	End(ctx context.Context, id string, at time.Time, durationSeconds int64, reason EndReason) (bool, error)

	// CloseOpen cierra los eventos abiertos de esos access sessions; la
	// duración se calcula desde started_at.
	CloseOpen(ctx context.Context, accessSessionIDs []string, at time.Time, reason string) (int, error)

	// RecordSuspicious marca el evento e incrementa el contador indicado en un único update.
	RecordSuspicious(ctx context.Context, id string, counter Counter) (Event, error)
}
