package notifications

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, n Notification) error
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error)
	MarkAsRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error)
	MarkAllAsRead(ctx context.Context, recipientID string, at time.Time) (int, error)
}

// Deliverer entrega una notificación ya persistida (push/SSE/webhook quedan del lado del adapter).
type Deliverer interface {
	Deliver(ctx context.Context, recipientID string, n Notification) error
}

// Publisher es lo que consumen los demás módulos.
type Publisher interface {
	Publish(ctx context.Context, n Notification)
}
