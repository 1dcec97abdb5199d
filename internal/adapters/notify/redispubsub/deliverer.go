package redispubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medical-photo-sharing/internal/domain/notifications"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "notifications:"

// Channel es el canal al que se suscribe el cliente del destinatario.
func Channel(recipientID string) string {
	return channelPrefix + recipientID
}

type message struct {
	ID                    string    `json:"id"`
	Type                  string    `json:"type"`
	Title                 string    `json:"title"`
	Message               string    `json:"message"`
	RelatedSessionID      string    `json:"related_session_id,omitempty"`
	RelatedProfessionalID string    `json:"related_professional_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// Deliverer publica cada notificación en notifications:<recipient>.
type Deliverer struct {
	client *redis.Client
}

func New(client *redis.Client) *Deliverer {
	return &Deliverer{client: client}
}

func (d *Deliverer) Deliver(ctx context.Context, recipientID string, n notifications.Notification) error {
	data, err := json.Marshal(message{
		ID:                    n.ID,
		Type:                  string(n.Type),
		Title:                 n.Title,
		Message:               n.Message,
		RelatedSessionID:      n.RelatedSessionID,
		RelatedProfessionalID: n.RelatedProfessionalID,
		CreatedAt:             n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return d.client.Publish(ctx, Channel(recipientID), data).Err()
}
