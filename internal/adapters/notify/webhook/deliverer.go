package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/notifications"
	"medical-photo-sharing/internal/platform/httpclient"
)

// Payload es el cuerpo que recibe el webhook.
type Payload struct {
	ID                    string    `json:"id"`
	RecipientID           string    `json:"recipient_id"`
	Type                  string    `json:"type"`
	Title                 string    `json:"title"`
	Message               string    `json:"message"`
	RelatedSessionID      string    `json:"related_session_id,omitempty"`
	RelatedProfessionalID string    `json:"related_professional_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// Deliverer hace POST de cada notificación a una URL fija.
type Deliverer struct {
	client *httpclient.Client
	url    string
}

func New(url string, client *httpclient.Client) (*Deliverer, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("webhook url required")
	}
	if client == nil {
		c, err := httpclient.New(httpclient.Options{})
		if err != nil {
			return nil, err
		}
		client = c
	}
	return &Deliverer{client: client, url: url}, nil
}

func (d *Deliverer) Deliver(ctx context.Context, recipientID string, n notifications.Notification) error {
	return d.client.DoJSON(ctx, http.MethodPost, d.url, Payload{
		ID:                    n.ID,
		RecipientID:           recipientID,
		Type:                  string(n.Type),
		Title:                 n.Title,
		Message:               n.Message,
		RelatedSessionID:      n.RelatedSessionID,
		RelatedProfessionalID: n.RelatedProfessionalID,
		CreatedAt:             n.CreatedAt,
	}, nil)
}
