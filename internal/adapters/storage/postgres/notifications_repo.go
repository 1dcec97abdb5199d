package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medical-photo-sharing/internal/domain/notifications"
)

type NotificationsRepo struct {
	db *sql.DB
}

func NewNotificationsRepo(db *sql.DB) *NotificationsRepo {
	return &NotificationsRepo{db: db}
}

func (r *NotificationsRepo) Create(ctx context.Context, n notifications.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, recipient_id,
			type, title, message,
			related_session_id, related_professional_id,
			is_read, created_at, read_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		n.ID,
		n.RecipientID,
		string(n.Type),
		n.Title,
		n.Message,
		n.RelatedSessionID,
		n.RelatedProfessionalID,
		n.IsRead,
		n.CreatedAt,
		nullTime(n.ReadAt),
	)
	return err
}

func (r *NotificationsRepo) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]notifications.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, recipient_id,
			type, title, message,
			related_session_id, related_professional_id,
			is_read, created_at, read_at
		FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC
	`, recipientID, unreadOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]notifications.Notification, 0)
	for rows.Next() {
		var n notifications.Notification
		var typ string
		var readAt sql.NullTime
		if err := rows.Scan(
			&n.ID,
			&n.RecipientID,
			&typ,
			&n.Title,
			&n.Message,
			&n.RelatedSessionID,
			&n.RelatedProfessionalID,
			&n.IsRead,
			&n.CreatedAt,
			&readAt,
		); err != nil {
			return nil, err
		}
		n.Type = notifications.Type(typ)
		n.ReadAt = timePtr(readAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkAsRead devuelve false si la notificación no existe o es de otro destinatario.
// Marcar una ya leída no pisa read_at.
func (r *NotificationsRepo) MarkAsRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING id
	`, id, recipientID, at).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *NotificationsRepo) MarkAllAsRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND NOT is_read
	`, recipientID, at)
	if err != nil {
		return 0, err
	}
	return affected(res)
}
