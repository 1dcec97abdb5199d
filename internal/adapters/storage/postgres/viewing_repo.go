package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/viewing"
)

type ViewingRepo struct {
	db *sql.DB
}

func NewViewingRepo(db *sql.DB) *ViewingRepo {
	return &ViewingRepo{db: db}
}

const viewingColumns = `
	id, access_session_id, photo_id,
	started_at, ended_at, duration_seconds, end_reason,
	device_fingerprint, ip_address,
	screenshot_attempts, download_attempts, suspicious_activity`

func (r *ViewingRepo) Create(ctx context.Context, e viewing.Event) error {
	var reason sql.NullString
	if e.EndReason != nil {
		reason = sql.NullString{String: string(*e.EndReason), Valid: true}
	}
	var duration sql.NullInt64
	if e.DurationSeconds != nil {
		duration = sql.NullInt64{Int64: *e.DurationSeconds, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO photo_viewing_events (`+viewingColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		e.ID,
		e.AccessSessionID,
		e.PhotoID,
		e.StartedAt,
		nullTime(e.EndedAt),
		duration,
		reason,
		e.DeviceFingerprint,
		e.IPAddress,
		e.ScreenshotAttempts,
		e.DownloadAttempts,
		e.SuspiciousActivity,
	)
	return err
}

func (r *ViewingRepo) GetByID(ctx context.Context, id string) (viewing.Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return viewing.Event{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+viewingColumns+` FROM photo_viewing_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return viewing.Event{}, ErrNotFound
	}
	return e, err
}

func (r *ViewingRepo) ListByAccessSessions(ctx context.Context, accessSessionIDs []string) ([]viewing.Event, error) {
	if len(accessSessionIDs) == 0 {
		return []viewing.Event{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+viewingColumns+`
		FROM photo_viewing_events
		WHERE access_session_id = ANY($1)
		ORDER BY started_at ASC
	`, accessSessionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]viewing.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ViewingRepo) End(ctx context.Context, id string, at time.Time, durationSeconds int64, reason viewing.EndReason) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photo_viewing_events
		SET ended_at = $2, duration_seconds = $3, end_reason = $4
		WHERE id = $1 AND ended_at IS NULL
	`, id, at, durationSeconds, string(reason))
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *ViewingRepo) CloseOpen(ctx context.Context, accessSessionIDs []string, at time.Time, reason string) (int, error) {
	if len(accessSessionIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE photo_viewing_events
		SET
			ended_at = $2::timestamptz,
			duration_seconds = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($2::timestamptz - started_at))))::bigint,
			end_reason = $3
		WHERE access_session_id = ANY($1) AND ended_at IS NULL
	`, accessSessionIDs, at, reason)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func (r *ViewingRepo) RecordSuspicious(ctx context.Context, id string, counter viewing.Counter) (viewing.Event, error) {
	var screenshots, downloads int
	switch counter {
	case viewing.CounterScreenshot:
		screenshots = 1
	case viewing.CounterDownload:
		downloads = 1
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE photo_viewing_events
		SET
			suspicious_activity = TRUE,
			screenshot_attempts = screenshot_attempts + $2,
			download_attempts = download_attempts + $3
		WHERE id = $1
		RETURNING `+viewingColumns,
		id, screenshots, downloads,
	)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return viewing.Event{}, ErrNotFound
	}
	return e, err
}

func scanEvent(row rowScanner) (viewing.Event, error) {
	var e viewing.Event
	var endedAt sql.NullTime
	var duration sql.NullInt64
	var reason sql.NullString
	if err := row.Scan(
		&e.ID,
		&e.AccessSessionID,
		&e.PhotoID,
		&e.StartedAt,
		&endedAt,
		&duration,
		&reason,
		&e.DeviceFingerprint,
		&e.IPAddress,
		&e.ScreenshotAttempts,
		&e.DownloadAttempts,
		&e.SuspiciousActivity,
	); err != nil {
		return viewing.Event{}, err
	}
	e.EndedAt = timePtr(endedAt)
	if duration.Valid {
		d := duration.Int64
		e.DurationSeconds = &d
	}
	if reason.Valid {
		rs := viewing.EndReason(reason.String)
		e.EndReason = &rs
	}
	return e, nil
}
