package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/access"
)

type AccessRepo struct {
	db *sql.DB
}

func NewAccessRepo(db *sql.DB) *AccessRepo {
	return &AccessRepo{db: db}
}

const accessColumns = `
	id, medical_session_id, professional_id,
	device_fingerprint, ip_address, user_agent,
	started_at, expires_at, ended_at, is_active`

// CreateWithinLimit bloquea la fila de la sesión de sharing para que el
// conteo y el insert no se intercalen con otro request de la misma sesión.
func (r *AccessRepo) CreateWithinLimit(ctx context.Context, a access.AccessSession, limit int) (created bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !created {
			_ = tx.Rollback()
		}
	}()

	var locked string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM medical_sharing_sessions WHERE id = $1 FOR UPDATE
	`, a.MedicalSessionID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	var count int
	if err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM access_sessions WHERE medical_session_id = $1
	`, a.MedicalSessionID).Scan(&count); err != nil {
		return false, err
	}
	if count >= limit {
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO access_sessions (`+accessColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		a.ID,
		a.MedicalSessionID,
		a.ProfessionalID,
		a.DeviceFingerprint,
		a.IPAddress,
		a.UserAgent,
		a.StartedAt,
		a.ExpiresAt,
		nullTime(a.EndedAt),
		a.IsActive,
	); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *AccessRepo) GetByID(ctx context.Context, id string) (access.AccessSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return access.AccessSession{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+accessColumns+` FROM access_sessions WHERE id = $1`, id)
	a, err := scanAccess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessSession{}, ErrNotFound
	}
	return a, err
}

func (r *AccessRepo) ListBySession(ctx context.Context, sessionID string) ([]access.AccessSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accessColumns+`
		FROM access_sessions
		WHERE medical_session_id = $1
		ORDER BY started_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]access.AccessSession, 0)
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AccessRepo) IDsBySession(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM access_sessions WHERE medical_session_id = $1 ORDER BY started_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *AccessRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM access_sessions WHERE medical_session_id = $1
	`, sessionID).Scan(&n)
	return n, err
}

func (r *AccessRepo) End(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_sessions SET is_active = FALSE, ended_at = $2 WHERE id = $1 AND is_active
	`, id, at)
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

func (r *AccessRepo) EndActiveBySession(ctx context.Context, sessionID string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_sessions SET is_active = FALSE, ended_at = $2
		WHERE medical_session_id = $1 AND is_active
	`, sessionID, at)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func (r *AccessRepo) EndExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_sessions SET is_active = FALSE, ended_at = $1
		WHERE is_active AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func scanAccess(row rowScanner) (access.AccessSession, error) {
	var a access.AccessSession
	var endedAt sql.NullTime
	if err := row.Scan(
		&a.ID,
		&a.MedicalSessionID,
		&a.ProfessionalID,
		&a.DeviceFingerprint,
		&a.IPAddress,
		&a.UserAgent,
		&a.StartedAt,
		&a.ExpiresAt,
		&endedAt,
		&a.IsActive,
	); err != nil {
		return access.AccessSession{}, err
	}
	a.EndedAt = timePtr(endedAt)
	return a, nil
}
