package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/sharing"
)

type SessionsRepo struct {
	db *sql.DB
}

func NewSessionsRepo(db *sql.DB) *SessionsRepo {
	return &SessionsRepo{db: db}
}

const sessionColumns = `
	id, patient_id, professional_id,
	photo_ids, notes,
	max_total_views, max_view_duration_minutes, expires_at,
	allow_screenshots, allow_download,
	status, created_at, updated_at,
	revoked_at, revoked_reason`

func (r *SessionsRepo) Create(ctx context.Context, s sharing.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO medical_sharing_sessions (`+sessionColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		s.ID,
		s.PatientID,
		s.ProfessionalID,
		s.PhotoIDs,
		nullString(s.Notes),
		s.MaxTotalViews,
		s.MaxViewDurationMinutes,
		s.ExpiresAt,
		s.AllowScreenshots,
		s.AllowDownload,
		string(s.Status),
		s.CreatedAt,
		s.UpdatedAt,
		nullTime(s.RevokedAt),
		nullString(s.RevokedReason),
	)
	return err
}

func (r *SessionsRepo) GetByID(ctx context.Context, id string) (sharing.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return sharing.Session{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM medical_sharing_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sharing.Session{}, ErrNotFound
	}
	return s, err
}

// Transition es un UPDATE condicionado al estado actual: dos transiciones
// concurrentes desde el mismo estado no pueden aplicarse ambas.
func (r *SessionsRepo) Transition(ctx context.Context, id string, from []sharing.Status, to sharing.Status, at time.Time, reason *string) (sharing.Session, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE medical_sharing_sessions
		SET
			status = $3,
			updated_at = $4,
			revoked_at = CASE WHEN $3 = 'REVOKED_BY_PATIENT' THEN $4 ELSE revoked_at END,
			revoked_reason = CASE WHEN $3 = 'REVOKED_BY_PATIENT' THEN COALESCE($5::text, revoked_reason) ELSE revoked_reason END
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+sessionColumns,
		id,
		statusStrings(from),
		string(to),
		at,
		nullString(reason),
	)

	s, err := scanSession(row)
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return sharing.Session{}, false, err
	}

	// No aplicó: o no existe o el estado ya no estaba en `from`.
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return sharing.Session{}, false, err
	}
	return current, false, nil
}

func (r *SessionsRepo) ListByPatient(ctx context.Context, patientID string) ([]sharing.Session, error) {
	return r.list(ctx, `WHERE patient_id = $1`, patientID)
}

func (r *SessionsRepo) ListByProfessional(ctx context.Context, professionalID string) ([]sharing.Session, error) {
	return r.list(ctx, `WHERE professional_id = $1`, professionalID)
}

func (r *SessionsRepo) ListExpirable(ctx context.Context, now time.Time) ([]sharing.Session, error) {
	return r.list(ctx, `WHERE status = ANY($1) AND expires_at < $2`, statusStrings(sharing.OpenStatuses), now)
}

func (r *SessionsRepo) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]sharing.Session, error) {
	return r.list(ctx, `WHERE status = ANY($1) AND expires_at >= $2 AND expires_at < $3`,
		statusStrings(sharing.OpenStatuses), from, to)
}

func (r *SessionsRepo) ListByStatus(ctx context.Context, status sharing.Status) ([]sharing.Session, error) {
	return r.list(ctx, `WHERE status = $1`, string(status))
}

func (r *SessionsRepo) ListCreatedSince(ctx context.Context, since time.Time) ([]sharing.Session, error) {
	return r.list(ctx, `WHERE created_at >= $1`, since)
}

func (r *SessionsRepo) list(ctx context.Context, where string, args ...any) ([]sharing.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM medical_sharing_sessions
		`+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]sharing.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (sharing.Session, error) {
	var s sharing.Session
	var status string
	var notes, revokedReason sql.NullString
	var revokedAt sql.NullTime
	if err := row.Scan(
		&s.ID,
		&s.PatientID,
		&s.ProfessionalID,
		textArray(&s.PhotoIDs),
		&notes,
		&s.MaxTotalViews,
		&s.MaxViewDurationMinutes,
		&s.ExpiresAt,
		&s.AllowScreenshots,
		&s.AllowDownload,
		&status,
		&s.CreatedAt,
		&s.UpdatedAt,
		&revokedAt,
		&revokedReason,
	); err != nil {
		return sharing.Session{}, err
	}
	s.Status = sharing.Status(status)
	s.Notes = stringPtr(notes)
	s.RevokedAt = timePtr(revokedAt)
	s.RevokedReason = stringPtr(revokedReason)
	return s, nil
}

func statusStrings(in []sharing.Status) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}
