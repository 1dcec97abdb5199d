package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"medical-photo-sharing/internal/domain/photos"
)

type PhotosRepo struct {
	db *sql.DB
}

func NewPhotosRepo(db *sql.DB) *PhotosRepo {
	return &PhotosRepo{db: db}
}

func (r *PhotosRepo) Create(ctx context.Context, p photos.Photo) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO photos (
			id, owner_user_id,
			filename, angle,
			capture_date, uploaded_at,
			is_deleted
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		p.ID,
		p.OwnerUserID,
		p.Filename,
		string(p.Angle),
		p.CaptureDate,
		p.UploadedAt,
		p.IsDeleted,
	)
	return err
}

func (r *PhotosRepo) GetByID(ctx context.Context, id string) (photos.Photo, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return photos.Photo{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, filename, angle, capture_date, uploaded_at, is_deleted
		FROM photos
		WHERE id = $1
	`, id)

	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return photos.Photo{}, ErrNotFound
	}
	return p, err
}

func (r *PhotosRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]photos.Photo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_user_id, filename, angle, capture_date, uploaded_at, is_deleted
		FROM photos
		WHERE owner_user_id = $1 AND NOT is_deleted
		ORDER BY capture_date DESC
	`, strings.TrimSpace(ownerUserID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]photos.Photo, 0)
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (photos.Photo, error) {
	var p photos.Photo
	var angle string
	if err := row.Scan(
		&p.ID,
		&p.OwnerUserID,
		&p.Filename,
		&angle,
		&p.CaptureDate,
		&p.UploadedAt,
		&p.IsDeleted,
	); err != nil {
		return photos.Photo{}, err
	}
	p.Angle = photos.Angle(angle)
	return p, nil
}
