package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/keys"
)

type KeysRepo struct {
	db *sql.DB
}

func NewKeysRepo(db *sql.DB) *KeysRepo {
	return &KeysRepo{db: db}
}

const keyColumns = `
	id, session_id, photo_id, professional_id,
	encrypted_key, derivation_params,
	max_uses, current_uses,
	expires_at, is_revoked, created_at, last_used_at`

func (r *KeysRepo) Create(ctx context.Context, k keys.Key) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ephemeral_keys (`+keyColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		k.ID,
		k.SessionID,
		k.PhotoID,
		k.ProfessionalID,
		k.EncryptedKey,
		k.DerivationParams,
		k.MaxUses,
		k.CurrentUses,
		k.ExpiresAt,
		k.IsRevoked,
		k.CreatedAt,
		nullTime(k.LastUsedAt),
	)
	return err
}

func (r *KeysRepo) GetByID(ctx context.Context, id string) (keys.Key, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return keys.Key{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM ephemeral_keys WHERE id = $1`, id)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return keys.Key{}, ErrNotFound
	}
	return k, err
}

func (r *KeysRepo) FindBySessionAndPhoto(ctx context.Context, sessionID, photoID string, now time.Time) (keys.Key, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+`
		FROM ephemeral_keys
		WHERE session_id = $1 AND photo_id = $2
		ORDER BY
			(NOT is_revoked AND current_uses < max_uses AND expires_at > $3) DESC,
			created_at DESC
		LIMIT 1
	`, sessionID, photoID, now)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return keys.Key{}, ErrNotFound
	}
	return k, err
}

func (r *KeysRepo) ListBySession(ctx context.Context, sessionID string) ([]keys.Key, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+keyColumns+`
		FROM ephemeral_keys
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]keys.Key, 0)
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// ConsumeIfEligible: la condición de uso va en el WHERE, así que la fila
// sólo se actualiza si sigue siendo usable al momento del UPDATE.
func (r *KeysRepo) ConsumeIfEligible(ctx context.Context, id string, now time.Time) (keys.Key, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE ephemeral_keys
		SET current_uses = current_uses + 1, last_used_at = $2
		WHERE id = $1
			AND NOT is_revoked
			AND current_uses < max_uses
			AND expires_at > $2
		RETURNING `+keyColumns,
		id, now,
	)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return keys.Key{}, false, nil
	}
	if err != nil {
		return keys.Key{}, false, err
	}
	return k, true, nil
}

func (r *KeysRepo) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ephemeral_keys SET is_revoked = TRUE WHERE id = $1 AND NOT is_revoked
	`, id)
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

func (r *KeysRepo) RevokeBySession(ctx context.Context, sessionID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ephemeral_keys SET is_revoked = TRUE WHERE session_id = $1 AND NOT is_revoked
	`, sessionID)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func (r *KeysRepo) RevokeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ephemeral_keys SET is_revoked = TRUE WHERE NOT is_revoked AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func scanKey(row rowScanner) (keys.Key, error) {
	var k keys.Key
	var lastUsed sql.NullTime
	if err := row.Scan(
		&k.ID,
		&k.SessionID,
		&k.PhotoID,
		&k.ProfessionalID,
		&k.EncryptedKey,
		&k.DerivationParams,
		&k.MaxUses,
		&k.CurrentUses,
		&k.ExpiresAt,
		&k.IsRevoked,
		&k.CreatedAt,
		&lastUsed,
	); err != nil {
		return keys.Key{}, err
	}
	k.LastUsedAt = timePtr(lastUsed)
	return k, nil
}
