package postgres

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/keys"
	"medical-photo-sharing/internal/domain/sharing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requiere un Postgres desechable: TEST_DB_DSN=postgres://... go test ./...
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedSession(t *testing.T, db *sql.DB, now time.Time) sharing.Session {
	t.Helper()

	s := sharing.Session{
		ID:                     uuid.NewString(),
		PatientID:              "patient-" + uuid.NewString(),
		ProfessionalID:         "doc-" + uuid.NewString(),
		PhotoIDs:               []string{"photo-a", "photo-b"},
		MaxTotalViews:          3,
		MaxViewDurationMinutes: 5,
		ExpiresAt:              now.Add(24 * time.Hour),
		Status:                 sharing.StatusPendingDoctorAccess,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	require.NoError(t, NewSessionsRepo(db).Create(context.Background(), s))
	return s
}

func TestSessionsRepo_TransitionIsConditional(t *testing.T) {
	db := openTestDB(t)
	repo := NewSessionsRepo(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := seedSession(t, db, now)

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.PhotoIDs, got.PhotoIDs)

	reason := "changed my mind"
	revoked, applied, err := repo.Transition(ctx, s.ID, sharing.OpenStatuses, sharing.StatusRevokedByPatient, now, &reason)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, sharing.StatusRevokedByPatient, revoked.Status)
	require.NotNil(t, revoked.RevokedReason)
	assert.Equal(t, reason, *revoked.RevokedReason)

	again, applied, err := repo.Transition(ctx, s.ID, sharing.OpenStatuses, sharing.StatusExpired, now, nil)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, sharing.StatusRevokedByPatient, again.Status)

	_, _, err = repo.Transition(ctx, "missing", sharing.OpenStatuses, sharing.StatusExpired, now, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeysRepo_ConsumeIsSingleWinner(t *testing.T) {
	db := openTestDB(t)
	repo := NewKeysRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()

	s := seedSession(t, db, now)
	k := keys.Key{
		ID:               uuid.NewString(),
		SessionID:        s.ID,
		PhotoID:          "photo-a",
		ProfessionalID:   s.ProfessionalID,
		EncryptedKey:     "ciphertext",
		DerivationParams: "params",
		MaxUses:          1,
		ExpiresAt:        now.Add(time.Hour),
		CreatedAt:        now,
	}
	require.NoError(t, repo.Create(ctx, k))

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.ConsumeIfEligible(ctx, k.ID, time.Now().UTC())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	got, err := repo.GetByID(ctx, k.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUses)
	assert.NotNil(t, got.LastUsedAt)
}

func TestAccessRepo_CreateWithinLimit(t *testing.T) {
	db := openTestDB(t)
	repo := NewAccessRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()

	s := seedSession(t, db, now)

	const attempts = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CreateWithinLimit(ctx, access.AccessSession{
				ID:                uuid.NewString(),
				MedicalSessionID:  s.ID,
				ProfessionalID:    s.ProfessionalID,
				DeviceFingerprint: "fp",
				IPAddress:         "127.0.0.1",
				UserAgent:         "test",
				StartedAt:         now,
				ExpiresAt:         now.Add(5 * time.Minute),
				IsActive:          true,
			}, s.MaxTotalViews)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, s.MaxTotalViews, created)

	n, err := repo.CountBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.MaxTotalViews, n)

	ended, err := repo.EndActiveBySession(ctx, s.ID, now)
	require.NoError(t, err)
	assert.Equal(t, s.MaxTotalViews, ended)
}
