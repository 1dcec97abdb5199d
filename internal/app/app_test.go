package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medical-photo-sharing/internal/config"
	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/anomaly"
	"medical-photo-sharing/internal/domain/keys"
	"medical-photo-sharing/internal/domain/notifications"
	"medical-photo-sharing/internal/domain/photos"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/domain/viewing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	patientID = "patient-1"
	doctorID  = "doc-1"
)

// -------------------------
// Helpers
// -------------------------

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(Options{Config: config.Config{
		KeyWrapSecret: "test-wrap-secret",
		TokenSecret:   "test-token-secret",
		TokenIssuer:   "test",
	}})
	require.NoError(t, err)
	return a
}

func registerPhotos(t *testing.T, a *App, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p, err := a.Photos.Register(context.Background(), patientID, photos.RegisterInput{
			Filename:    "enc-blob",
			Angle:       photos.AngleVertex,
			CaptureDate: time.Now().Add(-time.Hour),
		})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	return ids
}

func createSession(t *testing.T, a *App, photoIDs []string, maxViews int) sharing.CreateResult {
	t.Helper()
	res, err := a.Sharing.Create(context.Background(), sharing.CreateInput{
		PatientID:              patientID,
		ProfessionalID:         doctorID,
		PhotoIDs:               photoIDs,
		MaxTotalViews:          maxViews,
		MaxViewDurationMinutes: 5,
	})
	require.NoError(t, err)
	return res
}

func device(fp string) access.DeviceInfo {
	return access.DeviceInfo{Fingerprint: fp, IPAddress: "10.0.0.1", UserAgent: "viewer/1.0"}
}

func sessionStatus(t *testing.T, a *App, id string) sharing.Status {
	t.Helper()
	s, err := a.Sharing.GetByID(context.Background(), id)
	require.NoError(t, err)
	return s.Status
}

// -------------------------
// Scenarios
// -------------------------

func TestScenario_SingleViewThenLimit(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	res := createSession(t, a, registerPhotos(t, a, 2), 1)
	assert.Equal(t, sharing.StatusPendingDoctorAccess, res.Session.Status)
	assert.Len(t, res.Keys, 2)

	got, err := a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
	require.NoError(t, err)
	assert.Len(t, got.Photos, 2)
	assert.Equal(t, sharing.StatusActive, sessionStatus(t, a, res.Session.ID))

	_, err = a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-2"))
	assert.ErrorIs(t, err, access.ErrAccessLimit)
	assert.Equal(t, sharing.StatusExhaustedAttempts, sessionStatus(t, a, res.Session.ID))
}

func TestScenario_AlreadyExpiredSession(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	now := time.Now()

	s := sharing.Session{
		ID:                     "sess-expired",
		PatientID:              patientID,
		ProfessionalID:         doctorID,
		PhotoIDs:               registerPhotos(t, a, 1),
		MaxTotalViews:          3,
		MaxViewDurationMinutes: 5,
		ExpiresAt:              now.Add(-time.Hour),
		Status:                 sharing.StatusPendingDoctorAccess,
		CreatedAt:              now.Add(-2 * time.Hour),
		UpdatedAt:              now.Add(-2 * time.Hour),
	}
	require.NoError(t, a.repos.sessions.Create(ctx, s))

	_, err := a.Access.RequestAccess(ctx, s.ID, doctorID, device("fp-1"))
	assert.ErrorIs(t, err, sharing.ErrExpired)
	assert.Equal(t, sharing.StatusExpired, sessionStatus(t, a, s.ID))
}

func TestScenario_ViewOnceThenKeyExhausted(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	ids := registerPhotos(t, a, 2)
	res := createSession(t, a, ids, 3)

	acc, err := a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
	require.NoError(t, err)

	start, err := a.Viewing.StartViewing(ctx, viewing.StartInput{
		AccessSessionID: acc.AccessSession.ID,
		PhotoID:         ids[0],
		ProfessionalID:  doctorID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, start.Token.Value)

	k, err := a.Keys.FindForPhoto(ctx, res.Session.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, k.CurrentUses)

	end, err := a.Viewing.EndViewing(ctx, viewing.EndInput{
		EventID:         start.Event.ID,
		DurationSeconds: 120,
		ProfessionalID:  doctorID,
	})
	require.NoError(t, err)
	require.NotNil(t, end.Event.DurationSeconds)
	assert.Equal(t, int64(120), *end.Event.DurationSeconds)
	assert.NotNil(t, end.Event.EndedAt)

	_, err = a.Viewing.StartViewing(ctx, viewing.StartInput{
		AccessSessionID: acc.AccessSession.ID,
		PhotoID:         ids[0],
		ProfessionalID:  doctorID,
	})
	assert.ErrorIs(t, err, keys.ErrKeyExhausted)
}

func TestScenario_SinglePhotoStaysOpenAfterLastKey(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	ids := registerPhotos(t, a, 1)
	res := createSession(t, a, ids, 3)

	acc, err := a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
	require.NoError(t, err)

	start, err := a.Viewing.StartViewing(ctx, viewing.StartInput{
		AccessSessionID: acc.AccessSession.ID,
		PhotoID:         ids[0],
		ProfessionalID:  doctorID,
	})
	require.NoError(t, err)

	_, err = a.Viewing.EndViewing(ctx, viewing.EndInput{
		EventID:         start.Event.ID,
		DurationSeconds: 120,
		ProfessionalID:  doctorID,
	})
	require.NoError(t, err)

	// la única llave está gastada pero la sesión sigue ACTIVE
	assert.Equal(t, sharing.StatusActive, sessionStatus(t, a, res.Session.ID))

	_, err = a.Viewing.StartViewing(ctx, viewing.StartInput{
		AccessSessionID: acc.AccessSession.ID,
		PhotoID:         ids[0],
		ProfessionalID:  doctorID,
	})
	assert.ErrorIs(t, err, keys.ErrKeyExhausted)

	again, err := a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
	require.NoError(t, err)
	accesses, err := a.Access.ListBySession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Len(t, accesses, 2)

	_, err = a.Viewing.StartViewing(ctx, viewing.StartInput{
		AccessSessionID: again.AccessSession.ID,
		PhotoID:         ids[0],
		ProfessionalID:  doctorID,
	})
	assert.ErrorIs(t, err, keys.ErrKeyExhausted)
}

func TestScenario_PatientRevokes(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	res := createSession(t, a, registerPhotos(t, a, 2), 3)
	_, err := a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
	require.NoError(t, err)

	revoked, err := a.Sharing.Revoke(ctx, res.Session.ID, patientID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, sharing.StatusRevokedByPatient, revoked.Status)
	require.NotNil(t, revoked.RevokedReason)
	assert.Equal(t, "changed my mind", *revoked.RevokedReason)

	ks, err := a.Keys.ListBySession(ctx, res.Session.ID)
	require.NoError(t, err)
	for _, k := range ks {
		assert.True(t, k.IsRevoked, "key %s not revoked", k.ID)
	}

	inbox, err := a.Notifications.ListForRecipient(ctx, doctorID, false)
	require.NoError(t, err)
	assert.True(t, hasType(inbox, notifications.TypeSessionRevoked), "professional not notified")
}

func TestScenario_ScreenRecordingAutoRevokes(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	ids := registerPhotos(t, a, 1)
	res := createSession(t, a, ids, 3)

	acc, err := a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
	require.NoError(t, err)
	start, err := a.Viewing.StartViewing(ctx, viewing.StartInput{
		AccessSessionID: acc.AccessSession.ID,
		PhotoID:         ids[0],
		ProfessionalID:  doctorID,
	})
	require.NoError(t, err)

	out, err := a.Anomaly.RecordActivity(ctx, start.Event.ID, doctorID, anomaly.ScreenRecordingDetected, "")
	require.NoError(t, err)
	assert.True(t, out.AutoRevokeTriggered)
	assert.Equal(t, sharing.StatusRevokedByPatient, sessionStatus(t, a, res.Session.ID))

	_, err = a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
	assert.ErrorIs(t, err, sharing.ErrBadState)
}

// -------------------------
// Properties
// -------------------------

func TestProperty_ConcurrentConsumeHasOneWinner(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	res := createSession(t, a, registerPhotos(t, a, 1), 3)
	keyID := res.Keys[0].ID

	const n = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Keys.Consume(ctx, keyID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, keys.ErrKeyExhausted), errors.Is(err, keys.ErrKeyRevoked):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, losses)
}

func TestProperty_TerminalStatesAreAbsorbing(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	res := createSession(t, a, registerPhotos(t, a, 1), 3)
	_, err := a.Sharing.Revoke(ctx, res.Session.ID, patientID, "")
	require.NoError(t, err)

	s, err := a.Sharing.Activate(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, sharing.StatusRevokedByPatient, s.Status)

	s, err = a.Sharing.MarkExhausted(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, sharing.StatusRevokedByPatient, s.Status)

	_, _, err = a.Sharing.AutoRevoke(ctx, res.Session.ID, "again")
	require.NoError(t, err)
	s, err = a.Sharing.GetByID(ctx, res.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, s.RevokedReason)
	assert.Equal(t, "Revoked by patient", *s.RevokedReason)
	assert.Equal(t, sharing.StatusRevokedByPatient, sessionStatus(t, a, res.Session.ID))
}

func TestProperty_CascadeClosesEverything(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	ids := registerPhotos(t, a, 2)
	res := createSession(t, a, ids, 3)

	acc, err := a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
	require.NoError(t, err)
	start, err := a.Viewing.StartViewing(ctx, viewing.StartInput{
		AccessSessionID: acc.AccessSession.ID,
		PhotoID:         ids[0],
		ProfessionalID:  doctorID,
	})
	require.NoError(t, err)

	_, err = a.Sharing.Revoke(ctx, res.Session.ID, patientID, "")
	require.NoError(t, err)

	ks, err := a.Keys.ListBySession(ctx, res.Session.ID)
	require.NoError(t, err)
	for _, k := range ks {
		assert.True(t, k.IsRevoked)
	}

	accesses, err := a.Access.ListBySession(ctx, res.Session.ID)
	require.NoError(t, err)
	for _, x := range accesses {
		assert.False(t, x.IsActive)
		assert.NotNil(t, x.EndedAt)
	}

	ev, err := a.Viewing.GetByID(ctx, start.Event.ID)
	require.NoError(t, err)
	require.NotNil(t, ev.EndReason)
	assert.Equal(t, viewing.EndSessionRevoked, *ev.EndReason)
}

func TestProperty_AccessCeilingUnderConcurrency(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	res := createSession(t, a, registerPhotos(t, a, 1), 3)

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
		}()
	}
	wg.Wait()

	accesses, err := a.Access.ListBySession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Len(t, accesses, 3)
	assert.Equal(t, sharing.StatusExhaustedAttempts, sessionStatus(t, a, res.Session.ID))
}

func TestProperty_AutoRevokePolicy(t *testing.T) {
	cases := []struct {
		activity anomaly.ActivityType
		revokes  bool
	}{
		{anomaly.MultipleScreenshotAttempts, true},
		{anomaly.DownloadAttempt, true},
		{anomaly.ScreenRecordingDetected, true},
		{anomaly.ScreenshotAttempt, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.activity), func(t *testing.T) {
			a := newTestApp(t)
			ctx := context.Background()

			ids := registerPhotos(t, a, 1)
			res := createSession(t, a, ids, 3)
			acc, err := a.Access.RequestAccess(ctx, res.Session.ID, doctorID, device("fp-1"))
			require.NoError(t, err)
			start, err := a.Viewing.StartViewing(ctx, viewing.StartInput{
				AccessSessionID: acc.AccessSession.ID,
				PhotoID:         ids[0],
				ProfessionalID:  doctorID,
			})
			require.NoError(t, err)

			out, err := a.Anomaly.RecordActivity(ctx, start.Event.ID, doctorID, tc.activity, "")
			require.NoError(t, err)
			assert.Equal(t, tc.revokes, out.AutoRevokeTriggered)

			want := sharing.StatusActive
			if tc.revokes {
				want = sharing.StatusRevokedByPatient
			}
			assert.Equal(t, want, sessionStatus(t, a, res.Session.ID))
		})
	}
}

func TestJobs_WiresEveryTask(t *testing.T) {
	a := newTestApp(t)

	js := a.Jobs(config.JobsConfig{
		Enabled:                 true,
		ExpireSessionsInterval:  time.Minute,
		CleanupKeysInterval:     time.Minute,
		EndAccessInterval:       time.Minute,
		ExpiryRemindersInterval: time.Minute,
		AnomalySweepInterval:    time.Minute,
		ComplianceInterval:      time.Minute,
	})
	require.Len(t, js, 6)
	for _, j := range js {
		require.NotNil(t, j.Run, j.Name)
		_, err := j.Run(context.Background())
		assert.NoError(t, err, j.Name)
	}
}

func hasType(items []notifications.Notification, typ notifications.Type) bool {
	for _, n := range items {
		if n.Type == typ {
			return true
		}
	}
	return false
}
