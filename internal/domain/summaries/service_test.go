package summaries

import (
	"context"
	"errors"
	"testing"
	"time"

	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/domain/viewing"
	"medical-photo-sharing/internal/ports/directory"
)

// -------------------------
// Fakes
// -------------------------

type fakeSessions struct {
	items []sharing.Session
}

func (f *fakeSessions) GetForPatient(ctx context.Context, id, patientID string) (sharing.Session, error) {
	for _, s := range f.items {
		if s.ID == id {
			if s.PatientID != patientID {
				return sharing.Session{}, sharing.ErrForbidden
			}
			return s, nil
		}
	}
	return sharing.Session{}, sharing.ErrNotFound
}

func (f *fakeSessions) ListByPatient(ctx context.Context, patientID string) ([]sharing.Session, error) {
	out := make([]sharing.Session, 0)
	for _, s := range f.items {
		if s.PatientID == patientID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessions) ListByProfessional(ctx context.Context, professionalID string) ([]sharing.Session, error) {
	out := make([]sharing.Session, 0)
	for _, s := range f.items {
		if s.ProfessionalID == professionalID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessions) ListCreatedSince(ctx context.Context, since time.Time) ([]sharing.Session, error) {
	out := make([]sharing.Session, 0)
	for _, s := range f.items {
		if !s.CreatedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeAccess map[string][]access.AccessSession

func (f fakeAccess) ListBySession(ctx context.Context, sessionID string) ([]access.AccessSession, error) {
	return f[sessionID], nil
}

type fakeEvents []viewing.Event

func (f fakeEvents) ListByAccessSessions(ctx context.Context, ids []string) ([]viewing.Event, error) {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	out := make([]viewing.Event, 0)
	for _, e := range f {
		if set[e.AccessSessionID] {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeDirectory map[string]directory.Patient

func (f fakeDirectory) GetPatient(ctx context.Context, id string) (directory.Patient, error) {
	p, ok := f[id]
	if !ok {
		return directory.Patient{}, directory.ErrPatientNotFound
	}
	return p, nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newTestService(sessions []sharing.Session, acc fakeAccess, events fakeEvents, dir fakeDirectory) *Service {
	svc := NewService(&fakeSessions{items: sessions}, acc, events, dir, nil)
	svc.now = func() time.Time { return testNow }
	return svc
}

// -------------------------
// Tests
// -------------------------

func TestUrgencyFor(t *testing.T) {
	cases := map[int64]Urgency{0: UrgencyCritical, 2: UrgencyCritical, 3: UrgencyHigh, 6: UrgencyHigh, 7: UrgencyMedium, 24: UrgencyMedium, 25: UrgencyLow}
	for hours, want := range cases {
		if got := UrgencyFor(hours); got != want {
			t.Fatalf("UrgencyFor(%d)=%s want %s", hours, got, want)
		}
	}
}

func TestAnonymize(t *testing.T) {
	dob := time.Date(1998, 6, 15, 0, 0, 0, 0, time.UTC)
	got := Anonymize(directory.Patient{FullName: "maría  josé pérez gómez", DateOfBirth: &dob}, testNow, testNow)
	if got.Initials != "M.J.P." {
		t.Fatalf("initials=%q", got.Initials)
	}
	// Cumple 28 en junio: el 1 de marzo todavía tiene 27.
	if got.AgeRange != "25-29" {
		t.Fatalf("age range=%q", got.AgeRange)
	}

	unknown := Anonymize(directory.Patient{}, testNow, testNow)
	if unknown.Initials != "N.N." || unknown.AgeRange != "unknown" {
		t.Fatalf("unexpected fallback: %+v", unknown)
	}
}

func TestAgeRange_BandsDoNotOverlap(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := map[int]string{0: "0-4", 4: "0-4", 34: "30-34", 35: "35-39", 39: "35-39", 40: "40-44"}
	for age, want := range cases {
		dob := now.AddDate(-age, 0, 0)
		if got := ageRange(&dob, now); got != want {
			t.Fatalf("age %d: got %q want %q", age, got, want)
		}
	}
}

func TestPatientSummaries(t *testing.T) {
	sess := sharing.Session{ID: "s1", PatientID: "p1", ProfessionalID: "d1", MaxTotalViews: 3, ExpiresAt: testNow.Add(5*time.Hour + 30*time.Minute), Status: sharing.StatusActive}
	expired := sharing.Session{ID: "s2", PatientID: "p1", ProfessionalID: "d1", MaxTotalViews: 1, ExpiresAt: testNow.Add(-time.Hour), Status: sharing.StatusExpired}
	acc := fakeAccess{
		"s1": {
			{ID: "a1", MedicalSessionID: "s1", StartedAt: testNow.Add(-2 * time.Hour)},
			{ID: "a2", MedicalSessionID: "s1", StartedAt: testNow.Add(-time.Hour)},
		},
		"s2": {
			{ID: "a3", MedicalSessionID: "s2", StartedAt: testNow.Add(-3 * time.Hour)},
			{ID: "a4", MedicalSessionID: "s2", StartedAt: testNow.Add(-3 * time.Hour)},
		},
	}
	svc := newTestService([]sharing.Session{sess, expired}, acc, nil, nil)

	got, err := svc.PatientSummaries(context.Background(), "p1")
	if err != nil {
		t.Fatalf("PatientSummaries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}

	s1 := got[0]
	if s1.TotalAccesses != 2 || s1.RemainingViews != 1 || s1.HoursUntilExpiry != 5 {
		t.Fatalf("unexpected s1 summary: %+v", s1)
	}
	if s1.LastAccessedAt == nil || !s1.LastAccessedAt.Equal(testNow.Add(-time.Hour)) {
		t.Fatalf("unexpected lastAccessedAt: %v", s1.LastAccessedAt)
	}

	s2 := got[1]
	if s2.RemainingViews != 0 || s2.HoursUntilExpiry != 0 {
		t.Fatalf("remaining/hours must clamp at 0: %+v", s2)
	}
}

func TestProfessionalAccessible_FiltersAndAnonymizes(t *testing.T) {
	dob := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions := []sharing.Session{
		{ID: "open", PatientID: "p1", ProfessionalID: "d1", PhotoIDs: []string{"x"}, MaxTotalViews: 2, ExpiresAt: testNow.Add(90 * time.Minute), Status: sharing.StatusPendingDoctorAccess, CreatedAt: testNow.Add(-time.Hour)},
		{ID: "revoked", PatientID: "p1", ProfessionalID: "d1", MaxTotalViews: 2, ExpiresAt: testNow.Add(time.Hour), Status: sharing.StatusRevokedByPatient},
		{ID: "stale", PatientID: "p1", ProfessionalID: "d1", MaxTotalViews: 2, ExpiresAt: testNow.Add(-time.Minute), Status: sharing.StatusActive},
		{ID: "full", PatientID: "p2", ProfessionalID: "d1", MaxTotalViews: 1, ExpiresAt: testNow.Add(48 * time.Hour), Status: sharing.StatusActive},
	}
	acc := fakeAccess{"full": {{ID: "a1", MedicalSessionID: "full"}}}
	dir := fakeDirectory{"p1": {ID: "p1", FullName: "Juan Carlos", DateOfBirth: &dob}}
	svc := newTestService(sessions, acc, nil, dir)

	got, err := svc.ProfessionalAccessible(context.Background(), "d1")
	if err != nil {
		t.Fatalf("ProfessionalAccessible: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 accessible sessions, got %d", len(got))
	}

	byID := map[string]ProfessionalSessionSummary{}
	for _, s := range got {
		byID[s.Session.ID] = s
	}

	open := byID["open"]
	if !open.CanAccess || open.RemainingViews != 2 || open.Urgency != UrgencyCritical {
		t.Fatalf("unexpected open summary: %+v", open)
	}
	if open.Patient.Initials != "J.C." || open.Patient.AgeRange != "45-49" {
		t.Fatalf("unexpected anonymized patient: %+v", open.Patient)
	}

	full := byID["full"]
	if full.CanAccess || full.RemainingViews != 0 || full.Urgency != UrgencyLow {
		t.Fatalf("unexpected full summary: %+v", full)
	}
	if full.Patient.Initials != "N.N." {
		t.Fatalf("missing directory entry must fall back, got %+v", full.Patient)
	}
}

func TestAccessLog_OwnerOnly(t *testing.T) {
	sess := sharing.Session{ID: "s1", PatientID: "p1", ProfessionalID: "d1"}
	acc := fakeAccess{"s1": {{ID: "a1", MedicalSessionID: "s1"}, {ID: "a2", MedicalSessionID: "s1"}}}
	events := fakeEvents{{ID: "e1", AccessSessionID: "a1"}, {ID: "e2", AccessSessionID: "a1"}}
	svc := newTestService([]sharing.Session{sess}, acc, events, nil)

	log, err := svc.AccessLog(context.Background(), "s1", "p1")
	if err != nil {
		t.Fatalf("AccessLog: %v", err)
	}
	if len(log) != 2 || len(log[0].Events) != 2 || len(log[1].Events) != 0 {
		t.Fatalf("unexpected access log: %+v", log)
	}

	if _, err := svc.AccessLog(context.Background(), "s1", "p2"); !errors.Is(err, sharing.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestComplianceReport(t *testing.T) {
	sessions := []sharing.Session{
		{ID: "s1", CreatedAt: testNow.Add(-time.Hour), Status: sharing.StatusActive},
		{ID: "s2", CreatedAt: testNow.Add(-2 * time.Hour), Status: sharing.StatusRevokedByPatient, RevokedReason: ptr("Automatically revoked due to suspicious activity: DOWNLOAD_ATTEMPT")},
		{ID: "s3", CreatedAt: testNow.Add(-3 * time.Hour), Status: sharing.StatusRevokedByPatient, RevokedReason: ptr("Revoked by patient")},
		{ID: "old", CreatedAt: testNow.Add(-48 * time.Hour), Status: sharing.StatusExpired},
	}
	acc := fakeAccess{
		"s1": {{ID: "a1", MedicalSessionID: "s1"}},
		"s2": {{ID: "a2", MedicalSessionID: "s2"}},
	}
	events := fakeEvents{
		{ID: "e1", AccessSessionID: "a1", DurationSeconds: ptr(int64(30))},
		{ID: "e2", AccessSessionID: "a2", DurationSeconds: ptr(int64(90)), SuspiciousActivity: true},
		{ID: "e3", AccessSessionID: "a2"},
	}
	svc := newTestService(sessions, acc, events, nil)

	rep, err := svc.ComplianceReport(context.Background())
	if err != nil {
		t.Fatalf("ComplianceReport: %v", err)
	}
	if rep.SessionsCreated != 3 || rep.SessionsAccessed != 2 || rep.SessionsNotAccessed != 1 {
		t.Fatalf("unexpected session counts: %+v", rep)
	}
	if rep.ViewingEvents != 3 || rep.SuspiciousEvents != 1 || rep.AverageViewSeconds != 60 {
		t.Fatalf("unexpected viewing stats: %+v", rep)
	}
	if rep.RevokedSessions != 2 || rep.AutoRevokedSessions != 1 {
		t.Fatalf("unexpected revocation counts: %+v", rep)
	}
}
