package summaries

import (
	"context"
	"errors"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/domain/viewing"
	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/ports/directory"
)

var ErrInvalidInput = errors.New("invalid input")

const (
	complianceWindow = 24 * time.Hour
	autoRevokedMark  = "Automatically revoked"
)

type Sessions interface {
	GetForPatient(ctx context.Context, id, patientID string) (sharing.Session, error)
	ListByPatient(ctx context.Context, patientID string) ([]sharing.Session, error)
	ListByProfessional(ctx context.Context, professionalID string) ([]sharing.Session, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]sharing.Session, error)
}

type AccessSessions interface {
	ListBySession(ctx context.Context, sessionID string) ([]access.AccessSession, error)
}

type ViewingEvents interface {
	ListByAccessSessions(ctx context.Context, accessSessionIDs []string) ([]viewing.Event, error)
}

type Service struct {
	sessions  Sessions
	access    AccessSessions
	viewing   ViewingEvents
	directory directory.PatientDirectory
	log       logger.Logger
	now       func() time.Time
}

func NewService(sessions Sessions, accessSessions AccessSessions, events ViewingEvents, dir directory.PatientDirectory, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		sessions:  sessions,
		access:    accessSessions,
		viewing:   events,
		directory: dir,
		log:       log.With(map[string]any{"module": "summaries"}),
		now:       time.Now,
	}
}

func (s *Service) PatientSummaries(ctx context.Context, patientID string) ([]PatientSessionSummary, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrInvalidInput
	}
	items, err := s.sessions.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]PatientSessionSummary, 0, len(items))
	for _, sess := range items {
		accesses, err := s.access.ListBySession(ctx, sess.ID)
		if err != nil {
			return nil, err
		}

		var last *time.Time
		for _, a := range accesses {
			if last == nil || a.StartedAt.After(*last) {
				t := a.StartedAt
				last = &t
			}
		}

		out = append(out, PatientSessionSummary{
			Session:          sess,
			TotalAccesses:    len(accesses),
			LastAccessedAt:   last,
			RemainingViews:   remainingViews(sess, len(accesses)),
			HoursUntilExpiry: hoursUntil(sess.ExpiresAt, now),
		})
	}
	return out, nil
}

// ProfessionalAccessible lista las sesiones abiertas y vigentes del profesional.
func (s *Service) ProfessionalAccessible(ctx context.Context, professionalID string) ([]ProfessionalSessionSummary, error) {
	professionalID = strings.TrimSpace(professionalID)
	if professionalID == "" {
		return nil, ErrInvalidInput
	}
	items, err := s.sessions.ListByProfessional(ctx, professionalID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]ProfessionalSessionSummary, 0, len(items))
	for _, sess := range items {
		if sess.Status.Terminal() || !now.Before(sess.ExpiresAt) {
			continue
		}
		accesses, err := s.access.ListBySession(ctx, sess.ID)
		if err != nil {
			return nil, err
		}

		hours := hoursUntil(sess.ExpiresAt, now)
		out = append(out, ProfessionalSessionSummary{
			Session:          sess,
			CanAccess:        len(accesses) < sess.MaxTotalViews,
			RemainingViews:   remainingViews(sess, len(accesses)),
			HoursUntilExpiry: hours,
			Urgency:          UrgencyFor(hours),
			Patient:          s.anonymize(ctx, sess, now),
		})
	}
	return out, nil
}

// anonymize nunca falla: sin directorio quedan iniciales y edad desconocidas.
func (s *Service) anonymize(ctx context.Context, sess sharing.Session, now time.Time) AnonymizedPatient {
	var p directory.Patient
	if s.directory != nil {
		found, err := s.directory.GetPatient(ctx, sess.PatientID)
		if err != nil {
			if !errors.Is(err, directory.ErrPatientNotFound) {
				s.log.Warn("patient directory lookup failed", map[string]any{"session_id": sess.ID, "err": err})
			}
		} else {
			p = found
		}
	}
	return Anonymize(p, sess.CreatedAt, now)
}

// AccessLog devuelve los accesos de la sesión con sus viewing events, sólo al paciente dueño.
func (s *Service) AccessLog(ctx context.Context, sessionID, patientID string) ([]AccessLogEntry, error) {
	sess, err := s.sessions.GetForPatient(ctx, sessionID, patientID)
	if err != nil {
		return nil, err
	}
	accesses, err := s.access.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	events, err := s.viewing.ListByAccessSessions(ctx, accessIDs(accesses))
	if err != nil {
		return nil, err
	}

	byAccess := make(map[string][]viewing.Event, len(accesses))
	for _, e := range events {
		byAccess[e.AccessSessionID] = append(byAccess[e.AccessSessionID], e)
	}

	out := make([]AccessLogEntry, 0, len(accesses))
	for _, a := range accesses {
		evs := byAccess[a.ID]
		if evs == nil {
			evs = []viewing.Event{}
		}
		out = append(out, AccessLogEntry{AccessSession: a, Events: evs})
	}
	return out, nil
}

// ComplianceReport agrega las sesiones creadas en las últimas 24h.
func (s *Service) ComplianceReport(ctx context.Context) (ComplianceReport, error) {
	now := s.now()
	rep := ComplianceReport{From: now.Add(-complianceWindow), To: now}

	created, err := s.sessions.ListCreatedSince(ctx, rep.From)
	if err != nil {
		return ComplianceReport{}, err
	}
	rep.SessionsCreated = len(created)

	var totalSeconds int64
	ended := 0
	for _, sess := range created {
		if sess.Status == sharing.StatusRevokedByPatient {
			rep.RevokedSessions++
			if sess.RevokedReason != nil && strings.HasPrefix(*sess.RevokedReason, autoRevokedMark) {
				rep.AutoRevokedSessions++
			}
		}

		accesses, err := s.access.ListBySession(ctx, sess.ID)
		if err != nil {
			return ComplianceReport{}, err
		}
		if len(accesses) == 0 {
			rep.SessionsNotAccessed++
			continue
		}
		rep.SessionsAccessed++

		events, err := s.viewing.ListByAccessSessions(ctx, accessIDs(accesses))
		if err != nil {
			return ComplianceReport{}, err
		}
		rep.ViewingEvents += len(events)
		for _, e := range events {
			if e.SuspiciousActivity {
				rep.SuspiciousEvents++
			}
			if e.DurationSeconds != nil {
				totalSeconds += *e.DurationSeconds
				ended++
			}
		}
	}
	if ended > 0 {
		rep.AverageViewSeconds = float64(totalSeconds) / float64(ended)
	}

	s.log.Info("compliance report", map[string]any{
		"from":                  rep.From,
		"to":                    rep.To,
		"sessions_created":      rep.SessionsCreated,
		"sessions_accessed":     rep.SessionsAccessed,
		"sessions_not_accessed": rep.SessionsNotAccessed,
		"viewing_events":        rep.ViewingEvents,
		"average_view_seconds":  rep.AverageViewSeconds,
		"suspicious_events":     rep.SuspiciousEvents,
		"revoked_sessions":      rep.RevokedSessions,
		"auto_revoked_sessions": rep.AutoRevokedSessions,
	})
	return rep, nil
}

func remainingViews(sess sharing.Session, accesses int) int {
	if r := sess.MaxTotalViews - accesses; r > 0 {
		return r
	}
	return 0
}

func hoursUntil(t, now time.Time) int64 {
	if !t.After(now) {
		return 0
	}
	return int64(t.Sub(now) / time.Hour)
}

func accessIDs(accesses []access.AccessSession) []string {
	ids := make([]string, 0, len(accesses))
	for _, a := range accesses {
		ids = append(ids, a.ID)
	}
	return ids
}
