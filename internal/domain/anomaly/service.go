package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/notifications"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/domain/viewing"
	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/platform/metrics"
)

var ErrInvalidInput = errors.New("invalid input")

const autoRevokePrefix = "Automatically revoked due to suspicious activity: "

type Events interface {
	EventContext(ctx context.Context, eventID, professionalID string) (viewing.Event, access.AccessSession, error)
	RecordSuspicious(ctx context.Context, eventID string, counter viewing.Counter) (viewing.Event, error)
	CloseWithReason(ctx context.Context, e viewing.Event, reason viewing.EndReason) (bool, error)
}

type Sessions interface {
	GetByID(ctx context.Context, id string) (sharing.Session, error)
	AutoRevoke(ctx context.Context, id, reason string) (sharing.Session, bool, error)
	ListByStatus(ctx context.Context, status sharing.Status) ([]sharing.Session, error)
}

type AccessLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]access.AccessSession, error)
}

type Service struct {
	events   Events
	sessions Sessions
	access   AccessLister
	notifier notifications.Publisher
	log      logger.Logger
}

func NewService(events Events, sessions Sessions, accessLister AccessLister, notifier notifications.Publisher, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		events:   events,
		sessions: sessions,
		access:   accessLister,
		notifier: notifier,
		log:      log.With(map[string]any{"module": "anomaly"}),
	}
}

// RecordActivity marca el evento, avisa al paciente y, si el tipo está en la
// tabla, cierra el evento y revoca la sesión en cascada.
func (s *Service) RecordActivity(ctx context.Context, eventID, professionalID string, activity ActivityType, details string) (Result, error) {
	if !activity.Valid() {
		return Result{}, fmt.Errorf("%w: activity type %q", ErrInvalidInput, activity)
	}

	e, a, err := s.events.EventContext(ctx, eventID, professionalID)
	if err != nil {
		return Result{}, err
	}

	e, err = s.events.RecordSuspicious(ctx, e.ID, activity.counter())
	if err != nil {
		return Result{}, err
	}

	log := s.log.With(map[string]any{
		"viewing_event_id":  e.ID,
		"access_session_id": a.ID,
		"session_id":        a.MedicalSessionID,
		"activity":          string(activity),
	})
	log.Warn("suspicious activity recorded", map[string]any{"details": strings.TrimSpace(details)})

	sess, err := s.sessions.GetByID(ctx, a.MedicalSessionID)
	if err != nil {
		return Result{}, err
	}

	if s.notifier != nil {
		s.notifier.Publish(ctx, notifications.Notification{
			RecipientID:           sess.PatientID,
			Type:                  notifications.TypeSuspiciousActivity,
			Title:                 "Suspicious Activity Detected",
			Message:               "Unusual activity detected during photo viewing: " + string(activity),
			RelatedSessionID:      sess.ID,
			RelatedProfessionalID: a.ProfessionalID,
		})
	}

	out := Result{Recorded: true, ActivityType: activity}
	if !activity.TriggersAutoRevoke() {
		return out, nil
	}

	if _, err := s.events.CloseWithReason(ctx, e, viewing.EndSuspiciousActivity); err != nil {
		log.Error("close suspicious event failed", map[string]any{"err": err})
	}

	_, applied, err := s.sessions.AutoRevoke(ctx, sess.ID, autoRevokePrefix+string(activity))
	if err != nil {
		return out, err
	}
	if applied {
		metrics.AutoRevocations.WithLabelValues(string(activity)).Inc()
		log.Warn("session auto-revoked", nil)
	}
	out.AutoRevokeTriggered = true
	return out, nil
}

// Sweep marca sesiones ACTIVE con accesos desde más de un fingerprint.
// No revoca: sólo avisa al paciente.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	active, err := s.sessions.ListByStatus(ctx, sharing.StatusActive)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, sess := range active {
		accesses, err := s.access.ListBySession(ctx, sess.ID)
		if err != nil {
			s.log.Warn("list access sessions failed", map[string]any{"session_id": sess.ID, "err": err})
			continue
		}
		devices := distinctFingerprints(accesses)
		if len(devices) < 2 {
			continue
		}
		flagged++

		s.log.Warn("multiple devices detected", map[string]any{
			"session_id": sess.ID,
			"activity":   string(MultipleDeviceAccess),
			"devices":    len(devices),
		})
		if s.notifier != nil {
			s.notifier.Publish(ctx, notifications.Notification{
				RecipientID:           sess.PatientID,
				Type:                  notifications.TypeSuspiciousActivity,
				Title:                 "Suspicious Activity Detected",
				Message:               fmt.Sprintf("Your shared photos were accessed from %d different devices", len(devices)),
				RelatedSessionID:      sess.ID,
				RelatedProfessionalID: sess.ProfessionalID,
			})
		}
	}
	return flagged, nil
}

func distinctFingerprints(accesses []access.AccessSession) []string {
	seen := make(map[string]struct{})
	for _, a := range accesses {
		if fp := strings.TrimSpace(a.DeviceFingerprint); fp != "" {
			seen[fp] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for fp := range seen {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}
