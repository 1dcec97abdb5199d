package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/notifications"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("access session not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAccessLimit   = errors.New("maximum access attempts exceeded")
	ErrExpiredAccess = errors.New("access session expired or ended")
)

// SessionGate es lo que este módulo necesita del state machine de sharing.
type SessionGate interface {
	ValidateAccess(ctx context.Context, sessionID, professionalID string) (sharing.Session, error)
	Activate(ctx context.Context, id string) (sharing.Session, error)
	MarkExhausted(ctx context.Context, id string) (sharing.Session, error)
}

type Service struct {
	repo     Repository
	gate     SessionGate
	photos   sharing.PhotoLookup
	notifier notifications.Publisher
	log      logger.Logger
	now      func() time.Time
}

func NewService(repo Repository, gate SessionGate, photos sharing.PhotoLookup, notifier notifications.Publisher, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		gate:     gate,
		photos:   photos,
		notifier: notifier,
		log:      log.With(map[string]any{"module": "access"}),
		now:      time.Now,
	}
}

// RequestAccess pasa el gate de la sesión, crea el access session dentro del
// límite de vistas y devuelve la metadata segura de las fotos.
func (s *Service) RequestAccess(ctx context.Context, sessionID, professionalID string, device DeviceInfo) (RequestResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	professionalID = strings.TrimSpace(professionalID)
	if sessionID == "" || professionalID == "" {
		return RequestResult{}, ErrInvalidInput
	}

	sess, err := s.gate.ValidateAccess(ctx, sessionID, professionalID)
	if err != nil {
		metrics.AccessRequests.WithLabelValues("rejected").Inc()
		return RequestResult{}, err
	}

	now := s.now()
	a := AccessSession{
		ID:                uuid.NewString(),
		MedicalSessionID:  sess.ID,
		ProfessionalID:    professionalID,
		DeviceFingerprint: strings.TrimSpace(device.Fingerprint),
		IPAddress:         strings.TrimSpace(device.IPAddress),
		UserAgent:         strings.TrimSpace(device.UserAgent),
		StartedAt:         now,
		ExpiresAt:         now.Add(time.Duration(sess.MaxViewDurationMinutes) * time.Minute),
		IsActive:          true,
	}

	created, err := s.repo.CreateWithinLimit(ctx, a, sess.MaxTotalViews)
	if err != nil {
		metrics.AccessRequests.WithLabelValues("error").Inc()
		return RequestResult{}, err
	}
	if !created {
		metrics.AccessRequests.WithLabelValues("limit").Inc()
		if _, err := s.gate.MarkExhausted(ctx, sess.ID); err != nil {
			s.log.Error("mark exhausted failed", map[string]any{"session_id": sess.ID, "err": err})
		}
		return RequestResult{}, ErrAccessLimit
	}
	metrics.AccessRequests.WithLabelValues("ok").Inc()

	if sess.Status == sharing.StatusPendingDoctorAccess {
		if _, err := s.gate.Activate(ctx, sess.ID); err != nil {
			s.log.Error("activate session failed", map[string]any{"session_id": sess.ID, "err": err})
		}
	}

	s.log.Info("doctor access granted", map[string]any{
		"session_id":        sess.ID,
		"access_session_id": a.ID,
		"professional_id":   professionalID,
	})

	if s.notifier != nil {
		s.notifier.Publish(ctx, notifications.Notification{
			RecipientID:           sess.PatientID,
			Type:                  notifications.TypeDoctorAccessed,
			Title:                 "Doctor Accessed Your Photos",
			Message:               "Your healthcare provider has accessed the photos you shared",
			RelatedSessionID:      sess.ID,
			RelatedProfessionalID: professionalID,
		})
	}

	return RequestResult{
		AccessSession:   a,
		SecureViewerURL: SecureViewerURL(a.ID),
		Photos:          s.securePhotos(ctx, sess),
		Restrictions:    sess.AccessRestrictions(),
	}, nil
}

func (s *Service) securePhotos(ctx context.Context, sess sharing.Session) []SecurePhotoInfo {
	out := make([]SecurePhotoInfo, 0, len(sess.PhotoIDs))
	for _, id := range sess.PhotoIDs {
		p, err := s.photos.GetByID(ctx, id)
		if err != nil {
			s.log.Warn("shared photo unavailable", map[string]any{"session_id": sess.ID, "photo_id": id})
			continue
		}
		out = append(out, SecurePhotoInfo{
			PhotoID:           p.ID,
			Angle:             p.Angle,
			CaptureDate:       p.CaptureDate,
			EncryptedFilename: p.Filename,
		})
	}
	return out
}

// Validate se llama antes de cualquier operación de viewing. professionalID
// vacío omite el chequeo de dueño (uso interno).
func (s *Service) Validate(ctx context.Context, accessSessionID, professionalID string) (AccessSession, error) {
	a, err := s.get(ctx, accessSessionID, professionalID)
	if err != nil {
		return AccessSession{}, err
	}

	now := s.now()
	if a.Live(now) {
		return a, nil
	}
	if a.IsActive {
		// Venció la ventana: lo cerramos antes de rechazar.
		if _, err := s.repo.End(ctx, a.ID, now); err != nil {
			s.log.Warn("lazy end failed", map[string]any{"access_session_id": a.ID, "err": err})
		}
	}
	return a, ErrExpiredAccess
}

// End es idempotente.
func (s *Service) End(ctx context.Context, accessSessionID, professionalID string) (AccessSession, error) {
	a, err := s.get(ctx, accessSessionID, professionalID)
	if err != nil {
		return AccessSession{}, err
	}
	if !a.IsActive {
		return a, nil
	}

	if _, err := s.repo.End(ctx, a.ID, s.now()); err != nil {
		return AccessSession{}, err
	}
	return s.repo.GetByID(ctx, a.ID)
}

// EndExpired cierra access sessions activos con la ventana vencida.
func (s *Service) EndExpired(ctx context.Context) (int, error) {
	n, err := s.repo.EndExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("stale access sessions ended", map[string]any{"count": n})
	}
	return n, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (AccessSession, error) {
	return s.get(ctx, id, "")
}

func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]AccessSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListBySession(ctx, sessionID)
}

func (s *Service) get(ctx context.Context, id, professionalID string) (AccessSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return AccessSession{}, ErrNotFound
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return AccessSession{}, ErrNotFound
	}
	if professionalID = strings.TrimSpace(professionalID); professionalID != "" && a.ProfessionalID != professionalID {
		return AccessSession{}, ErrForbidden
	}
	return a, nil
}
