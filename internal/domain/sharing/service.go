package sharing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/keys"
	"medical-photo-sharing/internal/domain/notifications"
	"medical-photo-sharing/internal/domain/photos"
	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("sharing session not found")
	ErrOwnership    = errors.New("photo not owned by patient")
	ErrForbidden    = errors.New("forbidden")
	ErrBadState     = errors.New("invalid session state")
	ErrExpired      = errors.New("sharing session expired")
)

const (
	DefaultDurationHours          = 24
	DefaultMaxTotalViews          = 3
	DefaultMaxViewDurationMinutes = 5

	// Motivos con los que el cascade cierra viewing events abiertos.
	closeReasonRevoked = "SESSION_REVOKED"
	closeReasonExpired = "TIME_EXPIRED"

	defaultRevokeReason = "Revoked by patient"
	reminderWindow      = 24 * time.Hour
)

// PhotoLookup es la metadata de fotos (capa CRUD externa).
type PhotoLookup interface {
	GetByID(ctx context.Context, id string) (photos.Photo, error)
}

type KeyIssuer interface {
	Mint(ctx context.Context, in keys.MintInput) (keys.Key, error)
	RevokeAllForSession(ctx context.Context, sessionID string) (int, error)
}

// AccessCloser lo implementa el repo de access sessions (evita el ciclo access -> sharing).
type AccessCloser interface {
	EndActiveBySession(ctx context.Context, sessionID string, at time.Time) (int, error)
	IDsBySession(ctx context.Context, sessionID string) ([]string, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// ViewingCloser lo implementa el repo de viewing events.
type ViewingCloser interface {
	CloseOpen(ctx context.Context, accessSessionIDs []string, at time.Time, reason string) (int, error)
}

type Deps struct {
	Repo     Repository
	Photos   PhotoLookup
	Keys     KeyIssuer
	Access   AccessCloser
	Viewing  ViewingCloser
	Notifier notifications.Publisher
	Log      logger.Logger
}

type Service struct {
	repo     Repository
	photos   PhotoLookup
	keys     KeyIssuer
	access   AccessCloser
	viewing  ViewingCloser
	notifier notifications.Publisher
	log      logger.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     d.Repo,
		photos:   d.Photos,
		keys:     d.Keys,
		access:   d.Access,
		viewing:  d.Viewing,
		notifier: d.Notifier,
		log:      log.With(map[string]any{"module": "sharing"}),
		now:      time.Now,
	}
}

type CreateInput struct {
	PatientID      string
	ProfessionalID string
	PhotoIDs       []string
	Notes          *string

	// Cero => default. Negativo => ErrInvalidInput.
	DurationHours          int
	MaxTotalViews          int
	MaxViewDurationMinutes int

	AllowScreenshots bool
	AllowDownload    bool
}

type CreateResult struct {
	Session         Session
	Keys            []keys.Key
	SecureAccessURL string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	patientID := strings.TrimSpace(in.PatientID)
	professionalID := strings.TrimSpace(in.ProfessionalID)
	if patientID == "" || professionalID == "" || patientID == professionalID {
		return CreateResult{}, ErrInvalidInput
	}

	photoIDs, err := normalizePhotoIDs(in.PhotoIDs)
	if err != nil {
		return CreateResult{}, err
	}

	duration, err := positiveOrDefault(in.DurationHours, DefaultDurationHours)
	if err != nil {
		return CreateResult{}, err
	}
	maxViews, err := positiveOrDefault(in.MaxTotalViews, DefaultMaxTotalViews)
	if err != nil {
		return CreateResult{}, err
	}
	maxMinutes, err := positiveOrDefault(in.MaxViewDurationMinutes, DefaultMaxViewDurationMinutes)
	if err != nil {
		return CreateResult{}, err
	}

	// Todas las fotos deben existir y ser del paciente. Una foto inexistente
	// se reporta igual que una ajena para no filtrar ids.
	for _, id := range photoIDs {
		p, err := s.photos.GetByID(ctx, id)
		if err != nil || p.OwnerUserID != patientID {
			return CreateResult{}, fmt.Errorf("%w: %s", ErrOwnership, id)
		}
	}

	var notes *string
	if in.Notes != nil {
		if v := strings.TrimSpace(*in.Notes); v != "" {
			notes = &v
		}
	}

	now := s.now()
	sess := Session{
		ID:                     uuid.NewString(),
		PatientID:              patientID,
		ProfessionalID:         professionalID,
		PhotoIDs:               photoIDs,
		Notes:                  notes,
		MaxTotalViews:          maxViews,
		MaxViewDurationMinutes: maxMinutes,
		ExpiresAt:              now.Add(time.Duration(duration) * time.Hour),
		AllowScreenshots:       in.AllowScreenshots,
		AllowDownload:          in.AllowDownload,
		Status:                 StatusPendingDoctorAccess,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return CreateResult{}, err
	}

	minted := make([]keys.Key, 0, len(photoIDs))
	for _, photoID := range photoIDs {
		k, err := s.keys.Mint(ctx, keys.MintInput{
			SessionID:       sess.ID,
			PhotoID:         photoID,
			ProfessionalID:  professionalID,
			ValidityMinutes: maxMinutes,
			ExpiresAt:       sess.ExpiresAt,
		})
		if err != nil {
			// Sin llaves la sesión no sirve: se cierra para que no quede a medias.
			reason := "key minting failed"
			if _, _, terr := s.repo.Transition(context.WithoutCancel(ctx), sess.ID, OpenStatuses, StatusRevokedByPatient, now, &reason); terr != nil {
				s.log.Error("rollback transition failed", map[string]any{"session_id": sess.ID, "err": terr})
			}
			s.cascade(context.WithoutCancel(ctx), sess.ID, closeReasonRevoked)
			return CreateResult{}, fmt.Errorf("mint key for photo %s: %w", photoID, err)
		}
		minted = append(minted, k)
	}

	metrics.SessionTransitions.WithLabelValues(string(StatusPendingDoctorAccess)).Inc()
	s.log.Info("sharing session created", map[string]any{
		"session_id":      sess.ID,
		"patient_id":      patientID,
		"professional_id": professionalID,
		"photos":          len(photoIDs),
	})

	s.notify(ctx, notifications.Notification{
		RecipientID:      professionalID,
		Type:             notifications.TypeSharingCreated,
		Title:            "New Medical Photos Shared",
		Message:          "A patient has shared medical photos with you for review",
		RelatedSessionID: sess.ID,
	})

	return CreateResult{
		Session:         sess,
		Keys:            minted,
		SecureAccessURL: SecureAccessURL(sess.ID),
	}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Session{}, ErrNotFound
	}
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// GetForPatient es GetByID + chequeo de dueño.
func (s *Service) GetForPatient(ctx context.Context, id, patientID string) (Session, error) {
	sess, err := s.GetByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.PatientID != strings.TrimSpace(patientID) {
		return Session{}, ErrForbidden
	}
	return sess, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]Session, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) ListByProfessional(ctx context.Context, professionalID string) ([]Session, error) {
	professionalID = strings.TrimSpace(professionalID)
	if professionalID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByProfessional(ctx, professionalID)
}

func (s *Service) ListCreatedSince(ctx context.Context, since time.Time) ([]Session, error) {
	return s.repo.ListCreatedSince(ctx, since)
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Session, error) {
	if !status.Valid() {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByStatus(ctx, status)
}

// ValidateAccess es el gate que consulta el tracker de accesos antes de
// crear un access session. Si la sesión venció la expira antes de rechazar.
func (s *Service) ValidateAccess(ctx context.Context, sessionID, professionalID string) (Session, error) {
	sess, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.ProfessionalID != strings.TrimSpace(professionalID) {
		return Session{}, ErrForbidden
	}

	switch sess.Status {
	case StatusRevokedByPatient, StatusExpired, StatusCompleted:
		return sess, fmt.Errorf("%w: %s", ErrBadState, sess.Status)
	}

	if sess.ExpiresAt.Before(s.now()) {
		if _, _, err := s.ExpireIfDue(ctx, sess); err != nil {
			s.log.Warn("lazy expire failed", map[string]any{"session_id": sess.ID, "err": err})
		}
		return sess, ErrExpired
	}
	return sess, nil
}

// Activate aplica PENDING -> ACTIVE en el primer acceso. No-op en otro estado.
func (s *Service) Activate(ctx context.Context, id string) (Session, error) {
	sess, applied, err := s.repo.Transition(ctx, id, []Status{StatusPendingDoctorAccess}, StatusActive, s.now(), nil)
	if err != nil {
		return Session{}, err
	}
	if applied {
		metrics.SessionTransitions.WithLabelValues(string(StatusActive)).Inc()
	}
	return sess, nil
}

// MarkExhausted se dispara cuando un request supera maxTotalViews.
func (s *Service) MarkExhausted(ctx context.Context, id string) (Session, error) {
	sess, applied, err := s.repo.Transition(ctx, id, OpenStatuses, StatusExhaustedAttempts, s.now(), nil)
	if err != nil {
		return Session{}, err
	}
	if applied {
		metrics.SessionTransitions.WithLabelValues(string(StatusExhaustedAttempts)).Inc()
		s.log.Info("sharing session exhausted", map[string]any{"session_id": id})
	}
	return sess, nil
}

// Revoke (paciente). Sobre una sesión ya terminal es un no-op exitoso.
func (s *Service) Revoke(ctx context.Context, id, patientID, reason string) (Session, error) {
	sess, err := s.GetByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.PatientID != strings.TrimSpace(patientID) {
		return Session{}, ErrForbidden
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultRevokeReason
	}

	out, _, err := s.revoke(ctx, sess, reason, "The patient has revoked access to their shared photos")
	return out, err
}

// AutoRevoke es la variante de la policy de anomalías: sin chequeo de dueño.
func (s *Service) AutoRevoke(ctx context.Context, id, reason string) (Session, bool, error) {
	sess, err := s.GetByID(ctx, id)
	if err != nil {
		return Session{}, false, err
	}
	return s.revoke(ctx, sess, reason, "Access to the shared photos was revoked automatically: "+reason)
}

// revoke aplica la transición; message es el texto que recibe el profesional.
func (s *Service) revoke(ctx context.Context, sess Session, reason, message string) (Session, bool, error) {
	updated, applied, err := s.repo.Transition(ctx, sess.ID, OpenStatuses, StatusRevokedByPatient, s.now(), &reason)
	if err != nil {
		return Session{}, false, err
	}
	if !applied {
		// Re-ejecutar el cascade es idempotente y repara un cascade previo incompleto.
		if updated.Status == StatusRevokedByPatient {
			s.cascade(ctx, sess.ID, closeReasonRevoked)
		}
		return updated, false, nil
	}

	metrics.SessionTransitions.WithLabelValues(string(StatusRevokedByPatient)).Inc()
	s.cascade(ctx, sess.ID, closeReasonRevoked)
	s.log.Info("sharing session revoked", map[string]any{"session_id": sess.ID, "reason": reason})

	s.notify(ctx, notifications.Notification{
		RecipientID:      sess.ProfessionalID,
		Type:             notifications.TypeSessionRevoked,
		Title:            "Medical Sharing Session Revoked",
		Message:          message,
		RelatedSessionID: sess.ID,
	})
	return updated, true, nil
}

// ExpireIfDue expira una sesión abierta cuyo expiresAt ya pasó.
func (s *Service) ExpireIfDue(ctx context.Context, sess Session) (Session, bool, error) {
	if sess.Status.Terminal() || !sess.ExpiresAt.Before(s.now()) {
		return sess, false, nil
	}

	updated, applied, err := s.repo.Transition(ctx, sess.ID, OpenStatuses, StatusExpired, s.now(), nil)
	if err != nil {
		return Session{}, false, err
	}
	if !applied {
		return updated, false, nil
	}

	metrics.SessionTransitions.WithLabelValues(string(StatusExpired)).Inc()
	s.cascade(ctx, sess.ID, closeReasonExpired)

	s.notify(ctx, notifications.Notification{
		RecipientID:           sess.PatientID,
		Type:                  notifications.TypeSessionExpired,
		Title:                 "Medical Sharing Session Expired",
		Message:               "Your shared medical photos have expired and are no longer accessible",
		RelatedSessionID:      sess.ID,
		RelatedProfessionalID: sess.ProfessionalID,
	})
	s.notify(ctx, notifications.Notification{
		RecipientID:      sess.ProfessionalID,
		Type:             notifications.TypeSessionExpired,
		Title:            "Patient Photo Access Expired",
		Message:          "Access to patient shared photos has expired",
		RelatedSessionID: sess.ID,
	})
	return updated, true, nil
}

// ExpireOverdue es el sweep periódico. Un error por sesión se loguea y el
// batch sigue.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	due, err := s.repo.ListExpirable(ctx, s.now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sess := range due {
		_, applied, err := s.ExpireIfDue(ctx, sess)
		if err != nil {
			s.log.Error("expire session failed", map[string]any{"session_id": sess.ID, "err": err})
			continue
		}
		if applied {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info("sharing sessions expired", map[string]any{"count": expired})
	}
	return expired, nil
}

// SendExpiryReminders avisa de sesiones que vencen en las próximas 24h.
// Al profesional sólo si todavía no accedió.
func (s *Service) SendExpiryReminders(ctx context.Context) (int, error) {
	now := s.now()
	soon, err := s.repo.ListExpiringBetween(ctx, now, now.Add(reminderWindow))
	if err != nil {
		return 0, err
	}

	for _, sess := range soon {
		hours := int64(sess.ExpiresAt.Sub(now) / time.Hour)

		s.notify(ctx, notifications.Notification{
			RecipientID:           sess.PatientID,
			Type:                  notifications.TypeSessionExpired,
			Title:                 "Medical Sharing Expiring Soon",
			Message:               fmt.Sprintf("Your shared photos will expire in %d hours", hours),
			RelatedSessionID:      sess.ID,
			RelatedProfessionalID: sess.ProfessionalID,
		})

		count, err := s.access.CountBySession(ctx, sess.ID)
		if err != nil {
			s.log.Warn("count access sessions failed", map[string]any{"session_id": sess.ID, "err": err})
			continue
		}
		if count == 0 {
			s.notify(ctx, notifications.Notification{
				RecipientID:      sess.ProfessionalID,
				Type:             notifications.TypeSessionExpired,
				Title:            "Patient Photos Expiring Soon",
				Message:          fmt.Sprintf("Patient shared photos expire in %d hours - review needed", hours),
				RelatedSessionID: sess.ID,
			})
		}
	}
	return len(soon), nil
}

// cascade revoca llaves, termina access sessions activos y cierra viewing
// events abiertos. Cada paso es idempotente; los errores se loguean.
func (s *Service) cascade(ctx context.Context, sessionID, viewingReason string) {
	now := s.now()
	log := s.log.With(map[string]any{"session_id": sessionID})

	if s.keys != nil {
		if _, err := s.keys.RevokeAllForSession(ctx, sessionID); err != nil {
			log.Error("cascade: revoke keys failed", map[string]any{"err": err})
		}
	}
	if s.access == nil {
		return
	}
	if _, err := s.access.EndActiveBySession(ctx, sessionID, now); err != nil {
		log.Error("cascade: end access sessions failed", map[string]any{"err": err})
	}
	if s.viewing == nil {
		return
	}
	ids, err := s.access.IDsBySession(ctx, sessionID)
	if err != nil {
		log.Error("cascade: list access sessions failed", map[string]any{"err": err})
		return
	}
	if len(ids) == 0 {
		return
	}
	if _, err := s.viewing.CloseOpen(ctx, ids, now, viewingReason); err != nil {
		log.Error("cascade: close viewing events failed", map[string]any{"err": err})
	}
}

func (s *Service) notify(ctx context.Context, n notifications.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, n)
}

func normalizePhotoIDs(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, ErrInvalidInput
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, ErrInvalidInput
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicated photo %s", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func positiveOrDefault(v, def int) (int, error) {
	switch {
	case v == 0:
		return def, nil
	case v < 0:
		return 0, ErrInvalidInput
	default:
		return v, nil
	}
}
