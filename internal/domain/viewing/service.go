package viewing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/keys"
	"medical-photo-sharing/internal/domain/notifications"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/platform/logger"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("viewing event not found")
	ErrForbidden    = errors.New("forbidden")
)

type AccessSessions interface {
	Validate(ctx context.Context, accessSessionID, professionalID string) (access.AccessSession, error)
	GetByID(ctx context.Context, id string) (access.AccessSession, error)
}

type Sessions interface {
	GetByID(ctx context.Context, id string) (sharing.Session, error)
	ExpireIfDue(ctx context.Context, s sharing.Session) (sharing.Session, bool, error)
}

type KeyManager interface {
	FindForPhoto(ctx context.Context, sessionID, photoID string) (keys.Key, error)
	Consume(ctx context.Context, keyID string) (keys.Key, error)
	IssueToken(ctx context.Context, in keys.TokenInput) (keys.Token, error)
	ParseToken(raw string) (keys.TokenClaims, error)
	Redeem(ctx context.Context, claims keys.TokenClaims) ([]byte, error)
	DiscardToken(ctx context.Context, viewingEventID string) error
}

type Service struct {
	repo     Repository
	access   AccessSessions
	sessions Sessions
	keys     KeyManager
	notifier notifications.Publisher
	log      logger.Logger
	now      func() time.Time
}

func NewService(repo Repository, accessSvc AccessSessions, sessions Sessions, km KeyManager, notifier notifications.Publisher, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		access:   accessSvc,
		sessions: sessions,
		keys:     km,
		notifier: notifier,
		log:      log.With(map[string]any{"module": "viewing"}),
		now:      time.Now,
	}
}

type StartInput struct {
	AccessSessionID string
	PhotoID         string
	ProfessionalID  string
	Device          access.DeviceInfo
}

// StartViewing consume la llave de la foto y emite el token de descifrado.
// No re-emite llaves: una foto con la llave agotada no puede volver a verse.
func (s *Service) StartViewing(ctx context.Context, in StartInput) (StartResult, error) {
	photoID := strings.TrimSpace(in.PhotoID)
	if strings.TrimSpace(in.AccessSessionID) == "" || photoID == "" {
		return StartResult{}, ErrInvalidInput
	}

	a, err := s.access.Validate(ctx, in.AccessSessionID, in.ProfessionalID)
	if err != nil {
		return StartResult{}, err
	}

	sess, err := s.sessions.GetByID(ctx, a.MedicalSessionID)
	if err != nil {
		return StartResult{}, err
	}
	if !sess.HasPhoto(photoID) {
		return StartResult{}, fmt.Errorf("%w: photo not in session", ErrNotFound)
	}

	k, err := s.keys.FindForPhoto(ctx, sess.ID, photoID)
	if err != nil {
		return StartResult{}, err
	}

	consumed, err := s.keys.Consume(ctx, k.ID)
	if err != nil {
		if errors.Is(err, keys.ErrKeyExpired) {
			if _, _, xerr := s.sessions.ExpireIfDue(ctx, sess); xerr != nil {
				s.log.Warn("lazy expire failed", map[string]any{"session_id": sess.ID, "err": xerr})
			}
		}
		return StartResult{}, err
	}

	fingerprint := strings.TrimSpace(in.Device.Fingerprint)
	if fingerprint == "" {
		fingerprint = a.DeviceFingerprint
	}
	ip := strings.TrimSpace(in.Device.IPAddress)
	if ip == "" {
		ip = a.IPAddress
	}

	now := s.now()
	e := Event{
		ID:                uuid.NewString(),
		AccessSessionID:   a.ID,
		PhotoID:           photoID,
		StartedAt:         now,
		DeviceFingerprint: fingerprint,
		IPAddress:         ip,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return StartResult{}, err
	}

	s.notify(ctx, notifications.Notification{
		RecipientID:           sess.PatientID,
		Type:                  notifications.TypeViewingStarted,
		Title:                 "Doctor Viewing Photos",
		Message:               "Your healthcare provider is currently viewing your photos",
		RelatedSessionID:      sess.ID,
		RelatedProfessionalID: a.ProfessionalID,
	})

	token, err := s.keys.IssueToken(ctx, keys.TokenInput{
		Key:            consumed,
		ViewingEventID: e.ID,
		ProfessionalID: a.ProfessionalID,
		TTL:            time.Duration(sess.MaxViewDurationMinutes) * time.Minute,
	})
	if err != nil {
		// La llave ya se gastó; el evento queda cerrado como error técnico.
		if _, cerr := s.repo.End(context.WithoutCancel(ctx), e.ID, s.now(), 0, EndTechnicalError); cerr != nil {
			s.log.Error("close event after token failure", map[string]any{"viewing_event_id": e.ID, "err": cerr})
		}
		return StartResult{}, err
	}

	s.log.Info("viewing started", map[string]any{
		"viewing_event_id":  e.ID,
		"access_session_id": a.ID,
		"photo_id":          photoID,
	})

	return StartResult{
		Event:              e,
		Token:              token,
		MaxViewTimeSeconds: sess.MaxViewDurationMinutes * 60,
		Restrictions:       sess.ViewingRestrictions(fingerprint),
	}, nil
}

type EndInput struct {
	EventID         string
	Reason          EndReason
	DurationSeconds int64
	ProfessionalID  string
}

// EndViewing cierra el evento una sola vez; un evento ya cerrado da ErrNotFound.
func (s *Service) EndViewing(ctx context.Context, in EndInput) (EndResult, error) {
	reason := in.Reason
	if reason == "" {
		reason = EndUserClosed
	}
	if !reason.Valid() || in.DurationSeconds < 0 {
		return EndResult{}, ErrInvalidInput
	}

	e, a, err := s.eventWithAccess(ctx, in.EventID, in.ProfessionalID)
	if err != nil {
		return EndResult{}, err
	}

	ended, err := s.repo.End(ctx, e.ID, s.now(), in.DurationSeconds, reason)
	if err != nil {
		return EndResult{}, err
	}
	if !ended {
		return EndResult{}, fmt.Errorf("%w: already ended", ErrNotFound)
	}

	if err := s.keys.DiscardToken(ctx, e.ID); err != nil {
		s.log.Warn("discard token failed", map[string]any{"viewing_event_id": e.ID, "err": err})
	}

	updated, err := s.repo.GetByID(ctx, e.ID)
	if err != nil {
		return EndResult{}, err
	}

	if sess, err := s.sessions.GetByID(ctx, a.MedicalSessionID); err == nil {
		s.notify(ctx, notifications.Notification{
			RecipientID:           sess.PatientID,
			Type:                  notifications.TypeViewingEnded,
			Title:                 "Doctor Finished Viewing",
			Message:               fmt.Sprintf("Your healthcare provider has finished viewing your photos (%ds)", in.DurationSeconds),
			RelatedSessionID:      sess.ID,
			RelatedProfessionalID: a.ProfessionalID,
		})
	}

	return EndResult{
		Event:                updated,
		FinalDurationSeconds: in.DurationSeconds,
		EndReason:            reason,
	}, nil
}

// RedeemToken canjea un token de descifrado. El token muere al canjearse,
// al vencer o al cerrarse su viewing event.
func (s *Service) RedeemToken(ctx context.Context, raw, professionalID string) ([]byte, keys.TokenClaims, error) {
	claims, err := s.keys.ParseToken(raw)
	if err != nil {
		return nil, keys.TokenClaims{}, err
	}
	if professionalID = strings.TrimSpace(professionalID); professionalID != "" && claims.Subject != professionalID {
		return nil, keys.TokenClaims{}, ErrForbidden
	}

	e, err := s.repo.GetByID(ctx, claims.ViewingEventID())
	if err != nil || !e.Open() {
		return nil, keys.TokenClaims{}, keys.ErrTokenInvalid
	}

	material, err := s.keys.Redeem(ctx, claims)
	if err != nil {
		return nil, keys.TokenClaims{}, err
	}
	return material, claims, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Event{}, ErrNotFound
	}
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Event{}, ErrNotFound
	}
	return e, nil
}

// EventContext devuelve el evento con su access session, chequeando dueño
// si professionalID no es vacío.
func (s *Service) EventContext(ctx context.Context, eventID, professionalID string) (Event, access.AccessSession, error) {
	return s.eventWithAccess(ctx, eventID, professionalID)
}

func (s *Service) ListByAccessSessions(ctx context.Context, accessSessionIDs []string) ([]Event, error) {
	if len(accessSessionIDs) == 0 {
		return []Event{}, nil
	}
	return s.repo.ListByAccessSessions(ctx, accessSessionIDs)
}

// RecordSuspicious delega el update condicional al repo.
func (s *Service) RecordSuspicious(ctx context.Context, eventID string, counter Counter) (Event, error) {
	e, err := s.repo.RecordSuspicious(ctx, eventID, counter)
	if err != nil {
		return Event{}, ErrNotFound
	}
	return e, nil
}

// CloseWithReason cierra un evento abierto calculando la duración desde su inicio.
func (s *Service) CloseWithReason(ctx context.Context, e Event, reason EndReason) (bool, error) {
	now := s.now()
	duration := int64(now.Sub(e.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	ended, err := s.repo.End(ctx, e.ID, now, duration, reason)
	if err != nil {
		return false, err
	}
	if ended {
		if err := s.keys.DiscardToken(ctx, e.ID); err != nil {
			s.log.Warn("discard token failed", map[string]any{"viewing_event_id": e.ID, "err": err})
		}
	}
	return ended, nil
}

func (s *Service) eventWithAccess(ctx context.Context, eventID, professionalID string) (Event, access.AccessSession, error) {
	e, err := s.GetByID(ctx, eventID)
	if err != nil {
		return Event{}, access.AccessSession{}, err
	}
	a, err := s.access.GetByID(ctx, e.AccessSessionID)
	if err != nil {
		return Event{}, access.AccessSession{}, err
	}
	if professionalID = strings.TrimSpace(professionalID); professionalID != "" && a.ProfessionalID != professionalID {
		return Event{}, access.AccessSession{}, ErrForbidden
	}
	return e, a, nil
}

func (s *Service) notify(ctx context.Context, n notifications.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, n)
}
