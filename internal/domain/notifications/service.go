package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("notification not found")
)

const deliverTimeout = 5 * time.Second

// Service persiste y reparte notificaciones.
// Nunca devuelve error al publicar: una notificación fallida no debe
// revertir la transición de estado que la originó.
type Service struct {
	repo      Repository
	deliverer Deliverer
	log       logger.Logger
	now       func() time.Time

	mu    sync.RWMutex
	queue chan Notification
	wg    sync.WaitGroup
}

func NewService(repo Repository, deliverer Deliverer, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:      repo,
		deliverer: deliverer,
		log:       log.With(map[string]any{"module": "notifications"}),
		now:       time.Now,
	}
}

// Start levanta `workers` consumidores de la cola de entrega. Sin Start
// la entrega es inline (útil en tests y en modo dev).
func (s *Service) Start(ctx context.Context, workers, queueSize int) {
	if workers <= 0 {
		return
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	q := make(chan Notification, queueSize)

	s.mu.Lock()
	s.queue = q
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n := <-q:
					s.deliver(ctx, n)
				}
			}
		}()
	}
}

// Wait bloquea hasta que los workers terminen (después de cancelar el ctx de Start).
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Publish(ctx context.Context, n Notification) {
	if strings.TrimSpace(n.RecipientID) == "" || n.Type == "" {
		s.log.Warn("notification dropped: missing recipient or type", map[string]any{"type": n.Type})
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	if err := s.repo.Create(context.WithoutCancel(ctx), n); err != nil {
		metrics.Notifications.WithLabelValues("persist", "error").Inc()
		s.log.Error("notification persist failed", map[string]any{
			"notification_id": n.ID,
			"type":            n.Type,
			"err":             err,
		})
	} else {
		metrics.Notifications.WithLabelValues("persist", "ok").Inc()
	}

	s.mu.RLock()
	q := s.queue
	s.mu.RUnlock()

	if q == nil {
		s.deliver(context.WithoutCancel(ctx), n)
		return
	}

	select {
	case q <- n:
	default:
		metrics.Notifications.WithLabelValues("enqueue", "dropped").Inc()
		s.log.Warn("notification queue full, delivery dropped", map[string]any{
			"notification_id": n.ID,
			"recipient_id":    n.RecipientID,
		})
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	if s.deliverer == nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	err := s.deliverer.Deliver(dctx, n.RecipientID, n)
	metrics.Notifications.WithLabelValues("deliver", metrics.Result(err)).Inc()
	if err != nil {
		s.log.Warn("notification delivery failed", map[string]any{
			"notification_id": n.ID,
			"recipient_id":    n.RecipientID,
			"type":            n.Type,
			"err":             err,
		})
	}
}

func (s *Service) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByRecipient(ctx, recipientID, unreadOnly)
}

// MarkAsRead es idempotente; sólo el destinatario puede marcarla.
func (s *Service) MarkAsRead(ctx context.Context, id, recipientID string) error {
	id = strings.TrimSpace(id)
	recipientID = strings.TrimSpace(recipientID)
	if id == "" || recipientID == "" {
		return ErrInvalidInput
	}
	ok, err := s.repo.MarkAsRead(ctx, id, recipientID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *Service) MarkAllAsRead(ctx context.Context, recipientID string) (int, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, ErrInvalidInput
	}
	return s.repo.MarkAllAsRead(ctx, recipientID, s.now())
}

// Multi reparte a varios deliverers; intenta todos y devuelve sus errores unidos con errors.Join.
type Multi []Deliverer

func (m Multi) Deliver(ctx context.Context, recipientID string, n Notification) error {
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Deliver(ctx, recipientID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogDeliverer sólo deja registro; es el deliverer por defecto en dev.
type LogDeliverer struct {
	Log logger.Logger
}

func (d LogDeliverer) Deliver(ctx context.Context, recipientID string, n Notification) error {
	if d.Log == nil {
		return nil
	}
	d.Log.Info("notification delivered", map[string]any{
		"recipient_id": recipientID,
		"type":         n.Type,
		"title":        n.Title,
		"session_id":   n.RelatedSessionID,
	})
	return nil
}
