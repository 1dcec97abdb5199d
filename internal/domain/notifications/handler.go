package notifications

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medical-photo-sharing/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Get("/me/notifications", listNotificationsHandler(svc))
	r.Post("/me/notifications/read-all", markAllReadHandler(svc))
	r.Post("/me/notifications/{notificationID}/read", markReadHandler(svc))
}

type notificationResponse struct {
	ID                    string     `json:"id"`
	Type                  Type       `json:"type"`
	Title                 string     `json:"title"`
	Message               string     `json:"message"`
	RelatedSessionID      string     `json:"related_session_id,omitempty"`
	RelatedProfessionalID string     `json:"related_professional_id,omitempty"`
	IsRead                bool       `json:"is_read"`
	CreatedAt             time.Time  `json:"created_at"`
	ReadAt                *time.Time `json:"read_at,omitempty"`
}

type markAllReadResponse struct {
	Updated int `json:"updated"`
}

// listNotificationsHandler godoc
// @Summary Listar mis notificaciones
// @Tags notifications
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param unread query bool false "Sólo no leídas"
// @Success 200 {array} notificationResponse
// @Failure 401 {string} string "unauthorized"
// @Router /api/v1/me/notifications [get]
func listNotificationsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		unreadOnly := false
		if raw := strings.TrimSpace(r.URL.Query().Get("unread")); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				http.Error(w, "invalid unread", http.StatusBadRequest)
				return
			}
			unreadOnly = v
		}

		items, err := svc.ListForRecipient(r.Context(), claims.UserID, unreadOnly)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]notificationResponse, 0, len(items))
		for _, n := range items {
			out = append(out, notificationResponse{
				ID:                    n.ID,
				Type:                  n.Type,
				Title:                 n.Title,
				Message:               n.Message,
				RelatedSessionID:      n.RelatedSessionID,
				RelatedProfessionalID: n.RelatedProfessionalID,
				IsRead:                n.IsRead,
				CreatedAt:             n.CreatedAt,
				ReadAt:                n.ReadAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// markReadHandler godoc
// @Summary Marcar una notificación como leída
// @Tags notifications
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param notificationID path string true "ID de la notificación"
// @Success 204 {string} string "no content"
// @Failure 404 {string} string "notification not found"
// @Router /api/v1/me/notifications/{notificationID}/read [post]
func markReadHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := svc.MarkAsRead(r.Context(), chi.URLParam(r, "notificationID"), claims.UserID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// markAllReadHandler godoc
// @Summary Marcar todas como leídas
// @Tags notifications
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Success 200 {object} markAllReadResponse
// @Router /api/v1/me/notifications/read-all [post]
func markAllReadHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		n, err := svc.MarkAllAsRead(r.Context(), claims.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, markAllReadResponse{Updated: n})
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "notification not found", http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
