package sharing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"medical-photo-sharing/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes monta las acciones del paciente sobre sus sesiones.
// El listado (con resumen) vive en el módulo summaries.
func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/me/medical-sharing/sessions", createSessionHandler(svc))
	r.Get("/me/medical-sharing/sessions/{sessionID}", getSessionHandler(svc))
	r.Post("/me/medical-sharing/sessions/{sessionID}/revoke", revokeSessionHandler(svc))
}

type createSessionRequest struct {
	ProfessionalID         string   `json:"professional_id"`
	PhotoIDs               []string `json:"photo_ids"`
	Notes                  *string  `json:"notes,omitempty"`
	DurationHours          int      `json:"duration_hours"`
	MaxTotalViews          int      `json:"max_total_views"`
	MaxViewDurationMinutes int      `json:"max_view_duration_minutes"`
	AllowScreenshots       bool     `json:"allow_screenshots"`
	AllowDownload          bool     `json:"allow_download"`
}

type revokeSessionRequest struct {
	Reason string `json:"reason"`
}

// SessionResponse es la vista JSON de una sesión (la reusa summaries).
type SessionResponse struct {
	ID                     string     `json:"id"`
	PatientID              string     `json:"patient_id"`
	ProfessionalID         string     `json:"professional_id"`
	PhotoIDs               []string   `json:"photo_ids"`
	Notes                  *string    `json:"notes,omitempty"`
	MaxTotalViews          int        `json:"max_total_views"`
	MaxViewDurationMinutes int        `json:"max_view_duration_minutes"`
	ExpiresAt              time.Time  `json:"expires_at"`
	AllowScreenshots       bool       `json:"allow_screenshots"`
	AllowDownload          bool       `json:"allow_download"`
	Status                 Status     `json:"status"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	RevokedAt              *time.Time `json:"revoked_at,omitempty"`
	RevokedReason          *string    `json:"revoked_reason,omitempty"`
}

type keyResponse struct {
	ID        string    `json:"id"`
	PhotoID   string    `json:"photo_id"`
	MaxUses   int       `json:"max_uses"`
	ExpiresAt time.Time `json:"expires_at"`
}

type createSessionResponse struct {
	Session         SessionResponse `json:"session"`
	Keys            []keyResponse   `json:"ephemeral_keys"`
	SecureAccessURL string          `json:"secure_access_url"`
}

// createSessionHandler godoc
// @Summary Crear sesión de sharing
// @Tags medical-sharing
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body createSessionRequest true "photo_ids propios del paciente; duración/vistas en 0 toman default (24h, 3, 5min)"
// @Success 201 {object} createSessionResponse
// @Failure 400 {string} string "invalid json / reglas de negocio"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "foto ajena o inexistente"
// @Router /api/v1/me/medical-sharing/sessions [post]
func createSessionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.ProfessionalID) == "" || len(req.PhotoIDs) == 0 {
			http.Error(w, "professional_id and photo_ids required", http.StatusBadRequest)
			return
		}

		res, err := svc.Create(r.Context(), CreateInput{
			PatientID:              claims.UserID,
			ProfessionalID:         req.ProfessionalID,
			PhotoIDs:               req.PhotoIDs,
			Notes:                  req.Notes,
			DurationHours:          req.DurationHours,
			MaxTotalViews:          req.MaxTotalViews,
			MaxViewDurationMinutes: req.MaxViewDurationMinutes,
			AllowScreenshots:       req.AllowScreenshots,
			AllowDownload:          req.AllowDownload,
		})
		if err != nil {
			WriteError(w, err)
			return
		}

		out := createSessionResponse{
			Session:         ToSessionResponse(res.Session),
			Keys:            make([]keyResponse, 0, len(res.Keys)),
			SecureAccessURL: res.SecureAccessURL,
		}
		// Nunca exponemos el material cifrado ni los params.
		for _, k := range res.Keys {
			out.Keys = append(out.Keys, keyResponse{
				ID:        k.ID,
				PhotoID:   k.PhotoID,
				MaxUses:   k.MaxUses,
				ExpiresAt: k.ExpiresAt,
			})
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func getSessionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sess, err := svc.GetForPatient(r.Context(), chi.URLParam(r, "sessionID"), claims.UserID)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ToSessionResponse(sess))
	}
}

// revokeSessionHandler godoc
// @Summary Revocar sesión (paciente)
// @Description Revoca llaves, termina accesos activos y cierra vistas abiertas. Sobre una sesión ya terminal es no-op.
// @Tags medical-sharing
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param sessionID path string true "ID de la sesión"
// @Param payload body revokeSessionRequest false "motivo opcional"
// @Success 200 {object} SessionResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "session not found"
// @Router /api/v1/me/medical-sharing/sessions/{sessionID}/revoke [post]
func revokeSessionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// Body opcional
		var req revokeSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		sess, err := svc.Revoke(r.Context(), chi.URLParam(r, "sessionID"), claims.UserID, req.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ToSessionResponse(sess))
	}
}

// WriteError mapea los errores del state machine a status HTTP.
// Lo reusan los handlers de access y viewing, que propagan estos errores.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, ErrOwnership), errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrBadState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrExpired):
		http.Error(w, err.Error(), http.StatusGone)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func ToSessionResponse(s Session) SessionResponse {
	return SessionResponse{
		ID:                     s.ID,
		PatientID:              s.PatientID,
		ProfessionalID:         s.ProfessionalID,
		PhotoIDs:               s.PhotoIDs,
		Notes:                  s.Notes,
		MaxTotalViews:          s.MaxTotalViews,
		MaxViewDurationMinutes: s.MaxViewDurationMinutes,
		ExpiresAt:              s.ExpiresAt,
		AllowScreenshots:       s.AllowScreenshots,
		AllowDownload:          s.AllowDownload,
		Status:                 s.Status,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
		RevokedAt:              s.RevokedAt,
		RevokedReason:          s.RevokedReason,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
