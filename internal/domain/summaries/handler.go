package summaries

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/domain/viewing"
	"medical-photo-sharing/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Get("/me/medical-sharing/sessions", listPatientSessionsHandler(svc))
	r.Get("/me/medical-sharing/sessions/{sessionID}/access-log", accessLogHandler(svc))
	r.Get("/professionals/me/medical-access/sessions", listAccessibleSessionsHandler(svc))
}

type patientSummaryResponse struct {
	Session          sharing.SessionResponse `json:"session"`
	TotalAccesses    int                     `json:"total_accesses"`
	LastAccessedAt   *time.Time              `json:"last_accessed_at,omitempty"`
	RemainingViews   int                     `json:"remaining_views"`
	HoursUntilExpiry int64                   `json:"hours_until_expiry"`
}

type anonymizedPatientResponse struct {
	Initials  string    `json:"patient_initials"`
	AgeRange  string    `json:"age_range"`
	ShareDate time.Time `json:"share_date"`
}

type accessibleSessionResponse struct {
	SessionID              string                    `json:"session_id"`
	Status                 sharing.Status            `json:"status"`
	PhotoCount             int                       `json:"photo_count"`
	Notes                  *string                   `json:"notes,omitempty"`
	ExpiresAt              time.Time                 `json:"expires_at"`
	MaxViewDurationMinutes int                       `json:"max_view_duration_minutes"`
	CanAccess              bool                      `json:"can_access"`
	RemainingViews         int                       `json:"remaining_views"`
	HoursUntilExpiry       int64                     `json:"hours_until_expiry"`
	Urgency                Urgency                   `json:"urgency"`
	SecureAccessURL        string                    `json:"secure_access_url"`
	Patient                anonymizedPatientResponse `json:"patient"`
}

type accessLogEntryResponse struct {
	AccessSession access.AccessSessionResponse `json:"access_session"`
	Events        []viewing.EventResponse      `json:"viewing_events"`
}

// listPatientSessionsHandler godoc
// @Summary Listar mis sesiones de sharing
// @Tags medical-sharing
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Success 200 {array} patientSummaryResponse
// @Failure 401 {string} string "unauthorized"
// @Router /api/v1/me/medical-sharing/sessions [get]
func listPatientSessionsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.PatientSummaries(r.Context(), claims.UserID)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]patientSummaryResponse, 0, len(items))
		for _, it := range items {
			out = append(out, patientSummaryResponse{
				Session:          sharing.ToSessionResponse(it.Session),
				TotalAccesses:    it.TotalAccesses,
				LastAccessedAt:   it.LastAccessedAt,
				RemainingViews:   it.RemainingViews,
				HoursUntilExpiry: it.HoursUntilExpiry,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// accessLogHandler godoc
// @Summary Ver quién accedió a una sesión
// @Description Access sessions del profesional con sus viewing events (duración, motivo de cierre, contadores).
// @Tags medical-sharing
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param sessionID path string true "ID de la sesión"
// @Success 200 {array} accessLogEntryResponse
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "session not found"
// @Router /api/v1/me/medical-sharing/sessions/{sessionID}/access-log [get]
func accessLogHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		entries, err := svc.AccessLog(r.Context(), chi.URLParam(r, "sessionID"), claims.UserID)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]accessLogEntryResponse, 0, len(entries))
		for _, e := range entries {
			evs := make([]viewing.EventResponse, 0, len(e.Events))
			for _, ev := range e.Events {
				evs = append(evs, viewing.ToEventResponse(ev))
			}
			out = append(out, accessLogEntryResponse{
				AccessSession: access.ToAccessSessionResponse(e.AccessSession),
				Events:        evs,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// listAccessibleSessionsHandler godoc
// @Summary Sesiones que puedo ver (profesional)
// @Description Sólo PENDING_DOCTOR_ACCESS / ACTIVE no vencidas. El paciente aparece anonimizado.
// @Tags medical-access
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Success 200 {array} accessibleSessionResponse
// @Failure 401 {string} string "unauthorized"
// @Router /api/v1/professionals/me/medical-access/sessions [get]
func listAccessibleSessionsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ProfessionalAccessible(r.Context(), claims.UserID)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]accessibleSessionResponse, 0, len(items))
		for _, it := range items {
			out = append(out, accessibleSessionResponse{
				SessionID:              it.Session.ID,
				Status:                 it.Session.Status,
				PhotoCount:             len(it.Session.PhotoIDs),
				Notes:                  it.Session.Notes,
				ExpiresAt:              it.Session.ExpiresAt,
				MaxViewDurationMinutes: it.Session.MaxViewDurationMinutes,
				CanAccess:              it.CanAccess,
				RemainingViews:         it.RemainingViews,
				HoursUntilExpiry:       it.HoursUntilExpiry,
				Urgency:                it.Urgency,
				SecureAccessURL:        sharing.SecureAccessURL(it.Session.ID),
				Patient: anonymizedPatientResponse{
					Initials:  it.Patient.Initials,
					AgeRange:  it.Patient.AgeRange,
					ShareDate: it.Patient.ShareDate,
				},
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidInput) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sharing.WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
