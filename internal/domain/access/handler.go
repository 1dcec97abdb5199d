package access

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/photos"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/professionals/me/medical-access/sessions/{sessionID}/request-access", requestAccessHandler(svc))
	r.Post("/professionals/me/medical-access/access/{accessSessionID}/end", endAccessHandler(svc))
}

// DeviceRequest es el bloque de dispositivo que mandan access y viewing.
type DeviceRequest struct {
	Fingerprint      string  `json:"fingerprint"`
	UserAgent        string  `json:"user_agent,omitempty"`
	ScreenResolution *string `json:"screen_resolution,omitempty"`
	TimeZone         *string `json:"time_zone,omitempty"`
}

type requestAccessRequest struct {
	Device DeviceRequest `json:"device"`
}

type AccessSessionResponse struct {
	ID                string     `json:"id"`
	MedicalSessionID  string     `json:"medical_session_id"`
	ProfessionalID    string     `json:"professional_id"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	IPAddress         string     `json:"ip_address"`
	UserAgent         string     `json:"user_agent"`
	StartedAt         time.Time  `json:"started_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	IsActive          bool       `json:"is_active"`
}

type securePhotoResponse struct {
	PhotoID           string       `json:"photo_id"`
	Angle             photos.Angle `json:"angle"`
	CaptureDate       time.Time    `json:"capture_date"`
	EncryptedFilename string       `json:"encrypted_filename"`
}

type requestAccessResponse struct {
	AccessSession   AccessSessionResponse      `json:"access_session"`
	SecureViewerURL string                     `json:"secure_viewer_url"`
	Photos          []securePhotoResponse      `json:"photos"`
	Restrictions    sharing.AccessRestrictions `json:"restrictions"`
}

// requestAccessHandler godoc
// @Summary Solicitar acceso a una sesión compartida
// @Description Pasa el gate de la sesión y consume una de las max_total_views. La primera vez activa la sesión; al superar el límite la sesión queda EXHAUSTED_ATTEMPTS.
// @Tags medical-access
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param sessionID path string true "ID de la sesión de sharing"
// @Param payload body requestAccessRequest true "datos del dispositivo"
// @Success 201 {object} requestAccessResponse
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "session not found"
// @Failure 409 {string} string "estado inválido / límite de accesos"
// @Failure 410 {string} string "sesión vencida"
// @Router /api/v1/professionals/me/medical-access/sessions/{sessionID}/request-access [post]
func requestAccessHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req requestAccessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		res, err := svc.RequestAccess(r.Context(), chi.URLParam(r, "sessionID"), claims.UserID, DeviceFromRequest(r, req.Device))
		if err != nil {
			WriteError(w, err)
			return
		}

		out := requestAccessResponse{
			AccessSession:   ToAccessSessionResponse(res.AccessSession),
			SecureViewerURL: res.SecureViewerURL,
			Photos:          make([]securePhotoResponse, 0, len(res.Photos)),
			Restrictions:    res.Restrictions,
		}
		for _, p := range res.Photos {
			out.Photos = append(out.Photos, securePhotoResponse(p))
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func endAccessHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		a, err := svc.End(r.Context(), chi.URLParam(r, "accessSessionID"), claims.UserID)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ToAccessSessionResponse(a))
	}
}

// DeviceFromRequest completa IP (chimw.RealIP ya reescribió RemoteAddr) y user agent.
func DeviceFromRequest(r *http.Request, d DeviceRequest) DeviceInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	ua := strings.TrimSpace(d.UserAgent)
	if ua == "" {
		ua = r.UserAgent()
	}
	return DeviceInfo{
		Fingerprint:      d.Fingerprint,
		IPAddress:        ip,
		UserAgent:        ua,
		ScreenResolution: d.ScreenResolution,
		TimeZone:         d.TimeZone,
	}
}

// WriteError mapea errores de access y delega los del state machine.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "access session not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrAccessLimit):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrExpiredAccess):
		http.Error(w, err.Error(), http.StatusGone)
	default:
		sharing.WriteError(w, err)
	}
}

func ToAccessSessionResponse(a AccessSession) AccessSessionResponse {
	return AccessSessionResponse{
		ID:                a.ID,
		MedicalSessionID:  a.MedicalSessionID,
		ProfessionalID:    a.ProfessionalID,
		DeviceFingerprint: a.DeviceFingerprint,
		IPAddress:         a.IPAddress,
		UserAgent:         a.UserAgent,
		StartedAt:         a.StartedAt,
		ExpiresAt:         a.ExpiresAt,
		EndedAt:           a.EndedAt,
		IsActive:          a.IsActive,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
