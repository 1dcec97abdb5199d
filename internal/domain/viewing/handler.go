package viewing

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/keys"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/professionals/me/medical-access/access/{accessSessionID}/photos/{photoID}/view", startViewingHandler(svc))
	r.Post("/professionals/me/medical-access/viewing/{eventID}/end", endViewingHandler(svc))
	r.Post("/professionals/me/medical-access/viewing/tokens/redeem", redeemTokenHandler(svc))
}

type startViewingRequest struct {
	Device access.DeviceRequest `json:"device"`
}

type EventResponse struct {
	ID                 string     `json:"id"`
	AccessSessionID    string     `json:"access_session_id"`
	PhotoID            string     `json:"photo_id"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	DurationSeconds    *int64     `json:"duration_seconds,omitempty"`
	EndReason          *EndReason `json:"end_reason,omitempty"`
	DeviceFingerprint  string     `json:"device_fingerprint"`
	IPAddress          string     `json:"ip_address"`
	ScreenshotAttempts int        `json:"screenshot_attempts"`
	DownloadAttempts   int        `json:"download_attempts"`
	SuspiciousActivity bool       `json:"suspicious_activity"`
}

type startViewingResponse struct {
	ViewingEventID     string                      `json:"viewing_event_id"`
	DecryptionToken    string                      `json:"decryption_token"`
	TokenExpiresAt     time.Time                   `json:"token_expires_at"`
	MaxViewTimeSeconds int                         `json:"max_view_time_seconds"`
	Restrictions       sharing.ViewingRestrictions `json:"restrictions"`
}

type endViewingRequest struct {
	EndReason       EndReason `json:"end_reason"`
	DurationSeconds int64     `json:"duration_seconds"`
}

type endViewingResponse struct {
	Success              bool          `json:"success"`
	FinalDurationSeconds int64         `json:"final_duration_seconds"`
	EndReason            EndReason     `json:"end_reason"`
	Event                EventResponse `json:"event"`
}

type redeemTokenRequest struct {
	Token string `json:"token"`
}

type redeemTokenResponse struct {
	SessionID   string `json:"session_id"`
	PhotoID     string `json:"photo_id"`
	KeyMaterial string `json:"key_material"`
}

// startViewingHandler godoc
// @Summary Iniciar la vista de una foto
// @Description Consume la llave efímera de la foto (un solo uso) y devuelve un token de descifrado que vence en max_view_duration_minutes.
// @Tags medical-access
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param accessSessionID path string true "ID del access session"
// @Param photoID path string true "ID de la foto"
// @Param payload body startViewingRequest false "datos del dispositivo"
// @Success 201 {object} startViewingResponse
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "key exhausted"
// @Failure 410 {string} string "key expired / revoked / access session expired"
// @Router /api/v1/professionals/me/medical-access/access/{accessSessionID}/photos/{photoID}/view [post]
func startViewingHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req startViewingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		res, err := svc.StartViewing(r.Context(), StartInput{
			AccessSessionID: chi.URLParam(r, "accessSessionID"),
			PhotoID:         chi.URLParam(r, "photoID"),
			ProfessionalID:  claims.UserID,
			Device:          access.DeviceFromRequest(r, req.Device),
		})
		if err != nil {
			WriteError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, startViewingResponse{
			ViewingEventID:     res.Event.ID,
			DecryptionToken:    res.Token.Value,
			TokenExpiresAt:     res.Token.ExpiresAt,
			MaxViewTimeSeconds: res.MaxViewTimeSeconds,
			Restrictions:       res.Restrictions,
		})
	}
}

// endViewingHandler godoc
// @Summary Terminar la vista
// @Tags medical-access
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param eventID path string true "ID del viewing event"
// @Param payload body endViewingRequest true "motivo y duración"
// @Success 200 {object} endViewingResponse
// @Failure 400 {string} string "invalid json / end_reason inválido"
// @Failure 404 {string} string "no existe o ya terminó"
// @Router /api/v1/professionals/me/medical-access/viewing/{eventID}/end [post]
func endViewingHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req endViewingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		res, err := svc.EndViewing(r.Context(), EndInput{
			EventID:         chi.URLParam(r, "eventID"),
			Reason:          req.EndReason,
			DurationSeconds: req.DurationSeconds,
			ProfessionalID:  claims.UserID,
		})
		if err != nil {
			WriteError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, endViewingResponse{
			Success:              true,
			FinalDurationSeconds: res.FinalDurationSeconds,
			EndReason:            res.EndReason,
			Event:                ToEventResponse(res.Event),
		})
	}
}

// redeemTokenHandler godoc
// @Summary Canjear el token de descifrado
// @Description Devuelve el material de llave (base64url) una sola vez, mientras la vista siga abierta.
// @Tags medical-access
// @Accept json
// @Produce json
// @Param payload body redeemTokenRequest true "token"
// @Success 200 {object} redeemTokenResponse
// @Failure 403 {string} string "token inválido, vencido o ya usado"
// @Router /api/v1/professionals/me/medical-access/viewing/tokens/redeem [post]
func redeemTokenHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req redeemTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		material, tc, err := svc.RedeemToken(r.Context(), req.Token, claims.UserID)
		if err != nil {
			WriteError(w, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, redeemTokenResponse{
			SessionID:   tc.SessionID,
			PhotoID:     tc.PhotoID,
			KeyMaterial: base64.RawURLEncoding.EncodeToString(material),
		})
	}
}

// WriteError cubre errores de viewing y keys; el resto lo resuelve access.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, keys.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "viewing event not found", http.StatusNotFound)
	case errors.Is(err, keys.ErrNotFound):
		http.Error(w, "decryption key not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden), errors.Is(err, keys.ErrTokenInvalid):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, keys.ErrKeyExhausted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, keys.ErrKeyExpired), errors.Is(err, keys.ErrKeyRevoked):
		http.Error(w, err.Error(), http.StatusGone)
	default:
		access.WriteError(w, err)
	}
}

func ToEventResponse(e Event) EventResponse {
	return EventResponse{
		ID:                 e.ID,
		AccessSessionID:    e.AccessSessionID,
		PhotoID:            e.PhotoID,
		StartedAt:          e.StartedAt,
		EndedAt:            e.EndedAt,
		DurationSeconds:    e.DurationSeconds,
		EndReason:          e.EndReason,
		DeviceFingerprint:  e.DeviceFingerprint,
		IPAddress:          e.IPAddress,
		ScreenshotAttempts: e.ScreenshotAttempts,
		DownloadAttempts:   e.DownloadAttempts,
		SuspiciousActivity: e.SuspiciousActivity,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
