package anomaly

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"medical-photo-sharing/internal/domain/viewing"
	"medical-photo-sharing/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/professionals/me/medical-access/viewing/{eventID}/activity", recordActivityHandler(svc))
}

type recordActivityRequest struct {
	ActivityType ActivityType `json:"activity_type"`
	Details      string       `json:"details"`
}

type recordActivityResponse struct {
	Recorded            bool         `json:"recorded"`
	ActivityType        ActivityType `json:"activity_type"`
	AutoRevokeTriggered bool         `json:"auto_revoke_triggered"`
}

// recordActivityHandler godoc
// @Summary Reportar actividad sospechosa
// @Description El cliente reporta intentos de captura, descarga, etc. MULTIPLE_SCREENSHOT_ATTEMPTS, DOWNLOAD_ATTEMPT y SCREEN_RECORDING_DETECTED revocan la sesión.
// @Tags medical-access
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param eventID path string true "ID del viewing event"
// @Param payload body recordActivityRequest true "actividad"
// @Success 200 {object} recordActivityResponse
// @Failure 400 {string} string "activity_type inválido"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "viewing event not found"
// @Router /api/v1/professionals/me/medical-access/viewing/{eventID}/activity [post]
func recordActivityHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req recordActivityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		res, err := svc.RecordActivity(r.Context(), chi.URLParam(r, "eventID"), claims.UserID, req.ActivityType, req.Details)
		if err != nil {
			if errors.Is(err, ErrInvalidInput) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			viewing.WriteError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(recordActivityResponse{
			Recorded:            res.Recorded,
			ActivityType:        res.ActivityType,
			AutoRevokeTriggered: res.AutoRevokeTriggered,
		})
	}
}
