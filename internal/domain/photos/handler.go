package photos

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"medical-photo-sharing/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/me/photos", registerPhotoHandler(svc))
	r.Get("/me/photos", listPhotosHandler(svc))
}

type registerPhotoRequest struct {
	Filename    string `json:"filename"`
	Angle       Angle  `json:"angle"`
	CaptureDate string `json:"capture_date"` // RFC3339 opcional
}

type photoResponse struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Angle       Angle     `json:"angle"`
	CaptureDate time.Time `json:"capture_date"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// registerPhotoHandler godoc
// @Summary Registrar metadata de una foto
// @Description El blob cifrado se sube por fuera; acá sólo se registra nombre cifrado, ángulo y fecha.
// @Tags photos
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body registerPhotoRequest true "metadata"
// @Success 201 {object} photoResponse
// @Failure 400 {string} string "invalid input"
// @Router /api/v1/me/photos [post]
func registerPhotoHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req registerPhotoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		var capture time.Time
		if raw := strings.TrimSpace(req.CaptureDate); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, "capture_date must be RFC3339", http.StatusBadRequest)
				return
			}
			capture = t
		}

		p, err := svc.Register(r.Context(), claims.UserID, RegisterInput{
			Filename:    req.Filename,
			Angle:       req.Angle,
			CaptureDate: capture,
		})
		if err != nil {
			if errors.Is(err, ErrInvalidInput) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, toPhotoResponse(p))
	}
}

// listPhotosHandler godoc
// @Summary Listar mis fotos
// @Tags photos
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Success 200 {array} photoResponse
// @Router /api/v1/me/photos [get]
func listPhotosHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListByOwner(r.Context(), claims.UserID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]photoResponse, 0, len(items))
		for _, p := range items {
			out = append(out, toPhotoResponse(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func toPhotoResponse(p Photo) photoResponse {
	return photoResponse{
		ID:          p.ID,
		Filename:    p.Filename,
		Angle:       p.Angle,
		CaptureDate: p.CaptureDate,
		UploadedAt:  p.UploadedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
