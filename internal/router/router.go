package router

import (
	"fmt"
	"net/http"

	"medical-photo-sharing/internal/app"
	_ "medical-photo-sharing/internal/docs"
	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/anomaly"
	"medical-photo-sharing/internal/domain/notifications"
	"medical-photo-sharing/internal/domain/photos"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/domain/summaries"
	"medical-photo-sharing/internal/domain/viewing"
	"medical-photo-sharing/internal/middleware"
	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/ports/auth"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

const apiPrefix = "/api/v1"

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: servicios ya cableados. Si no viene, se arma todo in-memory.
	App *app.App

	Log logger.Logger
}

func NewRouter(opts Options) http.Handler {
	a := opts.App
	if a == nil {
		built, err := app.New(app.Options{Log: opts.Log})
		if err != nil {
			panic(fmt.Sprintf("router: in-memory app: %v", err))
		}
		a = built
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Use(middleware.AuthContext(opts.AuthVerifier, opts.Log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.Route(apiPrefix, func(api chi.Router) {
		photos.RegisterRoutes(api, a.Photos)
		sharing.RegisterRoutes(api, a.Sharing)
		summaries.RegisterRoutes(api, a.Summaries)
		access.RegisterRoutes(api, a.Access)
		viewing.RegisterRoutes(api, a.Viewing)
		anomaly.RegisterRoutes(api, a.Anomaly)
		notifications.RegisterRoutes(api, a.Notifications)
	})

	return r
}
