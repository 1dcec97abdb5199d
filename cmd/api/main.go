// @title Medical Photo Sharing API
// @version 1.0
// @description Sesiones de sharing de fotos médicas con tiempo límite y llaves de un solo uso.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

//go:generate swag init -d ../.. -g cmd/api/main.go -o ../../internal/docs

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medical-photo-sharing/internal/adapters/auth/introspect"
	"medical-photo-sharing/internal/adapters/auth/jwtbearer"
	pg "medical-photo-sharing/internal/adapters/storage/postgres"
	"medical-photo-sharing/internal/app"
	"medical-photo-sharing/internal/config"
	"medical-photo-sharing/internal/jobs"
	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/ports/auth"
	"medical-photo-sharing/internal/router"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewFromEnv().Error("config load failed", map[string]any{"err": err})
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: logger.ParseFormat(cfg.LogFormat),
		App:    cfg.AppName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", map[string]any{"err": err})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log logger.Logger) error {
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = pg.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := pg.Migrate(ctx, db); err != nil {
			return err
		}
		log.Info("postgres ready", nil)
	} else {
		log.Warn("DB_DSN vacío, usando repos in-memory", nil)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		log.Info("redis ready", map[string]any{"addr": cfg.RedisAddr})
	}

	verifier, err := buildVerifier(cfg, log)
	if err != nil {
		return err
	}

	a, err := app.New(app.Options{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Log:    log,
	})
	if err != nil {
		return err
	}

	a.Notifications.Start(ctx, cfg.NotificationWorkers, cfg.NotificationQueueSize)

	sched := jobs.NewScheduler(cfg.Jobs.Timeout, log, a.Jobs(cfg.Jobs)...)
	sched.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(router.Options{AuthVerifier: verifier, App: a, Log: log}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", map[string]any{"addr": cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", map[string]any{"err": err})
	}

	sched.Wait()
	a.Notifications.Wait()
	return nil
}

// buildVerifier elige JWT local, el proveedor de identidad o modo dev (nil).
func buildVerifier(cfg config.Config, log logger.Logger) (auth.AuthVerifier, error) {
	if cfg.AuthJWTSecret != "" {
		return jwtbearer.NewVerifier(jwtbearer.Config{Secret: cfg.AuthJWTSecret, Issuer: cfg.TokenIssuer})
	}
	if cfg.AuthIntrospectURL != "" {
		v, err := introspect.NewVerifier(introspect.Config{
			BaseURL: cfg.AuthIntrospectURL,
			APIKey:  cfg.AuthIntrospectAPIKey,
		})
		if err != nil {
			return nil, err
		}
		if v.IsConfigured() {
			return v, nil
		}
		log.Warn("AUTH_INTROSPECT_API_KEY vacío, se ignora el proveedor de identidad", nil)
	}
	log.Warn("sin verifier, se acepta X-Debug-User-ID", nil)
	return nil, nil
}
