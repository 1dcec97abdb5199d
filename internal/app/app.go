package app

import (
	"context"
	"database/sql"
	"strings"

	"medical-photo-sharing/internal/adapters/directory/patientsapi"
	"medical-photo-sharing/internal/adapters/notify/redispubsub"
	"medical-photo-sharing/internal/adapters/notify/webhook"
	mem "medical-photo-sharing/internal/adapters/storage/memory"
	pg "medical-photo-sharing/internal/adapters/storage/postgres"
	"medical-photo-sharing/internal/adapters/storage/redisstore"
	"medical-photo-sharing/internal/config"
	"medical-photo-sharing/internal/domain/access"
	"medical-photo-sharing/internal/domain/anomaly"
	"medical-photo-sharing/internal/domain/keys"
	"medical-photo-sharing/internal/domain/notifications"
	"medical-photo-sharing/internal/domain/photos"
	"medical-photo-sharing/internal/domain/sharing"
	"medical-photo-sharing/internal/domain/summaries"
	"medical-photo-sharing/internal/domain/viewing"
	"medical-photo-sharing/internal/jobs"
	"medical-photo-sharing/internal/platform/httpclient"
	"medical-photo-sharing/internal/platform/logger"
	"medical-photo-sharing/internal/ports/directory"

	"github.com/redis/go-redis/v9"
)

// Secretos de dev para cuando se arma la app sin config (tests, modo local).
const (
	devKeyWrapSecret = "dev-key-wrap-secret-change-me"
	devTokenSecret   = "dev-token-secret"
)

type Options struct {
	Config config.Config

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB

	// Opcional: tokens de descifrado y pub/sub de notificaciones.
	Redis *redis.Client

	// Opcional: pisa el directorio armado desde config.
	Directory directory.PatientDirectory

	Log logger.Logger
}

type repos struct {
	photos        photos.Repository
	sessions      sharing.Repository
	keys          keys.Repository
	access        access.Repository
	viewing       viewing.Repository
	notifications notifications.Repository
}

// App agrupa los servicios ya cableados. Es lo que consumen el router y cmd/api.
type App struct {
	Photos        *photos.Service
	Sharing       *sharing.Service
	Keys          *keys.Manager
	Access        *access.Service
	Viewing       *viewing.Service
	Anomaly       *anomaly.Service
	Summaries     *summaries.Service
	Notifications *notifications.Service

	// Patients sólo está cuando el directorio es el in-memory (dev/tests).
	Patients *mem.PatientDirectory

	repos repos
	log   logger.Logger
}

func New(opts Options) (*App, error) {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	cfg := opts.Config

	r := buildRepos(opts.DB)

	var tokens keys.TokenStore = mem.NewTokenStore()
	if opts.Redis != nil {
		tokens = redisstore.NewTokenStore(opts.Redis)
	}

	wrapSecret := cfg.KeyWrapSecret
	if strings.TrimSpace(wrapSecret) == "" {
		log.Warn("key wrap secret not set, using dev secret", nil)
		wrapSecret = devKeyWrapSecret
	}
	tokenSecret := cfg.TokenSecret
	if strings.TrimSpace(tokenSecret) == "" {
		log.Warn("token secret not set, using dev secret", nil)
		tokenSecret = devTokenSecret
	}

	wrapper, err := keys.NewWrapper(wrapSecret)
	if err != nil {
		return nil, err
	}
	km, err := keys.NewManager(r.keys, wrapper, tokens, keys.TokenConfig{
		Secret: tokenSecret,
		Issuer: cfg.TokenIssuer,
	}, log)
	if err != nil {
		return nil, err
	}

	deliverer, err := buildDeliverer(cfg, opts.Redis, log)
	if err != nil {
		return nil, err
	}
	notifSvc := notifications.NewService(r.notifications, deliverer, log)

	photosSvc := photos.NewService(r.photos)

	sharingSvc := sharing.NewService(sharing.Deps{
		Repo:     r.sessions,
		Photos:   photosSvc,
		Keys:     km,
		Access:   r.access,
		Viewing:  r.viewing,
		Notifier: notifSvc,
		Log:      log,
	})
	accessSvc := access.NewService(r.access, sharingSvc, photosSvc, notifSvc, log)
	viewingSvc := viewing.NewService(r.viewing, accessSvc, sharingSvc, km, notifSvc, log)
	anomalySvc := anomaly.NewService(viewingSvc, sharingSvc, accessSvc, notifSvc, log)

	a := &App{
		Photos:        photosSvc,
		Sharing:       sharingSvc,
		Keys:          km,
		Access:        accessSvc,
		Viewing:       viewingSvc,
		Anomaly:       anomalySvc,
		Notifications: notifSvc,
		repos:         r,
		log:           log,
	}

	dir, err := a.buildDirectory(cfg, opts.Directory)
	if err != nil {
		return nil, err
	}
	a.Summaries = summaries.NewService(sharingSvc, accessSvc, viewingSvc, dir, log)

	return a, nil
}

func buildRepos(db *sql.DB) repos {
	if db != nil {
		return repos{
			photos:        pg.NewPhotosRepo(db),
			sessions:      pg.NewSessionsRepo(db),
			keys:          pg.NewKeysRepo(db),
			access:        pg.NewAccessRepo(db),
			viewing:       pg.NewViewingRepo(db),
			notifications: pg.NewNotificationsRepo(db),
		}
	}
	return repos{
		photos:        mem.NewPhotoRepo(),
		sessions:      mem.NewSessionRepo(),
		keys:          mem.NewKeyRepo(),
		access:        mem.NewAccessRepo(),
		viewing:       mem.NewViewingRepo(),
		notifications: mem.NewNotificationRepo(),
	}
}

// buildDeliverer: siempre log; webhook y pub/sub de Redis si están configurados.
func buildDeliverer(cfg config.Config, rdb *redis.Client, log logger.Logger) (notifications.Deliverer, error) {
	out := notifications.Multi{notifications.LogDeliverer{Log: log}}

	if url := strings.TrimSpace(cfg.NotificationWebhookURL); url != "" {
		hc, err := httpclient.New(httpclient.Options{})
		if err != nil {
			return nil, err
		}
		wh, err := webhook.New(url, hc)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	if rdb != nil {
		out = append(out, redispubsub.New(rdb))
	}
	return out, nil
}

func (a *App) buildDirectory(cfg config.Config, override directory.PatientDirectory) (directory.PatientDirectory, error) {
	if override != nil {
		return override, nil
	}
	if strings.TrimSpace(cfg.DirectoryURL) != "" {
		c, err := patientsapi.NewClient(patientsapi.Config{
			BaseURL: cfg.DirectoryURL,
			APIKey:  cfg.DirectoryAPIKey,
		})
		if err != nil {
			return nil, err
		}
		if c.IsConfigured() {
			return c, nil
		}
		a.log.Warn("patients api missing api key, using in-memory directory", nil)
	}
	a.Patients = mem.NewPatientDirectory()
	return a.Patients, nil
}

// Jobs arma las pasadas periódicas sobre los servicios.
func (a *App) Jobs(cfg config.JobsConfig) []jobs.Job {
	return jobs.FromConfig(cfg, jobs.Tasks{
		ExpireSessions:  a.Sharing.ExpireOverdue,
		CleanupKeys:     a.Keys.SweepExpired,
		EndAccess:       a.Access.EndExpired,
		ExpiryReminders: a.Sharing.SendExpiryReminders,
		AnomalySweep:    a.Anomaly.Sweep,
		Compliance: func(ctx context.Context) (int, error) {
			report, err := a.Summaries.ComplianceReport(ctx)
			if err != nil {
				return 0, err
			}
			return report.SessionsCreated, nil
		},
	})
}
