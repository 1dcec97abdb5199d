package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	// Si DatabaseURL está vacío se usan repos in-memory (modo dev).
	DatabaseURL string `yaml:"database_url"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// Secretos de dev; en prod vienen por env/archivo.
	KeyWrapSecret string `yaml:"key_wrap_secret"`
	TokenSecret   string `yaml:"token_secret"`
	TokenIssuer   string `yaml:"token_issuer"`

	// AuthJWTSecret habilita el verifier JWT; vacío => header X-Debug-User-ID.
	AuthJWTSecret string `yaml:"auth_jwt_secret"`

	// AuthIntrospectURL delega la verificación en el proveedor de identidad.
	AuthIntrospectURL    string `yaml:"auth_introspect_url"`
	AuthIntrospectAPIKey string `yaml:"auth_introspect_api_key"`

	NotificationWebhookURL string `yaml:"notification_webhook_url"`
	NotificationWorkers    int    `yaml:"notification_workers"`
	NotificationQueueSize  int    `yaml:"notification_queue_size"`

	DirectoryURL    string `yaml:"directory_url"`
	DirectoryAPIKey string `yaml:"directory_api_key"`

	Jobs JobsConfig `yaml:"jobs"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	AppName   string `yaml:"app_name"`
}

type JobsConfig struct {
	Enabled bool `yaml:"enabled"`

	ExpireSessionsInterval  time.Duration `yaml:"expire_sessions_interval"`
	CleanupKeysInterval     time.Duration `yaml:"cleanup_keys_interval"`
	EndAccessInterval       time.Duration `yaml:"end_access_interval"`
	ExpiryRemindersInterval time.Duration `yaml:"expiry_reminders_interval"`
	AnomalySweepInterval    time.Duration `yaml:"anomaly_sweep_interval"`
	ComplianceInterval      time.Duration `yaml:"compliance_interval"`
	Timeout                 time.Duration `yaml:"timeout"`
}

// Load lee env con defaults. Si CONFIG_FILE apunta a un YAML, sus valores
// no vacíos pisan a los de env.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:               getenv("HTTP_ADDR", ":"+getenv("PORT", "8080")),
		DatabaseURL:            os.Getenv("DB_DSN"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		KeyWrapSecret:          getenv("KEY_WRAP_SECRET", "dev-key-wrap-secret-change-me"),
		TokenSecret:            getenv("TOKEN_SECRET", "dev-token-secret"),
		TokenIssuer:            getenv("TOKEN_ISSUER", "medical-photo-sharing"),
		AuthJWTSecret:          os.Getenv("AUTH_JWT_SECRET"),
		AuthIntrospectURL:      os.Getenv("AUTH_INTROSPECT_URL"),
		AuthIntrospectAPIKey:   os.Getenv("AUTH_INTROSPECT_API_KEY"),
		NotificationWebhookURL: os.Getenv("NOTIFICATION_WEBHOOK_URL"),
		NotificationWorkers:    getenvInt("NOTIFICATION_WORKERS", 2),
		NotificationQueueSize:  getenvInt("NOTIFICATION_QUEUE_SIZE", 256),
		DirectoryURL:           os.Getenv("DIRECTORY_URL"),
		DirectoryAPIKey:        os.Getenv("DIRECTORY_API_KEY"),
		Jobs: JobsConfig{
			Enabled:                 getenvBool("JOBS_ENABLED", true),
			ExpireSessionsInterval:  getenvDuration("JOB_EXPIRE_SESSIONS_INTERVAL", 5*time.Minute),
			CleanupKeysInterval:     getenvDuration("JOB_CLEANUP_KEYS_INTERVAL", 15*time.Minute),
			EndAccessInterval:       getenvDuration("JOB_END_ACCESS_INTERVAL", 5*time.Minute),
			ExpiryRemindersInterval: getenvDuration("JOB_EXPIRY_REMINDERS_INTERVAL", 24*time.Hour),
			AnomalySweepInterval:    getenvDuration("JOB_ANOMALY_SWEEP_INTERVAL", time.Hour),
			ComplianceInterval:      getenvDuration("JOB_COMPLIANCE_INTERVAL", 24*time.Hour),
			Timeout:                 getenvDuration("JOB_TIMEOUT", 30*time.Second),
		},
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "text"),
		AppName:   getenv("APP_NAME", "medical-photo-sharing"),
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.KeyWrapSecret) == "" {
		return fmt.Errorf("config: key_wrap_secret required")
	}
	if strings.TrimSpace(c.TokenSecret) == "" {
		return fmt.Errorf("config: token_secret required")
	}
	if secret := strings.TrimSpace(c.AuthJWTSecret); secret != "" && secret == strings.TrimSpace(c.TokenSecret) {
		return fmt.Errorf("config: auth_jwt_secret must differ from token_secret")
	}
	if c.NotificationWorkers < 0 {
		return fmt.Errorf("config: notification_workers must be >= 0")
	}
	return nil
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return overlayYAML(cfg, raw)
}

// overlayYAML decodifica sobre una copia y sólo aplica campos presentes.
// yaml.v3 deja intactos los campos ausentes, así que alcanza con decodificar encima.
func overlayYAML(cfg *Config, raw []byte) error {
	next := *cfg
	if err := yaml.Unmarshal(raw, &next); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	*cfg = next
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
