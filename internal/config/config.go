package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Providers   ProvidersConfig
	Security    SecurityConfig
	Payments    PaymentsConfig
	Services    ServicesConfig
}

type ServerConfig struct {
	Port         int
	BodyLimit    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Path string
}

// ProvidersConfig carries the webhook verification material. An empty secret
// disables verification for that provider; outside local development that is
// a hard failure at request time, not at startup, so the other providers keep
// serving.
type ProvidersConfig struct {
	StripeWebhookSecret string
	PayPalWebhookID     string
	ClerkWebhookSecret  string
}

type SecurityConfig struct {
	MaxTimestampAgeSeconds    int
	MaxTimestampFutureSeconds int
	IdempotencyCapacity       int
	IdempotencyTTLSeconds     int
	FailureWindowSeconds      int
	FailureThreshold          int
}

type PaymentsConfig struct {
	RetryAttempts       int
	HighValueAlertMinor int64
}

type ServicesConfig struct {
	LedgerURL      string
	DocumentsURL   string
	NotifyWebhook  string
	AdminEmail     string
	AlertBudget    int
	AlertWindowSec int
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("payhook_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("payhook_port", 8080)
	v.SetDefault("payhook_body_limit", "1M")
	v.SetDefault("payhook_read_timeout_sec", 10)
	v.SetDefault("payhook_write_timeout_sec", 30)
	v.SetDefault("payhook_db_path", "data/payhook")
	v.SetDefault("payhook_max_timestamp_age_sec", 300)
	v.SetDefault("payhook_max_timestamp_future_sec", 60)
	v.SetDefault("payhook_idempotency_capacity", 10000)
	v.SetDefault("payhook_idempotency_ttl_sec", 300)
	v.SetDefault("payhook_failure_window_sec", 300)
	v.SetDefault("payhook_failure_threshold", 5)
	v.SetDefault("payhook_retry_attempts", 3)
	v.SetDefault("payhook_high_value_alert_minor", 10000)
	v.SetDefault("payhook_ledger_url", "")
	v.SetDefault("payhook_documents_url", "")
	v.SetDefault("payhook_notify_webhook", "")
	v.SetDefault("payhook_admin_email", "")
	v.SetDefault("payhook_alert_budget", 3)
	v.SetDefault("payhook_alert_window_sec", 300)

	env := resolveEnvironment(v)
	port := v.GetInt("payhook_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid PAYHOOK_PORT: %d", port)
	}

	retryAttempts := v.GetInt("payhook_retry_attempts")
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	if retryAttempts > 10 {
		retryAttempts = 10
	}

	capacity := v.GetInt("payhook_idempotency_capacity")
	if capacity <= 0 {
		capacity = 10000
	}
	if capacity > 1_000_000 {
		capacity = 1_000_000
	}

	threshold := v.GetInt("payhook_failure_threshold")
	if threshold <= 0 {
		threshold = 5
	}

	cfg := Config{
		Environment: env,
		Server: ServerConfig{
			Port:         port,
			BodyLimit:    strings.TrimSpace(v.GetString("payhook_body_limit")),
			ReadTimeout:  time.Duration(v.GetInt("payhook_read_timeout_sec")) * time.Second,
			WriteTimeout: time.Duration(v.GetInt("payhook_write_timeout_sec")) * time.Second,
		},
		Database: DatabaseConfig{
			Path: strings.TrimSpace(v.GetString("payhook_db_path")),
		},
		Providers: ProvidersConfig{
			StripeWebhookSecret: strings.TrimSpace(v.GetString("stripe_webhook_secret")),
			PayPalWebhookID:     strings.TrimSpace(v.GetString("paypal_webhook_id")),
			ClerkWebhookSecret:  strings.TrimSpace(v.GetString("clerk_webhook_secret")),
		},
		Security: SecurityConfig{
			MaxTimestampAgeSeconds:    v.GetInt("payhook_max_timestamp_age_sec"),
			MaxTimestampFutureSeconds: v.GetInt("payhook_max_timestamp_future_sec"),
			IdempotencyCapacity:       capacity,
			IdempotencyTTLSeconds:     v.GetInt("payhook_idempotency_ttl_sec"),
			FailureWindowSeconds:      v.GetInt("payhook_failure_window_sec"),
			FailureThreshold:          threshold,
		},
		Payments: PaymentsConfig{
			RetryAttempts:       retryAttempts,
			HighValueAlertMinor: v.GetInt64("payhook_high_value_alert_minor"),
		},
		Services: ServicesConfig{
			LedgerURL:      strings.TrimSpace(v.GetString("payhook_ledger_url")),
			DocumentsURL:   strings.TrimSpace(v.GetString("payhook_documents_url")),
			NotifyWebhook:  strings.TrimSpace(v.GetString("payhook_notify_webhook")),
			AdminEmail:     strings.TrimSpace(v.GetString("payhook_admin_email")),
			AlertBudget:    v.GetInt("payhook_alert_budget"),
			AlertWindowSec: v.GetInt("payhook_alert_window_sec"),
		},
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/payhook"
	}
	if !cfg.IsLocalDevelopment() && cfg.Services.LedgerURL == "" {
		return Config{}, fmt.Errorf("PAYHOOK_LEDGER_URL is required outside local/dev environments")
	}

	return cfg, nil
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

func (c Config) TimestampMaxAge() time.Duration {
	return time.Duration(c.Security.MaxTimestampAgeSeconds) * time.Second
}

func (c Config) TimestampMaxFuture() time.Duration {
	return time.Duration(c.Security.MaxTimestampFutureSeconds) * time.Second
}

func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.Security.IdempotencyTTLSeconds) * time.Second
}

func (c Config) FailureWindow() time.Duration {
	return time.Duration(c.Security.FailureWindowSeconds) * time.Second
}

func (c Config) AlertWindow() time.Duration {
	return time.Duration(c.Services.AlertWindowSec) * time.Second
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"payhook_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
