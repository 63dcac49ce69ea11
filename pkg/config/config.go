package config

import (
	"fmt"
	"time"
)

// DefaultHMACSecret is only accepted outside production.
const DefaultHMACSecret = "bierpass_edge_secret_key_2025_change_in_production"

// Config holds runtime configuration for the kiosk controller.
type Config struct {
	AppEnv      string            `mapstructure:"-"`
	App         AppConfig         `mapstructure:"app"`
	UI          UIConfig          `mapstructure:"ui"`
	Security    SecurityConfig    `mapstructure:"security"`
	API         APIConfig         `mapstructure:"api"`
	Payment     PaymentConfig     `mapstructure:"payment"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	I18n        I18nConfig        `mapstructure:"i18n"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
}

// AppConfig identifies the kiosk.
type AppConfig struct {
	MachineID string `mapstructure:"machine_id" validate:"required"`
	Debug     bool   `mapstructure:"debug"`
	Volumes   []int  `mapstructure:"volumes" validate:"required,min=1,dive,gt=0"`
	// FlowRate is the nominal tap flow in ml/s used for dispense time estimates.
	FlowRate float64 `mapstructure:"flow_rate" validate:"gt=0"`
}

// UIConfig carries per-state timeouts in milliseconds. Zero disables a timeout.
type UIConfig struct {
	BootDurationMS           int `mapstructure:"boot_duration_ms" validate:"gte=0"`
	IdleTimeoutMS            int `mapstructure:"idle_timeout_ms" validate:"gte=0"`
	ConfirmAgeTimeoutMS      int `mapstructure:"confirm_age_timeout_ms" validate:"gte=0"`
	SelectVolumeTimeoutMS    int `mapstructure:"select_volume_timeout_ms" validate:"gte=0"`
	SelectPaymentTimeoutMS   int `mapstructure:"select_payment_timeout_ms" validate:"gte=0"`
	AwaitingPaymentTimeoutMS int `mapstructure:"awaiting_payment_timeout_ms" validate:"gte=0"`
	DispensingTimeoutMS      int `mapstructure:"dispensing_timeout_ms" validate:"gte=0"`
	FinishedTimeoutMS        int `mapstructure:"finished_timeout_ms" validate:"gte=0"`
	PollingMS                int `mapstructure:"polling_ms" validate:"gt=0"`
	// PollMaxFailures is how many consecutive status query failures end a pour.
	PollMaxFailures int `mapstructure:"poll_max_failures" validate:"gt=0"`
}

// PollingInterval returns the dispense status polling cadence.
func (u UIConfig) PollingInterval() time.Duration {
	return time.Duration(u.PollingMS) * time.Millisecond
}

// SecurityConfig configures dispense token signing.
type SecurityConfig struct {
	HMACSecret           string `mapstructure:"hmac_secret"`
	TokenValiditySeconds int    `mapstructure:"token_validity_seconds" validate:"gt=0"`
	TapID                int    `mapstructure:"tap_id" validate:"gt=0"`
}

// TokenValidity returns the configured token lifetime.
func (s SecurityConfig) TokenValidity() time.Duration {
	return time.Duration(s.TokenValiditySeconds) * time.Second
}

// APIConfig configures the sales backend and dispensing gateway endpoints.
type APIConfig struct {
	SaaSURL          string        `mapstructure:"saas_url" validate:"omitempty,url"`
	EdgeURL          string        `mapstructure:"edge_url" validate:"omitempty,url"`
	APIKey           string        `mapstructure:"api_key"`
	UseMock          bool          `mapstructure:"use_mock"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	AuthorizeTimeout time.Duration `mapstructure:"authorize_timeout" validate:"gt=0"`
}

// PaymentConfig configures the payment collaborator.
type PaymentConfig struct {
	EdgePaymentsURL string        `mapstructure:"edge_payments_url" validate:"omitempty,url"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	SimulatedDelay  time.Duration `mapstructure:"simulated_delay" validate:"gte=0"`
}

// StoreConfig selects and configures the persistent store backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" validate:"oneof=redis badger postgres memory"`
	Prefix      string `mapstructure:"prefix"`
	BadgerPath  string `mapstructure:"badger_path" validate:"required_if=Backend badger"`
	PostgresDSN string `mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
}

// RedisConfig configures the Redis connection used by the redis store backend.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int           `mapstructure:"min_idle_conns" validate:"gte=0"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// AlertsConfig configures operator notifications.
type AlertsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig configures the Telegram operator channel.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token" validate:"required_if=Enabled true"`
	ChatID  int64  `mapstructure:"chat_id" validate:"required_if=Enabled true"`
	URL     string `mapstructure:"url" validate:"omitempty,url"`
	// Throttle caps how many alerts reach the chat per window.
	Throttle RateLimitRule `mapstructure:"throttle"`
}

// RateLimitRule is a sliding-window limit. A zero Limit disables it.
type RateLimitRule struct {
	Limit  int           `mapstructure:"limit" validate:"gte=0"`
	Window time.Duration `mapstructure:"window" validate:"gte=0"`
}

// DiagnosticsConfig configures the local operator HTTP surface.
type DiagnosticsConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// ActionLimit throttles button actions posted to the local action endpoint.
	ActionLimit RateLimitRule `mapstructure:"action_limit"`
}

// I18nConfig configures user-facing message catalogs.
type I18nConfig struct {
	DefaultLang string `mapstructure:"default_lang" validate:"required"`
}

// RecoveryConfig configures startup reconciliation.
type RecoveryConfig struct {
	ResumeDispensing bool `mapstructure:"resume_dispensing"`
}

// IsProduction reports whether the kiosk runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SigningSecret returns the configured HMAC secret, falling back to the default outside production.
func (c *Config) SigningSecret() (string, error) {
	if c.Security.HMACSecret != "" {
		return c.Security.HMACSecret, nil
	}
	if c.IsProduction() {
		return "", fmt.Errorf("security.hmac_secret is required in production")
	}
	return DefaultHMACSecret, nil
}
