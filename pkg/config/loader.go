// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"os"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// env files are optional on kiosks provisioned through the environment
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// LoadFile reads the given YAML file with environment overrides applied.
func LoadFile(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Decode(v, env)
	if err != nil {
		return nil, nil, err
	}

	return cfg, v, nil
}

// Decode unmarshals and validates the current viper state.
func Decode(v *viper.Viper, env string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if !cfg.API.UseMock && (cfg.API.SaaSURL == "" || cfg.API.EdgeURL == "") {
		return fmt.Errorf("validate config: api.saas_url and api.edge_url are required unless api.use_mock is set")
	}

	if _, err := cfg.SigningSecret(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	return nil
}

// SetDefaults registers the documented defaults on v.
func SetDefaults(v *viper.Viper) {
	// Keys without a useful default are registered empty so AutomaticEnv can fill them.
	for _, key := range []string{
		"app.machine_id", "security.hmac_secret", "api.api_key", "api.saas_url", "api.edge_url",
		"payment.edge_payments_url", "redis.password", "store.postgres_dsn",
		"sentry.dsn", "alerts.telegram.token",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("alerts.telegram.enabled", false)
	v.SetDefault("alerts.telegram.chat_id", 0)
	v.SetDefault("sentry.enabled", false)

	v.SetDefault("app.volumes", []int{200, 300, 400, 500})
	v.SetDefault("app.flow_rate", 20.0)

	v.SetDefault("ui.boot_duration_ms", 3000)
	v.SetDefault("ui.idle_timeout_ms", 0)
	v.SetDefault("ui.confirm_age_timeout_ms", 30000)
	v.SetDefault("ui.select_volume_timeout_ms", 30000)
	v.SetDefault("ui.select_payment_timeout_ms", 30000)
	v.SetDefault("ui.awaiting_payment_timeout_ms", 120000)
	v.SetDefault("ui.dispensing_timeout_ms", 150000)
	v.SetDefault("ui.finished_timeout_ms", 5000)
	v.SetDefault("ui.polling_ms", 300)
	v.SetDefault("ui.poll_max_failures", 3)

	v.SetDefault("security.token_validity_seconds", 90)
	v.SetDefault("security.tap_id", 1)

	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.authorize_timeout", "150s")

	v.SetDefault("payment.poll_interval", "1s")
	v.SetDefault("payment.timeout", "5m")
	v.SetDefault("payment.simulated_delay", "2s")

	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.prefix", "bierpass_")
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("diagnostics.addr", ":9090")
	v.SetDefault("diagnostics.shutdown_timeout", "5s")
	v.SetDefault("diagnostics.action_limit.limit", 10)
	v.SetDefault("diagnostics.action_limit.window", "1s")

	v.SetDefault("alerts.telegram.throttle.limit", 10)
	v.SetDefault("alerts.telegram.throttle.window", "1m")

	v.SetDefault("i18n.default_lang", "pt-br")
	v.SetDefault("recovery.resume_dispensing", true)
}
