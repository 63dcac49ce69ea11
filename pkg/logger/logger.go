// Package logger builds the kiosk's structured slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Proton-105/pour-kiosk/pkg/config"
)

// level is shared by every logger built with New so a config reload can change it.
var level slog.LevelVar

// SetLevel changes the minimum level of loggers built with New.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// New creates the process logger from cfg: JSON or text output to stdout and an optional
// rotated file, sensitive attributes masked, and error records mirrored to Sentry when enabled.
func New(cfg *config.Config) *slog.Logger {
	if cfg == nil {
		return slog.Default()
	}

	SetLevel(cfg.Logger.Level)

	var out io.Writer = os.Stdout
	if cfg.Logger.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Logger.File,
			MaxSize:    cfg.Logger.MaxSizeMB,
			MaxBackups: cfg.Logger.MaxBackups,
			MaxAge:     cfg.Logger.MaxAgeDays,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: &level}

	var base slog.Handler
	if strings.EqualFold(cfg.Logger.Format, "text") {
		base = slog.NewTextHandler(out, opts)
	} else {
		base = slog.NewJSONHandler(out, opts)
	}

	handler := slog.Handler(NewMaskingHandler(base))
	if cfg.Sentry.Enabled {
		sentryHandler := slogsentry.Option{Level: slog.LevelError, AddSource: true}.NewSentryHandler()
		handler = slogmulti.Fanout(handler, NewMaskingHandler(sentryHandler))
	}

	return slog.New(handler).With(
		slog.String("machine_id", cfg.App.MachineID),
		slog.String("env", cfg.AppEnv),
	)
}

// InitSentry configures the global Sentry client. It is a no-op when Sentry is disabled.
func InitSentry(cfg *config.Config) error {
	if cfg == nil || !cfg.Sentry.Enabled {
		return nil
	}

	env := cfg.Sentry.Environment
	if env == "" {
		env = cfg.AppEnv
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: env,
		SampleRate:  cfg.Sentry.SampleRate,
		ServerName:  cfg.App.MachineID,
	}); err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}

	return nil
}

// ParseLevel maps a config level name onto slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
