// Package alert delivers operator notifications: boot failures and consumptions that
// could not be reported.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/pour-kiosk/internal/ratelimit"
	"github.com/Proton-105/pour-kiosk/pkg/config"
)

const sendTimeout = 10 * time.Second

// Notifier delivers a plain-text alert.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every alert.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, string) error { return nil }

// Telegram posts alerts to an operator chat.
type Telegram struct {
	bot       *telebot.Bot
	chat      telebot.ChatID
	machineID string
	limiter   ratelimit.Limiter
	rule      ratelimit.Rule
	log       *slog.Logger
}

// TelegramOption customizes a Telegram notifier.
type TelegramOption func(*telebot.Settings)

// WithHTTPClient sets the client used to reach the Bot API.
func WithHTTPClient(client *http.Client) TelegramOption {
	return func(s *telebot.Settings) {
		if client != nil {
			s.Client = client
		}
	}
}

// New returns a Telegram notifier when enabled and Nop otherwise.
func New(cfg config.TelegramConfig, machineID string, limiter ratelimit.Limiter, log *slog.Logger, opts ...TelegramOption) (Notifier, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewTelegram(cfg, machineID, limiter, log, opts...)
}

// NewTelegram builds the notifier without contacting Telegram.
func NewTelegram(cfg config.TelegramConfig, machineID string, limiter ratelimit.Limiter, log *slog.Logger, opts ...TelegramOption) (*Telegram, error) {
	if log == nil {
		log = slog.Default()
	}

	settings := telebot.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: sendTimeout},
	}
	for _, opt := range opts {
		opt(&settings)
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return &Telegram{
		bot:       tb,
		chat:      telebot.ChatID(cfg.ChatID),
		machineID: machineID,
		limiter:   limiter,
		rule:      ratelimit.RuleFrom(cfg.Throttle),
		log:       log.With("component", "alert"),
	}, nil
}

// Notify sends text prefixed with the machine id. Alerts over the throttle are
// logged and dropped.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !ratelimit.Allow(ctx, t.limiter, "alerts", t.rule) {
		t.log.Warn("alert throttled", slog.String("text", text))
		return nil
	}

	message := text
	if t.machineID != "" {
		message = fmt.Sprintf("[%s] %s", t.machineID, text)
	}

	if _, err := t.bot.Send(t.chat, message); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}

	t.log.Info("alert sent", slog.Int64("chat_id", int64(t.chat)))
	return nil
}
