package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/i18n"
	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
)

// Renderer puts a screen on the display.
type Renderer interface {
	Render(ctx context.Context, screen Screen) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, screen Screen) error

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, screen Screen) error {
	return f(ctx, screen)
}

// CatalogSource supplies the offer shown on the selection screens.
type CatalogSource interface {
	Catalog() remote.Catalog
	Volumes() []int
}

// Commands are the customer actions a button can trigger.
type Commands interface {
	SelectBeverage(ctx context.Context, beverageID string) error
	ConfirmAge(ctx context.Context, confirmed bool) error
	SelectVolume(ctx context.Context, volumeML int) error
	SelectPayment(ctx context.Context, method string) error
	Back(ctx context.Context) error
	CancelPayment(ctx context.Context) error
}

// Presenter renders a screen on every session transition and keeps the last one for
// diagnostics. It owns the idle screen's page, the only display state not kept in
// the session.
type Presenter struct {
	screens  Screens
	renderer Renderer
	tr       i18n.Translator
	source   CatalogSource
	pageSize int
	log      *slog.Logger

	mu      sync.Mutex
	page    int
	current state.State
	data    state.Data
	last    Screen
}

// NewPresenter creates a Presenter. A nil translator shows raw message keys.
func NewPresenter(screens Screens, renderer Renderer, tr i18n.Translator, source CatalogSource, log *slog.Logger) *Presenter {
	if log == nil {
		log = slog.Default()
	}
	if tr == nil {
		var m *i18n.Manager
		tr = m.Default()
	}

	return &Presenter{
		screens:  screens,
		renderer: renderer,
		tr:       tr,
		source:   source,
		pageSize: DefaultPageSize,
		log:      log.With("component", "ui"),
		page:     1,
	}
}

// OnChange is a state.Observer.
func (p *Presenter) OnChange(change state.Change) {
	p.mu.Lock()
	if change.To == state.StateIdle && change.From != state.StateIdle {
		p.page = 1
	}
	p.current = change.To
	p.data = change.Data
	p.mu.Unlock()

	if err := p.show(context.Background()); err != nil {
		p.log.Error("screen render failed", "state", string(change.To), "error", err)
	}
}

// Current returns the last rendered screen.
func (p *Presenter) Current() Screen {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// ShowBootError renders the static error screen of a failed boot.
func (p *Presenter) ShowBootError(ctx context.Context, err error) {
	screen := ErrorScreen(p.tr, err)

	p.mu.Lock()
	p.last = screen
	p.mu.Unlock()

	if renderErr := p.renderer.Render(ctx, screen); renderErr != nil {
		p.log.Error("boot error screen render failed", "error", renderErr)
	}
}

// Dispatch decodes a button action and runs it. Page turns are handled here; every
// other action is forwarded to cmds.
func (p *Presenter) Dispatch(ctx context.Context, cmds Commands, action string) error {
	kind, value, err := DecodeAction(action)
	if err != nil {
		return apperrors.NewValidationError(err.Error())
	}

	switch kind {
	case ActionPage:
		page, err := strconv.Atoi(value)
		if err != nil || page < 1 {
			return apperrors.NewValidationError(fmt.Sprintf("invalid page %q", value))
		}
		p.mu.Lock()
		p.page = page
		p.mu.Unlock()
		return p.show(ctx)
	case ActionBeverage:
		if value == "" {
			return apperrors.NewValidationError("beverage action without id")
		}
		return cmds.SelectBeverage(ctx, value)
	case ActionAge:
		switch value {
		case "yes":
			return cmds.ConfirmAge(ctx, true)
		case "no":
			return cmds.ConfirmAge(ctx, false)
		}
		return apperrors.NewValidationError(fmt.Sprintf("invalid age answer %q", value))
	case ActionVolume:
		ml, err := strconv.Atoi(value)
		if err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("invalid volume %q", value))
		}
		return cmds.SelectVolume(ctx, ml)
	case ActionPay:
		return cmds.SelectPayment(ctx, value)
	case ActionBack:
		return cmds.Back(ctx)
	case ActionCancel:
		return cmds.CancelPayment(ctx)
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown action %q", kind))
	}
}

func (p *Presenter) show(ctx context.Context) error {
	p.mu.Lock()
	view := View{
		Tr:       p.tr,
		Data:     p.data,
		Page:     p.page,
		PageSize: p.pageSize,
	}
	current := p.current
	p.mu.Unlock()

	if view.Data == nil {
		view.Data = state.Data{}
	}
	if p.source != nil {
		view.Catalog = p.source.Catalog()
		view.Volumes = p.source.Volumes()
	}

	render, ok := p.screens.For(current)
	if !ok {
		return fmt.Errorf("no screen for state %q", current)
	}

	screen, err := render(view)
	if err != nil {
		return fmt.Errorf("render %s: %w", current, err)
	}

	p.mu.Lock()
	p.last = screen
	p.mu.Unlock()

	return p.renderer.Render(ctx, screen)
}

// LogRenderer writes screens to the structured log. It stands in for the display on
// headless kiosks and in development.
type LogRenderer struct {
	log *slog.Logger
}

// NewLogRenderer creates a LogRenderer.
func NewLogRenderer(log *slog.Logger) *LogRenderer {
	if log == nil {
		log = slog.Default()
	}
	return &LogRenderer{log: log.With("component", "display")}
}

// Render logs the screen.
func (r *LogRenderer) Render(ctx context.Context, screen Screen) error {
	buttons := make([]string, 0)
	for _, row := range screen.Buttons {
		for _, btn := range row {
			buttons = append(buttons, btn.Label)
		}
	}

	r.log.InfoContext(ctx, "screen",
		"state", string(screen.State),
		"title", screen.Title,
		"lines", screen.Lines,
		"buttons", buttons,
	)
	return nil
}
