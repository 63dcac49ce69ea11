package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Proton-105/pour-kiosk/internal/alert"
	"github.com/Proton-105/pour-kiosk/internal/diagnostics"
	apperrors "github.com/Proton-105/pour-kiosk/internal/errors"
	"github.com/Proton-105/pour-kiosk/internal/health"
	"github.com/Proton-105/pour-kiosk/internal/i18n"
	"github.com/Proton-105/pour-kiosk/internal/kiosk"
	"github.com/Proton-105/pour-kiosk/internal/lifecycle"
	"github.com/Proton-105/pour-kiosk/internal/payment"
	"github.com/Proton-105/pour-kiosk/internal/poller"
	"github.com/Proton-105/pour-kiosk/internal/ratelimit"
	"github.com/Proton-105/pour-kiosk/internal/recovery"
	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/internal/store"
	"github.com/Proton-105/pour-kiosk/internal/token"
	"github.com/Proton-105/pour-kiosk/internal/ui"
	"github.com/Proton-105/pour-kiosk/pkg/config"
	"github.com/Proton-105/pour-kiosk/pkg/graceful"
	"github.com/Proton-105/pour-kiosk/pkg/logger"
	"github.com/Proton-105/pour-kiosk/pkg/metrics"
)

const (
	limiterCleanupInterval = time.Minute
	limiterMaxIdle         = 10 * time.Minute
	collectorInterval      = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitSentry(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}

	log := logger.New(cfg)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log, func(apply func(*config.Config)) {
		config.Watch(v, cfg.AppEnv, apply, func(err error) {
			log.Warn("config reload rejected", "error", err)
		})
	}); err != nil {
		log.Error("kiosk stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, watch func(func(*config.Config))) error {
	log.Info("starting kiosk",
		"store", cfg.Store.Backend,
		"mock", cfg.API.UseMock,
		"diagnostics", cfg.Diagnostics.Addr,
	)

	secret, err := cfg.SigningSecret()
	if err != nil {
		return err
	}
	if secret == config.DefaultHMACSecret {
		log.Warn("using the default token signing secret")
	}

	translations, err := i18n.Load(cfg.I18n.DefaultLang)
	if err != nil {
		return fmt.Errorf("load translations: %w", err)
	}

	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	st := store.New(backend, cfg.Store.Prefix, log)

	shutdown := lifecycle.NewShutdown(log)
	shutdown.RegisterFinal("store", func(context.Context) error { return st.Close() })

	limiter := ratelimit.NewMemoryLimiter(log)
	go ratelimit.NewCleaner(limiter, log, limiterCleanupInterval, limiterMaxIdle).Run(ctx)

	alerts, err := alert.New(cfg.Alerts.Telegram, cfg.App.MachineID, limiter, log)
	if err != nil {
		return fmt.Errorf("init alerts: %w", err)
	}

	var (
		client    remote.Client
		payments  payment.Provider
		ctrlOpts  []kiosk.Option
		transport = &http.Client{Timeout: cfg.API.Timeout}
	)
	if cfg.API.UseMock {
		sim := remote.NewSimulator(log)
		client = sim
		payments = payment.NewSimulator(cfg.Payment.SimulatedDelay, log)
		ctrlOpts = append(ctrlOpts, kiosk.WithSimulator(sim))
	} else {
		client = remote.NewHTTPClient(cfg.API, log)
		payments = payment.NewEdgeProvider(cfg.Payment, transport, log)
	}

	tokens, err := token.NewGenerator(secret,
		token.WithValidity(cfg.Security.TokenValidity()),
		token.WithTapID(cfg.Security.TapID),
	)
	if err != nil {
		return fmt.Errorf("init token generator: %w", err)
	}

	machine := state.NewMachine(st, log,
		state.WithTimeouts(state.TimeoutsFromConfig(cfg.UI)),
		state.WithPollingInterval(cfg.UI.PollingInterval()),
	)
	statusPoller := poller.New(client, machine, log, poller.WithMaxFailures(cfg.UI.PollMaxFailures))
	machine.AttachPoller(statusPoller)

	ctrl := kiosk.New(kiosk.Settings{
		MachineID: cfg.App.MachineID,
		Volumes:   cfg.App.Volumes,
		FlowRate:  cfg.App.FlowRate,
	}, kiosk.Deps{
		Session:  machine,
		Remote:   client,
		Payments: payments,
		Tokens:   tokens,
		Store:    st,
		Alerts:   alerts,
		Errors:   apperrors.NewHandler(log, cfg.Sentry.Enabled),
		Log:      log,
	}, ctrlOpts...)
	statusPoller.Subscribe(ctrl.HandlePollerEvent)

	shutdown.Register("poller", func(context.Context) error {
		statusPoller.Stop()
		return nil
	})
	shutdown.Register("controller", func(context.Context) error {
		ctrl.Close()
		return nil
	})

	presenter := ui.NewPresenter(ui.DefaultScreens(), ui.NewLogRenderer(log), translations.Default(), ctrl, log)
	machine.Subscribe(presenter.OnChange)

	checker := health.NewChecker(log)
	checker.AddCheck("store", health.NewPingChecker(st))
	probes := lifecycle.NewProbes(checker, log)

	diag := diagnostics.New(diagnostics.Deps{
		Probes:      probes,
		Session:     machine,
		Pending:     st,
		Display:     presenter,
		Commands:    ctrl,
		Limiter:     limiter,
		ActionLimit: ratelimit.RuleFrom(cfg.Diagnostics.ActionLimit),
		Log:         log,
	})
	server := graceful.NewServer(log, &http.Server{
		Addr:              cfg.Diagnostics.Addr,
		Handler:           diag.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}, cfg.Diagnostics.ShutdownTimeout)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.ListenAndServe(ctx) }()

	go metrics.NewStateCollector(machine, st, collectorInterval).Run(ctx)

	watch(func(next *config.Config) {
		machine.SetTimeouts(state.TimeoutsFromConfig(next.UI))
		machine.SetPollingInterval(next.UI.PollingInterval())
		logger.SetLevel(next.Logger.Level)
		log.Info("config reloaded", "polling", next.UI.PollingInterval(), "log_level", next.Logger.Level)
	})

	result := recovery.New(recovery.Config{
		MachineID:        cfg.App.MachineID,
		ResumeDispensing: cfg.Recovery.ResumeDispensing,
	}, st, client, client, alerts, log).Run(ctx)

	if err := ctrl.Boot(ctx); err != nil {
		log.Error("boot failed, entering diagnostic mode", "error", err)
		presenter.ShowBootError(ctx, err)
		probes.MarkBootFailed(err)
		if alertErr := alerts.Notify(ctx, fmt.Sprintf("Boot failed: %v", err)); alertErr != nil {
			log.Warn("boot failure alert not delivered", "error", alertErr)
		}
	} else {
		probes.MarkBooted()
		if err := ctrl.Resume(ctx, result.Resume); err != nil {
			log.Error("dispense resume failed", "error", err)
		}
	}

	serverDone := false
	select {
	case <-ctx.Done():
	case srvErr := <-serverErr:
		serverDone = true
		if srvErr != nil {
			log.Error("diagnostics server stopped", "error", srvErr)
		}
		<-ctx.Done()
	}

	log.Info("kiosk shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Diagnostics.ShutdownTimeout)
	defer cancel()

	err = shutdown.Execute(shutdownCtx)

	if !serverDone {
		select {
		case srvErr := <-serverErr:
			err = errors.Join(err, srvErr)
		case <-shutdownCtx.Done():
		}
	}

	return err
}
