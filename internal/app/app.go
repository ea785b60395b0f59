package app

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

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/courier/internal/api"
	"github.com/foxzi/courier/internal/audience"
	"github.com/foxzi/courier/internal/broadcast"
	"github.com/foxzi/courier/internal/channel"
	"github.com/foxzi/courier/internal/config"
	"github.com/foxzi/courier/internal/directory"
	"github.com/foxzi/courier/internal/dkim"
	"github.com/foxzi/courier/internal/dispatch"
	"github.com/foxzi/courier/internal/events"
	"github.com/foxzi/courier/internal/metrics"
	"github.com/foxzi/courier/internal/offer"
	"github.com/foxzi/courier/internal/ratelimit"
	"github.com/foxzi/courier/internal/reminder"
	"github.com/foxzi/courier/internal/sandbox"
	"github.com/foxzi/courier/internal/storage"
	"github.com/foxzi/courier/internal/template"
	courierTLS "github.com/foxzi/courier/internal/tls"
)

// App is the main application
type App struct {
	config         *config.Config
	db             *bolt.DB
	directory      directory.Directory
	bus            *events.Bus
	rateLimiter    *ratelimit.Limiter
	whatsApp       *channel.WhatsAppSender
	campaigns      *broadcast.Service
	worker         *broadcast.Worker
	scheduler      *reminder.Scheduler
	sandboxStorage *sandbox.Storage
	collector      *metrics.Collector
	metricsServer  *metrics.Server
	apiServer      *api.Server
	acmeManager    *courierTLS.ACMEManager
	acmeServer     *http.Server
	logger         *slog.Logger

	routerChannels []channel.Channel
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	return NewWithLogger(cfg, setupLogger(cfg.Logging))
}

// NewWithLogger creates a new application logging to logger
func NewWithLogger(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}
	if err := a.init(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init() (err error) {
	cfg, logger := a.config, a.logger

	a.db, err = storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}

	a.directory, err = directory.Open(context.Background(), cfg.Directory)
	if err != nil {
		return fmt.Errorf("failed to open client directory: %w", err)
	}
	logger.Info("client directory opened", "driver", cfg.Directory.Driver)

	a.bus = events.NewBus(logger.With("component", "events"))

	a.sandboxStorage, err = sandbox.NewStorage(a.db)
	if err != nil {
		return fmt.Errorf("failed to create sandbox storage: %w", err)
	}

	if cfg.RateLimit.Enabled {
		rlConfig := cfg.RateLimit.Config
		a.rateLimiter, err = ratelimit.NewLimiter(a.db, &rlConfig)
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("rate limiting enabled")
	}

	router, err := a.buildRouter()
	if err != nil {
		return err
	}

	engine := template.NewEngine()
	resolver := audience.NewResolver(a.directory, logger.With("component", "audience"))
	dispatcher := dispatch.New(resolver, router, engine, a.bus, dispatch.Config{
		Concurrency:    cfg.Dispatch.Concurrency,
		CostPerMessage: cfg.CostPerMessage(),
	}, logger.With("component", "dispatch"))

	campaignStore, err := broadcast.NewStorage(a.db)
	if err != nil {
		return fmt.Errorf("failed to create campaign storage: %w", err)
	}
	a.campaigns = broadcast.NewService(campaignStore, dispatcher, a.bus, logger.With("component", "broadcast"))
	a.worker = broadcast.NewWorker(a.campaigns, cfg.Broadcast.PollInterval, logger)

	offerStore, err := offer.NewStorage(a.db)
	if err != nil {
		return fmt.Errorf("failed to create offer storage: %w", err)
	}
	offers := offer.NewService(offerStore, logger.With("component", "offers"))

	a.scheduler, err = a.buildScheduler(dispatcher, engine)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		a.collector, err = metrics.NewCollector(a.db, metrics.New(), a.campaigns, cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.bus.Subscribe(a.collector.Handle)
		a.metricsServer = metrics.NewServer(
			a.collector.Metrics(),
			cfg.Metrics.ListenAddr,
			cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"),
		)
	}

	a.apiServer = api.NewServer(api.Services{
		Campaigns: a.campaigns,
		Offers:    offers,
		Reminders: a.scheduler,
		Sandbox:   a.sandboxStorage,
		Collector: a.collector,
	}, &cfg.API, logger.With("component", "api"))

	tlsConfig, acmeManager, err := courierTLS.Setup(cfg.API.TLS)
	if err != nil {
		return fmt.Errorf("failed to set up API TLS: %w", err)
	}
	if tlsConfig != nil {
		a.apiServer.SetTLSConfig(tlsConfig)
	}
	if acmeManager != nil {
		a.acmeManager = acmeManager
		logger.Info("ACME (Let's Encrypt) enabled", "domains", acmeManager.Domains())
	}

	return nil
}

// buildRouter registers one sender per enabled channel. Each transport is
// wrapped by its sandbox mode and, when enabled, the shared rate limiter.
func (a *App) buildRouter() (*channel.Router, error) {
	cfg := a.config.Channels
	router := channel.NewRouter(a.logger.With("component", "router"))

	if cfg.Email.Enabled {
		var transport channel.Sender
		if cfg.Email.Mode != sandbox.ModeSandbox {
			email := channel.NewEmailSender(channel.EmailConfig{
				Host:               cfg.Email.Host,
				Port:               cfg.Email.Port,
				Username:           cfg.Email.Username,
				Password:           cfg.Email.Password,
				From:               cfg.Email.From,
				FromName:           cfg.Email.FromName,
				Security:           cfg.Email.Security,
				HeloName:           cfg.Email.HeloName,
				Timeout:            cfg.Email.Timeout,
				InsecureSkipVerify: cfg.Email.InsecureSkipVerify,
			}, a.logger.With("component", "email"))

			if cfg.Email.DKIM.Enabled {
				signer, err := dkim.NewSignerFromConfig(cfg.Email.DKIM)
				if err != nil {
					return nil, fmt.Errorf("failed to create DKIM signer: %w", err)
				}
				email.SetSigner(signer)
				a.logger.Info("DKIM signing enabled", "domain", signer.Domain(), "selector", signer.Selector())
			}
			transport = email
		}
		a.register(router, channel.Email, transport, cfg.Email.DeliveryMode)
	}

	if cfg.SMS.Enabled {
		var transport channel.Sender
		if cfg.SMS.Mode != sandbox.ModeSandbox {
			transport = channel.NewSMSSender(channel.SMSConfig{
				URL:      cfg.SMS.URL,
				APIKey:   cfg.SMS.APIKey,
				SenderID: cfg.SMS.SenderID,
				Timeout:  cfg.SMS.Timeout,
			})
		}
		a.register(router, channel.SMS, transport, cfg.SMS.DeliveryMode)
	}

	if cfg.WhatsApp.Enabled {
		var transport channel.Sender
		if cfg.WhatsApp.Mode != sandbox.ModeSandbox {
			a.whatsApp = channel.NewWhatsAppSender(channel.WhatsAppConfig{
				URL:        cfg.WhatsApp.URL,
				Exchange:   cfg.WhatsApp.Exchange,
				RoutingKey: cfg.WhatsApp.RoutingKey,
				Producer:   cfg.WhatsApp.Producer,
			})
			transport = a.whatsApp
		}
		a.register(router, channel.WhatsApp, transport, cfg.WhatsApp.DeliveryMode)
	}

	a.routerChannels = router.Channels()
	if len(a.routerChannels) == 0 {
		a.logger.Warn("no channels enabled, every send will fail as unavailable")
	}
	return router, nil
}

func (a *App) register(router *channel.Router, ch channel.Channel, transport channel.Sender, mode config.DeliveryMode) {
	sb := sandbox.NewSender(transport, mode.Mode, a.sandboxStorage, a.logger.With("component", "sandbox", "channel", ch))
	if mode.Mode == sandbox.ModeRedirect {
		sb.SetRedirect(mode.RedirectTo)
	}
	sb.SetErrorSimulation(a.config.Channels.Sandbox.SimulateErrors, a.config.Channels.Sandbox.ErrorProbability)

	var sender channel.Sender = sb
	if a.rateLimiter != nil {
		limited := channel.NewLimitedSender(sb, a.rateLimiter)
		limited.OnDeny(func(ch channel.Channel, level ratelimit.Level) {
			a.bus.Publish(events.SendRateLimited{Channel: string(ch), Level: string(level)})
		})
		sender = limited
	}

	router.Register(ch, sender)
	a.logger.Info("channel enabled", "channel", ch, "mode", mode.Mode)
}

func (a *App) buildScheduler(dispatcher *dispatch.Dispatcher, engine *template.Engine) (*reminder.Scheduler, error) {
	loc, err := a.config.Location()
	if err != nil {
		return nil, err
	}
	channels, err := a.config.ReminderChannels()
	if err != nil {
		return nil, err
	}

	ledger, err := reminder.NewLedger(a.db)
	if err != nil {
		return nil, fmt.Errorf("failed to create reminder ledger: %w", err)
	}

	scheduler, err := reminder.NewScheduler(reminder.Config{
		Interval: a.config.Reminder.Interval,
		Location: loc,
		Tiers:    a.config.Reminder.Tiers,
		Channels: channels,
	}, a.directory, a.directory, dispatcher, ledger, engine, a.bus, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reminder scheduler: %w", err)
	}
	return scheduler, nil
}

// Scheduler returns the payment reminder scheduler
func (a *App) Scheduler() *reminder.Scheduler {
	return a.scheduler
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting courier",
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
		"channels", a.routerChannels,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.worker.Start()

	if a.config.Reminder.Enabled {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start reminder scheduler: %w", err)
		}
	}

	errCh := make(chan error, 3)

	if a.collector != nil {
		a.collector.Start(ctx)
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// ACME HTTP-01 challenges must be answered over plain HTTP
	if a.acmeManager != nil {
		a.acmeServer = &http.Server{
			Addr: a.config.API.TLS.ACME.ChallengeAddr,
			Handler: a.acmeManager.HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
			})),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("starting ACME HTTP challenge server", "addr", a.acmeServer.Addr)
			if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("acme challenge server: %w", err)
			}
		}()
	}

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting requests before stopping the workers they drive
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("acme challenge server shutdown error", "error", err)
		}
	}

	a.scheduler.Stop()
	a.worker.Stop()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	a.close()
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases resources without starting anything. Used by one-shot commands.
func (a *App) Close() {
	a.scheduler.Stop()
	a.close()
}

func (a *App) close() {
	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}
	if a.whatsApp != nil {
		if err := a.whatsApp.Close(); err != nil {
			a.logger.Warn("whatsapp broker close error", "error", err)
		}
	}
	if a.directory != nil {
		if err := a.directory.Close(); err != nil {
			a.logger.Error("directory close error", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("storage close error", "error", err)
		}
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
