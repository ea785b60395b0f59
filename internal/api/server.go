package api

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/courier/internal/broadcast"
	"github.com/foxzi/courier/internal/config"
	"github.com/foxzi/courier/internal/ipfilter"
	"github.com/foxzi/courier/internal/metrics"
	"github.com/foxzi/courier/internal/offer"
	"github.com/foxzi/courier/internal/reminder"
	"github.com/foxzi/courier/internal/sandbox"
)

// Version is reported by the health endpoint
var Version = "dev"

// Services are the domain services exposed over HTTP. Nil reminders or
// sandbox disable their routes.
type Services struct {
	Campaigns *broadcast.Service
	Offers    *offer.Service
	Reminders *reminder.Scheduler
	Sandbox   *sandbox.Storage
	Collector *metrics.Collector
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	tlsConfig  *tls.Config
	svc        Services
	config     *config.APIConfig
	filter     *ipfilter.Filter
	logger     *slog.Logger
	startTime  time.Time

	// verified caches successful bcrypt comparisons by key digest
	verified sync.Map
}

// NewServer creates a new API server
func NewServer(svc Services, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		svc:       svc,
		config:    cfg,
		filter:    ipfilter.New(cfg.AllowedIPs, logger),
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.filter.Middleware)
	s.router.Use(metrics.Middleware(s.svc.Collector))
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/broadcasts", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Get("/pending", s.handlePendingCampaigns)
			r.Post("/eligible-clients", s.handleEligibleClients)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCampaign)
				r.Put("/", s.handleUpdateCampaign)
				r.Delete("/", s.handleDeleteCampaign)
				r.Post("/submit", s.handleSubmitCampaign)
				r.Post("/approve", s.handleApproveCampaign)
				r.Post("/reject", s.handleRejectCampaign)
				r.Post("/schedule", s.handleScheduleCampaign)
				r.Post("/send", s.handleSendCampaign)
				r.Get("/stats", s.handleCampaignStats)
				r.Get("/deliveries", s.handleCampaignDeliveries)
				r.Post("/revenue", s.handleRecordRevenue)
			})
		})

		r.Route("/offers", func(r chi.Router) {
			r.Get("/", s.handleListOffers)
			r.Post("/", s.handleCreateOffer)
			r.Get("/{id}", s.handleGetOffer)
			r.Put("/{id}", s.handleUpdateOffer)
			r.Delete("/{id}", s.handleDeleteOffer)
			r.Post("/{id}/redeem", s.handleRedeemOffer)
		})

		if s.svc.Reminders != nil {
			r.Route("/reminders", func(r chi.Router) {
				r.Get("/status", s.handleReminderStatus)
				r.Post("/start", s.handleReminderStart)
				r.Post("/stop", s.handleReminderStop)
				r.Post("/trigger", s.handleReminderTrigger)
				r.Get("/stats", s.handleReminderStats)
				r.Get("/tiers", s.handleReminderTiers)
				r.Delete("/ledger", s.handleClearLedger)
				r.Get("/ledger/{invoiceId}", s.handleGetLedger)
				r.Delete("/ledger/{invoiceId}", s.handleClearInvoiceLedger)
			})
		}

		if s.svc.Sandbox != nil {
			r.Route("/sandbox", func(r chi.Router) {
				r.Get("/messages", s.handleSandboxList)
				r.Get("/messages/{id}", s.handleSandboxGet)
				r.Delete("/messages", s.handleSandboxClear)
				r.Get("/stats", s.handleSandboxStats)
			})
		}
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetTLSConfig makes ListenAndServe serve HTTPS
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	if s.tlsConfig != nil {
		s.httpServer.TLSConfig = s.tlsConfig
		s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
		return s.httpServer.ListenAndServeTLS("", "")
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Reminders *bool  `json:"remindersRunning,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if s.svc.Reminders != nil {
		running := s.svc.Reminders.Running()
		resp.Reminders = &running
	}
	sendJSON(w, http.StatusOK, resp)
}
