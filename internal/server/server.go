// Package server exposes the issuer over HTTP: code validation for clients,
// payment session endpoints, the payment provider webhook, and token-guarded
// operator endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"baizecli/internal/config"
	"baizecli/internal/issuer"
	custommw "baizecli/internal/middleware"
)

// Server is the license server's HTTP front end.
type Server struct {
	cfg      config.ServerConfig
	svc      *issuer.Service
	logger   *slog.Logger
	validate *validator.Validate
	metrics  *metrics
	http     *http.Server
}

// New assembles the router and the underlying http.Server. reg receives the
// server's metric collectors; nil means the process-wide default registry.
// Callers constructing more than one Server must pass distinct registries.
func New(cfg config.ServerConfig, svc *issuer.Service, logger *slog.Logger, reg prometheus.Registerer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		logger:   logger.With(slog.String("component", "server")),
		validate: validator.New(),
		metrics:  newMetrics(reg),
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.StructuredLogger(s.logger))
	r.Use(custommw.Recoverer(s.logger))
	r.Use(custommw.SecurityHeaders)

	// Probes and metrics skip logging-heavy middleware additions below.
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(chimiddleware.Timeout(30 * time.Second))

		r.Route("/license", func(r chi.Router) {
			if s.cfg.RateLimit.Enabled {
				r.Use(custommw.NewRateLimiter(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger).Handler)
			}
			r.Post("/validate", s.handleValidate)
		})

		r.Route("/payment", func(r chi.Router) {
			r.Post("/create-checkout", s.handleCreateCheckout)
			r.Post("/check-status", s.handleCheckStatus)
			r.Post("/webhook", s.handleWebhook)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommw.AdminAuth(s.cfg.AdminToken, s.logger))
			r.Post("/codes", s.handleGenerateCode)
		})
	})

	return r
}

// Handler returns the assembled router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router()
}

// ListenAndServe runs the server until it fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("license server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
