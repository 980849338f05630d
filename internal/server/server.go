// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It decides which URL patterns map to
// which handlers, what middleware runs where, and how the server stops.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB ─────────────────────────→ ClickService → ClickHandler
//	  http.Client(otelhttp) → KeySet → Verifier ─┐
//	                        → ProfileResolver ───┴→ Authenticator
//
// This is the composition root: every dependency is built here, once.
package server

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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/click-ledger/internal/auth"
	"github.com/sakif/click-ledger/internal/config"
	"github.com/sakif/click-ledger/internal/handler"
	"github.com/sakif/click-ledger/internal/metrics"
	"github.com/sakif/click-ledger/internal/middleware"
	sqliteRepo "github.com/sakif/click-ledger/internal/repository/sqlite"
	"github.com/sakif/click-ledger/internal/service"
)

const (
	serviceName     = "click-ledger"
	shutdownTimeout = 30 * time.Second
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. Start closes it after the HTTP
// server has drained; tests that never call Start use Close.
type Server struct {
	router  *chi.Mux
	handler http.Handler
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	keys    *auth.KeySet
}

// New creates a Server from cfg.
//
// WIRING ORDER:
//  1. Open the database (runs migrations).
//  2. Build the outbound HTTP client shared by the key set and userinfo calls.
//  3. Warm the key set. A failure is logged, not fatal: the identity
//     provider may come up after us, and Key() refetches on demand.
//  4. Build services, handlers and routes.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// otelhttp propagates the request's trace into outbound calls to the
	// identity provider. Timeouts are applied per call by each client.
	outbound := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	keys := auth.NewKeySet(cfg.KeysURL(), outbound, cfg.KeysTimeout, logger)
	if err := keys.Refresh(context.Background()); err != nil {
		logger.Warn("key set not loaded at startup, will retry on first token",
			slog.String("url", cfg.KeysURL()),
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("key set loaded", slog.Int("keys", keys.Len()))
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		keys:   keys,
	}
	s.setupRoutes(outbound)
	s.handler = otelhttp.NewHandler(s.router, serviceName)

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /health             → liveness + DB ping
// GET    /metrics            → Prometheus scrape
// GET    /api/test           → API smoke test (optional auth)
// POST   /api/clicks         → record a click          (auth, rate limited)
// GET    /api/clicks/count   → caller's total          (auth)
// GET    /api/clicks/history → caller's recent clicks  (auth)
// GET    /api/clicks/stats   → global stats + top 5    (auth)
// GET    /api/clicks/me      → caller's profile + total (auth)
// DELETE /api/clicks/logout  → delete caller's clicks  (auth)
//
// MIDDLEWARE ORDER MATTERS:
// RequestID first so every later log line can carry it; RealIP before
// anything keyed on the client address; Recoverer before our own code;
// CORS last so preflight requests are still logged and counted.
func (s *Server) setupRoutes(outbound *http.Client) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// === Metrics ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.RegisterCollectors(reg)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// === Auth ===
	verifier := auth.NewVerifier(s.keys, s.config.Issuer, s.config.ClientID, s.config.TokenLeeway)
	profiles := auth.NewProfileResolver(s.config.UserInfoURL(), outbound, s.config.UserInfoTimeout, s.logger)
	authn := auth.NewAuthenticator(verifier, profiles, s.logger)

	// === Handlers ===
	health := handler.NewHealthHandler(s.config.Environment, s.db, s.logger)
	clicks := handler.NewClickHandler(service.NewClickService(s.db, s.logger), s.logger, s.config.ExposeErrorDetail)
	clicks.UseOnRecord(middleware.NewRateLimiter(s.config.ClickRateLimit, s.config.ClickRateBurst).Middleware)

	s.router.Get("/health", health.HandleHealth)
	s.router.With(authn.OptionalAuth).Get("/api/test", health.HandleTest)
	s.router.Route("/api/clicks", func(r chi.Router) {
		r.Use(authn.RequireAuth)
		clicks.Routes(r)
	})

	s.router.NotFound(health.HandleNotFound)
	s.router.MethodNotAllowed(health.HandleMethodNotAllowed)
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases the database. Start calls it itself on the way out.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start starts the HTTP server and blocks until it stops.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections on SIGINT/SIGTERM.
//  2. Wait up to 30s for in-flight requests.
//  3. Close the database (flushes WAL, releases the file lock).
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("environment", s.config.Environment),
			slog.String("database", s.config.DBPath),
			slog.String("issuer", s.config.Issuer),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
