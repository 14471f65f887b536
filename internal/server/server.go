// Package server sets up the HTTP server, router, and all route definitions.
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and a logger, then Server.New creates:
//
//	sqlite.DB ─┬─ AuthService ─────────────── AuthHandler
//	           ├─ TokenManager ─┬──────────── MarketplaceHandler
//	           ├─ AccountService┘             AccountHandler
//	           └─ MetricsSynchronizer ─────── AccountHandler, Scheduler
//	marketplace.Client ── used by every service that calls out
//	metrics.Metrics ───── observer for services, client and middleware
//
// This is the "composition root": every dependency is wired here and
// nowhere else.
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sakif/sellerhub/internal/auth"
	"github.com/sakif/sellerhub/internal/config"
	"github.com/sakif/sellerhub/internal/handler"
	"github.com/sakif/sellerhub/internal/marketplace"
	"github.com/sakif/sellerhub/internal/metrics"
	"github.com/sakif/sellerhub/internal/middleware"
	sqliteRepo "github.com/sakif/sellerhub/internal/repository/sqlite"
	"github.com/sakif/sellerhub/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection and the background scheduler.
// Both are released in Start during graceful shutdown, or by Close when
// the server is only used as an http.Handler (tests).
type Server struct {
	router    *chi.Mux
	config    config.Config
	logger    *slog.Logger
	db        *sqliteRepo.DB
	metrics   *metrics.Metrics
	scheduler *service.Scheduler
}

// Option customizes the server at construction time.
type Option func(*options)

type options struct {
	marketplaceOpts []marketplace.Option
}

// WithMarketplaceOptions forwards options to the marketplace client.
func WithMarketplaceOptions(opts ...marketplace.Option) Option {
	return func(o *options) { o.marketplaceOpts = append(o.marketplaceOpts, opts...) }
}

// New opens the database, builds the services and wires the routes.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(registry),
	}

	client := marketplace.NewClient(cfg.Marketplace, logger.With(slog.String("component", "marketplace")),
		append([]marketplace.Option{marketplace.WithRecorder(s.metrics)}, o.marketplaceOpts...)...)

	s.setupRoutes(tokens, client)
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /health                              → database ping
//	GET    /metrics                             → Prometheus
//	POST   /api/register                        → create user
//	POST   /api/login                           → session cookie + token
//	POST   /api/logout                          *
//	GET    /api/profile                         *
//	GET    /api/marketplace/auth-url            *
//	GET    /api/marketplace/callback            * link via authorization code
//	POST   /api/marketplace/tokens              * link via relayed tokens
//	GET    /api/marketplace/me                  *
//	GET    /api/accounts                        *
//	POST   /api/accounts/refresh                * refresh all active accounts
//	GET    /api/accounts/{id}                   *
//	PATCH  /api/accounts/{id}                   *
//	DELETE /api/accounts/{id}                   *
//	POST   /api/accounts/{id}/refresh           *
//	POST   /api/accounts/{id}/refresh-token     *
//	POST   /api/accounts/{id}/profile           *
//	GET    /api/accounts/{id}/live-metrics      *
//	GET    /api/accounts/{id}/daily-metrics     *
//
// * = behind auth.RequireAuth.
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID → assigns unique ID to each request (for tracing)
// 2. RealIP → extracts real client IP from proxy headers
// 3. Logger → logs each request with timing info
// 4. Metrics → counts requests by method and status
// 5. Recoverer → catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes(tokens *auth.TokenService, client *marketplace.Client) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(chimiddleware.Recoverer)

	// Services only see repository.Store and the MarketplaceAPI interface.
	authService := service.NewAuthService(s.db, tokens, auth.NewPasswordService(), s.logger)
	tokenManager := service.NewTokenManager(s.db, client, s.metrics, s.logger)
	accountService := service.NewAccountService(s.db, client, s.logger)
	synchronizer := service.NewMetricsSynchronizer(s.db, client, s.metrics, s.logger, s.config.SyncWorkers)

	if s.config.SyncInterval > 0 {
		s.scheduler = service.NewScheduler(s.db.Accounts(), synchronizer, s.config.SyncInterval, s.logger)
	}

	authHandler := handler.NewAuthHandler(authService, s.config.SessionTTL, s.config.CookieSecure, s.logger)
	marketplaceHandler := handler.NewMarketplaceHandler(tokenManager, accountService, s.config.CookieSecure, s.logger)
	accountHandler := handler.NewAccountHandler(accountService, synchronizer, tokenManager, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	s.router.Get("/health", healthHandler.HandleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		// === Public ===
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)

		// === Authenticated ===
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(authService))

			r.Post("/logout", authHandler.HandleLogout)
			r.Get("/profile", authHandler.HandleProfile)

			r.Route("/marketplace", func(r chi.Router) {
				r.Get("/auth-url", marketplaceHandler.HandleAuthURL)
				r.Get("/callback", marketplaceHandler.HandleCallback)
				r.Post("/tokens", marketplaceHandler.HandleSaveTokens)
				r.Get("/me", marketplaceHandler.HandleMe)
			})

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", accountHandler.HandleList)
				r.Post("/refresh", accountHandler.HandleRefreshAll)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", accountHandler.HandleGet)
					r.Patch("/", accountHandler.HandleUpdate)
					r.Delete("/", accountHandler.HandleDelete)
					r.Post("/refresh", accountHandler.HandleRefresh)
					r.Post("/refresh-token", accountHandler.HandleRefreshToken)
					r.Post("/profile", accountHandler.HandleRefreshProfile)
					r.Get("/live-metrics", accountHandler.HandleLiveMetrics)
					r.Get("/daily-metrics", accountHandler.HandleDailyMetrics)
				})
			})
		})
	})
}

// ServeHTTP makes the Server usable directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the scheduler and closes the database.
func (s *Server) Close() error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	return s.db.Close()
}

// Start starts the HTTP server and the background scheduler, then blocks
// until SIGINT/SIGTERM or a listener error.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Stop the scheduler (waits for the running pass)
// 4. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	if s.scheduler != nil {
		s.scheduler.Start()
	}

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
