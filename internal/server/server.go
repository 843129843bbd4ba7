// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer — it connects handlers, middleware, and routes.
// Think of it as the control centre that decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go: config.Load → logger.New → server.New
//	server.New: store (sqlite|postgres|mongo) → services → handlers → routes
//
// This is the "composition root" pattern — all dependencies are wired
// in one place, rather than scattered across the codebase.
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

	"github.com/sakif/todo-api/internal/auth"
	"github.com/sakif/todo-api/internal/config"
	"github.com/sakif/todo-api/internal/handler"
	"github.com/sakif/todo-api/internal/mailer"
	"github.com/sakif/todo-api/internal/metrics"
	"github.com/sakif/todo-api/internal/middleware"
	"github.com/sakif/todo-api/internal/service"
	"github.com/sakif/todo-api/internal/worker/otpcleanup"
)

const shutdownGrace = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store connection. Start closes it after the HTTP server
// has drained, so in-flight requests never see a closed pool.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	store   *store
	cleanup *otpcleanup.Job
}

// Option customises New. Tests use them to swap slow or external
// collaborators.
type Option func(*options)

type options struct {
	mail      mailer.Sender
	passwords *auth.PasswordService
	registry  *prometheus.Registry
}

// WithMailer replaces the mailer chosen from configuration.
func WithMailer(m mailer.Sender) Option {
	return func(o *options) { o.mail = m }
}

// WithPasswordService replaces the production bcrypt cost.
func WithPasswordService(p *auth.PasswordService) Option {
	return func(o *options) { o.passwords = p }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New opens the store and wires every layer.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if o.passwords == nil {
		o.passwords = auth.NewPasswordService()
	}
	if o.mail == nil {
		o.mail = newMailer(cfg, logger)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	collector := metrics.NewCollector(o.registry)

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   st,
		cleanup: otpcleanup.New(st.users, logger),
	}

	authService := service.NewAuthService(st.users, tokens, o.passwords, o.mail, collector, cfg.OTPTTL, logger)
	taskService := service.NewTaskService(st.tasks, collector, logger)

	s.setupRoutes(routeDeps{
		auth:     handler.NewAuthHandler(authService, handler.CookieConfig{Secure: cfg.CookieSecure, TTL: tokens.TTL()}, logger),
		tasks:    handler.NewTaskHandler(taskService, logger),
		health:   handler.NewHealthHandler(st.pinger, logger),
		tokens:   tokens,
		recorder: collector,
		gatherer: o.registry,
	})

	return s, nil
}

func newMailer(cfg *config.Config, logger *slog.Logger) mailer.Sender {
	if !cfg.MailEnabled() {
		logger.Warn("SMTP_HOST not set: reset codes will be logged, not mailed")
		return mailer.NewLogSender(logger)
	}
	return mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.EmailUser,
		Password: cfg.EmailPass,
		From:     cfg.EmailFrom,
	}, logger)
}

type routeDeps struct {
	auth     *handler.AuthHandler
	tasks    *handler.TaskHandler
	health   *handler.HealthHandler
	tokens   *auth.TokenService
	recorder metrics.Recorder
	gatherer prometheus.Gatherer
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /health                          → store liveness
// GET    /metrics                         → Prometheus scrape
// POST   /api/v1/auth/register            → create account
// POST   /api/v1/auth/login               → set session cookie
// POST   /api/v1/auth/logout              → clear session cookie   [session]
// GET    /api/v1/auth/me                  → current user           [session]
// POST   /api/v1/auth/forgot-password     → mail reset code
// POST   /api/v1/auth/reset-password      → redeem reset code
// POST   /api/v1/tasks/todos              → create task            [session]
// GET    /api/v1/tasks/todos              → list own tasks         [session]
// PUT    /api/v1/tasks/todos/{id}         → update own task        [session]
// DELETE /api/v1/tasks/todos/{id}         → delete own task        [session]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID — assigns unique ID to each request (the logger prints it)
// 2. RealIP — extracts real client IP from proxy headers
// 3. Logger — logs each request with timing info
// 4. Metrics — counts statuses and latency
// 5. Recoverer — catches panics and returns 500 instead of crashing
// 6. CORS — answers preflights before any route is matched
// 7. Timeout — bounds the request context
func (s *Server) setupRoutes(d routeDeps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(d.recorder))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(s.config.CORSAllowedOrigin))
	if s.config.RequestTimeout > 0 {
		s.router.Use(chimiddleware.Timeout(s.config.RequestTimeout))
	}

	s.router.Get("/health", d.health.HandleHealth)
	s.router.Handle("/metrics", metrics.Handler(d.gatherer))

	requireAuth := auth.RequireAuth(d.tokens)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.auth.HandleRegister)
			r.Post("/login", d.auth.HandleLogin)
			r.Post("/forgot-password", d.auth.HandleForgotPassword)
			r.Post("/reset-password", d.auth.HandleResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/logout", d.auth.HandleLogout)
				r.Get("/me", d.auth.HandleMe)
			})
		})

		r.Route("/tasks/todos", func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", d.tasks.HandleCreate)
			r.Get("/", d.tasks.HandleList)
			r.Put("/{id}", d.tasks.HandleUpdate)
			r.Delete("/{id}", d.tasks.HandleDelete)
		})
	})
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store. Start calls it on the way out; callers that
// never Start (tests) call it themselves.
func (s *Server) Close() error {
	return s.store.closer.Close()
}

// Start starts the HTTP server and the cleanup worker and blocks until
// SIGINT/SIGTERM or a listener error.
//
// GRACEFUL SHUTDOWN:
// 1. Stop the cleanup worker
// 2. Stop accepting new HTTP connections
// 3. Wait for in-flight requests to finish (30s timeout)
// 4. Close the store connection
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.config.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.cleanup.Start(workerCtx, s.config.OTPCleanupInterval)
	}()
	defer func() {
		stopWorker()
		<-workerDone
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("store", s.store.name),
			slog.Bool("mail_enabled", s.config.MailEnabled()),
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
		stopWorker()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
