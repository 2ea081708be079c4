// Package server owns the HTTP surface: the chi router, the middleware
// chain, and graceful lifecycle around the governance subsystems.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/spigotdb/spigot/internal/auth"
	"github.com/spigotdb/spigot/internal/engine"
	"github.com/spigotdb/spigot/internal/handler"
	"github.com/spigotdb/spigot/internal/job"
	"github.com/spigotdb/spigot/internal/ratelimit"
	"github.com/spigotdb/spigot/internal/server/middleware"
	"github.com/spigotdb/spigot/internal/storage"
	"github.com/spigotdb/spigot/internal/udf"
	"github.com/spigotdb/spigot/internal/webhook"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64
	MaxBatchSize    int
	APIKeyHeader    string
	DefaultService  string
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     10 << 20,
		MaxBatchSize:    1000,
		APIKeyHeader:    "X-API-Key",
		DefaultService:  "default",
	}
}

// Deps bundles the governance subsystems the server serves.
type Deps struct {
	Keys      *auth.Store
	Sessions  *auth.Sessions
	Limiter   *ratelimit.Registry
	Engines   *engine.Registry
	Jobs      *job.Registry
	Scheduler *job.Scheduler
	Webhooks  *webhook.Registry
	Notifier  *webhook.Notifier
	UDFs      *udf.Registry
	Media     storage.Store
}

// Server is the top-level HTTP server. It owns the chi router and drives
// graceful shutdown of the scheduler and engine pool.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes and middleware wired. Call
// ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.cfg.APIKeyHeader, "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	sysHandler := handler.NewSystemHandler(s.deps.Engines, s.deps.Jobs, s.cfg.Version)
	openAPIHandler := handler.NewOpenAPIHandler(s.deps.Engines, s.cfg.DefaultService)

	// Unauthenticated surface sits behind a coarse per-IP limit so probes
	// cannot be used to flood the process.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Get("/healthz", sysHandler.Health)
		r.Get("/readyz", sysHandler.Ready)
		r.Get("/openapi.json", openAPIHandler.ServeSpec)
	})

	authHandler := handler.NewAuthHandler(s.deps.Keys)
	tableHandler := handler.NewTableHandler(s.deps.Engines, s.cfg.DefaultService)
	batchHandler := handler.NewBatchHandler(s.deps.Engines, s.cfg.DefaultService,
		s.cfg.MaxBatchSize, s.deps.Jobs, s.deps.Scheduler, s.deps.Webhooks)
	mediaHandler := handler.NewMediaHandler(s.deps.Media, s.deps.Scheduler, s.cfg.MaxBodySize)
	udfHandler := handler.NewUDFHandler(s.deps.UDFs)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(s.deps.Keys, s.deps.Sessions, s.cfg.APIKeyHeader))
		r.Use(middleware.RateLimit(s.deps.Limiter))
		r.Use(s.recordUsage)

		r.Get("/status", sysHandler.Status)

		r.Route("/auth/api-keys", func(r chi.Router) {
			r.Post("/", authHandler.CreateKey)
			r.Get("/", authHandler.ListKeys)
			r.Get("/{id}", authHandler.GetKey)
			r.Delete("/{id}", authHandler.RevokeKey)
			r.Post("/{id}/rotate", authHandler.RotateKey)
			r.Get("/{id}/usage", authHandler.KeyUsage)
		})

		r.Route("/tables", func(r chi.Router) {
			r.Get("/", tableHandler.ListTables)
			r.Post("/", tableHandler.CreateTable)
			r.Get("/{name}", tableHandler.GetTable)
			r.Delete("/{name}", tableHandler.DropTable)

			r.Get("/{name}/rows", tableHandler.QueryRows)
			r.Post("/{name}/rows", tableHandler.InsertRows)
			r.Patch("/{name}/rows", tableHandler.UpdateRows)
			r.Delete("/{name}/rows", tableHandler.DeleteRows)
		})

		r.Route("/udfs", func(r chi.Router) {
			r.Post("/", udfHandler.RegisterUDF)
			r.Get("/", udfHandler.ListUDFs)
			r.Get("/{name}", udfHandler.GetUDF)
			r.Delete("/{name}", udfHandler.UnregisterUDF)
			r.Post("/{name}/execute", udfHandler.ExecuteUDF)
		})

		r.Route("/batch", func(r chi.Router) {
			r.Post("/operations", batchHandler.ExecuteBatch)
			r.Post("/stream/{table}", batchHandler.StreamRows)

			r.Post("/jobs", batchHandler.SubmitJob)
			r.Get("/jobs", batchHandler.ListJobs)
			r.Get("/jobs/{id}", batchHandler.GetJob)
			r.Delete("/jobs/{id}", batchHandler.CancelJob)

			r.Post("/webhooks", batchHandler.RegisterWebhook)
			r.Get("/webhooks", batchHandler.ListWebhooks)
			r.Delete("/webhooks/{id}", batchHandler.UnregisterWebhook)
		})

		r.Route("/media", func(r chi.Router) {
			r.Post("/", mediaHandler.Upload)
			r.Get("/", mediaHandler.List)
			r.Get("/*", mediaHandler.Download)
			r.Delete("/*", mediaHandler.Delete)
		})
	})

	s.router = r
}

// recordUsage updates per-key counters after the response is written.
func (s *Server) recordUsage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if actx := middleware.GetAuthContext(r.Context()); actx != nil && actx.KeyID != "" && !actx.Admin {
			s.deps.Keys.RecordUsage(actx.KeyID, r.Method+" "+r.URL.Path, ww.Status())
		}
	})
}

// ListenAndServe starts the HTTP server and blocks until SIGINT or SIGTERM,
// then drains in-flight requests, stops the job scheduler, and closes the
// engine pool.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.deps.Scheduler != nil {
		s.deps.Scheduler.Shutdown()
	}
	if s.deps.Notifier != nil {
		s.deps.Notifier.Wait()
	}
	s.deps.Engines.CloseAll()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
