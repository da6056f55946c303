package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"golang.org/x/time/rate"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates the API server and its routes.
func NewServer(cfg domain.ServerConfig, limit domain.RateLimitConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(deps.Metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Probes and metrics bypass the rate limit.
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	router.Group(func(r chi.Router) {
		if limit.Enabled && limit.RPS > 0 {
			burst := limit.Burst
			if burst <= 0 {
				burst = int(limit.RPS)
			}
			r.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(limit.RPS), burst)))
		}

		r.Post("/prescreen", handler.PreScreen)
		r.Post("/prescreen/batch", handler.PreScreenBatch)
		r.Post("/fraud/detect", handler.DetectFraud)
		r.Get("/screenings/{id}", handler.GetScreening)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", handler.ListRules)
			r.Post("/", handler.CreateRule)
			r.Get("/{id}", handler.GetRule)
			r.Put("/{id}", handler.UpdateRule)
			r.Delete("/{id}", handler.DeleteRule)
			r.Post("/{id}/test", handler.TestRule)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
