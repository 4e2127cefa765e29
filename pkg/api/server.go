// Package api serves the ledger over HTTP.
//
// Routes live under /api/v1. Post creation takes the caller's bearer token as
// the origin credential; reads are unauthenticated. Prometheus metrics are
// exposed on /metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP handler for s
func NewRouter(s *Server, config ServerConfig) http.Handler {
	metrics := s.metrics

	origins := config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	// Swagger documentation (unprotected)
	r.Get("/swagger/doc.json", s.handleSwaggerDoc)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", metrics.InstrumentHandler("GET", "/api/v1/health", s.handleHealth))
		r.Get("/stats", metrics.InstrumentHandler("GET", "/api/v1/stats", s.handleStats))

		r.Group(func(r chi.Router) {
			r.Use(maxBodyMiddleware(maxRequestBody))
			r.Post("/posts", metrics.InstrumentHandler("POST", "/api/v1/posts", s.handlePost))
			r.Post("/posts/encrypted", metrics.InstrumentHandler("POST", "/api/v1/posts/encrypted", s.handlePostEncrypted))
		})

		r.Get("/posts/{id}", metrics.InstrumentHandler("GET", "/api/v1/posts/{id}", s.handleGetPost))
		r.Get("/posts/{id}/html", metrics.InstrumentHandler("GET", "/api/v1/posts/{id}/html", s.handleGetPostHTML))

		r.Get("/events", s.handleEvents)
	})

	return r
}

// StartServer serves the API until ctx is canceled, then shuts down
// gracefully.
func StartServer(ctx context.Context, s *Server, config ServerConfig) error {
	addr := net.JoinHostPort(config.Bind, fmt.Sprint(config.Port))
	SwaggerInfo.Host = addr

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(s, config),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if config.StatsInterval > 0 {
		go s.startMetricsUpdater(ctx, config.StatsInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting Quill REST API server", "addr", addr)
		s.logger.Info("metrics available", "url", fmt.Sprintf("http://%s/metrics", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()

	s.logger.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
