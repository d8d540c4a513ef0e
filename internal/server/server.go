// Package server exposes the HTTP API: job submission, job status
// polling, administrative reset, and liveness.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/pokefantasia/internal/compute"
	"github.com/3leaps/pokefantasia/internal/config"
	"github.com/3leaps/pokefantasia/internal/trigger"
	"github.com/3leaps/pokefantasia/pkg/jobstore"
	"github.com/3leaps/pokefantasia/pkg/variant"
)

// Non-standard status codes carried over from the wire protocol this
// service replaces. Clients poll until the code leaves the 48x range.
const (
	StatusJobUploaded   = 480
	StatusJobProcessing = 481
	StatusJobError      = 482
)

// Publisher is the slice of the trigger bus the ingress side needs.
type Publisher interface {
	Publish(ctx context.Context, ev trigger.Event) error
}

// Deps carries the collaborators a Server needs.
type Deps struct {
	Jobs      *jobstore.Store
	Buckets   map[variant.BackendClass]compute.Buckets
	Publisher Publisher
	Logger    *zap.Logger
}

type Server struct {
	jobs      *jobstore.Store
	buckets   map[variant.BackendClass]compute.Buckets
	publisher Publisher
	logger    *zap.Logger
	router    chi.Router
}

func New(deps Deps) *Server {
	s := &Server{
		jobs:      deps.Jobs,
		buckets:   deps.Buckets,
		publisher: deps.Publisher,
		logger:    deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Post("/jobs/{ownerid}/{action}", s.handleSubmit)
	r.Get("/jobs/{jobid}", s.handleStatus)
	r.Post("/admin/reset", s.handleReset)

	s.router = r
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context, cfg config.Server) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response write failed", zap.Error(err))
	}
}

func (s *Server) writeText(w http.ResponseWriter, status int, format string, args ...any) {
	s.writeJSON(w, status, map[string]string{"text": fmt.Sprintf(format, args...)})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path))
				s.writeText(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
