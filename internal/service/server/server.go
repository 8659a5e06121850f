package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vertextoedge/book-downloader/internal/port"
	"github.com/vertextoedge/book-downloader/internal/service/downloader"
	"go.uber.org/zap"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "0.0.0.0:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Controller is the download lifecycle as seen by the API
type Controller interface {
	Start(ctx context.Context, bookID string, allowUnrestricted *bool) error
	Pause(ctx context.Context, bookID string) error
	Resume(ctx context.Context, bookID string) error
	Cancel(ctx context.Context, bookID string) error
	Snapshot(ctx context.Context) (downloader.Snapshot, error)
}

// Server represents the HTTP control API server
type Server struct {
	config          *Config
	store           port.Store
	logger          *zap.Logger
	server          *http.Server
	bookHandler     *BookHandler
	transferHandler *TransferHandler
}

// New creates a new HTTP server. A nil gatherer disables /metrics.
func New(cfg *Config, store port.Store, controller Controller, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		store:  store,
		logger: logger,
	}

	s.bookHandler = NewBookHandler(store, controller, logger)
	s.transferHandler = NewTransferHandler(store, controller, logger)

	r := chi.NewRouter()
	r.Use(LoggingMiddleware(logger))

	// Health check
	r.Get("/health", s.handleHealth)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if cfg.AdminUsername != "" {
			r.Use(BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger))
		}
		r.Mount("/books", s.bookHandler.Routes())
		r.Get("/transfers", s.transferHandler.HandleList)
	})

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
