// Package adminserver exposes a chi-routed introspection HTTP surface
// over an engine.Engine: health, epoch/GC/table stats, and a Prometheus
// text-exposition endpoint. It is deliberately not a query/DDL
// surface: every route here is read-only introspection.
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mvccdb/mvccd/pkg/engine"
)

// Config holds admin server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sane admin-server defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         9090,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the admin HTTP server fronting an engine.Engine.
type Server struct {
	config  *Config
	engine  *engine.Engine
	router  *chi.Mux
	httpSrv *http.Server

	events *EventBroadcaster
}

// New creates an admin server over engine, wiring its routes and event
// broadcaster but not yet listening; call Start.
func New(config *Config, eng *engine.Engine) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		config: config,
		engine: eng,
		router: chi.NewRouter(),
		events: NewEventBroadcaster(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/stats/epochs", s.jsonHandler(func() interface{} { return s.engine.EpochStats() }))
	s.router.Get("/stats/gc", s.jsonHandler(func() interface{} { return s.engine.GCStats() }))
	s.router.Get("/stats/tables", s.jsonHandler(func() interface{} { return s.engine.TableStats() }))
	s.router.Get("/stats/transactions", s.jsonHandler(func() interface{} { return s.engine.Metrics().GetMetrics() }))
	s.router.Get("/stats/cache", s.jsonHandler(func() interface{} { return s.engine.CacheStats() }))
	s.router.Get("/metrics", s.handlePrometheusMetrics)

	// Live event feed of commit/abort/epoch-advance/reclaim events.
	s.router.Get("/events/watch", s.events.Handle())
}

func (s *Server) jsonHandler(fn func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fn()); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":              "ok",
		"uptime_seconds":      s.engine.Uptime().Seconds(),
		"active_transactions": s.engine.ActiveTransactions(),
	})
}

func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := s.engine.PrometheusExporter().WriteMetrics(w); err != nil {
		http.Error(w, fmt.Sprintf("error writing metrics: %v", err), http.StatusInternalServerError)
	}
}

// Events returns the server's event broadcaster, so the caller wiring
// an engine can push lifecycle events into it (see cmd/mvccd).
func (s *Server) Events() *EventBroadcaster { return s.events }

// Start listens for HTTP connections until an error occurs or the
// process receives an interrupt/termination signal, then shuts down
// gracefully.
func (s *Server) Start() error {
	fmt.Printf("admin server listening on http://%s\n", s.httpSrv.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		fmt.Printf("admin server received signal: %v\n", sig)
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the HTTP server and closes active event
// connections.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.events.Close()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown error: %w", err)
	}
	return nil
}
