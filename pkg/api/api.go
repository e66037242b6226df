// Package api serves the read-only admin HTTP surface of the name server:
// health, Prometheus metrics, and JSON views of the rosters.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/config"
	"github.com/scribefs/scribefs/pkg/nameserver"
)

// NewRouter builds the admin router over the name server registry.
func NewRouter(registry *nameserver.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/v1/servers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.Servers())
	})
	r.Get("/v1/files", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.ListFiles())
	})
	r.Get("/v1/clients", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.Clients())
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("admin api encode failed", "error", err)
	}
}

// NewMetricsRouter builds a bare scrape surface for processes without an
// admin roster, such as the storage server.
func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Serve runs the admin endpoint until the context is cancelled.
func Serve(ctx context.Context, cfg config.APIConfig, registry *nameserver.Registry) error {
	return serve(ctx, cfg, NewRouter(registry))
}

// ServeMetrics runs the bare scrape endpoint until the context is
// cancelled.
func ServeMetrics(ctx context.Context, cfg config.APIConfig) error {
	return serve(ctx, cfg, NewMetricsRouter())
}

func serve(ctx context.Context, cfg config.APIConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
