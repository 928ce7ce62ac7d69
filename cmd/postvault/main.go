// Command postvault serves the PostVault web form and JSON API.
//
// Users submit a keyword, the service fetches matching recent posts from the
// search API, stores the ones it has not seen before, and offers the stored
// set as an HTML table or a CSV/JSON download. Liveness and readiness are
// served at /health/live and /health/ready; Prometheus metrics on a separate
// port.
//
// Usage:
//
//	go run ./cmd/postvault [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/postvault/postvault/internal/app"
	"github.com/postvault/postvault/internal/gateway/handler"
	"github.com/postvault/postvault/internal/gateway/router"
	"github.com/postvault/postvault/pkg/config"
	"github.com/postvault/postvault/pkg/logger"
	"github.com/postvault/postvault/pkg/metrics"
	"github.com/postvault/postvault/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)

	if err := run(cfg); err != nil {
		slog.Error("postvault exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("postvault stopped")
}

// run wires the application and blocks until SIGINT/SIGTERM, then drains the
// HTTP server within the configured shutdown timeout.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting postvault", "port", cfg.Server.Port, "store", cfg.Store.Driver)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a, err := app.New(ctx, cfg, reg)
	if err != nil {
		return fmt.Errorf("initialising app: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("closing app", "error", err)
		}
	}()
	if cfg.Search.BearerToken == "" {
		slog.Warn("no search bearer token configured; ingestion will fail until PV_SEARCH_BEARER_TOKEN is set")
	}

	h := handler.New(handler.Config{
		Bounds:         a.Pipeline.Bounds(),
		DefaultResults: cfg.Search.DefaultResults,
	}, a, a.Store)
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.New(h, a.Health, a.Metrics, router.Options{
			IngestTimeout: cfg.Server.WriteTimeout,
			CORS:          middleware.NewCORSConfig(cfg.Server.CORSOrigins),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("postvault listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port, reg)
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
