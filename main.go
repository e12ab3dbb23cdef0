package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/app"
	"github.com/forensight/forensight/internal/circuitbreaker"
	"github.com/forensight/forensight/internal/config"
	"github.com/forensight/forensight/internal/health"
	"github.com/forensight/forensight/internal/httpapi"
	"github.com/forensight/forensight/internal/tracing"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Observability.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing unavailable, continuing without it", zap.Error(err))
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	// Background services stop with ctx.
	go circuitbreaker.GlobalCollector.Run(ctx, 15*time.Second)
	go a.Registry.Janitor(ctx, cfg.Runs.SweepInterval)
	go sweepEvents(ctx, a, cfg.Runs.SweepInterval, cfg.Runs.TTL)
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger.Named("config"))
		if err != nil {
			logger.Warn("Config hot-reload disabled", zap.Error(err))
		} else {
			watcher.OnChange(a.Reload)
			go watcher.Run(ctx)
		}
	}

	mux := http.NewServeMux()
	health.NewHTTPHandler(a.Health, logger).RegisterRoutes(mux)
	var steps httpapi.StepLister
	if a.StepLog != nil {
		steps = a.StepLog
	}
	httpapi.NewHandler(a.Runner, a.Registry, steps, a.Events, cfg.HTTP.AuthToken, logger.Named("http")).RegisterRoutes(mux)

	servers := []*http.Server{httpapi.NewServer(cfg.HTTP.Port, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, mux)}
	if cfg.Observability.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Observability.Metrics.Port),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("HTTP server listening", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", zap.String("address", srv.Addr), zap.Error(err))
				stop()
			}
		}(srv)
	}

	<-ctx.Done()
	logger.Info("Shutting down forensight service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down HTTP server", zap.String("address", srv.Addr), zap.Error(err))
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Failed to close application", zap.Error(err))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
}

// sweepEvents forgets event history for runs idle longer than the run TTL.
func sweepEvents(ctx context.Context, a *app.App, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.Events.Sweep(now.Add(-ttl)); n > 0 {
				a.Logger.Debug("Swept run event history", zap.Int("count", n))
			}
		}
	}
}
