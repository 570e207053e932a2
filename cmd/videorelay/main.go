// videorelay is the HTTP service that runs each video processing request on
// its own short-lived machine.
package main

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

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"videorelay/internal/api"
	"videorelay/internal/config"
	"videorelay/internal/dispatcher"
	"videorelay/internal/health"
	"videorelay/internal/lifecycle"
	"videorelay/internal/lifecycle/docker"
	"videorelay/internal/lifecycle/fly"
	"videorelay/internal/notify"
	"videorelay/internal/observability"
	"videorelay/internal/registry"
	"videorelay/pkg/transport"
)

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	svcCfg := config.LoadServiceConfig()
	slog.SetDefault(observability.NewLogger(observability.LogConfig{
		Level:  svcCfg.LogLevel,
		Format: svcCfg.LogFormat,
	}, os.Stdout))

	if err := run(svcCfg); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(svcCfg *config.ServiceConfig) error {
	ctx := context.Background()

	dispatchCfg := dispatcher.LoadConfigFromEnv()
	dispatchCfg.Provider = svcCfg.Provider
	dispatchCfg.Owner = uuid.NewString()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	provider, err := newProvider(ctx, svcCfg.Provider)
	if err != nil {
		return err
	}
	defer provider.Close()
	slog.Info("Machine provider configured", "provider", svcCfg.Provider, "image", dispatchCfg.Machine.Image)

	healthChecker := health.NewChecker(provider)

	store, err := newStore(ctx, svcCfg.RedisURL, healthChecker)
	if err != nil {
		return err
	}
	defer store.Close()

	// An in-memory registry only ever holds this instance's live dispatches
	if svcCfg.RedisURL != "" {
		reapCfg, err := reaperConfig(dispatchCfg, svcCfg.ForwardTimeout)
		if err != nil {
			return err
		}
		reaper := registry.NewReaper(store, provider, reapCfg, metrics)
		reaper.Start()
		defer reaper.Close()
	}

	opts := []dispatcher.Option{
		dispatcher.WithRegistry(store),
		dispatcher.WithMetrics(metrics),
	}

	var notifier *notify.Notifier
	if notifyCfg := notify.LoadConfigFromEnv(); notifyCfg.Enabled() {
		notifier, err = notify.New(notifyCfg, metrics)
		if err != nil {
			return err
		}
		opts = append(opts, dispatcher.WithEvents(notifier))
		healthChecker.AddCheck("events", health.CheckFunc(func(context.Context) error {
			if notifier.Stats().BreakerOpen {
				return errors.New("event destination circuit open")
			}
			return nil
		}), false)
		slog.Info("Lifecycle events enabled", "url", notifyCfg.URL, "signed", notifyCfg.SigningKey != "")
	}

	d := dispatcher.New(provider, transport.New(svcCfg.ForwardTimeout), dispatchCfg, opts...)

	router := api.NewRouter(api.RouterConfig{
		Dispatcher:    d,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Requests hold the connection for the whole machine lifecycle
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: dispatchBound(dispatchCfg, svcCfg.ForwardTimeout),
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: In-flight dispatches finish and release their machines.
	// Anything still running after the timeout is left to the reaper.
	slog.Info("Starting graceful shutdown", "timeout", svcCfg.ShutdownTimeout)
	shutdown(svcCfg.ShutdownTimeout)

	// Phase 3: Flush lifecycle events
	if notifier != nil {
		slog.Info("Draining event notifier")
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.Close(notifyCtx); err != nil {
			slog.Warn("Notifier shutdown error", "error", err)
		}

		stats := notifier.Stats()
		slog.Info("Notifier stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}

	slog.Info("Shutdown complete")
	return nil
}

// newProvider builds the configured lifecycle provider.
func newProvider(ctx context.Context, name string) (lifecycle.Provider, error) {
	switch name {
	case "fly":
		p, err := fly.New(fly.LoadConfigFromEnv())
		if err != nil {
			return nil, err
		}
		return p, nil
	case "docker":
		p, err := docker.New(ctx, docker.LoadConfigFromEnv())
		if err != nil {
			return nil, err
		}
		slog.Info("Connected to Docker daemon")
		return p, nil
	default:
		return nil, fmt.Errorf("unknown PROVIDER %q (want fly or docker)", name)
	}
}

// newStore returns the Redis registry when url is set, otherwise an
// in-process one that only tracks this instance's dispatches.
func newStore(ctx context.Context, url string, checker *health.Checker) (registry.Store, error) {
	if url == "" {
		slog.Info("Using in-memory machine registry")
		return registry.NewMemoryStore(), nil
	}

	store, err := registry.NewRedisStore(ctx, url)
	if err != nil {
		return nil, err
	}
	checker.AddCheck("registry", health.CheckFunc(store.Ping), false)
	slog.Info("Using Redis machine registry")
	return store, nil
}

// reaperConfig loads the reaper settings for this instance and checks that
// MaxAge outlasts any dispatch another instance could still be running.
func reaperConfig(cfg dispatcher.Config, forward time.Duration) (registry.ReaperConfig, error) {
	reapCfg := registry.LoadReaperConfigFromEnv()
	reapCfg.Owner = cfg.Owner
	if err := reapCfg.Validate(dispatchBound(cfg, forward)); err != nil {
		return registry.ReaperConfig{}, err
	}
	return reapCfg, nil
}

// dispatchBound is the longest a single dispatch can hold its connection.
func dispatchBound(cfg dispatcher.Config, forward time.Duration) time.Duration {
	return cfg.ReadyTimeout + cfg.ProbeTimeout + cfg.SettleDelay + forward + cfg.StopTimeout + time.Minute
}
