package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/facebookgo/clock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shopmgr/partsync/pkg/api"
	"github.com/shopmgr/partsync/pkg/engine"
	"github.com/shopmgr/partsync/pkg/observability"
	"github.com/shopmgr/partsync/pkg/pricing"
	"github.com/shopmgr/partsync/pkg/scheduler"
	"github.com/shopmgr/partsync/pkg/supplier"
)

// Application encapsulates the supplier sync application
type Application struct {
	config *Config
	logger *logrus.Logger

	redisClient  *redis.Client
	supplier     supplier.Client
	engine       engine.Service
	scheduler    scheduler.Service
	api          api.Service
	healthServer *http.Server
}

// NewApplication creates a new application from validated configuration
func NewApplication(cfg *Config, logger *logrus.Logger) *Application {
	return &Application{
		config: cfg,
		logger: logger,
	}
}

// Start wires and starts every service, bottom up
func (a *Application) Start(ctx context.Context) error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger.Info("Starting partsync...")

	observability.StartMetricsServer(a.config.MetricsAddr)
	a.logger.WithField("addr", a.config.MetricsAddr).Info("Started metrics server")

	if a.config.HealthCheckAddr != "" {
		a.startHealthCheck()
	}

	redisOpt, err := a.config.Redis.Options()
	if err != nil {
		return err
	}

	a.redisClient = redis.NewClient(redisOpt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	clk := clock.New()
	prefix := a.config.Redis.Prefix

	tracker := supplier.NewRateLimitTracker(clk)

	supplierClient, err := supplier.NewClient(a.logger, &a.config.Supplier, clk, tracker)
	if err != nil {
		return fmt.Errorf("failed to create supplier client: %w", err)
	}

	a.supplier = supplierClient

	retrier := supplier.NewRetrier(a.logger, clk, a.config.Supplier.MaxRetries, a.config.Supplier.BaseRetryDelay)

	cache := pricing.NewCacheStore(a.logger, a.redisClient, clk, prefix, a.config.Engine.StaleThreshold)
	syncLog := pricing.NewSyncLog(a.logger, a.redisClient, clk, prefix)
	queue := pricing.NewRequestQueue(a.logger, a.redisClient, clk, prefix)

	eng, err := engine.NewService(a.logger, &a.config.Engine, clk, supplierClient, retrier, tracker, cache, syncLog, queue)
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}

	a.engine = eng

	sched, err := scheduler.NewService(a.logger, &a.config.Scheduler, clk, redisOpt, a.redisClient, prefix,
		eng, tracker, syncLog, queue, cache)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	a.scheduler = sched

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	handlers := api.NewHandlers(a.logger, eng, sched, cache, syncLog, queue)
	a.api = api.NewService(a.logger, &a.config.API, handlers)

	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API: %w", err)
	}

	a.logger.Info("partsync started successfully")

	return nil
}

// Stop gracefully shuts down all services in reverse start order
func (a *Application) Stop() error {
	a.logger.Info("Shutting down partsync...")

	if a.api != nil {
		if err := a.api.Stop(); err != nil {
			a.logger.WithError(err).Warn("Failed to stop API server")
		}
	}

	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			a.logger.WithError(err).Warn("Failed to stop scheduler")
		}
	}

	if a.healthServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.healthServer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Warn("Failed to stop health check server")
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close redis client")
		}
	}

	a.logger.Info("partsync stopped")

	return nil
}

// startHealthCheck starts a minimal liveness endpoint
func (a *Application) startHealthCheck() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	a.healthServer = &http.Server{
		Addr:              a.config.HealthCheckAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.WithField("addr", a.config.HealthCheckAddr).Info("Started health check server")

		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("Health check server failed")
		}
	}()
}
