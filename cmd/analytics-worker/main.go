package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/smartpay-pos/smartpay-backend/api/controllers"
	"github.com/smartpay-pos/smartpay-backend/internal/analytics/router"
	"github.com/smartpay-pos/smartpay-backend/internal/analytics/types"
	"github.com/smartpay-pos/smartpay-backend/internal/analytics/worker"
	"github.com/smartpay-pos/smartpay-backend/internal/analytics/writer"
	"github.com/smartpay-pos/smartpay-backend/pkg/bigquery"
	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	"github.com/smartpay-pos/smartpay-backend/pkg/env"
	"github.com/smartpay-pos/smartpay-backend/pkg/instance"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/metrics"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox/idempotency"
	"github.com/smartpay-pos/smartpay-backend/pkg/pubsub"
	"github.com/smartpay-pos/smartpay-backend/pkg/redis"
)

const serviceName = "analytics-worker"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()
	requireResource(ctx, logg, "analytics subscription", pubsubClient.EnsureSubscription(ctx, cfg.PubSub.AnalyticsSubscription))

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	tableSpecs, err := types.TableSpecs(cfg.BigQuery)
	requireResource(ctx, logg, "bigquery schemas", err)
	requireResource(ctx, logg, "bigquery tables", bqClient.EnsureTables(ctx, tableSpecs...))

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "analytics subscription", errors.New("subscription not configured"))
	}

	guard, err := idempotency.NewGuard(redisClient, worker.ConsumerName, cfg.Outbox.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency guard", err)

	factWriter, err := writer.New(bqClient, writer.Config{
		SettlementsTable:     cfg.BigQuery.SettlementsTable,
		SettlementLinesTable: cfg.BigQuery.SettlementLinesTable,
	})
	requireResource(ctx, logg, "analytics bigquery writer", err)

	routingHandler, err := router.NewRouter(factWriter, logg, nil)
	requireResource(ctx, logg, "analytics router", err)

	promRegistry := prometheus.NewRegistry()
	service, err := worker.NewService(subscription, routingHandler, guard, logg, metrics.NewJobMetrics(promRegistry))
	requireResource(ctx, logg, "analytics worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "analytics worker ready")

	metricsServer := &http.Server{
		Addr:              ":" + env.Get("PORT", cfg.App.Port),
		Handler:           opsRouter(cfg, logg, promRegistry, map[string]controllers.Pinger{"redis": redisClient, "bigquery": bqClient}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return service.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "analytics worker shutting down gracefully")
}

// opsRouter serves the worker's probes and metrics; it has no API surface.
func opsRouter(cfg *config.Config, logg *logger.Logger, gatherer prometheus.Gatherer, deps map[string]controllers.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Get("/health/live", controllers.HealthLive(cfg))
	r.Get("/health/ready", controllers.HealthReady(cfg, logg, deps))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
