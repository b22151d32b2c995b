package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/smartpay-pos/smartpay-backend/api/routes"
	"github.com/smartpay-pos/smartpay-backend/internal/cart"
	"github.com/smartpay-pos/smartpay-backend/internal/lanes"
	"github.com/smartpay-pos/smartpay-backend/internal/ledger"
	"github.com/smartpay-pos/smartpay-backend/internal/notifications"
	"github.com/smartpay-pos/smartpay-backend/internal/products"
	"github.com/smartpay-pos/smartpay-backend/internal/settlement"
	"github.com/smartpay-pos/smartpay-backend/internal/users"
	"github.com/smartpay-pos/smartpay-backend/internal/wallets"
	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	"github.com/smartpay-pos/smartpay-backend/pkg/db"
	"github.com/smartpay-pos/smartpay-backend/pkg/env"
	"github.com/smartpay-pos/smartpay-backend/pkg/instance"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/metrics"
	"github.com/smartpay-pos/smartpay-backend/pkg/migrate"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox"
	"github.com/smartpay-pos/smartpay-backend/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.ApplyOnBoot(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, redisClient.Close())
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	senders, err := notifications.NewSenders(cfg.Notifications, cfg.App.StoreName, &http.Client{Timeout: cfg.Notifications.SendTimeout})
	if err != nil {
		return err
	}
	dispatcher, err := notifications.NewAsyncDispatcher(notifications.DispatcherConfig{
		Workers:        cfg.Notifications.Workers,
		QueueSize:      cfg.Notifications.QueueSize,
		HandoffTimeout: cfg.Notifications.HandoffTimeout,
		SendTimeout:    cfg.Notifications.SendTimeout,
	}, senders, metrics.NewNotificationMetrics(registry), logg)
	if err != nil {
		return err
	}

	conn := dbClient.DB()
	usersRepo := users.NewRepository(conn)
	cartRepo := cart.NewRepository(conn)
	productsRepo := products.NewRepository(conn)
	ledgerRepo := ledger.NewRepository(conn)

	engine, err := settlement.NewEngine(settlement.Params{
		DB:         dbClient,
		Users:      usersRepo,
		Carts:      cartRepo,
		Wallets:    wallets.NewRepository(conn),
		Products:   productsRepo,
		Ledger:     ledgerRepo,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logg),
		Dispatcher: dispatcher,
		Metrics:    metrics.NewSettlementMetrics(registry),
		Logger:     logg,
	})
	if err != nil {
		return err
	}

	cartService, err := cart.NewService(cartRepo, dbClient, usersRepo, productsRepo)
	if err != nil {
		return err
	}
	laneService, err := lanes.NewService(redisClient, usersRepo, cartService, cfg.Lanes.BindingTTL, logg)
	if err != nil {
		return err
	}
	ledgerService, err := ledger.NewService(ledgerRepo)
	if err != nil {
		return err
	}

	addr := ":" + env.Get("PORT", cfg.App.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, registry, engine, cartService, laneService, ledgerService),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(gctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info(context.WithoutCancel(gctx), "shutting down api server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		// drain in-flight settlements before the receipt workers stop
		return multierr.Combine(
			server.Shutdown(shutdownCtx),
			dispatcher.Close(shutdownCtx),
		)
	})

	return g.Wait()
}
