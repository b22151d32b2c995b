package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartpay-pos/smartpay-backend/api/controllers"
	"github.com/smartpay-pos/smartpay-backend/api/middleware"
	"github.com/smartpay-pos/smartpay-backend/internal/cart"
	"github.com/smartpay-pos/smartpay-backend/internal/lanes"
	"github.com/smartpay-pos/smartpay-backend/internal/ledger"
	"github.com/smartpay-pos/smartpay-backend/internal/settlement"
	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	"github.com/smartpay-pos/smartpay-backend/pkg/db"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	engine *settlement.Engine,
	cartService cart.Service,
	laneService *lanes.Service,
	ledgerService ledger.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Device(logg),
		middleware.Logging(logg),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIPLimit,
		cfg.RateLimit.CheckoutDeviceLimit,
		cfg.RateLimit.CheckoutUserLimit,
	)
	scanPolicy := middleware.NewRateLimitPolicy(
		"scan",
		cfg.RateLimit.ScanWindow,
		0,
		cfg.RateLimit.ScanDeviceLimit,
		0,
	)

	// typed nil pointers must not reach the middleware interfaces
	var (
		idemStore  = idempotencyStore(redisClient)
		limitStore = rateLimitStore(redisClient)
		readyDeps  = map[string]controllers.Pinger{"db": dbP}
	)
	if redisClient != nil {
		readyDeps["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyDeps))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	checkoutIdem := middleware.Idempotency(idemStore, middleware.IdempotencyPolicy{Name: "checkout", TTL: cfg.Settlement.IdempotencyTTL}, logg)
	cartIdem := middleware.Idempotency(idemStore, middleware.IdempotencyPolicy{Name: "cart_line"}, logg)
	scanIdem := middleware.Idempotency(idemStore, middleware.IdempotencyPolicy{Name: "lane_scan"}, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(checkoutPolicy, limitStore, logg), checkoutIdem).
			Post("/checkout", controllers.Checkout(engine, cfg.Settlement.Timeout, logg))

		r.Route("/cart/{userId}", func(r chi.Router) {
			r.Get("/", controllers.CartGet(cartService, logg))
			r.Get("/total", controllers.CartTotals(cartService, logg))
			r.With(cartIdem).Delete("/", controllers.CartClear(cartService, logg))
			r.With(cartIdem).Put("/items/{lineId}", controllers.CartUpdateLine(cartService, logg))
			r.Delete("/items/{lineId}", controllers.CartRemoveLine(cartService, logg))
		})

		r.Route("/lanes/{deviceId}", func(r chi.Router) {
			r.Use(middleware.Device(logg))
			r.Post("/bind", controllers.LaneBind(laneService, logg))
			r.Delete("/bind", controllers.LaneRelease(laneService, logg))
			r.With(middleware.RateLimit(scanPolicy, limitStore, logg), scanIdem).
				Post("/scans", controllers.LaneScan(laneService, logg))
		})

		r.Get("/users/{userId}/settlements", controllers.UserSettlements(ledgerService, logg))
		r.Get("/settlements/{reference}", controllers.SettlementByReference(ledgerService, logg))
	})

	return r
}

func idempotencyStore(c *redis.Client) redis.IdempotencyStore {
	if c == nil {
		return nil
	}
	return c
}

func rateLimitStore(c *redis.Client) middleware.RateLimiterStore {
	if c == nil {
		return nil
	}
	return c
}
