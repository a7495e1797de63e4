package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/teamcart/internal/cache"
	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/money"
	"github.com/xenking/teamcart/internal/handler"
	"github.com/xenking/teamcart/internal/outbox"
	"github.com/xenking/teamcart/internal/repository"
	"github.com/xenking/teamcart/internal/service"
	"github.com/xenking/teamcart/internal/webhook"
	"github.com/xenking/teamcart/pkg/health"
	"github.com/xenking/teamcart/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Register(health.Readiness, "postgres", 5*time.Second, health.PostgresCheck(pool))
	healthSvc.Register(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Redis backs the cart cache and the rate limiter.
	var (
		rdb       *redis.Client
		cartCache service.CartCache
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		cartCache = cache.NewCarts(rdb, cfg.Redis.CacheTTL)
		healthSvc.Register(health.Readiness, "redis", 2*time.Second, health.RedisCheck(rdb))
	} else {
		lg.Warn("Redis not configured, cart cache and rate limiting disabled")
	}

	// RabbitMQ receives outbox events.
	var dispatcher *outbox.Dispatcher
	if cfg.RabbitMQ.URL != "" {
		conn := outbox.NewRabbitConn(cfg.RabbitMQ.URL)
		defer func() { _ = conn.Close() }()

		publisher := outbox.NewRabbitPublisher(conn.Channel)
		if err := publisher.Connect(); err != nil {
			return errors.Wrap(err, "connect rabbitmq")
		}
		dispatcher = outbox.NewDispatcher(
			repository.NewOutboxRepository(pool),
			publisher,
			cfg.Outbox.Interval,
			cfg.Outbox.Batch,
		)
		healthSvc.Register(health.Readiness, "rabbitmq", time.Second, health.RabbitCheck(publisher))
	} else {
		lg.Warn("RabbitMQ not configured, outbox events stay pending")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Services.
	policy, err := cfg.Pricing.Policy()
	if err != nil {
		return err
	}
	uow := repository.NewUnitOfWork(pool)
	carts := service.NewTeamCarts(
		uow,
		repository.NewMenuRepository(pool),
		coupon.NewRepoValidator(repository.NewCouponRepository(pool)),
		cartCache,
		service.Settings{
			Currency:     money.Currency(cfg.Pricing.Currency),
			JoinTokenTTL: cfg.Pricing.JoinTokenTTL,
		},
	)
	conversion, err := service.NewConversion(uow, policy, cartCache, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create conversion service")
	}
	reconciler, err := webhook.NewReconciler(uow, cartCache, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}
	expiry := service.NewExpiry(uow, cartCache, cfg.Expiry.Interval, cfg.Expiry.Batch)

	// HTTP handlers.
	var apiMiddlewares []httpmiddleware.Middleware
	if rdb != nil {
		apiMiddlewares = append(apiMiddlewares, httpmiddleware.RateLimit(rdb, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: handler.UserKey,
		}))
	}
	h := handler.New(carts, conversion, webhook.NewHMACGateway(cfg.Webhook.Secret, cfg.Webhook.Tolerance), reconciler)
	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Router(auth, apiMiddlewares...))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Route(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("teamcart-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	if dispatcher != nil {
		g.Go(func() error { return dispatcher.Run(gctx) })
	}
	g.Go(func() error { return expiry.Run(gctx) })

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
