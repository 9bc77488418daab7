package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/buja23/OpiticaPruden/pkg/database"
	"github.com/buja23/OpiticaPruden/pkg/health"
	"github.com/buja23/OpiticaPruden/pkg/httpclient"
	pkgkafka "github.com/buja23/OpiticaPruden/pkg/kafka"
	"github.com/buja23/OpiticaPruden/pkg/middleware"
	"github.com/buja23/OpiticaPruden/pkg/tracing"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/config"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/event"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/gateway"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/gateway/mercadopago"
	mockgateway "github.com/buja23/OpiticaPruden/services/checkout/internal/gateway/mock"
	handler "github.com/buja23/OpiticaPruden/services/checkout/internal/handler/http"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/repository/postgres"
	redisrepo "github.com/buja23/OpiticaPruden/services/checkout/internal/repository/redis"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/service"
	"github.com/buja23/OpiticaPruden/services/checkout/migrations"
)

const serviceName = "checkout"

// App wires together all dependencies and runs the checkout service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	publisher      pkgkafka.Publisher
	sweeper        *service.SweeperService
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// Stores holds the persistence layer shared by the server and the one-shot
// commands.
type Stores struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Orders    *postgres.OrderRepository
	Sessions  repository.SessionCache
	Lock      repository.CheckoutLock
	Ledger    repository.NotificationLedger
	Publisher pkgkafka.Publisher
}

// Close releases every connection held by the stores.
func (s *Stores) Close() error {
	var errs []error
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	return errors.Join(errs...)
}

// OpenStores connects to PostgreSQL, runs migrations and, when configured,
// connects to Redis and Kafka. Redis is optional: without it the session
// cache and the notification ledger are disabled.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	stores := &Stores{
		Pool:   pool,
		Orders: postgres.NewOrderRepository(pool),
	}

	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, database.RedisConfig{URL: cfg.RedisURL})
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		stores.Redis = client
		stores.Sessions = redisrepo.NewSessionCache(client, cfg.SessionCacheTTL)
		stores.Lock = redisrepo.NewCheckoutLock(client, cfg.CheckoutLockTTL)
		stores.Ledger = redisrepo.NewNotificationLedger(client, cfg.NotificationLedgerTTL)
		logger.Info("connected to Redis",
			slog.Duration("session_ttl", cfg.SessionCacheTTL),
			slog.Duration("ledger_ttl", cfg.NotificationLedgerTTL),
		)
	} else {
		logger.Warn("REDIS_URL not set, checkout session cache and webhook ledger disabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		stores.Publisher = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		stores.Publisher = pkgkafka.NopPublisher{}
		logger.Info("KAFKA_BROKERS not set, order events are not published")
	}

	return stores, nil
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(serviceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, stores.Pool, serviceName); err != nil {
		logger.Warn("failed to register pool metrics", slog.String("error", err.Error()))
	}

	gw, mockGW := newGateway(cfg, logger)
	logger.Info("payment gateway initialized",
		slog.String("gateway", gw.Name()),
		slog.Bool("sandbox", cfg.MPUseSandbox),
	)

	producer := event.NewProducer(stores.Publisher, logger)

	checkoutService := service.NewCheckoutService(stores.Orders, stores.Sessions, gw, producer, logger)
	if stores.Lock != nil {
		checkoutService.WithLock(stores.Lock, cfg.CheckoutLockWait)
	}
	reconcileService := service.NewReconcileService(stores.Orders, stores.Ledger, gw, producer, logger)
	sweeperService := service.NewSweeperService(stores.Orders, producer, logger, cfg.OrderPendingTimeout)
	orderService := service.NewOrderService(stores.Orders, producer, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return stores.Pool.Ping(ctx)
	})
	if stores.Redis != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return stores.Redis.Ping(ctx).Err()
		})
	}
	if p, ok := stores.Publisher.(*pkgkafka.Producer); ok {
		healthHandler.RegisterNonCritical("kafka", p.Ping)
	}

	auth := middleware.Auth(middleware.JWTValidator(cfg.JWTSecret))
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, trusting X-User-ID headers from the upstream proxy")
		auth = middleware.HeaderAuth()
	}

	router := handler.NewRouter(
		handler.Services{
			Checkout:  checkoutService,
			Reconcile: reconcileService,
			Sweeper:   sweeperService,
			Orders:    orderService,
		},
		healthHandler,
		handler.RouterConfig{
			Auth:              auth,
			AllowedOrigins:    cfg.AllowedOrigins(),
			RateLimitRPS:      cfg.RateLimitRPS,
			RateLimitBurst:    cfg.RateLimitBurst,
			SweepToken:        cfg.SweepToken,
			PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
			MockGateway:       mockGW,
		},
		logger,
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           stores.Pool,
		redis:          stores.Redis,
		publisher:      stores.Publisher,
		sweeper:        sweeperService,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// newGateway builds the configured payment gateway. The second return value
// is set only for the in-memory gateway.
func newGateway(cfg *config.Config, logger *slog.Logger) (gateway.Gateway, *mockgateway.Gateway) {
	if cfg.PaymentGateway == config.GatewayMock {
		logger.Warn("using in-memory payment gateway, payments must be simulated")
		gw := mockgateway.New(cfg.SiteURL)
		return gw, gw
	}

	cbClient := httpclient.NewCircuitBreakerClient(
		httpclient.New(cfg.GatewayHTTP()),
		cfg.CircuitBreaker(mercadopago.Name),
		logger,
	).WithFallback(service.CircuitOpenFallback)

	client := mercadopago.New(cbClient, mercadopago.Config{
		AccessToken:         cfg.MPAccessToken,
		BaseURL:             cfg.MPBaseURL,
		SiteURL:             cfg.SiteURL,
		NotificationURL:     cfg.MPNotificationURL,
		StatementDescriptor: cfg.MPStatementDescriptor,
		CurrencyID:          cfg.MPCurrencyID,
		Installments:        cfg.MPInstallments,
		UseSandbox:          cfg.MPUseSandbox,
		AutoReturnFallback:  cfg.MPAutoReturnFallback,
	}, logger)
	return client, nil
}

// Run starts the HTTP server and, when an interval is configured, the
// background expiry sweeper. It blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if a.cfg.SweepInterval > 0 {
		go a.sweeper.Run(sweepCtx, a.cfg.SweepInterval)
	} else {
		a.logger.Info("background sweeper disabled, expect an external scheduler on /api/v1/internal/sweep")
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		stopSweeper()
		_ = a.Shutdown()
		return err
	}

	stopSweeper()
	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3-5. Close the stores.
	stores := &Stores{Pool: a.pool, Redis: a.redis, Publisher: a.publisher}
	if err := stores.Close(); err != nil {
		a.logger.Error("store shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
