package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/picklepot-store/internal/cartstore"
	"github.com/xenking/picklepot-store/internal/domain/auth"
	"github.com/xenking/picklepot-store/internal/domain/cart"
	"github.com/xenking/picklepot-store/internal/domain/coupon"
	"github.com/xenking/picklepot-store/internal/domain/order"
	"github.com/xenking/picklepot-store/internal/domain/payment"
	"github.com/xenking/picklepot-store/internal/handler"
	"github.com/xenking/picklepot-store/internal/outbox"
	"github.com/xenking/picklepot-store/internal/processor"
	"github.com/xenking/picklepot-store/internal/repository"
	"github.com/xenking/picklepot-store/pkg/health"
	"github.com/xenking/picklepot-store/pkg/httpmiddleware"
)

const serviceName = "picklepot-api"

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	ctx = zctx.Base(ctx, lg)

	version, err := repository.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "run migrations")
	}
	lg.Info("Schema migrated", zap.Uint("version", version))

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	carts := cartstore.New(rdb, cfg.Cart.TTL)

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Add(health.Readiness, "redis", 2*time.Second, health.PingCheck(carts))
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	tx := repository.NewTransactor(pool, repository.TxOptions{
		LockTimeout: cfg.Tx.LockTimeout,
		MaxRetries:  cfg.Tx.MaxRetries,
	})
	products := repository.NewProductRepository(pool)
	settings := repository.NewSettingsRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	inventoryRepo := repository.NewInventoryRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)
	apikeys := repository.NewAPIKeyRepository(pool)

	proc, err := newProcessor(cfg.Payment, m)
	if err != nil {
		return err
	}

	// Domain services.
	couponSvc := coupon.NewService(couponRepo)
	cartSvc := cart.NewService(carts, products, settings)
	orderSvc := order.NewService(tx, orderRepo, products, settings, couponSvc, inventoryRepo, outboxRepo,
		order.WithCartClearer(carts),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	paymentSvc := payment.NewService(tx, paymentRepo, orderRepo, couponSvc, inventoryRepo, outboxRepo, proc,
		payment.WithTimeout(cfg.Payment.Timeout),
		payment.WithTracerProvider(m.TracerProvider()),
		payment.WithMeterProvider(m.MeterProvider()),
	)

	h := handler.NewHandler(products, cartSvc, couponSvc, orderSvc, paymentSvc,
		auth.NewAuthenticator(apikeys, []byte(cfg.APIKeyPepper)))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.Route(),
		httpmiddleware.LogRequests(),
		cors.New(corsConfig(cfg.CORS)),
	)
	engine.GET("/livez", healthSvc.Live)
	engine.GET("/readyz", healthSvc.Ready)

	api := engine.Group("/api")
	api.Use(httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	}))
	h.Register(api)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Covers the processor timeout of a payment request.
		WriteTimeout:   cfg.Payment.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: otelhttp.NewHandler(engine, serviceName,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthSvc.Run(gctx, 10*time.Second)
	})
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := outbox.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		relay := outbox.NewRelay(tx, outboxRepo, publisher, cfg.Kafka.RelayInterval, cfg.Kafka.BatchSize)
		g.Go(func() error {
			defer func() {
				if err := publisher.Close(); err != nil {
					lg.Warn("Close kafka writer", zap.Error(err))
				}
			}()
			return relay.Run(gctx)
		})
	} else {
		lg.Info("Outbox relay disabled: no kafka brokers configured")
	}
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		// Only drain when shutting down normally, a failed component
		// should stop the process right away.
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	healthSvc.SetReady(true)
	return g.Wait()
}

func newProcessor(cfg PaymentConfig, m *app.Telemetry) (payment.Processor, error) {
	switch cfg.Processor {
	case "sandbox":
		return processor.NewSandbox(cfg.SlowDelay), nil
	case "gateway":
		return processor.NewGateway(processor.GatewayOptions{
			BaseURL:        cfg.GatewayURL,
			APIKey:         cfg.GatewayKey,
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
		}), nil
	default:
		return nil, errors.Errorf("unknown payment processor %q", cfg.Processor)
	}
}

func corsConfig(cfg CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "X-API-Key", "api_key", "X-Customer-ID", httpmiddleware.RequestIDHeader},
		ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           24 * time.Hour,
	}
	if len(cfg.Origins) == 0 || (len(cfg.Origins) == 1 && cfg.Origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.Origins
	}
	return c
}
