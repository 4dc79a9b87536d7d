package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/config"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/inventory"
	invdb "ms-checkout/internal/inventory/db"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/order"
	orderdb "ms-checkout/internal/order/db"
	"ms-checkout/internal/order/discount"
	"ms-checkout/internal/order/order_api"
	orderredis "ms-checkout/internal/order/redis"
	"ms-checkout/internal/payment/services"
	"ms-checkout/internal/payment/storage"
	"ms-checkout/internal/reconciler"
	"ms-checkout/internal/reconciler/webhook_api"
	"ms-checkout/internal/refund"
	refunddb "ms-checkout/internal/refund/db"
	"ms-checkout/internal/refund/refund_api"
	refundredis "ms-checkout/internal/refund/redis"
	ticketdb "ms-checkout/internal/tickets/db"
	qr "ms-checkout/internal/tickets/qr_genrator"
	tickets "ms-checkout/internal/tickets/service"
	"ms-checkout/internal/tickets/ticket_api"
	"ms-checkout/internal/utils"
)

const (
	qrSize         = 256
	maxWebhookBody = 1 << 16
)

type publisher interface {
	order.KafkaPublisher
	refund.KafkaPublisher
	reconciler.KafkaPublisher
	tickets.Notifier
	Close() error
}

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Options{Dir: cfg.Log.Dir, Service: cfg.Log.Service, Level: cfg.Log.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	log.Info("APP", "Starting checkout service initialization")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("APP", err.Error())
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) (err error) {
	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	if cfg.Database.AutoMigrate {
		if err := migrate(cfg.Database.DSN, log); err != nil {
			return err
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { err = multierr.Append(err, redisClient.Close()) }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// the lookup throttle and refund guard fail open, so Redis is not required to serve
		log.Warn("REDIS", fmt.Sprintf("Redis unreachable at %s: %v", cfg.Redis.Addr, err))
	} else {
		log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))
	}

	var producer publisher = kafka.Nop{}
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
	} else {
		log.Warn("KAFKA", "Kafka disabled, events are dropped")
	}
	defer func() { err = multierr.Append(err, producer.Close()) }()

	stripeService, err := services.NewStripeService(cfg.Stripe, log)
	if err != nil {
		return err
	}

	resolver, err := newResolver(ctx, cfg.Auth, log)
	if err != nil {
		return err
	}

	hasher, err := utils.NewTokenHasher(cfg.Checkout.TokenPepper)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCheckout(registry)

	orders := orderdb.New(db)
	inventoryDB := invdb.New(db)
	ticketsDB := ticketdb.New(db)
	payments := storage.NewPostgreSQLStore(db, log)

	reserver := inventory.NewReserver(inventoryDB, db, log, m)
	ticketService := tickets.NewTicketService(ticketsDB, orders, db, hasher, qr.NewQRGenerator(qrSize), producer, log)
	orderService := order.NewOrderService(orders, inventoryDB, reserver, discount.NewDiscountFetcher(db),
		discount.NewDiscountService(log), ticketService, ticketsDB, payments, stripeService, producer,
		resolver, db, hasher, log, m)
	refundService := refund.NewRefundService(refunddb.New(db), orders, payments, stripeService,
		refundredis.NewGuard(redisClient, cfg.Checkout.RefundGuardTTL), ticketService, producer, db, log, m)
	rec := reconciler.NewReconciler(payments, orders, reserver, ticketService, refundService, stripeService,
		producer, db, log, m)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware(func(r *http.Request) string { return chi.RouteContext(r.Context()).RoutePattern() }))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Bun.PingContext(r.Context()); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unavailable"})
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.WebhookTimeout))
		webhook_api.NewHandler(rec, maxWebhookBody, log).RegisterRoutes(r)
	})

	r.Route("/api", func(r chi.Router) {
		order_api.NewHandler(orderService,
			orderredis.NewRedis(redisClient, cfg.Checkout.LookupRateLimit, cfg.Checkout.LookupRateWindow), log).RegisterRoutes(r)
		refund_api.NewHandler(refundService, resolver, log).RegisterRoutes(r)
		ticket_api.NewHandler(ticketService, resolver, log).RegisterRoutes(r)
	})
	log.Info("ROUTER", "Checkout, refund, ticket and webhook routes registered")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP", "Checkout service running on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("HTTP", "Checkout service shutdown complete")
	return nil
}

// migrate applies the embedded schema over its own connection; the runner closes it.
func migrate(dsn string, log *logger.Logger) error {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	runner := migrations.NewRunner(sqlDB, log)
	return multierr.Append(runner.MigrateUp(), runner.Close())
}

func newResolver(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) (auth.Resolver, error) {
	if cfg.OIDCIssuer != "" {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		resolver, err := auth.NewOIDCResolver(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		log.Info("AUTH", "Verifying tokens against "+cfg.OIDCIssuer)
		return resolver, nil
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("either OIDC_ISSUER or AUTH_JWT_SECRET must be set")
	}
	log.Warn("AUTH", "Verifying tokens with a shared HS256 secret")
	return auth.NewHMACResolver(cfg.JWTSecret), nil
}
