package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/foodshare/internal/config"
	"github.com/example/foodshare/internal/geolocation"
	"github.com/example/foodshare/internal/http/middleware"
	"github.com/example/foodshare/internal/listing/domain"
	"github.com/example/foodshare/internal/listing/handler"
	"github.com/example/foodshare/internal/listing/repository"
	"github.com/example/foodshare/internal/listing/service"
	outboxworker "github.com/example/foodshare/internal/outbox"
	"github.com/example/foodshare/pkg/events"
	"github.com/example/foodshare/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger := observability.SetupLogger("food-service", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	var traceOut io.Writer
	if cfg.TraceStdout {
		traceOut = os.Stdout
	}
	shutdown, err := observability.SetupTracer(ctx, "food-service", traceOut)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	backend, err := repository.Open(ctx, cfg, logger.Named("store"))
	if err != nil {
		logger.Fatal("open listing store", zap.Error(err))
	}
	defer backend.Close(context.Background())

	checks := map[string]observability.HealthCheck{"store": backend.Ping}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("foodservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	var idem domain.IdempotencyRepository = repository.NewMemoryIdempotencyRepo(cfg.IdempotencyTTL)
	var limiter *middleware.RateLimiter
	if redisClient != nil {
		idem = repository.NewRedisIdempotencyRepo(redisClient, "", cfg.IdempotencyTTL)
		limiter = middleware.NewRateLimiter(redisClient,
			middleware.Bucket{Rate: cfg.RateReadRPS, Burst: cfg.RateReadBurst},
			middleware.Bucket{Rate: cfg.RateWriteRPS, Burst: cfg.RateWriteBurst},
			logger.Named("ratelimit"))
	}

	// A postgres store writes events to its outbox table with each listing
	// change, so the publisher is only used by the other backends.
	var publisher domain.EventPublisher = events.NewNATSPublisher(natsConn, cfg.EventsSubject)
	if backend.DB != nil {
		if natsConn != nil {
			worker := outboxworker.NewWorker(backend.DB, natsConn, logger.Named("outbox"), outboxworker.WorkerConfig{
				PollInterval: cfg.OutboxPoll,
				BatchSize:    cfg.OutboxBatch,
				RetryMax:     cfg.OutboxRetry,
			})
			go func() {
				if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("outbox worker stopped", zap.Error(err))
				}
			}()
		} else {
			logger.Warn("outbox worker disabled, events stay in the outbox table until NATS is configured")
		}
	}

	locator, err := geolocation.FromConfig(cfg, logger.Named("geolocation"))
	if err != nil {
		logger.Fatal("geolocation provider", zap.Error(err))
	}

	svc := service.New(backend.Store, publisher, domain.SystemClock{}, idem, logger.Named("listing"))
	listingHTTP := handler.NewHTTP(svc, locator, cfg.JWTSecret, logger.Named("http"))
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, role checks disabled")
	}

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter(checks))
	r.Mount("/", listingHTTP.Router(limiter.Middleware))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("food service listening", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
