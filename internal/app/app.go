package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vintora/tablebook/internal/config"
	"github.com/vintora/tablebook/internal/postgres"
	stripegw "github.com/vintora/tablebook/internal/provider/stripe"
	"github.com/vintora/tablebook/internal/redis"
	postgresrepo "github.com/vintora/tablebook/internal/repository/postgres"
	redisrepo "github.com/vintora/tablebook/internal/repository/redis"
	"github.com/vintora/tablebook/internal/service"
	"github.com/vintora/tablebook/internal/service/hold"
	"github.com/vintora/tablebook/internal/service/payment"
	"github.com/vintora/tablebook/internal/sweeper"
	httpgin "github.com/vintora/tablebook/internal/transport/http/gin"
)

type App struct {
	cfg         *config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	sweeper     *sweeper.Sweeper
	broadcaster *httpgin.Broadcaster
	pubsub      *redisrepo.AvailabilityPubSub
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	gateway, err := stripegw.New(stripegw.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.NewCache(rdb)
	pubsub := redisrepo.NewAvailabilityPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, redisrepo.PrefixRateLimit("hold"), 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize services
	services := service.NewServices(store, cache, pubsub, limiter, gateway, logger, service.Config{
		Hold: hold.Config{
			MinTTL:     cfg.Holds.MinTTL,
			MaxTTL:     cfg.Holds.MaxTTL,
			DefaultTTL: cfg.Holds.DefaultTTL,
		},
		Payment: payment.Config{Currency: cfg.Currency},
	})

	// Initialize Gin router
	broadcaster := httpgin.NewBroadcaster()
	router := httpgin.NewRouter(services, idempotencyStore, broadcaster, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		sweeper:     sweeper.New(services.Hold, logger, cfg.Holds.SweepInterval),
		broadcaster: broadcaster,
		pubsub:      pubsub,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Hold expiry sweep
	g.Go(func() error {
		return a.sweeper.Run(gCtx)
	})

	// Bridge redis availability channel to SSE subscribers
	g.Go(func() error {
		return a.broadcaster.Run(gCtx, a.pubsub)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
