package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/hammer/pkg/clock"
	"github.com/floroz/hammer/pkg/config"
	pkgdb "github.com/floroz/hammer/pkg/database"
	pkgevents "github.com/floroz/hammer/pkg/events"
	"github.com/floroz/hammer/pkg/logging"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/cache"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/database"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/events"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/scheduler"
	"github.com/floroz/hammer/services/auction-service/internal/domain/fees"
	"github.com/floroz/hammer/services/auction-service/internal/domain/sweeper"
)

// The worker runs the auction sweeper and the outbox relay side by side.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level)

	if err := errors.Join(cfg.Validate(), cfg.RequireDatabase(), cfg.RequireBroker()); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Postgres
	pool, err := pkgdb.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Postgres Connected")

	// 2. RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()
	logger.Info("RabbitMQ Connected")

	// 3. Sweep lock: Redis when configured so only one replica sweeps per tick.
	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		logger.Info("Redis Connected")
		locker = cache.NewRedisLocker(rdb)
	} else {
		logger.Warn("REDIS_URL not set, using an in-process sweep lock")
	}

	// 4. Domain wiring
	clk := clock.NewSystem()
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.Database.LockTimeout)
	charges := database.NewPostgresFeeChargeRepository(pool)
	settler := fees.NewSettler(charges, database.NewPostgresSellerLedger(pool), clk, logger)
	emitter := events.NewOutboxEmitter(database.NewPostgresOutboxRepository(pool))

	sw, err := sweeper.New(
		txManager,
		database.NewPostgresAuctionRegistry(pool),
		database.NewPostgresBidLedger(pool),
		database.NewPostgresFeeScheduleRepository(pool),
		charges,
		settler,
		emitter,
		clk,
		logger,
		sweeper.Config{
			Concurrency:     cfg.Sweep.Concurrency,
			ChargeBatchSize: cfg.Sweep.ChargeBatchSize,
		},
	)
	if err != nil {
		logger.Error("Failed to create sweeper", "error", err)
		os.Exit(1)
	}

	runner, err := scheduler.NewRunner(sw, locker, scheduler.Config{
		Interval: cfg.Sweep.Interval,
		LockTTL:  cfg.Sweep.LockTTL,
	}, logger)
	if err != nil {
		logger.Error("Failed to create sweep scheduler", "error", err)
		os.Exit(1)
	}

	producer, err := events.NewAuctionEventsProducer(pool, amqpConn, txManager, pkgevents.RelayConfig{
		Exchange:  cfg.RabbitMQ.Exchange,
		BatchSize: cfg.Outbox.BatchSize,
		Interval:  cfg.Outbox.Interval,
	}, logger)
	if err != nil {
		logger.Error("Failed to create producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	// 5. Run until signalled
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting Auction Events Producer...")
		return producer.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}
