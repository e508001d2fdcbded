package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/hammer/pkg/config"
	"github.com/floroz/hammer/pkg/logging"
	"github.com/floroz/hammer/services/feed-service/internal/adapters/events"
	"github.com/floroz/hammer/services/feed-service/internal/adapters/ws"
	"github.com/floroz/hammer/services/feed-service/internal/hub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level)

	if err := errors.Join(cfg.Validate(), cfg.RequireBroker()); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()
	logger.Info("RabbitMQ Connected")

	// 2. Hub, consumer and websocket routes
	feed := hub.New()
	consumer := events.NewBidFeedConsumer(amqpConn, cfg.RabbitMQ.Exchange, feed, logger)
	handler := ws.NewHandler(feed, logger, cfg.Feed.AllowedOrigins...)

	srv := &http.Server{
		Addr:              cfg.Feed.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting Feed Service", "addr", cfg.Feed.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down feed...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown; they end with the process.
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Feed service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Feed service stopped")
}
