package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	pkgdb "github.com/floroz/hammer/pkg/database"
	pkgevents "github.com/floroz/hammer/pkg/events"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/database"
)

// defaultMaxAttempts parks an event after this many failed publishes.
const defaultMaxAttempts = 20

// AuctionEventsProducer relays auction events from the outbox to RabbitMQ
type AuctionEventsProducer struct {
	relay     *pkgevents.OutboxRelay
	publisher *pkgevents.RabbitMQPublisher
}

// NewAuctionEventsProducer creates a new producer
func NewAuctionEventsProducer(pool *pgxpool.Pool, conn *amqp.Connection, txManager pkgdb.TransactionManager, cfg pkgevents.RelayConfig, logger *slog.Logger) (*AuctionEventsProducer, error) {
	publisher, err := pkgevents.NewRabbitMQPublisher(conn, cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	relay := pkgevents.NewOutboxRelay(
		database.NewPostgresOutboxRepository(pool),
		publisher,
		txManager,
		cfg,
		logger,
	)

	return &AuctionEventsProducer{
		relay:     relay,
		publisher: publisher,
	}, nil
}

// Run starts the relay loop
func (p *AuctionEventsProducer) Run(ctx context.Context) error {
	return p.relay.Run(ctx)
}

// Close closes the publisher channel
func (p *AuctionEventsProducer) Close() error {
	return p.publisher.Close()
}
