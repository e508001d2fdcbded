package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/hammer/pkg/database"
)

// OutboxStatus defines the status of an event in the outbox
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxEvent is a row of the outbox table. EventType doubles as the routing key.
type OutboxEvent struct {
	ID          uuid.UUID    `db:"id"`
	AggregateID uuid.UUID    `db:"aggregate_id"`
	EventType   string       `db:"event_type"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	Attempts    int          `db:"attempts"`
	CreatedAt   time.Time    `db:"created_at"`
	ProcessedAt *time.Time   `db:"processed_at"`
}

// OutboxRepository is the slice of outbox persistence the relay needs.
type OutboxRepository interface {
	GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxEvent, error)
	UpdateEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status OutboxStatus) error
	IncrementAttempts(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error)
}

// EventPublisher defines the interface for publishing events to a broker
type EventPublisher interface {
	Publish(ctx context.Context, exchange string, event *OutboxEvent) error
}

// RelayConfig tunes the polling loop.
type RelayConfig struct {
	Exchange  string
	BatchSize int
	Interval  time.Duration
	// MaxAttempts parks an event as failed after this many publish errors. Zero retries forever.
	MaxAttempts int
}

// OutboxRelay polls the outbox and forwards pending events to the broker in creation order.
type OutboxRelay struct {
	outboxRepo OutboxRepository
	publisher  EventPublisher
	txManager  database.TransactionManager
	cfg        RelayConfig
	logger     *slog.Logger
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(
	outboxRepo OutboxRepository,
	publisher EventPublisher,
	txManager database.TransactionManager,
	cfg RelayConfig,
	logger *slog.Logger,
) *OutboxRelay {
	return &OutboxRelay{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		txManager:  txManager,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Error processing outbox batch", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch publishes up to BatchSize pending events and returns how many were published.
// Publishing stops at the first broker error so later events never overtake earlier ones;
// statuses of the events already published are still committed.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := r.txManager.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// FOR UPDATE SKIP LOCKED lets several relays share the table.
	pending, err := r.outboxRepo.GetPendingEvents(ctx, tx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := 0
	var publishErr error
	for _, event := range pending {
		if err := r.publisher.Publish(ctx, r.cfg.Exchange, event); err != nil {
			publishErr = fmt.Errorf("failed to publish event %s: %w", event.ID, err)
			if parkErr := r.recordFailure(ctx, tx, event); parkErr != nil {
				return 0, parkErr
			}
			break
		}

		if err := r.outboxRepo.UpdateEventStatus(ctx, tx, event.ID, OutboxStatusPublished); err != nil {
			return 0, fmt.Errorf("failed to update event status %s: %w", event.ID, err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit outbox batch: %w", err)
	}

	if published > 0 {
		r.logger.Info("Published outbox events", "count", published)
	}
	return published, publishErr
}

func (r *OutboxRelay) recordFailure(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	attempts, err := r.outboxRepo.IncrementAttempts(ctx, tx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to record publish attempt %s: %w", event.ID, err)
	}
	if r.cfg.MaxAttempts > 0 && attempts >= r.cfg.MaxAttempts {
		r.logger.Error("Parking outbox event after repeated publish failures",
			"event_id", event.ID, "event_type", event.EventType, "attempts", attempts)
		if err := r.outboxRepo.UpdateEventStatus(ctx, tx, event.ID, OutboxStatusFailed); err != nil {
			return fmt.Errorf("failed to park event %s: %w", event.ID, err)
		}
	}
	return nil
}
