package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	pkgevents "github.com/floroz/hammer/pkg/events"
	"github.com/floroz/hammer/services/auction-service/internal/domain/notifications"
)

// OutboxWriter stores an event in the caller's transaction.
type OutboxWriter interface {
	SaveEvent(ctx context.Context, tx pgx.Tx, event *pkgevents.OutboxEvent) error
}

// OutboxEmitter implements notifications.Emitter by writing to the transactional outbox.
// The relay forwards rows to the broker after commit.
type OutboxEmitter struct {
	outbox OutboxWriter
}

func NewOutboxEmitter(outbox OutboxWriter) *OutboxEmitter {
	return &OutboxEmitter{outbox: outbox}
}

func (e *OutboxEmitter) Emit(ctx context.Context, tx pgx.Tx, event notifications.Event) error {
	payload, err := pkgevents.EncodePayload(event.Fields())
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event.Type(), err)
	}

	return e.outbox.SaveEvent(ctx, tx, &pkgevents.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: event.ItemID(),
		EventType:   string(event.Type()),
		Payload:     payload,
		Status:      pkgevents.OutboxStatusPending,
	})
}
