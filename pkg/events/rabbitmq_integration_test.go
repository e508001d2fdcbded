//go:build integration

package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/hammer/pkg/events"
	"github.com/floroz/hammer/pkg/testhelpers"
)

func TestRabbitMQPublisher_PublishWaitsForConfirm(t *testing.T) {
	ctx := context.Background()
	conn, err := amqp.Dial(testhelpers.NewTestRabbitMQ(t))
	require.NoError(t, err)
	defer conn.Close()

	publisher, err := events.NewRabbitMQPublisher(conn, "auction.events")
	require.NoError(t, err)

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "bid.updated", "auction.events", false, nil))

	event := &events.OutboxEvent{
		ID:        uuid.New(),
		EventType: "bid.updated",
		Payload:   []byte("payload"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, publisher.Publish(ctx, "auction.events", event))

	// Confirmed before Publish returned, so the message is already routed.
	msg, ok, err := ch.Get(q.Name, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, event.ID.String(), msg.MessageId)
	assert.Equal(t, []byte("payload"), msg.Body)

	require.NoError(t, publisher.Close())
	assert.Error(t, publisher.Publish(ctx, "auction.events", event))
}
