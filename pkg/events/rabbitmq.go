package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const payloadContentType = "application/x-protobuf"

// RabbitMQPublisher implements EventPublisher on a single AMQP channel.
type RabbitMQPublisher struct {
	channel *amqp.Channel
}

// DeclareExchange declares the durable topic exchange events are routed through.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

// ErrPublishNotConfirmed is returned when the broker nacks a publishing.
var ErrPublishNotConfirmed = errors.New("broker did not confirm publish")

// NewRabbitMQPublisher opens a channel in confirm mode and makes sure exchange exists.
func NewRabbitMQPublisher(conn *amqp.Connection, exchange string) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &RabbitMQPublisher{channel: ch}, nil
}

// Close closes the channel
func (p *RabbitMQPublisher) Close() error {
	return p.channel.Close()
}

// Publish sends the event with its type as routing key and its id as message id,
// so consumers can deduplicate redeliveries. It returns only once the broker has
// confirmed the message, so the relay never marks an unconfirmed event published.
func (p *RabbitMQPublisher) Publish(ctx context.Context, exchange string, event *OutboxEvent) error {
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		exchange,        // exchange
		event.EventType, // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  payloadContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Type:         event.EventType,
			Timestamp:    event.CreatedAt,
			Body:         event.Payload,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("%w: event %s", ErrPublishNotConfirmed, event.ID)
	}
	return nil
}
