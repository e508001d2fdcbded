package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	pkgevents "github.com/floroz/hammer/pkg/events"
)

const bidUpdatedRoutingKey = "bid.updated"

// Broadcaster is implemented by *hub.Hub.
type Broadcaster interface {
	Publish(itemID string, payload []byte) int
}

// FeedMessage is the JSON frame pushed to websocket watchers.
type FeedMessage struct {
	Type              string `json:"type"`
	ItemID            string `json:"itemId"`
	Amount            string `json:"amount"`
	BidderID          string `json:"bidderId"`
	BidderDisplayName string `json:"bidderDisplayName"`
	BidID             string `json:"bidId"`
	Timestamp         string `json:"timestamp"`
}

// BidFeedConsumer relays bid.updated events from the exchange to live watchers.
// Each instance binds its own exclusive queue so every feed replica sees every bid.
type BidFeedConsumer struct {
	conn     *amqp.Connection
	exchange string
	sink     Broadcaster
	logger   *slog.Logger
}

func NewBidFeedConsumer(conn *amqp.Connection, exchange string, sink Broadcaster, logger *slog.Logger) *BidFeedConsumer {
	return &BidFeedConsumer{
		conn:     conn,
		exchange: exchange,
		sink:     sink,
		logger:   logger,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation and an
// error if the broker closes the delivery channel.
func (c *BidFeedConsumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	queue, err := c.setupRabbitMQ(ch)
	if err != nil {
		return fmt.Errorf("failed to setup rabbitmq: %w", err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer tag
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Waiting for bid updates...", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(d)
		}
	}
}

func (c *BidFeedConsumer) handle(d amqp.Delivery) {
	msg, err := ToFeedMessage(d.Body)
	if err != nil {
		c.logger.Error("Dropping malformed bid update", "message_id", d.MessageId, "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to Nack message", "error", nackErr)
		}
		return
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to encode feed message", "error", err)
		_ = d.Nack(false, false)
		return
	}

	delivered := c.sink.Publish(msg.ItemID, frame)
	c.logger.Debug("Broadcast bid update", "item_id", msg.ItemID, "watchers", delivered)

	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("Failed to Ack message", "error", ackErr)
	}
}

// ToFeedMessage decodes a bid.updated payload. itemId and amount are required.
func ToFeedMessage(body []byte) (FeedMessage, error) {
	fields, err := pkgevents.DecodePayload(body)
	if err != nil {
		return FeedMessage{}, err
	}

	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}

	msg := FeedMessage{
		Type:              "bid_updated",
		ItemID:            str("itemId"),
		Amount:            str("amount"),
		BidderID:          str("bidderId"),
		BidderDisplayName: str("bidderDisplayName"),
		BidID:             str("bidId"),
		Timestamp:         str("timestamp"),
	}
	if msg.ItemID == "" || msg.Amount == "" {
		return FeedMessage{}, errors.New("bid update is missing itemId or amount")
	}
	return msg, nil
}

func (c *BidFeedConsumer) setupRabbitMQ(ch *amqp.Channel) (string, error) {
	if err := pkgevents.DeclareExchange(ch, c.exchange); err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return "", err
	}

	if err := ch.QueueBind(
		q.Name,               // queue name
		bidUpdatedRoutingKey, // routing key
		c.exchange,           // exchange
		false,
		nil,
	); err != nil {
		return "", err
	}
	return q.Name, nil
}
