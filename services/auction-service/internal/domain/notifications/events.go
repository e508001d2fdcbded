package notifications

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// EventType doubles as the broker routing key.
type EventType string

const (
	EventBidUpdated   EventType = "bid.updated"
	EventOutbid       EventType = "bid.outbid"
	EventAuctionWon   EventType = "auction.won"
	EventAuctionEnded EventType = "auction.ended"
)

// Event is a domain fact handed to an Emitter.
type Event interface {
	Type() EventType
	// ItemID is the auction the event belongs to.
	ItemID() uuid.UUID
	// Fields is the wire payload. Values are strings or nil.
	Fields() map[string]any
}

// Emitter accepts events inside the transaction that produced them, so an event
// exists if and only if its state change commits.
type Emitter interface {
	Emit(ctx context.Context, tx pgx.Tx, event Event) error
}

func money(v decimal.Decimal) string {
	return v.StringFixed(2)
}

// BidUpdated is broadcast to watchers of the item and to the global feed.
type BidUpdated struct {
	Item              uuid.UUID
	BidID             int64
	BidderID          uuid.UUID
	BidderDisplayName string
	Amount            decimal.Decimal
	Timestamp         time.Time
}

func (e BidUpdated) Type() EventType   { return EventBidUpdated }
func (e BidUpdated) ItemID() uuid.UUID { return e.Item }

func (e BidUpdated) Fields() map[string]any {
	return map[string]any{
		"itemId":            e.Item.String(),
		"amount":            money(e.Amount),
		"bidderId":          e.BidderID.String(),
		"bidderDisplayName": e.BidderDisplayName,
		"bidId":             strconv.FormatInt(e.BidID, 10),
		"timestamp":         e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Outbid tells the previous leader they no longer hold the highest bid.
type Outbid struct {
	Item        uuid.UUID
	RecipientID uuid.UUID
	NewAmount   decimal.Decimal
}

func (e Outbid) Type() EventType   { return EventOutbid }
func (e Outbid) ItemID() uuid.UUID { return e.Item }

func (e Outbid) Fields() map[string]any {
	return map[string]any{
		"itemId":      e.Item.String(),
		"recipientId": e.RecipientID.String(),
		"newAmount":   money(e.NewAmount),
	}
}

// AuctionWon goes to the winning bidder.
type AuctionWon struct {
	Item     uuid.UUID
	BidderID uuid.UUID
	Amount   decimal.Decimal
}

func (e AuctionWon) Type() EventType   { return EventAuctionWon }
func (e AuctionWon) ItemID() uuid.UUID { return e.Item }

func (e AuctionWon) Fields() map[string]any {
	return map[string]any{
		"itemId":   e.Item.String(),
		"bidderId": e.BidderID.String(),
		"amount":   money(e.Amount),
	}
}

// AuctionEnded goes to the seller. FinalPrice is the floor price when unsold.
type AuctionEnded struct {
	Item       uuid.UUID
	SellerID   uuid.UUID
	FinalPrice decimal.Decimal
	WinnerID   *uuid.UUID
}

func (e AuctionEnded) Type() EventType   { return EventAuctionEnded }
func (e AuctionEnded) ItemID() uuid.UUID { return e.Item }

func (e AuctionEnded) Fields() map[string]any {
	fields := map[string]any{
		"itemId":     e.Item.String(),
		"sellerId":   e.SellerID.String(),
		"finalPrice": money(e.FinalPrice),
		"sold":       "false",
		"winnerId":   nil,
	}
	if e.WinnerID != nil {
		fields["sold"] = "true"
		fields["winnerId"] = e.WinnerID.String()
	}
	return fields
}
