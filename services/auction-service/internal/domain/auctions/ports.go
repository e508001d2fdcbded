package auctions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Registry owns every mutation of auction items. Status and CurrentBid change only
// through it, and only inside a transaction that holds the item's row lock.
type Registry interface {
	// GetOpenAuction returns the item whatever its status, or ErrAuctionNotFound.
	GetOpenAuction(ctx context.Context, itemID uuid.UUID) (*AuctionItem, error)

	// GetOpenAuctionForUpdate is GetOpenAuction holding the row lock until tx ends.
	GetOpenAuctionForUpdate(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*AuctionItem, error)

	// UpdateCurrentBid must share tx with the bid insert it reflects.
	UpdateCurrentBid(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, amount decimal.Decimal) error

	// MarkEnded moves an Active item to outcome. It fails with ErrInvalidTransition
	// when the item is no longer Active or outcome is not terminal.
	MarkEnded(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, outcome Status, endedAt time.Time) error

	// FindExpiredActiveAuctions returns Active items with EndTime <= now.
	FindExpiredActiveAuctions(ctx context.Context, now time.Time) ([]*AuctionItem, error)
}
