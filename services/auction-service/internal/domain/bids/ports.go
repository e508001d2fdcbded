package bids

import (
	"context"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/hammer/pkg/database"
)

// Ledger is the append-only record of bids.
type Ledger interface {
	// RecordBid inserts bid and fills in ID and PlacedAt. It does not validate
	// ordering; the caller holds the item lock in tx and has already done so.
	RecordBid(ctx context.Context, tx pgx.Tx, bid *Bid) error

	// HighestBid returns the top bid for the item or nil when there are none.
	// If two bids share the top amount it returns the earliest one together with
	// an error wrapping ErrIntegrityFault.
	HighestBid(ctx context.Context, db database.DBTX, itemID uuid.UUID) (*Bid, error)

	// BidsForItem lazily yields the item's bids in order. Each range over the
	// returned sequence runs a fresh query.
	BidsForItem(ctx context.Context, itemID uuid.UUID, order Order) iter.Seq2[*Bid, error]
}
