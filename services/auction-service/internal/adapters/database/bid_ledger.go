package database

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgdb "github.com/floroz/hammer/pkg/database"
	"github.com/floroz/hammer/services/auction-service/internal/domain/bids"
)

// PostgresBidLedger implements bids.Ledger on the append-only bids table
type PostgresBidLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresBidLedger(pool *pgxpool.Pool) *PostgresBidLedger {
	return &PostgresBidLedger{pool: pool}
}

// RecordBid inserts the bid and fills in the store-assigned ID and PlacedAt.
func (r *PostgresBidLedger) RecordBid(ctx context.Context, tx pgx.Tx, bid *bids.Bid) error {
	query := `
		INSERT INTO bids (item_id, bidder_id, bidder_display_name, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, placed_at
	`
	err := tx.QueryRow(ctx, query,
		bid.ItemID,
		bid.BidderID,
		bid.BidderDisplayName,
		bid.Amount,
	).Scan(&bid.ID, &bid.PlacedAt)
	if err != nil {
		if pkgdb.IsUniqueViolation(err) {
			return fmt.Errorf("%w: amount %s already bid on item %s", bids.ErrIntegrityFault, bid.Amount.StringFixed(2), bid.ItemID)
		}
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// HighestBid reads the top two bids so a tie at the top is detected rather than
// resolved silently.
func (r *PostgresBidLedger) HighestBid(ctx context.Context, db pkgdb.DBTX, itemID uuid.UUID) (*bids.Bid, error) {
	query := `
		SELECT id, item_id, bidder_id, bidder_display_name, amount, placed_at
		FROM bids
		WHERE item_id = $1
		ORDER BY amount DESC, placed_at ASC, id ASC
		LIMIT 2
	`
	rows, err := db.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query highest bid: %w", err)
	}
	top, err := pgx.CollectRows(rows, scanBid)
	if err != nil {
		return nil, fmt.Errorf("failed to scan highest bid: %w", err)
	}

	switch {
	case len(top) == 0:
		return nil, nil
	case len(top) == 2 && top[0].Amount.Equal(top[1].Amount):
		return top[0], fmt.Errorf("%w: bids %d and %d on item %s share amount %s",
			bids.ErrIntegrityFault, top[0].ID, top[1].ID, itemID, top[0].Amount.StringFixed(2))
	default:
		return top[0], nil
	}
}

// BidsForItem streams the item's bids. Amount ties, which the unique index forbids,
// would fall back to placement order.
func (r *PostgresBidLedger) BidsForItem(ctx context.Context, itemID uuid.UUID, order bids.Order) iter.Seq2[*bids.Bid, error] {
	orderBy := "amount DESC, placed_at ASC"
	if order == bids.OrderAmountAsc {
		orderBy = "amount ASC, placed_at ASC"
	}
	query := `
		SELECT id, item_id, bidder_id, bidder_display_name, amount, placed_at
		FROM bids
		WHERE item_id = $1
		ORDER BY ` + orderBy

	return func(yield func(*bids.Bid, error) bool) {
		rows, err := r.pool.Query(ctx, query, itemID)
		if err != nil {
			yield(nil, fmt.Errorf("failed to query bids: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			bid, err := scanBid(rows)
			if err != nil {
				yield(nil, fmt.Errorf("failed to scan bid: %w", err))
				return
			}
			if !yield(bid, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("error iterating bids: %w", err))
		}
	}
}

func scanBid(row pgx.CollectableRow) (*bids.Bid, error) {
	var bid bids.Bid
	err := row.Scan(
		&bid.ID,
		&bid.ItemID,
		&bid.BidderID,
		&bid.BidderDisplayName,
		&bid.Amount,
		&bid.PlacedAt,
	)
	if err != nil {
		return nil, err
	}
	return &bid, nil
}
