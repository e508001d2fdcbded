package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	pkgdb "github.com/floroz/hammer/pkg/database"
	"github.com/floroz/hammer/services/auction-service/internal/domain/auctions"
)

const auctionColumns = `id, seller_id, title, description, floor_price, current_bid, end_time,
	status, authentication_status, ended_at, created_at, updated_at`

// PostgresAuctionRegistry implements auctions.Registry using pgx
type PostgresAuctionRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresAuctionRegistry(pool *pgxpool.Pool) *PostgresAuctionRegistry {
	return &PostgresAuctionRegistry{pool: pool}
}

// GetOpenAuction reads an item without locking it.
func (r *PostgresAuctionRegistry) GetOpenAuction(ctx context.Context, itemID uuid.UUID) (*auctions.AuctionItem, error) {
	return r.getItem(ctx, r.pool, itemID, false)
}

// GetOpenAuctionForUpdate locks the item row until tx ends. Concurrent bidders
// and the sweeper queue behind this lock.
func (r *PostgresAuctionRegistry) GetOpenAuctionForUpdate(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*auctions.AuctionItem, error) {
	return r.getItem(ctx, tx, itemID, true)
}

func (r *PostgresAuctionRegistry) getItem(ctx context.Context, db pkgdb.DBTX, itemID uuid.UUID, forUpdate bool) (*auctions.AuctionItem, error) {
	query := `SELECT ` + auctionColumns + ` FROM auction_items WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	item, err := scanAuction(db.QueryRow(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auctions.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return item, nil
}

func scanAuction(row pgx.Row) (*auctions.AuctionItem, error) {
	var item auctions.AuctionItem
	err := row.Scan(
		&item.ID,
		&item.SellerID,
		&item.Title,
		&item.Description,
		&item.FloorPrice,
		&item.CurrentBid,
		&item.EndTime,
		&item.Status,
		&item.AuthenticationStatus,
		&item.EndedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateCurrentBid updates the cached price within the bid's transaction
func (r *PostgresAuctionRegistry) UpdateCurrentBid(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE auction_items
		SET current_bid = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'active'
	`
	result, err := tx.Exec(ctx, query, amount, itemID)
	if err != nil {
		return fmt.Errorf("failed to update current bid: %w", err)
	}
	if result.RowsAffected() == 0 {
		return auctions.ErrAuctionNotActive
	}
	return nil
}

// MarkEnded performs the Active -> terminal transition. The status predicate in the
// WHERE clause makes a second close of the same item a no-op reported as ErrInvalidTransition.
func (r *PostgresAuctionRegistry) MarkEnded(ctx context.Context, tx pgx.Tx, itemID uuid.UUID, outcome auctions.Status, endedAt time.Time) error {
	if !outcome.IsTerminal() {
		return fmt.Errorf("%w: %q is not a terminal status", auctions.ErrInvalidTransition, outcome)
	}

	query := `
		UPDATE auction_items
		SET status = $1, ended_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'active'
	`
	result, err := tx.Exec(ctx, query, outcome, endedAt, itemID)
	if err != nil {
		return fmt.Errorf("failed to mark auction ended: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auction_items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check auction: %w", err)
	}
	if !exists {
		return auctions.ErrAuctionNotFound
	}
	return fmt.Errorf("%w: auction %s is no longer active", auctions.ErrInvalidTransition, itemID)
}

// FindExpiredActiveAuctions returns sweep candidates, earliest end time first.
func (r *PostgresAuctionRegistry) FindExpiredActiveAuctions(ctx context.Context, now time.Time) ([]*auctions.AuctionItem, error) {
	query := `SELECT ` + auctionColumns + `
		FROM auction_items
		WHERE status = 'active' AND end_time <= $1
		ORDER BY end_time ASC`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired auctions: %w", err)
	}
	defer rows.Close()

	var result []*auctions.AuctionItem
	for rows.Next() {
		item, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auctions: %w", err)
	}
	return result, nil
}

// CreateAuction inserts a new Active listing with its current bid at the floor.
// Listing creation has no API of its own; seeds and tests go through here.
func (r *PostgresAuctionRegistry) CreateAuction(ctx context.Context, item *auctions.AuctionItem) error {
	query := `
		INSERT INTO auction_items (id, seller_id, title, description, floor_price, current_bid, end_time, status, authentication_status)
		VALUES ($1, $2, $3, $4, $5, $5, $6, 'active', $7)
		RETURNING current_bid, status, created_at, updated_at
	`
	authStatus := item.AuthenticationStatus
	if authStatus == "" {
		authStatus = "pending"
	}
	err := r.pool.QueryRow(ctx, query,
		item.ID,
		item.SellerID,
		item.Title,
		item.Description,
		item.FloorPrice,
		item.EndTime,
		authStatus,
	).Scan(&item.CurrentBid, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	item.AuthenticationStatus = authStatus
	return nil
}
