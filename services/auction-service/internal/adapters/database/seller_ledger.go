package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/floroz/hammer/services/auction-service/internal/domain/fees"
)

const transactionKindPostingFee = "posting_fee"

// PostgresSellerLedger debits seller balances. The charge ID is the primary key of the
// ledger row, so replaying a debit leaves the balance untouched.
type PostgresSellerLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresSellerLedger(pool *pgxpool.Pool) *PostgresSellerLedger {
	return &PostgresSellerLedger{pool: pool}
}

func (l *PostgresSellerLedger) Debit(ctx context.Context, charge *fees.Charge) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			INSERT INTO seller_transactions (id, seller_id, item_id, kind, amount)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, charge.ID, charge.SellerID, charge.ItemID, transactionKindPostingFee, charge.Amount.Neg())
		if err != nil {
			return fmt.Errorf("failed to record seller transaction: %w", err)
		}
		if result.RowsAffected() == 0 {
			return nil // already debited
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO seller_balances (seller_id, balance, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (seller_id) DO UPDATE
			SET balance = seller_balances.balance + EXCLUDED.balance, updated_at = NOW()
		`, charge.SellerID, charge.Amount.Neg())
		if err != nil {
			return fmt.Errorf("failed to update seller balance: %w", err)
		}
		return nil
	})
}

// Balance returns the seller's running balance; zero for a seller with no history.
func (l *PostgresSellerLedger) Balance(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT balance FROM seller_balances WHERE seller_id = $1), 0)`,
		sellerID).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get seller balance: %w", err)
	}
	return balance, nil
}
