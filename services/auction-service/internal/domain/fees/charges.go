package fees

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type ChargeStatus string

const (
	ChargeStatusPending ChargeStatus = "pending"
	ChargeStatusSettled ChargeStatus = "settled"
)

// Charge is the posting fee owed by a seller for a sold item. It is recorded in the
// same transaction that closes the auction and settled against the seller ledger afterwards.
type Charge struct {
	ID         uuid.UUID
	ItemID     uuid.UUID
	SellerID   uuid.UUID
	ScheduleID uuid.UUID
	SalePrice  decimal.Decimal
	Amount     decimal.Decimal
	Status     ChargeStatus
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	SettledAt  *time.Time
}

// NewCharge prices the fee for salePrice under schedule.
func NewCharge(itemID, sellerID uuid.UUID, salePrice decimal.Decimal, schedule *Schedule, now time.Time) *Charge {
	return &Charge{
		ID:         uuid.New(),
		ItemID:     itemID,
		SellerID:   sellerID,
		ScheduleID: schedule.ID,
		SalePrice:  salePrice,
		Amount:     CalculateFee(salePrice, schedule),
		Status:     ChargeStatusPending,
		CreatedAt:  now,
	}
}

// ChargeRepository persists fee charges.
type ChargeRepository interface {
	// CreateCharge must run inside the transaction that marks the item sold.
	CreateCharge(ctx context.Context, tx pgx.Tx, charge *Charge) error
	// ListPendingCharges returns unsettled charges, oldest first.
	ListPendingCharges(ctx context.Context, limit int) ([]*Charge, error)
	MarkSettled(ctx context.Context, id uuid.UUID, settledAt time.Time) error
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error
}

// SellerLedger debits a seller's balance and records the transaction.
// Debit must be idempotent on charge.ID.
type SellerLedger interface {
	Debit(ctx context.Context, charge *Charge) error
}
