package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/floroz/hammer/pkg/clock"
)

// Settler moves pending charges onto the seller ledger.
type Settler struct {
	charges ChargeRepository
	ledger  SellerLedger
	clock   clock.Clock
	logger  *slog.Logger
}

func NewSettler(charges ChargeRepository, ledger SellerLedger, clk clock.Clock, logger *slog.Logger) *Settler {
	return &Settler{
		charges: charges,
		ledger:  ledger,
		clock:   clk,
		logger:  logger,
	}
}

// Settle debits the seller and marks the charge settled. On failure the charge stays
// pending with the error recorded, and a later call retries it. The ledger dedupes on
// charge id, so a crash between the debit and MarkSettled cannot double charge.
func (s *Settler) Settle(ctx context.Context, charge *Charge) error {
	if err := s.ledger.Debit(ctx, charge); err != nil {
		if recErr := s.charges.RecordFailure(ctx, charge.ID, err.Error()); recErr != nil {
			s.logger.Error("Failed to record fee charge failure", "charge_id", charge.ID, "error", recErr)
		}
		return fmt.Errorf("failed to debit seller %s for charge %s: %w", charge.SellerID, charge.ID, err)
	}

	if err := s.charges.MarkSettled(ctx, charge.ID, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to mark charge %s settled: %w", charge.ID, err)
	}

	charge.Status = ChargeStatusSettled
	s.logger.Info("Fee charge settled",
		"charge_id", charge.ID, "item_id", charge.ItemID, "seller_id", charge.SellerID, "amount", charge.Amount.String())
	return nil
}

// SettlePending retries up to limit pending charges and returns how many settled.
func (s *Settler) SettlePending(ctx context.Context, limit int) (int, error) {
	pending, err := s.charges.ListPendingCharges(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending charges: %w", err)
	}

	settled := 0
	var errs []error
	for _, charge := range pending {
		if err := s.Settle(ctx, charge); err != nil {
			errs = append(errs, err)
			continue
		}
		settled++
	}
	return settled, errors.Join(errs...)
}
