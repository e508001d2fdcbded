package fees

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNoActiveSchedule = errors.New("no active fee schedule")
	ErrInvalidSchedule  = errors.New("invalid fee schedule")
)

// Schedule is the tiered posting fee configuration. Percentages are expressed
// out of 100 (5 means 5%).
type Schedule struct {
	ID              uuid.UUID
	FixedFee        decimal.Decimal
	Tier1Max        decimal.Decimal
	Tier1Percentage decimal.Decimal
	Tier2Max        decimal.Decimal
	Tier2Percentage decimal.Decimal
	Tier3Max        decimal.Decimal
	Tier3Percentage decimal.Decimal
}

// Validate checks the breakpoints ascend and no rate or fee is negative.
func (s *Schedule) Validate() error {
	if s.FixedFee.IsNegative() {
		return fmt.Errorf("%w: fixed fee is negative", ErrInvalidSchedule)
	}
	if s.Tier1Max.GreaterThan(s.Tier2Max) || s.Tier2Max.GreaterThan(s.Tier3Max) {
		return fmt.Errorf("%w: tier breakpoints must ascend", ErrInvalidSchedule)
	}
	for _, pct := range []decimal.Decimal{s.Tier1Percentage, s.Tier2Percentage, s.Tier3Percentage} {
		if pct.IsNegative() {
			return fmt.Errorf("%w: negative percentage", ErrInvalidSchedule)
		}
	}
	return nil
}

// ScheduleRepository reads the fee configuration. ActiveSchedule returns
// ErrNoActiveSchedule when nothing is configured.
type ScheduleRepository interface {
	ActiveSchedule(ctx context.Context) (*Schedule, error)
}
