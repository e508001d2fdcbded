package fees

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CalculateFee maps a sale price onto schedule's bands:
//
//	price <= Tier1Max            FixedFee
//	Tier1Max < price <= Tier2Max price * Tier1Percentage / 100
//	Tier2Max < price <= Tier3Max price * Tier2Percentage / 100
//	price > Tier3Max             price * Tier3Percentage / 100
//
// salePrice may be a decimal, an integer or float, or a numeric string. The result is
// zero when the price is missing, non-numeric or not positive, or when schedule is nil.
// The result is not rounded.
func CalculateFee(salePrice any, schedule *Schedule) decimal.Decimal {
	if schedule == nil {
		return decimal.Zero
	}
	price, ok := toDecimal(salePrice)
	if !ok || !price.IsPositive() {
		return decimal.Zero
	}

	switch {
	case price.LessThanOrEqual(schedule.Tier1Max):
		return schedule.FixedFee
	case price.LessThanOrEqual(schedule.Tier2Max):
		return percentOf(price, schedule.Tier1Percentage)
	case price.LessThanOrEqual(schedule.Tier3Max):
		return percentOf(price, schedule.Tier2Percentage)
	default:
		return percentOf(price, schedule.Tier3Percentage)
	}
}

func percentOf(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(pct).Div(hundred)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch p := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return p, true
	case *decimal.Decimal:
		if p == nil {
			return decimal.Zero, false
		}
		return *p, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(p.String())
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(p)), true
	case int32:
		return decimal.NewFromInt32(p), true
	case int64:
		return decimal.NewFromInt(p), true
	case float32:
		return finite(float64(p))
	case float64:
		return finite(p)
	default:
		return decimal.Zero, false
	}
}

// finite rejects NaN and infinities, which decimal.NewFromFloat panics on.
func finite(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}
