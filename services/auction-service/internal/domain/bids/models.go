package bids

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid is an accepted, immutable bid. ID and PlacedAt are assigned by the store.
type Bid struct {
	ID                int64
	ItemID            uuid.UUID
	BidderID          uuid.UUID
	BidderDisplayName string
	Amount            decimal.Decimal
	PlacedAt          time.Time
}

// Order of a bid history listing.
type Order string

const (
	OrderAmountDesc Order = "desc"
	OrderAmountAsc  Order = "asc"
)

// ParseOrder accepts "", "desc" and "asc". The empty string means descending.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderAmountDesc:
		return OrderAmountDesc, nil
	case OrderAmountAsc:
		return OrderAmountAsc, nil
	default:
		return "", fmt.Errorf("unknown bid order %q", s)
	}
}
