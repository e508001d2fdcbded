package auctions

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the auction lifecycle state. EndedSold and EndedUnsold are terminal.
type Status string

const (
	StatusActive      Status = "active"
	StatusEndedSold   Status = "ended_sold"
	StatusEndedUnsold Status = "ended_unsold"
)

func (s Status) IsTerminal() bool {
	return s == StatusEndedSold || s == StatusEndedUnsold
}

func (s Status) Valid() bool {
	return s == StatusActive || s.IsTerminal()
}

var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrAuctionNotActive  = errors.New("this auction is no longer active")
	ErrInvalidTransition = errors.New("invalid auction status transition")
)

// AuctionItem is a listing open to bids until EndTime.
// CurrentBid is the floor price until the first bid is accepted.
type AuctionItem struct {
	ID                   uuid.UUID
	SellerID             uuid.UUID
	Title                string
	Description          string
	FloorPrice           decimal.Decimal
	CurrentBid           decimal.Decimal
	EndTime              time.Time
	Status               Status
	AuthenticationStatus string
	EndedAt              *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AcceptsBidsAt reports whether a bid committed at now may be accepted.
// An elapsed but not yet swept auction is still Active yet closed to bids.
func (a *AuctionItem) AcceptsBidsAt(now time.Time) bool {
	return a.Status == StatusActive && now.Before(a.EndTime)
}

// ExpiredAt reports whether the item is a sweep candidate at now.
func (a *AuctionItem) ExpiredAt(now time.Time) bool {
	return a.Status == StatusActive && !a.EndTime.After(now)
}

// CanTransitionTo guards the single Active -> terminal move.
func (a *AuctionItem) CanTransitionTo(next Status) bool {
	return a.Status == StatusActive && next.IsTerminal()
}
