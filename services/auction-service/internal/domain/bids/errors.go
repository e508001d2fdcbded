package bids

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidAmount    = errors.New("bid amount must be a positive value of at most 999999999999.99 with at most two decimal places")
	ErrBidTooLow        = errors.New("bid amount must exceed the current price")
	ErrSelfBidForbidden = errors.New("you cannot bid on your own auction item")
	// ErrIntegrityFault marks ledger state that should be impossible, such as two bids
	// sharing the top amount or a cached price that disagrees with the ledger.
	ErrIntegrityFault = errors.New("bid ledger integrity fault")
)

// MissingFieldError names the absent or non-numeric field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingField, e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// BidTooLowError carries the price a new bid has to beat.
type BidTooLowError struct {
	CurrentPrice decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid must exceed %s", e.CurrentPrice.StringFixed(2))
}

func (e *BidTooLowError) Unwrap() error {
	return ErrBidTooLow
}
