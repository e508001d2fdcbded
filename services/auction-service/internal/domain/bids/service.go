package bids

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/hammer/pkg/clock"
	"github.com/floroz/hammer/pkg/database"
	"github.com/floroz/hammer/services/auction-service/internal/domain/auctions"
	"github.com/floroz/hammer/services/auction-service/internal/domain/notifications"
)

// maxAmountScale is the number of decimal places a bid amount may carry.
const maxAmountScale = 2

// maxAmount is the largest value the NUMERIC(14,2) amount columns hold.
var maxAmount = decimal.RequireFromString("999999999999.99")

type PlaceBidCommand struct {
	ItemID            uuid.UUID
	BidderID          uuid.UUID
	BidderDisplayName string
	// Amount is the raw numeric string submitted by the bidder.
	Amount string
}

// validate runs the input checks that need no store access and returns the parsed amount.
func (c PlaceBidCommand) validate() (decimal.Decimal, error) {
	if c.ItemID == uuid.Nil {
		return decimal.Zero, &MissingFieldError{Field: "itemId"}
	}
	if c.BidderID == uuid.Nil {
		return decimal.Zero, &MissingFieldError{Field: "bidderId"}
	}
	raw := strings.TrimSpace(c.Amount)
	if raw == "" {
		return decimal.Zero, &MissingFieldError{Field: "amount"}
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &MissingFieldError{Field: "amount"}
	}
	if !amount.IsPositive() || amount.GreaterThan(maxAmount) || !amount.Equal(amount.Truncate(maxAmountScale)) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// BiddingService accepts bids. The read of the current price, the bid insert, the cached
// price update and the outgoing events share one transaction holding the item's row lock,
// so two concurrent bids on the same item are validated one after the other.
type BiddingService struct {
	txManager database.TransactionManager
	registry  auctions.Registry
	ledger    Ledger
	emitter   notifications.Emitter
	clock     clock.Clock
	logger    *slog.Logger
}

// NewBiddingService wires the service. A nil emitter is a configuration error.
func NewBiddingService(
	txManager database.TransactionManager,
	registry auctions.Registry,
	ledger Ledger,
	emitter notifications.Emitter,
	clk clock.Clock,
	logger *slog.Logger,
) (*BiddingService, error) {
	if emitter == nil {
		return nil, errors.New("bidding service requires a notification emitter")
	}
	return &BiddingService{
		txManager: txManager,
		registry:  registry,
		ledger:    ledger,
		emitter:   emitter,
		clock:     clk,
		logger:    logger,
	}, nil
}

// PlaceBid validates and commits a bid. Rejections are returned as
// *MissingFieldError, ErrInvalidAmount, auctions.ErrAuctionNotFound,
// auctions.ErrAuctionNotActive, ErrSelfBidForbidden or *BidTooLowError.
func (s *BiddingService) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*Bid, error) {
	amount, err := cmd.validate()
	if err != nil {
		return nil, err
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	// Every check below reads the locked row, not an earlier snapshot.
	item, err := s.registry.GetOpenAuctionForUpdate(ctx, tx, cmd.ItemID)
	if err != nil {
		if errors.Is(err, auctions.ErrAuctionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock auction: %w", err)
	}

	if !item.AcceptsBidsAt(s.clock.Now()) {
		return nil, auctions.ErrAuctionNotActive
	}
	if cmd.BidderID == item.SellerID {
		return nil, ErrSelfBidForbidden
	}
	if !amount.GreaterThan(item.CurrentBid) {
		return nil, &BidTooLowError{CurrentPrice: item.CurrentBid}
	}

	previous, err := s.ledger.HighestBid(ctx, tx, item.ID)
	if err != nil {
		if errors.Is(err, ErrIntegrityFault) {
			s.logger.Error("Bid ledger anomaly", "item_id", item.ID, "error", err, "anomaly", true)
			return nil, err
		}
		return nil, fmt.Errorf("failed to read highest bid: %w", err)
	}
	if err := checkPriceCache(item, previous); err != nil {
		s.logger.Error("Bid ledger anomaly", "item_id", item.ID, "error", err, "anomaly", true)
		return nil, err
	}

	bid := &Bid{
		ItemID:            item.ID,
		BidderID:          cmd.BidderID,
		BidderDisplayName: cmd.BidderDisplayName,
		Amount:            amount,
	}
	if err := s.ledger.RecordBid(ctx, tx, bid); err != nil {
		return nil, fmt.Errorf("failed to save bid: %w", err)
	}

	if err := s.registry.UpdateCurrentBid(ctx, tx, item.ID, amount); err != nil {
		return nil, fmt.Errorf("failed to update current bid: %w", err)
	}

	if err := s.emitter.Emit(ctx, tx, notifications.BidUpdated{
		Item:              item.ID,
		BidID:             bid.ID,
		BidderID:          bid.BidderID,
		BidderDisplayName: bid.BidderDisplayName,
		Amount:            bid.Amount,
		Timestamp:         bid.PlacedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to emit bid update: %w", err)
	}

	if previous != nil && previous.BidderID != bid.BidderID {
		if err := s.emitter.Emit(ctx, tx, notifications.Outbid{
			Item:        item.ID,
			RecipientID: previous.BidderID,
			NewAmount:   bid.Amount,
		}); err != nil {
			return nil, fmt.Errorf("failed to emit outbid notice: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return bid, nil
}

// checkPriceCache verifies the cached current bid equals max(floor, highest bid).
func checkPriceCache(item *auctions.AuctionItem, highest *Bid) error {
	want := item.FloorPrice
	if highest != nil && highest.Amount.GreaterThan(want) {
		want = highest.Amount
	}
	if !item.CurrentBid.Equal(want) {
		return fmt.Errorf("%w: item %s caches %s but ledger implies %s",
			ErrIntegrityFault, item.ID, item.CurrentBid, want)
	}
	return nil
}

// BidHistory returns the item's bids in order, or auctions.ErrAuctionNotFound.
func (s *BiddingService) BidHistory(ctx context.Context, itemID uuid.UUID, order Order) (iter.Seq2[*Bid, error], error) {
	if _, err := s.registry.GetOpenAuction(ctx, itemID); err != nil {
		return nil, err
	}
	return s.ledger.BidsForItem(ctx, itemID, order), nil
}
