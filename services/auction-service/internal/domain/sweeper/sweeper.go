package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/floroz/hammer/pkg/clock"
	"github.com/floroz/hammer/pkg/database"
	"github.com/floroz/hammer/services/auction-service/internal/domain/auctions"
	"github.com/floroz/hammer/services/auction-service/internal/domain/bids"
	"github.com/floroz/hammer/services/auction-service/internal/domain/fees"
	"github.com/floroz/hammer/services/auction-service/internal/domain/notifications"
)

// FeeSettler posts charges to the seller ledger. *fees.Settler implements it.
type FeeSettler interface {
	Settle(ctx context.Context, charge *fees.Charge) error
	SettlePending(ctx context.Context, limit int) (int, error)
}

type Config struct {
	// Concurrency bounds how many candidates are closed in parallel.
	Concurrency int
	// ChargeBatchSize is how many previously failed charges are retried per sweep.
	ChargeBatchSize int
}

// Report summarises one sweep.
type Report struct {
	Candidates  int
	Sold        int
	Unsold      int
	Skipped     int
	Failed      int
	FeesSettled int
	FeesPending int
}

// Sweeper closes auctions whose end time has passed.
type Sweeper struct {
	txManager database.TransactionManager
	registry  auctions.Registry
	ledger    bids.Ledger
	schedules fees.ScheduleRepository
	charges   fees.ChargeRepository
	settler   FeeSettler
	emitter   notifications.Emitter
	clock     clock.Clock
	logger    *slog.Logger
	cfg       Config
}

func New(
	txManager database.TransactionManager,
	registry auctions.Registry,
	ledger bids.Ledger,
	schedules fees.ScheduleRepository,
	charges fees.ChargeRepository,
	settler FeeSettler,
	emitter notifications.Emitter,
	clk clock.Clock,
	logger *slog.Logger,
	cfg Config,
) (*Sweeper, error) {
	if emitter == nil {
		return nil, errors.New("sweeper requires a notification emitter")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ChargeBatchSize <= 0 {
		cfg.ChargeBatchSize = 50
	}
	return &Sweeper{
		txManager: txManager,
		registry:  registry,
		ledger:    ledger,
		schedules: schedules,
		charges:   charges,
		settler:   settler,
		emitter:   emitter,
		clock:     clk,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSold
	outcomeUnsold
)

// Sweep retries pending fee charges, then closes every expired Active auction.
// A failing candidate stays Active for the next sweep and does not stop the others;
// the joined candidate errors are returned alongside the report.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	settled, err := s.settler.SettlePending(ctx, s.cfg.ChargeBatchSize)
	report.FeesSettled += settled
	if err != nil {
		s.logger.Warn("Some fee charges are still pending", "error", err)
	}

	now := s.clock.Now()
	candidates, err := s.registry.FindExpiredActiveAuctions(ctx, now)
	if err != nil {
		return report, fmt.Errorf("failed to find expired auctions: %w", err)
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	schedule, err := s.schedules.ActiveSchedule(ctx)
	if err != nil {
		if !errors.Is(err, fees.ErrNoActiveSchedule) {
			return report, fmt.Errorf("failed to load fee schedule: %w", err)
		}
		// Unsold items can still close; sold ones wait for a schedule.
		s.logger.Warn("No active fee schedule, sold auctions will stay open")
		schedule = nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, item := range candidates {
		g.Go(func() error {
			res, charge, err := s.closeAuction(gctx, item, schedule)

			var settleErr error
			if err == nil && charge != nil {
				settleErr = s.settler.Settle(gctx, charge)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				errs = append(errs, fmt.Errorf("auction %s: %w", item.ID, err))
				if errors.Is(err, bids.ErrIntegrityFault) {
					s.logger.Error("Auction left open after ledger anomaly", "item_id", item.ID, "error", err, "anomaly", true)
				} else {
					s.logger.Error("Failed to close auction", "item_id", item.ID, "error", err)
				}
				return nil
			}
			switch res {
			case outcomeSold:
				report.Sold++
			case outcomeUnsold:
				report.Unsold++
			default:
				report.Skipped++
			}
			if charge != nil {
				if settleErr != nil {
					report.FeesPending++
					s.logger.Warn("Fee settlement deferred", "item_id", item.ID, "charge_id", charge.ID, "error", settleErr)
				} else {
					report.FeesSettled++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Sweep completed",
		"candidates", report.Candidates,
		"sold", report.Sold,
		"unsold", report.Unsold,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"fees_settled", report.FeesSettled,
		"fees_pending", report.FeesPending,
	)
	return report, errors.Join(errs...)
}

// closeAuction ends one item in a single transaction: lock, winner lookup, status flip,
// fee charge and notifications commit together or not at all.
func (s *Sweeper) closeAuction(ctx context.Context, candidate *auctions.AuctionItem, schedule *fees.Schedule) (outcome, *fees.Charge, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return outcomeSkipped, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	item, err := s.registry.GetOpenAuctionForUpdate(ctx, tx, candidate.ID)
	if err != nil {
		return outcomeSkipped, nil, fmt.Errorf("failed to lock auction: %w", err)
	}
	now := s.clock.Now()
	if !item.ExpiredAt(now) {
		// Closed by a concurrent sweep since the candidate scan.
		return outcomeSkipped, nil, nil
	}

	winner, err := s.ledger.HighestBid(ctx, tx, item.ID)
	if err != nil {
		return outcomeSkipped, nil, fmt.Errorf("failed to determine winner: %w", err)
	}

	if winner == nil {
		if err := s.registry.MarkEnded(ctx, tx, item.ID, auctions.StatusEndedUnsold, now); err != nil {
			return outcomeSkipped, nil, err
		}
		if err := s.emitter.Emit(ctx, tx, notifications.AuctionEnded{
			Item:       item.ID,
			SellerID:   item.SellerID,
			FinalPrice: item.FloorPrice,
		}); err != nil {
			return outcomeSkipped, nil, fmt.Errorf("failed to emit auction ended: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return outcomeSkipped, nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return outcomeUnsold, nil, nil
	}

	if schedule == nil {
		return outcomeSkipped, nil, fees.ErrNoActiveSchedule
	}

	if err := s.registry.MarkEnded(ctx, tx, item.ID, auctions.StatusEndedSold, now); err != nil {
		return outcomeSkipped, nil, err
	}
	charge := fees.NewCharge(item.ID, item.SellerID, winner.Amount, schedule, now)
	if err := s.charges.CreateCharge(ctx, tx, charge); err != nil {
		return outcomeSkipped, nil, fmt.Errorf("failed to record fee charge: %w", err)
	}
	if err := s.emitter.Emit(ctx, tx, notifications.AuctionWon{
		Item:     item.ID,
		BidderID: winner.BidderID,
		Amount:   winner.Amount,
	}); err != nil {
		return outcomeSkipped, nil, fmt.Errorf("failed to emit auction won: %w", err)
	}
	winnerID := winner.BidderID
	if err := s.emitter.Emit(ctx, tx, notifications.AuctionEnded{
		Item:       item.ID,
		SellerID:   item.SellerID,
		FinalPrice: winner.Amount,
		WinnerID:   &winnerID,
	}); err != nil {
		return outcomeSkipped, nil, fmt.Errorf("failed to emit auction ended: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return outcomeSkipped, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Auction closed",
		"item_id", item.ID, "winner_id", winner.BidderID, "final_price", winner.Amount.StringFixed(2), "fee", charge.Amount.String())
	return outcomeSold, charge, nil
}
