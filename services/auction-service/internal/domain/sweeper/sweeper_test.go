package sweeper

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/hammer/pkg/clock"
	"github.com/floroz/hammer/pkg/database"
	"github.com/floroz/hammer/services/auction-service/internal/domain/auctions"
	"github.com/floroz/hammer/services/auction-service/internal/domain/bids"
	"github.com/floroz/hammer/services/auction-service/internal/domain/fees"
	"github.com/floroz/hammer/services/auction-service/internal/domain/notifications"
)

var sweepTime = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

// fakeTx buffers the writes of one transaction and applies them on commit.
type fakeTx struct {
	pgx.Tx
	store   *store
	pending []func()
	done    bool
}

func (f *fakeTx) Commit(context.Context) error {
	if f.store.failCommit {
		return errors.New("commit failed")
	}
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, apply := range f.pending {
		apply()
	}
	f.done = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.done = true
	return nil
}

// store is an in-memory stand-in for every repository the sweeper touches.
type store struct {
	mu         sync.Mutex
	items      map[uuid.UUID]*auctions.AuctionItem
	bids       map[uuid.UUID][]*bids.Bid
	charges    []*fees.Charge
	events     []notifications.Event
	schedule   *fees.Schedule
	failLock   map[uuid.UUID]error
	failCommit bool
	failDebit  error
	debits     map[uuid.UUID]int
}

func newStore() *store {
	return &store{
		items:    map[uuid.UUID]*auctions.AuctionItem{},
		bids:     map[uuid.UUID][]*bids.Bid{},
		failLock: map[uuid.UUID]error{},
		debits:   map[uuid.UUID]int{},
		schedule: &fees.Schedule{
			ID:              uuid.New(),
			FixedFee:        decimal.NewFromInt(5),
			Tier1Max:        decimal.NewFromInt(100),
			Tier1Percentage: decimal.NewFromInt(5),
			Tier2Max:        decimal.NewFromInt(500),
			Tier2Percentage: decimal.NewFromInt(4),
			Tier3Max:        decimal.NewFromInt(1000),
			Tier3Percentage: decimal.NewFromInt(3),
		},
	}
}

func (s *store) BeginTx(context.Context) (pgx.Tx, error) {
	return &fakeTx{store: s}, nil
}

func (s *store) addItem(floor int64, endTime time.Time) *auctions.AuctionItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &auctions.AuctionItem{
		ID:         uuid.New(),
		SellerID:   uuid.New(),
		FloorPrice: decimal.NewFromInt(floor),
		CurrentBid: decimal.NewFromInt(floor),
		EndTime:    endTime,
		Status:     auctions.StatusActive,
	}
	s.items[item.ID] = item
	return item
}

func (s *store) addBid(itemID, bidder uuid.UUID, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[itemID] = append(s.bids[itemID], &bids.Bid{
		ID:       int64(len(s.bids[itemID]) + 1),
		ItemID:   itemID,
		BidderID: bidder,
		Amount:   decimal.NewFromInt(amount),
	})
	s.items[itemID].CurrentBid = decimal.NewFromInt(amount)
}

func (s *store) status(id uuid.UUID) auctions.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].Status
}

// auctions.Registry

func (s *store) GetOpenAuction(_ context.Context, id uuid.UUID) (*auctions.AuctionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, auctions.ErrAuctionNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *store) GetOpenAuctionForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*auctions.AuctionItem, error) {
	s.mu.Lock()
	err := s.failLock[id]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.GetOpenAuction(ctx, id)
}

func (s *store) UpdateCurrentBid(context.Context, pgx.Tx, uuid.UUID, decimal.Decimal) error {
	return errors.New("not used by the sweeper")
}

func (s *store) MarkEnded(_ context.Context, tx pgx.Tx, id uuid.UUID, outcome auctions.Status, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.items[id]
	if !item.CanTransitionTo(outcome) {
		return auctions.ErrInvalidTransition
	}
	ftx := tx.(*fakeTx)
	ftx.pending = append(ftx.pending, func() {
		item.Status = outcome
		item.EndedAt = &endedAt
	})
	return nil
}

func (s *store) FindExpiredActiveAuctions(_ context.Context, now time.Time) ([]*auctions.AuctionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auctions.AuctionItem
	for _, item := range s.items {
		if item.ExpiredAt(now) {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

// bids.Ledger

func (s *store) RecordBid(context.Context, pgx.Tx, *bids.Bid) error {
	return errors.New("not used by the sweeper")
}

func (s *store) HighestBid(_ context.Context, _ database.DBTX, itemID uuid.UUID) (*bids.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var top *bids.Bid
	for _, b := range s.bids[itemID] {
		if top != nil && b.Amount.Equal(top.Amount) {
			return top, bids.ErrIntegrityFault
		}
		if top == nil || b.Amount.GreaterThan(top.Amount) {
			top = b
		}
	}
	return top, nil
}

func (s *store) BidsForItem(context.Context, uuid.UUID, bids.Order) iter.Seq2[*bids.Bid, error] {
	return func(func(*bids.Bid, error) bool) {}
}

// fees.ScheduleRepository

func (s *store) ActiveSchedule(context.Context) (*fees.Schedule, error) {
	if s.schedule == nil {
		return nil, fees.ErrNoActiveSchedule
	}
	return s.schedule, nil
}

// fees.ChargeRepository

func (s *store) CreateCharge(_ context.Context, tx pgx.Tx, charge *fees.Charge) error {
	ftx := tx.(*fakeTx)
	ftx.pending = append(ftx.pending, func() {
		s.charges = append(s.charges, charge)
	})
	return nil
}

func (s *store) ListPendingCharges(_ context.Context, limit int) ([]*fees.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fees.Charge
	for _, c := range s.charges {
		if c.Status == fees.ChargeStatusPending && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *store) MarkSettled(_ context.Context, id uuid.UUID, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.charges {
		if c.ID == id {
			c.Status = fees.ChargeStatusSettled
			c.SettledAt = &settledAt
		}
	}
	return nil
}

func (s *store) RecordFailure(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.charges {
		if c.ID == id {
			c.Attempts++
			c.LastError = reason
		}
	}
	return nil
}

// fees.SellerLedger

func (s *store) Debit(_ context.Context, charge *fees.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDebit != nil {
		return s.failDebit
	}
	s.debits[charge.ID]++
	return nil
}

// notifications.Emitter

func (s *store) Emit(_ context.Context, tx pgx.Tx, event notifications.Event) error {
	ftx := tx.(*fakeTx)
	ftx.pending = append(ftx.pending, func() {
		s.events = append(s.events, event)
	})
	return nil
}

func (s *store) eventsFor(itemID uuid.UUID) []notifications.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notifications.Event
	for _, e := range s.events {
		if e.ItemID() == itemID {
			out = append(out, e)
		}
	}
	return out
}

func newSweeper(t *testing.T, st *store) *Sweeper {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFixed(sweepTime)
	settler := fees.NewSettler(st, st, clk, logger)
	sw, err := New(st, st, st, st, st, settler, st, clk, logger, Config{Concurrency: 4})
	require.NoError(t, err)
	return sw
}

func TestNew_RequiresEmitter(t *testing.T) {
	st := newStore()
	_, err := New(st, st, st, st, st, nil, nil, clock.NewSystem(), slog.Default(), Config{})
	assert.Error(t, err)
}

func TestSweep_ClosesSoldAuction(t *testing.T) {
	st := newStore()
	item := st.addItem(100, sweepTime.Add(-time.Minute))
	userA, userB := uuid.New(), uuid.New()
	st.addBid(item.ID, userA, 120)
	st.addBid(item.ID, userB, 150)

	report, err := newSweeper(t, st).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Candidates: 1, Sold: 1, FeesSettled: 1}, report)
	assert.Equal(t, auctions.StatusEndedSold, st.status(item.ID))

	require.Len(t, st.charges, 1)
	charge := st.charges[0]
	assert.True(t, charge.SalePrice.Equal(decimal.NewFromInt(150)))
	assert.True(t, charge.Amount.Equal(decimal.NewFromFloat(7.5)), "5%% of 150, got %s", charge.Amount)
	assert.Equal(t, fees.ChargeStatusSettled, charge.Status)
	assert.Equal(t, 1, st.debits[charge.ID])

	events := st.eventsFor(item.ID)
	require.Len(t, events, 2)
	won := events[0].(notifications.AuctionWon)
	assert.Equal(t, userB, won.BidderID)
	ended := events[1].(notifications.AuctionEnded)
	assert.Equal(t, item.SellerID, ended.SellerID)
	assert.Equal(t, "150.00", ended.Fields()["finalPrice"])
	assert.Equal(t, userB.String(), ended.Fields()["winnerId"])
}

func TestSweep_ClosesUnsoldAuctionAtBoundary(t *testing.T) {
	st := newStore()
	item := st.addItem(80, sweepTime)

	report, err := newSweeper(t, st).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Unsold)
	assert.Equal(t, auctions.StatusEndedUnsold, st.status(item.ID))
	assert.Empty(t, st.charges)

	events := st.eventsFor(item.ID)
	require.Len(t, events, 1)
	fields := events[0].Fields()
	assert.Equal(t, "80.00", fields["finalPrice"])
	assert.Equal(t, "false", fields["sold"])
	assert.Nil(t, fields["winnerId"])
}

func TestSweep_IgnoresOpenAuctions(t *testing.T) {
	st := newStore()
	item := st.addItem(10, sweepTime.Add(time.Second))

	report, err := newSweeper(t, st).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Equal(t, auctions.StatusActive, st.status(item.ID))
}

func TestSweep_IsIdempotent(t *testing.T) {
	st := newStore()
	sold := st.addItem(10, sweepTime.Add(-time.Hour))
	st.addBid(sold.ID, uuid.New(), 20)
	st.addItem(10, sweepTime.Add(-time.Hour))
	sw := newSweeper(t, st)

	_, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	eventsAfterFirst := len(st.events)

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.Len(t, st.events, eventsAfterFirst)
	assert.Len(t, st.charges, 1)
	assert.Equal(t, 1, st.debits[st.charges[0].ID])
}

func TestSweep_IsolatesCandidateFailures(t *testing.T) {
	st := newStore()
	broken := st.addItem(10, sweepTime.Add(-time.Minute))
	healthy := st.addItem(10, sweepTime.Add(-time.Minute))
	st.failLock[broken.ID] = errors.New("lock timeout")

	report, err := newSweeper(t, st).Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.ID.String())

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Unsold)
	assert.Equal(t, auctions.StatusActive, st.status(broken.ID))
	assert.Equal(t, auctions.StatusEndedUnsold, st.status(healthy.ID))
}

func TestSweep_LeavesTiedAuctionOpen(t *testing.T) {
	st := newStore()
	item := st.addItem(10, sweepTime.Add(-time.Minute))
	st.addBid(item.ID, uuid.New(), 40)
	st.addBid(item.ID, uuid.New(), 40)

	report, err := newSweeper(t, st).Sweep(context.Background())
	require.ErrorIs(t, err, bids.ErrIntegrityFault)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, auctions.StatusActive, st.status(item.ID))
	assert.Empty(t, st.eventsFor(item.ID))
}

func TestSweep_CommitFailureKeepsAuctionActive(t *testing.T) {
	st := newStore()
	item := st.addItem(10, sweepTime.Add(-time.Minute))
	st.addBid(item.ID, uuid.New(), 30)
	st.failCommit = true

	_, err := newSweeper(t, st).Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, auctions.StatusActive, st.status(item.ID))
	assert.Empty(t, st.charges)
	assert.Empty(t, st.events)
}

func TestSweep_WithoutScheduleOnlyClosesUnsold(t *testing.T) {
	st := newStore()
	st.schedule = nil
	sold := st.addItem(10, sweepTime.Add(-time.Minute))
	st.addBid(sold.ID, uuid.New(), 25)
	unsold := st.addItem(10, sweepTime.Add(-time.Minute))

	report, err := newSweeper(t, st).Sweep(context.Background())
	require.ErrorIs(t, err, fees.ErrNoActiveSchedule)
	assert.Equal(t, 1, report.Unsold)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, auctions.StatusActive, st.status(sold.ID))
	assert.Equal(t, auctions.StatusEndedUnsold, st.status(unsold.ID))
}

func TestSweep_RetriesFeeSettlementWithoutReopening(t *testing.T) {
	st := newStore()
	item := st.addItem(10, sweepTime.Add(-time.Minute))
	st.addBid(item.ID, uuid.New(), 200)
	st.failDebit = errors.New("ledger unavailable")
	sw := newSweeper(t, st)

	report, err := sw.Sweep(context.Background())
	require.NoError(t, err, "fee failures do not fail the close")
	assert.Equal(t, 1, report.Sold)
	assert.Equal(t, 1, report.FeesPending)
	assert.Equal(t, auctions.StatusEndedSold, st.status(item.ID))
	require.Len(t, st.charges, 1)
	assert.Equal(t, fees.ChargeStatusPending, st.charges[0].Status)
	assert.Equal(t, 1, st.charges[0].Attempts)
	assert.Equal(t, "ledger unavailable", st.charges[0].LastError)

	st.failDebit = nil
	report, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{FeesSettled: 1}, report)
	assert.Equal(t, fees.ChargeStatusSettled, st.charges[0].Status)
	assert.Equal(t, 1, st.debits[st.charges[0].ID])
	assert.Equal(t, auctions.StatusEndedSold, st.status(item.ID))
}
