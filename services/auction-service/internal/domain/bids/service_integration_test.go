//go:build integration

package bids_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/hammer/pkg/clock"
	pkgdb "github.com/floroz/hammer/pkg/database"
	"github.com/floroz/hammer/pkg/testhelpers"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/database"
	"github.com/floroz/hammer/services/auction-service/internal/adapters/events"
	"github.com/floroz/hammer/services/auction-service/internal/domain/auctions"
	"github.com/floroz/hammer/services/auction-service/internal/domain/bids"
	"github.com/floroz/hammer/services/auction-service/migrations"
)

type testServices struct {
	Service  *bids.BiddingService
	Registry *database.PostgresAuctionRegistry
	Ledger   *database.PostgresBidLedger
}

func setupBiddingService(t *testing.T, pool *pgxpool.Pool) *testServices {
	t.Helper()
	registry := database.NewPostgresAuctionRegistry(pool)
	ledger := database.NewPostgresBidLedger(pool)
	emitter := events.NewOutboxEmitter(database.NewPostgresOutboxRepository(pool))
	svc, err := bids.NewBiddingService(
		pkgdb.NewPostgresTransactionManager(pool, 5*time.Second),
		registry, ledger, emitter, clock.NewSystem(),
		slog.New(slog.NewTextHandler(os.Stdout, nil)),
	)
	require.NoError(t, err)
	return &testServices{Service: svc, Registry: registry, Ledger: ledger}
}

func seedItem(t *testing.T, registry *database.PostgresAuctionRegistry, floor int64) *auctions.AuctionItem {
	t.Helper()
	item := &auctions.AuctionItem{
		ID:          uuid.New(),
		SellerID:    uuid.New(),
		Title:       "Vintage Guitar",
		Description: "A 1960s hollow body",
		FloorPrice:  decimal.NewFromInt(floor),
		EndTime:     time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, registry.CreateAuction(context.Background(), item), "Failed to seed test item")
	return item
}

func TestBiddingService_PlaceBid_FloorThenAccept(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, migrations.FS)
	svc := setupBiddingService(t, testDB.Pool)
	ctx := context.Background()
	item := seedItem(t, svc.Registry, 50)

	_, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{ItemID: item.ID, BidderID: uuid.New(), Amount: "45"})
	var tooLow *bids.BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, "50.00", tooLow.CurrentPrice.StringFixed(2))

	bid, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{ItemID: item.ID, BidderID: uuid.New(), Amount: "55"})
	require.NoError(t, err)
	assert.NotZero(t, bid.ID)

	updated, err := svc.Registry.GetOpenAuction(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, updated.CurrentBid.Equal(decimal.NewFromInt(55)))

	var outboxCount int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox_events WHERE aggregate_id = $1", item.ID).Scan(&outboxCount))
	assert.Equal(t, 1, outboxCount, "only the accepted bid emits")
}

func TestBiddingService_PlaceBid_ExpiredButUnswept(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, migrations.FS)
	svc := setupBiddingService(t, testDB.Pool)
	ctx := context.Background()
	item := seedItem(t, svc.Registry, 10)

	_, err := testDB.Pool.Exec(ctx, "UPDATE auction_items SET end_time = NOW() - INTERVAL '1 second' WHERE id = $1", item.ID)
	require.NoError(t, err)

	_, err = svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{ItemID: item.ID, BidderID: uuid.New(), Amount: "20"})
	assert.ErrorIs(t, err, auctions.ErrAuctionNotActive)
}

func TestBiddingService_PlaceBid_ConcurrentBidsSerialize(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, migrations.FS)
	svc := setupBiddingService(t, testDB.Pool)
	ctx := context.Background()
	item := seedItem(t, svc.Registry, 55)

	amounts := []string{"56", "57", "58", "59", "60", "61", "62", "63", "64", "65"}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []decimal.Decimal
		tooLow   int
	)
	for _, amount := range amounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bid, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{ItemID: item.ID, BidderID: uuid.New(), Amount: amount})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, bid.Amount)
			case errors.Is(err, bids.ErrBidTooLow):
				tooLow++
			default:
				t.Errorf("unexpected error for %s: %v", amount, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, len(amounts), len(accepted)+tooLow)
	require.NotEmpty(t, accepted)

	// The ledger must be strictly increasing in placement order and the cache must
	// equal its maximum, whatever the interleaving was.
	var (
		history []*bids.Bid
		last    decimal.Decimal
	)
	rows, err := testDB.Pool.Query(ctx, "SELECT id, amount FROM bids WHERE item_id = $1 ORDER BY id", item.ID)
	require.NoError(t, err)
	for rows.Next() {
		var b bids.Bid
		require.NoError(t, rows.Scan(&b.ID, &b.Amount))
		assert.True(t, b.Amount.GreaterThan(last), "bid %d (%s) does not exceed %s", b.ID, b.Amount, last)
		last = b.Amount
		history = append(history, &b)
	}
	require.NoError(t, rows.Err())
	assert.Len(t, history, len(accepted))

	updated, err := svc.Registry.GetOpenAuction(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, updated.CurrentBid.Equal(last))

	top, err := svc.Ledger.HighestBid(ctx, testDB.Pool, item.ID)
	require.NoError(t, err)
	assert.True(t, top.Amount.Equal(updated.CurrentBid))
}

func TestBiddingService_BidHistory(t *testing.T) {
	testDB := testhelpers.NewTestDatabase(t, migrations.FS)
	svc := setupBiddingService(t, testDB.Pool)
	ctx := context.Background()
	item := seedItem(t, svc.Registry, 10)

	for _, amount := range []string{"11", "12.50", "20"} {
		_, err := svc.Service.PlaceBid(ctx, bids.PlaceBidCommand{ItemID: item.ID, BidderID: uuid.New(), Amount: amount})
		require.NoError(t, err)
	}

	history, err := svc.Service.BidHistory(ctx, item.ID, bids.OrderAmountDesc)
	require.NoError(t, err)
	var got []string
	for b, err := range history {
		require.NoError(t, err)
		got = append(got, b.Amount.StringFixed(2))
	}
	assert.Equal(t, []string{"20.00", "12.50", "11.00"}, got)

	_, err = svc.Service.BidHistory(ctx, uuid.New(), bids.OrderAmountDesc)
	assert.ErrorIs(t, err, auctions.ErrAuctionNotFound)
}
