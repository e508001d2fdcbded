package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeTxManager struct {
	tx *fakeTx
}

func (m *fakeTxManager) BeginTx(context.Context) (pgx.Tx, error) {
	return m.tx, nil
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, tx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) UpdateEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status OutboxStatus) error {
	return m.Called(ctx, tx, id, status).Error(0)
}

func (m *MockOutboxRepository) IncrementAttempts(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error) {
	args := m.Called(ctx, tx, id)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, exchange string, event *OutboxEvent) error {
	return m.Called(ctx, exchange, event).Error(0)
}

func newEvent(eventType string) *OutboxEvent {
	return &OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   []byte("payload"),
		Status:    OutboxStatusPending,
		CreatedAt: time.Now(),
	}
}

func newTestRelay(repo *MockOutboxRepository, pub *MockPublisher, tx *fakeTx, maxAttempts int) *OutboxRelay {
	return NewOutboxRelay(repo, pub, &fakeTxManager{tx: tx}, RelayConfig{
		Exchange:    "auction.events",
		BatchSize:   10,
		Interval:    10 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOutboxRelay_ProcessBatch_PublishesInOrder(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	first, second := newEvent("bid.updated"), newEvent("bid.outbid")
	repo.On("GetPendingEvents", ctx, tx, 10).Return([]*OutboxEvent{first, second}, nil)

	var order []string
	pub.On("Publish", ctx, "auction.events", mock.AnythingOfType("*events.OutboxEvent")).
		Run(func(args mock.Arguments) {
			order = append(order, args.Get(2).(*OutboxEvent).EventType)
		}).Return(nil)
	repo.On("UpdateEventStatus", ctx, tx, first.ID, OutboxStatusPublished).Return(nil)
	repo.On("UpdateEventStatus", ctx, tx, second.ID, OutboxStatusPublished).Return(nil)

	published, err := newTestRelay(repo, pub, tx, 0).ProcessBatch(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Equal(t, []string{"bid.updated", "bid.outbid"}, order)
	assert.True(t, tx.committed)
	repo.AssertExpectations(t)
}

func TestOutboxRelay_ProcessBatch_StopsAtFirstPublishFailure(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	first, second, third := newEvent("auction.won"), newEvent("auction.ended"), newEvent("bid.updated")
	repo.On("GetPendingEvents", ctx, tx, 10).Return([]*OutboxEvent{first, second, third}, nil)
	pub.On("Publish", ctx, "auction.events", first).Return(nil)
	pub.On("Publish", ctx, "auction.events", second).Return(errors.New("channel closed"))
	repo.On("UpdateEventStatus", ctx, tx, first.ID, OutboxStatusPublished).Return(nil)
	repo.On("IncrementAttempts", ctx, tx, second.ID).Return(1, nil)

	published, err := newTestRelay(repo, pub, tx, 5).ProcessBatch(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), second.ID.String())
	assert.Equal(t, 1, published)
	assert.True(t, tx.committed, "first event's published status must survive the failure")
	pub.AssertNotCalled(t, "Publish", ctx, "auction.events", third)
	repo.AssertNotCalled(t, "UpdateEventStatus", ctx, tx, second.ID, OutboxStatusFailed)
}

func TestOutboxRelay_ProcessBatch_ParksAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)

	poison := newEvent("auction.ended")
	repo.On("GetPendingEvents", ctx, tx, 10).Return([]*OutboxEvent{poison}, nil)
	pub.On("Publish", ctx, "auction.events", poison).Return(errors.New("frame too large"))
	repo.On("IncrementAttempts", ctx, tx, poison.ID).Return(3, nil)
	repo.On("UpdateEventStatus", ctx, tx, poison.ID, OutboxStatusFailed).Return(nil)

	_, err := newTestRelay(repo, pub, tx, 3).ProcessBatch(ctx)

	require.Error(t, err)
	repo.AssertCalled(t, "UpdateEventStatus", ctx, tx, poison.ID, OutboxStatusFailed)
}

func TestOutboxRelay_ProcessBatch_Empty(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)
	repo.On("GetPendingEvents", ctx, tx, 10).Return(nil, nil)

	published, err := newTestRelay(repo, pub, tx, 0).ProcessBatch(ctx)

	require.NoError(t, err)
	assert.Zero(t, published)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxRelay_Run_StopsOnCancel(t *testing.T) {
	tx := &fakeTx{}
	repo := new(MockOutboxRepository)
	pub := new(MockPublisher)
	repo.On("GetPendingEvents", mock.Anything, tx, 10).Return(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- newTestRelay(repo, pub, tx, 0).Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
}
