package handlers

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/metrics"
	"example.com/commerce/internal/repository"
)

// MockPublisher records published batches
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishBatch(ctx context.Context, events []domain.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// racingStore lets a concurrent writer append one event right before the
// first save it sees.
type racingStore struct {
	eventstore.Store
	raced atomic.Bool
	event func(aggregateID string) domain.Event
}

func (s *racingStore) SaveEvents(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int) error {
	if expectedVersion > 0 && s.raced.CompareAndSwap(false, true) {
		if err := s.Store.SaveEvents(ctx, aggregateID, []domain.Event{s.event(aggregateID)}, expectedVersion); err != nil {
			return err
		}
	}
	return s.Store.SaveEvents(ctx, aggregateID, events, expectedVersion)
}

// conflictingStore rejects every save after the first.
type conflictingStore struct {
	eventstore.Store
	saves atomic.Int32
}

func (s *conflictingStore) SaveEvents(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int) error {
	if s.saves.Add(1) == 1 {
		return s.Store.SaveEvents(ctx, aggregateID, events, expectedVersion)
	}
	return &eventstore.ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: expectedVersion + 1}
}

func publishOK() *MockPublisher {
	pub := new(MockPublisher)
	pub.On("PublishBatch", mock.Anything, mock.Anything).Return(nil)
	return pub
}

func orderHandler(store eventstore.Store, pub Publisher, opts ...RunnerOption) *OrderHandler {
	repo := repository.New(store, domain.OrderAggregateType, domain.NewOrder)
	return NewOrderHandler(NewRunner(store, pub, opts...), repo)
}

func inventoryHandler(store eventstore.Store, pub Publisher, opts ...RunnerOption) *InventoryHandler {
	repo := repository.New(store, domain.InventoryAggregateType, domain.NewInventory)
	return NewInventoryHandler(NewRunner(store, pub, opts...), repo)
}

var createOrder = CreateOrderCommand{
	Meta:       Meta{UserID: "u1", CorrelationID: "req-1"},
	OrderID:    "order-1",
	CustomerID: "customer-1",
	Items:      []domain.OrderItemInput{{ProductID: "p1", SKU: "S1", Quantity: 2, Price: 10}},
}

func TestCreateOrderSavesPublishesAndMarks(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	pub := new(MockPublisher)
	pub.On("PublishBatch", mock.Anything, mock.MatchedBy(func(events []domain.Event) bool {
		return len(events) == 1 && events[0].EventType == domain.OrderCreatedType
	})).Return(nil).Once()

	h := orderHandler(store, pub)
	order, err := h.HandleCreateOrder(ctx, createOrder)
	require.NoError(t, err)
	require.Equal(t, 20.0, order.TotalAmount())
	require.Empty(t, order.UncommittedEvents())

	stored, err := store.GetEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "u1", stored[0].Event.Metadata.UserID)
	assert.Equal(t, "req-1", stored[0].Event.Metadata.CorrelationID)

	pending, err := store.GetUnpublishedEvents(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	pub.AssertExpectations(t)
}

func TestCreateOrderTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	h := orderHandler(eventstore.NewMemoryStore(), publishOK())

	_, err := h.HandleCreateOrder(ctx, createOrder)
	require.NoError(t, err)

	_, err = h.HandleCreateOrder(ctx, createOrder)
	require.True(t, domain.HasCode(err, domain.CodeAlreadyExists))
}

func TestCreateOrderValidatesCommand(t *testing.T) {
	h := orderHandler(eventstore.NewMemoryStore(), new(MockPublisher))

	cmd := createOrder
	cmd.Items = nil
	_, err := h.HandleCreateOrder(context.Background(), cmd)
	require.True(t, domain.HasCode(err, domain.CodeInvalidArgument))
}

func TestRejectedCommandPublishesNothing(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	pub := publishOK()
	h := orderHandler(store, pub)

	_, err := h.HandleCreateOrder(ctx, createOrder)
	require.NoError(t, err)

	_, err = h.HandleShipOrder(ctx, ShipOrderCommand{OrderID: "order-1", TrackingNumber: "TRK1"})
	require.True(t, domain.HasCode(err, domain.CodeInvalidStatus))

	stored, err := store.GetEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	pub.AssertNumberOfCalls(t, "PublishBatch", 1)
}

func TestMissingAggregateIsNotFound(t *testing.T) {
	h := orderHandler(eventstore.NewMemoryStore(), new(MockPublisher))

	_, err := h.HandleConfirmOrder(context.Background(), OrderCommand{OrderID: "missing"})
	require.True(t, domain.HasCode(err, domain.CodeNotFound))
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPublishFailureLeavesEventsForRelay(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	pub := new(MockPublisher)
	pub.On("PublishBatch", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	h := orderHandler(store, pub)
	_, err := h.HandleCreateOrder(ctx, createOrder)
	require.ErrorIs(t, err, ErrNotPublished)
	pub.AssertNumberOfCalls(t, "PublishBatch", 1)

	pending, err := store.GetUnpublishedEvents(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.OrderCreatedType, pending[0].Event.EventType)
}

func TestConcurrencyConflictIsRetriedOnFreshState(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{
		Store: eventstore.NewMemoryStore(),
		event: func(id string) domain.Event {
			return domain.NewEvent(domain.StockAdded{Quantity: 5, Reason: "concurrent"}, id, domain.InventoryAggregateType)
		},
	}
	reg := prometheus.NewRegistry()
	h := inventoryHandler(store, publishOK(), WithMetrics(metrics.New(reg, "test")))

	_, err := h.HandleCreateInventory(ctx, CreateInventoryCommand{InventoryID: "inv-1", ProductID: "p1", InitialStock: 10})
	require.NoError(t, err)

	inv, err := h.HandleAddStock(ctx, AdjustStockCommand{InventoryID: "inv-1", Quantity: 3})
	require.NoError(t, err)
	require.True(t, store.raced.Load())
	require.Equal(t, 18, inv.CurrentStock())
	require.Equal(t, 3, inv.Version())

	stored, err := store.GetEvents(ctx, "inv-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 3)
}

func TestConcurrencyConflictGivesUpAfterMaxTries(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{Store: eventstore.NewMemoryStore()}
	h := inventoryHandler(store, publishOK(), WithRetry(3, time.Second))

	_, err := h.HandleCreateInventory(ctx, CreateInventoryCommand{InventoryID: "inv-1", ProductID: "p1", InitialStock: 10})
	require.NoError(t, err)

	_, err = h.HandleAddStock(ctx, AdjustStockCommand{InventoryID: "inv-1", Quantity: 3})
	require.True(t, eventstore.IsConcurrencyConflict(err))
	require.EqualValues(t, 4, store.saves.Load(), "one create and three attempts")
}

func TestReserveStockDefaultsExpiry(t *testing.T) {
	ctx := context.Background()
	h := inventoryHandler(eventstore.NewMemoryStore(), publishOK())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	_, err := h.HandleCreateInventory(ctx, CreateInventoryCommand{InventoryID: "inv-1", ProductID: "p1", InitialStock: 5, LowStockThreshold: 2})
	require.NoError(t, err)

	inv, err := h.HandleReserveStock(ctx, ReserveStockCommand{InventoryID: "inv-1", OrderID: "orderA", Quantity: 4})
	require.NoError(t, err)
	r, ok := inv.Reservation("orderA")
	require.True(t, ok)
	require.True(t, r.ExpiresAt.Equal(now.Add(DefaultReservationTTL)), "expiry %s", r.ExpiresAt)

	_, err = h.HandleReserveStock(ctx, ReserveStockCommand{InventoryID: "inv-1", OrderID: "orderB", Quantity: 3})
	require.True(t, domain.HasCode(err, domain.CodeInsufficientStock))
}

func TestSweeperReleasesExpiredReservations(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	h := inventoryHandler(store, publishOK())

	for _, id := range []string{"inv-1", "inv-2"} {
		_, err := h.HandleCreateInventory(ctx, CreateInventoryCommand{InventoryID: id, ProductID: "p-" + id, InitialStock: 10})
		require.NoError(t, err)
	}
	soon := time.Now().Add(time.Minute)
	_, err := h.HandleReserveStock(ctx, ReserveStockCommand{InventoryID: "inv-1", OrderID: "orderA", Quantity: 2, ExpiresAt: soon})
	require.NoError(t, err)
	_, err = h.HandleReserveStock(ctx, ReserveStockCommand{InventoryID: "inv-2", OrderID: "orderB", Quantity: 3, ExpiresAt: soon})
	require.NoError(t, err)
	_, err = h.HandleAllocateStock(ctx, AllocateStockCommand{InventoryID: "inv-2", OrderID: "orderB"})
	require.NoError(t, err)
	_, err = h.HandleReserveStock(ctx, ReserveStockCommand{InventoryID: "inv-2", OrderID: "orderC", Quantity: 1, ExpiresAt: soon.Add(time.Hour)})
	require.NoError(t, err)

	sweeper := NewSweeper(store, h, 1, nil)
	sweeper.now = func() time.Time { return soon.Add(time.Second) }

	var logs bytes.Buffer
	defer func(l zerolog.Logger) { log.Logger = l }(log.Logger)
	log.Logger = zerolog.New(&logs)

	released, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, released)
	require.Equal(t, 1, strings.Count(logs.String(), "Released expired reservations"))

	inv1, _, err := h.GetInventory(ctx, "inv-1")
	require.NoError(t, err)
	require.Equal(t, 0, inv1.ReservedStock())
	require.Equal(t, 10, inv1.AvailableStock())

	inv2, _, err := h.GetInventory(ctx, "inv-2")
	require.NoError(t, err)
	require.Equal(t, 1, inv2.ReservedStock(), "allocated and unexpired reservations stay")

	released, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, released)
}
