package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventstore"
)

func newOrderRepo(store eventstore.EventStore, opts ...Option) *Repository[*domain.Order] {
	return New(store, domain.OrderAggregateType, domain.NewOrder, opts...)
}

func createOrder(t *testing.T) *domain.Order {
	t.Helper()

	order, err := domain.CreateOrder("order-1", "customer-1", []domain.OrderItemInput{
		{ProductID: "p1", SKU: "S1", Quantity: 2, Price: 10},
	}, domain.Address{}, domain.Address{})
	require.NoError(t, err)
	return order
}

func TestSaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newOrderRepo(eventstore.NewMemoryStore())

	order := createOrder(t)
	require.NoError(t, repo.Save(ctx, order))
	require.Empty(t, order.UncommittedEvents())

	require.NoError(t, order.Confirm())
	require.NoError(t, repo.Save(ctx, order))

	loaded, ok, err := repo.FindByID(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, loaded.Version())
	require.Equal(t, domain.OrderStatusConfirmed, loaded.Status())
	require.Equal(t, order.State(), loaded.State())
}

func TestFindMissingAggregate(t *testing.T) {
	ctx := context.Background()
	repo := newOrderRepo(eventstore.NewMemoryStore())

	_, ok, err := repo.FindByID(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = repo.Get(ctx, "nope")
	require.True(t, errors.Is(err, ErrNotFound))
	require.True(t, domain.HasCode(err, domain.CodeNotFound))

	exists, err := repo.Exists(ctx, "nope")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestInterleavedSavesConflict(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	repo := newOrderRepo(store)
	require.NoError(t, repo.Save(ctx, createOrder(t)))

	first, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	second, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)

	require.NoError(t, first.Confirm())
	require.NoError(t, second.Cancel("admin", "duplicate"))

	require.NoError(t, repo.Save(ctx, first))
	err = repo.Save(ctx, second)
	require.True(t, eventstore.IsConcurrencyConflict(err))
	require.Len(t, second.UncommittedEvents(), 1, "failed save keeps events uncommitted")

	stored, err := store.GetEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, domain.OrderConfirmedType, stored[1].Event.EventType)
}

func TestDeleteIsNotSupported(t *testing.T) {
	repo := newOrderRepo(eventstore.NewMemoryStore())
	require.ErrorIs(t, repo.Delete(context.Background(), "order-1"), ErrDeleteNotSupported)
}

func TestSnapshotsAccelerateLoads(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	repo := New(store, domain.InventoryAggregateType, domain.NewInventory, WithSnapshotFrequency(3))

	inv, err := domain.CreateInventory("inv-1", "p1", "S1", 100, 5)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, inv))

	for i := 0; i < 4; i++ {
		require.NoError(t, inv.AddStock(1, "restock"))
		require.NoError(t, repo.Save(ctx, inv))
	}

	snap, err := store.GetLatestSnapshot(ctx, "inv-1", eventstore.LatestVersion)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, 3, snap.Version)

	loaded, err := repo.Get(ctx, "inv-1")
	require.NoError(t, err)
	require.Equal(t, 5, loaded.Version())
	require.Equal(t, 104, loaded.CurrentStock())
}

func TestCorruptSnapshotFallsBackToReplay(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	repo := newOrderRepo(store, WithSnapshotFrequency(1))

	order := createOrder(t)
	require.NoError(t, repo.Save(ctx, order))
	require.NoError(t, store.SaveSnapshot(ctx, eventstore.Snapshot{AggregateID: "order-1", Version: 1, State: []byte("not json")}))

	loaded, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, 20.0, loaded.TotalAmount())
}

func TestStrictPolicyRejectsUnknownEvents(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()

	order := createOrder(t)
	events := order.UncommittedEvents()
	events = append(events, domain.Event{
		EventID:     "e-2",
		EventType:   "OrderGiftWrapped",
		AggregateID: "order-1",
		Data:        domain.UnknownPayload{Type: "OrderGiftWrapped"},
	})
	require.NoError(t, store.SaveEvents(ctx, "order-1", events, 0))

	lenient := newOrderRepo(store)
	loaded, err := lenient.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Version())

	strict := newOrderRepo(store, WithUnknownEventPolicy(domain.RejectUnknownEvents))
	_, err = strict.Get(ctx, "order-1")
	require.ErrorIs(t, err, domain.ErrUnknownEvent)
}
