package eventstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/metrics"
)

func orderEvents(t *testing.T, id string) []domain.Event {
	t.Helper()

	order, err := domain.CreateOrder(id, "customer-1", []domain.OrderItemInput{
		{ProductID: "p1", SKU: "S1", Quantity: 2, Price: 10},
	}, domain.Address{}, domain.Address{})
	require.NoError(t, err)
	require.NoError(t, order.Confirm())
	return order.UncommittedEvents()
}

func TestSaveAndGetEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	events := orderEvents(t, "order-1")
	require.NoError(t, store.SaveEvents(ctx, "order-1", events, 0))

	stored, err := store.GetEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for i, se := range stored {
		assert.Equal(t, i+1, se.Version)
		assert.Equal(t, i+1, se.Event.Metadata.Version)
		assert.Equal(t, events[i].EventID, se.Event.EventID)
	}

	tail, err := store.GetEvents(ctx, "order-1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, domain.OrderConfirmedType, tail[0].Event.EventType)

	none, err := store.GetEvents(ctx, "missing", 0)
	require.NoError(t, err)
	require.Empty(t, none)

	require.NoError(t, store.SaveEvents(ctx, "order-1", nil, 99), "empty batch is a no-op")
}

func TestSaveEventsRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents(t, "order-1"), 0))

	err := store.SaveEvents(ctx, "order-1", orderEvents(t, "order-1"), 0)
	require.Error(t, err)
	require.True(t, IsConcurrencyConflict(err))

	var ce *ConcurrencyError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 0, ce.Expected)
	require.Equal(t, 2, ce.Actual)

	stored, err := store.GetEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 2, "a rejected batch must persist nothing")
}

func TestConcurrentWritersOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents(t, "order-1")[:1], 0))

	const writers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt := domain.NewEvent(domain.OrderConfirmed{}, "order-1", domain.OrderAggregateType)
			err := store.SaveEvents(ctx, "order-1", []domain.Event{evt}, 1)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if IsConcurrencyConflict(err) {
				conflict++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, writers-1, conflict)

	stored, err := store.GetEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestGlobalFeeds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents(t, "order-1"), 0))
	require.NoError(t, store.SaveEvents(ctx, "order-2", orderEvents(t, "order-2"), 0))

	all, err := store.GetAllEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		require.Greater(t, all[i].ID, all[i-1].ID)
	}

	page, err := store.GetAllEvents(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)

	rest, err := store.GetAllEvents(ctx, LastPosition(page, 0), 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, all[3].Event.EventID, rest[0].Event.EventID)

	created, err := store.GetEventsByType(ctx, domain.OrderCreatedType, 0, 0)
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Equal(t, "order-1", created[0].Event.AggregateID)
	require.Equal(t, "order-2", created[1].Event.AggregateID)
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	snap, err := store.GetLatestSnapshot(ctx, "order-1", LatestVersion)
	require.NoError(t, err)
	require.Nil(t, snap)

	for _, v := range []int{5, 10, 15} {
		require.NoError(t, store.SaveSnapshot(ctx, Snapshot{AggregateID: "order-1", Version: v, State: []byte(`{}`)}))
	}

	snap, err = store.GetLatestSnapshot(ctx, "order-1", 12)
	require.NoError(t, err)
	require.Equal(t, 10, snap.Version)

	snap, err = store.GetLatestSnapshot(ctx, "order-1", LatestVersion)
	require.NoError(t, err)
	require.Equal(t, 15, snap.Version)

	snap, err = store.GetLatestSnapshot(ctx, "order-1", 4)
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestOutbox(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	events := orderEvents(t, "order-1")
	require.NoError(t, store.SaveEvents(ctx, "order-1", events, 0))

	pending, err := store.GetUnpublishedEvents(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	none, err := store.GetUnpublishedEvents(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, none, "events newer than the grace period are skipped")

	require.NoError(t, store.MarkEventsPublished(ctx, []string{events[0].EventID, "unknown"}))

	pending, err = store.GetUnpublishedEvents(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, events[1].EventID, pending[0].Event.EventID)
}

func TestInstrumentedStoreCountsConflicts(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry(), "test")
	store := Instrument(NewMemoryStore(), m)

	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents(t, "order-1"), 0))
	err := store.SaveEvents(ctx, "order-1", orderEvents(t, "order-1"), 0)
	require.True(t, IsConcurrencyConflict(err))

	stored, err := store.GetEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, Events(stored), 2)
}
