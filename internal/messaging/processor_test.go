package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventbus"
	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/handlers"
	"example.com/commerce/internal/repository"
)

type publisherFunc func(ctx context.Context, events []domain.Event) error

func (f publisherFunc) PublishBatch(ctx context.Context, events []domain.Event) error {
	return f(ctx, events)
}

func newProcessor(store eventstore.Store, pub handlers.Publisher) *Processor {
	runner := handlers.NewRunner(store, pub)
	return NewProcessor(Handlers{
		Users:     handlers.NewUserHandler(runner, repository.New(store, domain.UserAggregateType, domain.NewUser)),
		Products:  handlers.NewProductHandler(runner, repository.New(store, domain.ProductAggregateType, domain.NewProduct)),
		Orders:    handlers.NewOrderHandler(runner, repository.New(store, domain.OrderAggregateType, domain.NewOrder)),
		Payments:  handlers.NewPaymentHandler(runner, repository.New(store, domain.PaymentAggregateType, domain.NewPayment)),
		Inventory: handlers.NewInventoryHandler(runner, repository.New(store, domain.InventoryAggregateType, domain.NewInventory)),
	})
}

func noopPublisher() handlers.Publisher {
	return publisherFunc(func(context.Context, []domain.Event) error { return nil })
}

func createOrderCommand(t *testing.T) eventbus.Command {
	t.Helper()
	cmd, err := eventbus.NewCommand(CreateOrder, handlers.CreateOrderCommand{
		OrderID:    "order-1",
		CustomerID: "customer-1",
		Items:      []domain.OrderItemInput{{ProductID: "p1", SKU: "S1", Quantity: 1, Price: 5}},
	})
	require.NoError(t, err)
	cmd.Metadata.UserID = "u1"
	cmd.Metadata.CorrelationID = "req-9"
	return cmd
}

func TestProcessCommandRoutesAndInheritsMetadata(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	p := newProcessor(store, noopPublisher())

	cmd := createOrderCommand(t)
	require.NoError(t, p.ProcessCommand(ctx, cmd))

	stored, err := store.GetEvents(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	meta := stored[0].Event.Metadata
	assert.Equal(t, "u1", meta.UserID)
	assert.Equal(t, "req-9", meta.CorrelationID)
	assert.Equal(t, cmd.CommandID, meta.CausationID)
}

func TestRejectedCommandIsAcknowledged(t *testing.T) {
	p := newProcessor(eventstore.NewMemoryStore(), noopPublisher())

	cmd, err := eventbus.NewCommand(ShipOrder, handlers.ShipOrderCommand{OrderID: "missing", TrackingNumber: "T1"})
	require.NoError(t, err)
	require.NoError(t, p.ProcessCommand(context.Background(), cmd), "not_found is final")

	cmd, err = eventbus.NewCommand(ShipOrder, handlers.ShipOrderCommand{OrderID: "order-1"})
	require.NoError(t, err)
	require.NoError(t, p.ProcessCommand(context.Background(), cmd), "invalid input is final")
}

func TestUnpublishedEventsAreLeftForTheRelay(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	p := newProcessor(store, publisherFunc(func(context.Context, []domain.Event) error {
		return errors.New("broker down")
	}))

	require.NoError(t, p.ProcessCommand(ctx, createOrderCommand(t)))

	pending, err := store.GetUnpublishedEvents(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestUndeliverableCommandsAreRequeued(t *testing.T) {
	p := newProcessor(eventstore.NewMemoryStore(), noopPublisher())

	err := p.ProcessCommand(context.Background(), eventbus.Command{CommandID: "c1", CommandType: "LaunchRocket", Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrUnknownCommand)

	err = p.ProcessCommand(context.Background(), eventbus.Command{CommandID: "c2", CommandType: CreateOrder, Payload: json.RawMessage(`{"orderId": 7}`)})
	require.Error(t, err)
	require.False(t, domain.IsDomainError(err))
}

func TestEveryAggregateIsRouted(t *testing.T) {
	p := newProcessor(eventstore.NewMemoryStore(), noopPublisher())

	for _, commandType := range []string{RegisterUser, CreateProduct, CreateOrder, CreatePayment, CreateInventory, ReserveStock, RefundOrder} {
		assert.True(t, p.Handles(commandType), commandType)
	}
	assert.Len(t, p.CommandTypes(), 44)

	partial := NewProcessor(Handlers{})
	assert.Empty(t, partial.CommandTypes())
}
