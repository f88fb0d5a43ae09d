package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewEventDefaults(t *testing.T) {
	evt := NewEvent(OrderConfirmed{}, "order-1", OrderAggregateType)

	require.NotEmpty(t, evt.EventID)
	require.Equal(t, OrderConfirmedType, evt.EventType)
	require.Equal(t, 1, evt.Metadata.Version)
	require.WithinDuration(t, time.Now(), evt.Metadata.Timestamp, time.Second)

	other := NewEvent(OrderConfirmed{}, "order-1", OrderAggregateType,
		WithVersion(7), WithUserID("u1"), WithCorrelationID("c1"), WithCausationID("m1"))
	require.NotEqual(t, evt.EventID, other.EventID)
	require.Equal(t, 7, other.Metadata.Version)
	require.Equal(t, "u1", other.Metadata.UserID)
	require.Equal(t, "c1", other.Metadata.CorrelationID)
	require.Equal(t, "m1", other.Metadata.CausationID)
}

func TestEventMapRoundTrip(t *testing.T) {
	evt := NewEvent(StockReserved{
		ReservationID: "inv-1:o1",
		OrderID:       "o1",
		Quantity:      3,
		ExpiresAt:     time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}, "inv-1", InventoryAggregateType, WithVersion(2), WithUserID("u1"))

	m, err := evt.ToMap()
	require.NoError(t, err)
	require.Equal(t, "StockReserved", m["eventType"])
	require.Equal(t, "inv-1", m["aggregateId"])

	data := m["data"].(map[string]any)
	require.Equal(t, "o1", data["orderId"])

	meta := m["metadata"].(map[string]any)
	require.Equal(t, float64(2), meta["version"])
	require.Equal(t, "u1", meta["userId"])
	require.NotContains(t, meta, "correlationId")

	back, err := EventFromMap(m)
	require.NoError(t, err)
	require.Equal(t, evt.EventID, back.EventID)
	reserved, ok := back.Data.(StockReserved)
	require.True(t, ok)
	require.Equal(t, 3, reserved.Quantity)
	require.True(t, reserved.ExpiresAt.Equal(evt.Data.(StockReserved).ExpiresAt))
	require.True(t, evt.Metadata.Timestamp.Equal(back.Metadata.Timestamp))
}

func TestUnknownPayloadIsLossless(t *testing.T) {
	raw := []byte(`{"eventId":"e1","eventType":"OrderGiftWrapped","aggregateId":"order-1","data":{"paper":"red","layers":2},"metadata":{"timestamp":"2024-01-01T00:00:00Z","version":4}}`)

	var evt Event
	require.NoError(t, json.Unmarshal(raw, &evt))
	require.False(t, IsKnownEventType(evt.EventType))

	unknown, ok := evt.Data.(UnknownPayload)
	require.True(t, ok)
	require.Equal(t, "red", unknown.Fields["paper"])

	out, err := json.Marshal(evt)
	require.NoError(t, err)
	require.JSONEq(t, `{"paper":"red","layers":2}`, string(mustField(t, out, "data")))
}

func mustField(t *testing.T, raw []byte, field string) json.RawMessage {
	t.Helper()

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return m[field]
}

func TestUnknownEventPolicy(t *testing.T) {
	order := newTestOrder(t)
	events := order.UncommittedEvents()
	events = append(events, Event{
		EventID:     "e-unknown",
		EventType:   "OrderGiftWrapped",
		AggregateID: "order-1",
		Data:        UnknownPayload{Type: "OrderGiftWrapped"},
		Metadata:    Metadata{Version: 2},
	})

	lenient := NewOrder("order-1")
	require.NoError(t, lenient.LoadFromHistory(events))
	require.Equal(t, 2, lenient.Version())
	require.Equal(t, 20.0, lenient.TotalAmount())

	strict := NewOrder("order-1")
	strict.SetUnknownEventPolicy(RejectUnknownEvents)
	err := strict.LoadFromHistory(events)
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestLoadFromHistoryRejectsForeignEvents(t *testing.T) {
	order := newTestOrder(t)

	other := NewOrder("order-2")
	require.Error(t, other.LoadFromHistory(order.UncommittedEvents()))
}

func TestParseUnknownEventPolicy(t *testing.T) {
	p, err := ParseUnknownEventPolicy("strict")
	require.NoError(t, err)
	require.Equal(t, RejectUnknownEvents, p)

	p, err = ParseUnknownEventPolicy("")
	require.NoError(t, err)
	require.Equal(t, IgnoreUnknownEvents, p)

	_, err = ParseUnknownEventPolicy("panic")
	require.Error(t, err)
}

func TestStampAppliesToPendingAndLaterEvents(t *testing.T) {
	order := newTestOrder(t)
	order.Stamp(WithUserID("u1"), WithCorrelationID("req-1"), WithVersion(99))
	require.NoError(t, order.Confirm())

	events := order.UncommittedEvents()
	require.Len(t, events, 2)
	for i, evt := range events {
		require.Equal(t, "u1", evt.Metadata.UserID)
		require.Equal(t, "req-1", evt.Metadata.CorrelationID)
		require.Equal(t, i+1, evt.Metadata.Version, "stamping never moves versions")
	}
}
