package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "commerce")
	require.NotNil(t, m)

	m.EventsAppended("order", 3)
	m.ConcurrencyConflict("order")
	m.ObserveStore("save_events", time.Now())
	m.EventPublished("OrderCreated")
	m.Delivery("event", OutcomeAcked)
	m.Delivery("event", OutcomeRequeued)
	m.HandlerFailed("OrderCreated")
	m.StreamFailed()
	m.ObserveCommand("order", "Confirm", "ok", time.Now())
	m.CommandRetried("order", "Confirm")
	m.EventsRelayed(2)
	m.ReservationReleased()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.eventsAppended.WithLabelValues("order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.concurrencyConflicts.WithLabelValues("order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("event", OutcomeRequeued)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsRelayed))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.EventsAppended("order", 1)
		m.ConcurrencyConflict("order")
		m.ObserveStore("get_events", time.Now())
		m.Delivery("command", OutcomeDeadLettered)
		m.ObserveCommand("order", "Ship", "error", time.Now())
		m.EventsRelayed(1)
	})
}
