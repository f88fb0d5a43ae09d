package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes recorded by the event bus.
const (
	OutcomeAcked        = "acked"
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeDuplicate    = "duplicate"
)

var defaultBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Store metrics
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
	storeDuration        *prometheus.HistogramVec

	// Bus metrics
	eventsPublished *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	streamFailures  prometheus.Counter

	// Command metrics
	commandDuration *prometheus.HistogramVec
	commandsRetried *prometheus.CounterVec

	// Worker metrics
	eventsRelayed        prometheus.Counter
	reservationsReleased prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended to the event store",
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Total number of rejected appends due to a stale expected version",
		}, []string{"aggregate_type"}),

		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_store_duration_seconds",
			Help:      "Event store operation latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"operation"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events durably published to the bus",
		}, []string{"event_type"}),

		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of consumed bus messages by outcome",
		}, []string{"kind", "outcome"}),

		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Total number of failed event handler invocations",
		}, []string{"event_type"}),

		streamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_stream_failures_total",
			Help:      "Total number of failed appends to the real-time stream",
		}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type", "command", "outcome"}),

		commandsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_retried_total",
			Help:      "Total number of command retries after a concurrency conflict",
		}, []string{"aggregate_type", "command"}),

		eventsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Total number of unpublished events republished by the relay",
		}),

		reservationsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_reservations_released_total",
			Help:      "Total number of expired stock reservations released by the sweeper",
		}),
	}

	reg.MustRegister(
		m.eventsAppended,
		m.concurrencyConflicts,
		m.storeDuration,
		m.eventsPublished,
		m.deliveries,
		m.handlerFailures,
		m.streamFailures,
		m.commandDuration,
		m.commandsRetried,
		m.eventsRelayed,
		m.reservationsReleased,
	)

	return m
}

func (m *Metrics) EventsAppended(aggregateType string, count int) {
	if m == nil {
		return
	}
	m.eventsAppended.WithLabelValues(aggregateType).Add(float64(count))
}

func (m *Metrics) ConcurrencyConflict(aggregateType string) {
	if m == nil {
		return
	}
	m.concurrencyConflicts.WithLabelValues(aggregateType).Inc()
}

// ObserveStore records the latency of an event store operation started at start.
func (m *Metrics) ObserveStore(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// Delivery records a consumed message. kind is "event" or "command".
func (m *Metrics) Delivery(kind, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) HandlerFailed(eventType string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(eventType).Inc()
}

func (m *Metrics) StreamFailed() {
	if m == nil {
		return
	}
	m.streamFailures.Inc()
}

func (m *Metrics) ObserveCommand(aggregateType, command, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.commandDuration.WithLabelValues(aggregateType, command, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) CommandRetried(aggregateType, command string) {
	if m == nil {
		return
	}
	m.commandsRetried.WithLabelValues(aggregateType, command).Inc()
}

func (m *Metrics) EventsRelayed(count int) {
	if m == nil {
		return
	}
	m.eventsRelayed.Add(float64(count))
}

func (m *Metrics) ReservationReleased() {
	if m == nil {
		return
	}
	m.reservationsReleased.Inc()
}
