package eventstore

import (
	"context"
	"time"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/metrics"
)

type instrumentedStore struct {
	Store
	metrics *metrics.Metrics
}

// Instrument records latency, appended events and conflicts of store.
func Instrument(store Store, m *metrics.Metrics) Store {
	if m == nil {
		return store
	}
	return &instrumentedStore{Store: store, metrics: m}
}

func (s *instrumentedStore) SaveEvents(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int) error {
	defer s.metrics.ObserveStore("save_events", time.Now())

	err := s.Store.SaveEvents(ctx, aggregateID, events, expectedVersion)
	if len(events) == 0 {
		return err
	}

	aggregateType := events[0].AggregateType
	switch {
	case err == nil:
		s.metrics.EventsAppended(aggregateType, len(events))
	case IsConcurrencyConflict(err):
		s.metrics.ConcurrencyConflict(aggregateType)
	}
	return err
}

func (s *instrumentedStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]StoredEvent, error) {
	defer s.metrics.ObserveStore("get_events", time.Now())
	return s.Store.GetEvents(ctx, aggregateID, fromVersion)
}

func (s *instrumentedStore) GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error) {
	defer s.metrics.ObserveStore("get_all_events", time.Now())
	return s.Store.GetAllEvents(ctx, fromPosition, limit)
}

func (s *instrumentedStore) GetEventsByType(ctx context.Context, eventType string, fromPosition int64, limit int) ([]StoredEvent, error) {
	defer s.metrics.ObserveStore("get_events_by_type", time.Now())
	return s.Store.GetEventsByType(ctx, eventType, fromPosition, limit)
}

func (s *instrumentedStore) GetLatestSnapshot(ctx context.Context, aggregateID string, maxVersion int) (*Snapshot, error) {
	defer s.metrics.ObserveStore("get_snapshot", time.Now())
	return s.Store.GetLatestSnapshot(ctx, aggregateID, maxVersion)
}
