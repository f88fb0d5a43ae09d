package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/commerce/internal/domain"
)

// MemoryStore is an in-process Store for tests and the memory bus driver.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	log       []StoredEvent
	streams   map[string][]int // aggregate id -> indexes into log
	byEventID map[string]int
	snapshots map[string][]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:   map[string][]int{},
		byEventID: map[string]int{},
		snapshots: map[string][]Snapshot{},
	}
}

func (s *MemoryStore) SaveEvents(_ context.Context, aggregateID string, events []domain.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}
	if err := validateBatch(aggregateID, events, expectedVersion); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := len(s.streams[aggregateID])
	if current != expectedVersion {
		return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: current}
	}
	for _, evt := range events {
		if _, dup := s.byEventID[evt.EventID]; dup {
			return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: -1}
		}
	}

	now := time.Now().UTC()
	for i, evt := range events {
		version := expectedVersion + i + 1
		evt.AggregateID = aggregateID
		evt.Metadata.Version = version

		s.seq++
		s.log = append(s.log, StoredEvent{
			ID:        s.seq,
			Version:   version,
			Timestamp: now,
			Event:     evt,
		})
		idx := len(s.log) - 1
		s.streams[aggregateID] = append(s.streams[aggregateID], idx)
		s.byEventID[evt.EventID] = idx
	}
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, aggregateID string, fromVersion int) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StoredEvent
	for _, idx := range s.streams[aggregateID] {
		if se := s.log[idx]; se.Version > fromVersion {
			out = append(out, se)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAllEvents(_ context.Context, fromPosition int64, limit int) ([]StoredEvent, error) {
	return s.scan(fromPosition, limit, func(StoredEvent) bool { return true }), nil
}

func (s *MemoryStore) GetEventsByType(_ context.Context, eventType string, fromPosition int64, limit int) ([]StoredEvent, error) {
	return s.scan(fromPosition, limit, func(se StoredEvent) bool { return se.Event.EventType == eventType }), nil
}

func (s *MemoryStore) scan(fromPosition int64, limit int, match func(StoredEvent) bool) []StoredEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// log is ordered by ID, so positions map directly onto indexes
	start := sort.Search(len(s.log), func(i int) bool { return s.log[i].ID > fromPosition })

	var out []StoredEvent
	for _, se := range s.log[start:] {
		if !match(se) {
			continue
		}
		out = append(out, se)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	snapshot.State = append([]byte(nil), snapshot.State...)

	list := s.snapshots[snapshot.AggregateID]
	for i := range list {
		if list[i].Version == snapshot.Version {
			list[i] = snapshot
			return nil
		}
	}
	list = append(list, snapshot)
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	s.snapshots[snapshot.AggregateID] = list
	return nil
}

func (s *MemoryStore) GetLatestSnapshot(_ context.Context, aggregateID string, maxVersion int) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[aggregateID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Version <= maxVersion {
			snap := list[i]
			snap.State = append([]byte(nil), snap.State...)
			return &snap, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetUnpublishedEvents(_ context.Context, olderThan time.Time, limit int) ([]StoredEvent, error) {
	return s.scan(0, limit, func(se StoredEvent) bool {
		return !se.Published && se.Timestamp.Before(olderThan)
	}), nil
}

func (s *MemoryStore) MarkEventsPublished(_ context.Context, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range eventIDs {
		if idx, ok := s.byEventID[id]; ok {
			s.log[idx].Published = true
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
