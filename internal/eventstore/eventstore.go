package eventstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"example.com/commerce/internal/domain"
)

// LatestVersion asks GetLatestSnapshot for the newest snapshot regardless of version.
const LatestVersion = math.MaxInt32

// ErrConcurrencyConflict is wrapped by every ConcurrencyError.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ConcurrencyError reports a stale expected version. The caller should reload
// the aggregate and retry the command.
type ConcurrencyError struct {
	AggregateID string
	Expected    int
	Actual      int
}

func (e *ConcurrencyError) Error() string {
	if e.Actual < 0 {
		return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d was taken", e.AggregateID, e.Expected)
	}
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d, actual %d", e.AggregateID, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Unwrap() error { return ErrConcurrencyConflict }

// IsConcurrencyConflict reports whether err is a retryable version conflict.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// StoredEvent is an event as persisted. ID is the global store position and
// Event.Metadata.Version always equals Version.
type StoredEvent struct {
	ID        int64
	Version   int
	Timestamp time.Time
	Published bool
	Event     domain.Event
}

// Snapshot is the materialised state of an aggregate at Version.
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       int
	State         []byte
	CreatedAt     time.Time
}

// EventStore is the interface for event storage
type EventStore interface {
	// SaveEvents appends events after expectedVersion, all or nothing.
	SaveEvents(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int) error

	// GetEvents returns the events of one aggregate with version > fromVersion.
	GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]StoredEvent, error)

	// GetAllEvents returns events with store position > fromPosition in store order.
	GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error)

	// GetEventsByType is GetAllEvents filtered on event type.
	GetEventsByType(ctx context.Context, eventType string, fromPosition int64, limit int) ([]StoredEvent, error)

	// SaveSnapshot stores a snapshot. Saving the same version twice keeps the latest state.
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error

	// GetLatestSnapshot returns the highest snapshot at or below maxVersion,
	// or nil when there is none.
	GetLatestSnapshot(ctx context.Context, aggregateID string, maxVersion int) (*Snapshot, error)
}

// Outbox tracks which stored events have been published to the bus.
type Outbox interface {
	// GetUnpublishedEvents returns unpublished events stored before olderThan, in store order.
	GetUnpublishedEvents(ctx context.Context, olderThan time.Time, limit int) ([]StoredEvent, error)

	// MarkEventsPublished flags events as published. Unknown ids are ignored.
	MarkEventsPublished(ctx context.Context, eventIDs []string) error
}

// Store is an event store that also serves as the publishing outbox.
type Store interface {
	EventStore
	Outbox
}

// Events unwraps stored events into domain events.
func Events(stored []StoredEvent) []domain.Event {
	out := make([]domain.Event, len(stored))
	for i, se := range stored {
		out[i] = se.Event
	}
	return out
}

// LastPosition returns the store position of the last event, or from when empty.
func LastPosition(stored []StoredEvent, from int64) int64 {
	if len(stored) == 0 {
		return from
	}
	return stored[len(stored)-1].ID
}

func validateBatch(aggregateID string, events []domain.Event, expectedVersion int) error {
	if aggregateID == "" {
		return errors.New("aggregate id is empty")
	}
	if expectedVersion < 0 {
		return fmt.Errorf("expected version must not be negative, got %d", expectedVersion)
	}
	for _, evt := range events {
		if evt.AggregateID != "" && evt.AggregateID != aggregateID {
			return fmt.Errorf("event %s belongs to aggregate %s, not %s", evt.EventID, evt.AggregateID, aggregateID)
		}
		if evt.EventID == "" || evt.EventType == "" {
			return fmt.Errorf("event for aggregate %s is missing its id or type", aggregateID)
		}
	}
	return nil
}
