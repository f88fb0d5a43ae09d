package domain

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// UnknownEventPolicy decides what replay does with an event type the
// aggregate has no case for.
type UnknownEventPolicy int

const (
	// IgnoreUnknownEvents logs and skips the event. The event still counts
	// towards the aggregate version.
	IgnoreUnknownEvents UnknownEventPolicy = iota
	// RejectUnknownEvents fails replay with ErrUnknownEvent.
	RejectUnknownEvents
)

// ParseUnknownEventPolicy parses "ignore" or "strict".
func ParseUnknownEventPolicy(s string) (UnknownEventPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return IgnoreUnknownEvents, nil
	case "strict", "reject":
		return RejectUnknownEvents, nil
	default:
		return IgnoreUnknownEvents, fmt.Errorf("unknown event policy %q", s)
	}
}

var defaultPolicy atomic.Int32

// SetUnknownEventPolicy sets the policy given to aggregates created afterwards.
func SetUnknownEventPolicy(policy UnknownEventPolicy) {
	defaultPolicy.Store(int32(policy))
}

// DefaultUnknownEventPolicy returns the process-wide policy.
func DefaultUnknownEventPolicy() UnknownEventPolicy {
	return UnknownEventPolicy(defaultPolicy.Load())
}

// Aggregate is the interface for all aggregates
type Aggregate interface {
	ID() string
	AggregateType() string
	Version() int
	UncommittedEvents() []Event
	MarkEventsAsCommitted()
	LoadFromHistory(events []Event) error
	SetUnknownEventPolicy(policy UnknownEventPolicy)
}

// Snapshotter is implemented by aggregates whose state can be captured and
// restored at a version.
type Snapshotter interface {
	SnapshotState() ([]byte, error)
	RestoreSnapshot(version int, state []byte) error
}

// AggregateBase provides common aggregate functionality
type AggregateBase struct {
	id            string
	aggregateType string
	version       int
	changes       []Event
	stamp         []MetadataOption
	policy        UnknownEventPolicy
	when          func(Event) error
}

func newAggregateBase(id, aggregateType string, when func(Event) error) *AggregateBase {
	return &AggregateBase{
		id:            id,
		aggregateType: aggregateType,
		policy:        DefaultUnknownEventPolicy(),
		when:          when,
	}
}

// ID returns the aggregate ID
func (a *AggregateBase) ID() string { return a.id }

// AggregateType returns the aggregate type
func (a *AggregateBase) AggregateType() string { return a.aggregateType }

// Version returns the number of events applied so far
func (a *AggregateBase) Version() int { return a.version }

// UncommittedEvents returns the events raised since the aggregate was loaded.
func (a *AggregateBase) UncommittedEvents() []Event {
	out := make([]Event, len(a.changes))
	copy(out, a.changes)
	return out
}

// MarkEventsAsCommitted clears the uncommitted events
func (a *AggregateBase) MarkEventsAsCommitted() {
	a.changes = nil
}

// SetUnknownEventPolicy sets how replay treats unrecognised event types.
func (a *AggregateBase) SetUnknownEventPolicy(policy UnknownEventPolicy) {
	a.policy = policy
}

// Stamp sets metadata on the uncommitted events and on every event raised
// afterwards, typically the user and correlation ids of the command being
// executed.
func (a *AggregateBase) Stamp(opts ...MetadataOption) {
	a.stamp = append(a.stamp[:0], opts...)
	for i := range a.changes {
		version := a.changes[i].Metadata.Version
		for _, opt := range opts {
			opt(&a.changes[i].Metadata)
		}
		a.changes[i].Metadata.Version = version
	}
}

// LoadFromHistory folds committed events in order. It does not record them
// as uncommitted.
func (a *AggregateBase) LoadFromHistory(events []Event) error {
	for _, evt := range events {
		if evt.AggregateID != "" && evt.AggregateID != a.id {
			return fmt.Errorf("event %s belongs to aggregate %s, not %s", evt.EventID, evt.AggregateID, a.id)
		}
		if err := a.when(evt); err != nil {
			return fmt.Errorf("failed to apply %s at version %d: %w", evt.EventType, a.version+1, err)
		}
		a.version++
	}
	return nil
}

// raise creates an event for payload, applies it through the same path as
// replay and records it as uncommitted.
func (a *AggregateBase) raise(payload Payload) error {
	opts := make([]MetadataOption, 0, len(a.stamp)+1)
	opts = append(opts, a.stamp...)
	opts = append(opts, WithVersion(a.version+1))

	evt := NewEvent(payload, a.id, a.aggregateType, opts...)
	if err := a.when(evt); err != nil {
		return fmt.Errorf("failed to apply %s: %w", evt.EventType, err)
	}

	a.version++
	a.changes = append(a.changes, evt)
	return nil
}

// unhandled is the default branch of every aggregate's apply switch.
func (a *AggregateBase) unhandled(evt Event) error {
	if a.policy == RejectUnknownEvents {
		return fmt.Errorf("%w: %s on %s %s", ErrUnknownEvent, evt.EventType, a.aggregateType, a.id)
	}

	log.Warn().
		Str("aggregateType", a.aggregateType).
		Str("aggregateID", a.id).
		Str("eventType", evt.EventType).
		Str("eventID", evt.EventID).
		Msg("Skipping unknown event type during replay")
	return nil
}

func (a *AggregateBase) restoreVersion(version int) {
	a.version = version
	a.changes = nil
}
