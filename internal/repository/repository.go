package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventstore"
)

var (
	// ErrNotFound is wrapped by Get when the aggregate has no events.
	ErrNotFound = errors.New("aggregate not found")

	// ErrDeleteNotSupported is returned by Delete. Event streams are never
	// removed; end an aggregate's life with a terminal event instead.
	ErrDeleteNotSupported = errors.New("delete is not supported for event-sourced aggregates")
)

// Factory returns a blank aggregate for id.
type Factory[T domain.Aggregate] func(id string) T

// Option configures a Repository
type Option func(*options)

type options struct {
	snapshotFrequency int
	policy            domain.UnknownEventPolicy
}

// WithSnapshotFrequency stores a snapshot every n versions. 0 disables snapshots.
func WithSnapshotFrequency(n int) Option {
	return func(o *options) { o.snapshotFrequency = n }
}

// WithUnknownEventPolicy sets the replay policy of loaded aggregates.
func WithUnknownEventPolicy(policy domain.UnknownEventPolicy) Option {
	return func(o *options) { o.policy = policy }
}

// Repository loads and saves one aggregate type through an event store.
type Repository[T domain.Aggregate] struct {
	store         eventstore.EventStore
	aggregateType string
	factory       Factory[T]
	opts          options
}

// New creates a repository for aggregateType.
func New[T domain.Aggregate](store eventstore.EventStore, aggregateType string, factory Factory[T], opts ...Option) *Repository[T] {
	o := options{policy: domain.DefaultUnknownEventPolicy()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[T]{
		store:         store,
		aggregateType: aggregateType,
		factory:       factory,
		opts:          o,
	}
}

// AggregateType returns the aggregate type this repository manages
func (r *Repository[T]) AggregateType() string { return r.aggregateType }

// Save appends the aggregate's uncommitted events using the version it had
// before they were raised, then marks them committed.
func (r *Repository[T]) Save(ctx context.Context, agg T) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expected := agg.Version() - len(events)
	if err := r.store.SaveEvents(ctx, agg.ID(), events, expected); err != nil {
		return fmt.Errorf("failed to save %s %s: %w", r.aggregateType, agg.ID(), err)
	}
	agg.MarkEventsAsCommitted()

	r.maybeSnapshot(ctx, agg, expected)
	return nil
}

// FindByID rebuilds the aggregate. ok is false when it has no events.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (agg T, ok bool, err error) {
	agg = r.newAggregate(id)
	fromVersion := r.restoreSnapshot(ctx, agg)
	if fromVersion > 0 {
		// The snapshot only accelerates; a bad one falls back to full replay
		defer func() {
			if err != nil {
				log.Warn().Err(err).Str("aggregateID", id).Msg("Replay after snapshot failed, replaying from the start")
				agg, ok, err = r.replay(ctx, r.newAggregate(id), 0)
			}
		}()
	}
	return r.replay(ctx, agg, fromVersion)
}

// Get is FindByID for command paths: a missing aggregate is an error.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	agg, ok, err := r.FindByID(ctx, id)
	if err != nil {
		return agg, err
	}
	if !ok {
		return agg, fmt.Errorf("%w: %w", ErrNotFound, domain.NotFound(r.aggregateType, id))
	}
	return agg, nil
}

// Exists reports whether the aggregate has at least one event.
func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	events, err := r.store.GetEvents(ctx, id, 0)
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// Delete always fails with ErrDeleteNotSupported.
func (r *Repository[T]) Delete(_ context.Context, _ string) error {
	return ErrDeleteNotSupported
}

func (r *Repository[T]) newAggregate(id string) T {
	agg := r.factory(id)
	agg.SetUnknownEventPolicy(r.opts.policy)
	return agg
}

func (r *Repository[T]) replay(ctx context.Context, agg T, fromVersion int) (T, bool, error) {
	var zero T

	stored, err := r.store.GetEvents(ctx, agg.ID(), fromVersion)
	if err != nil {
		return zero, false, fmt.Errorf("failed to load %s %s: %w", r.aggregateType, agg.ID(), err)
	}
	if fromVersion == 0 && len(stored) == 0 {
		return zero, false, nil
	}
	if len(stored) > 0 && stored[0].Version != fromVersion+1 {
		return zero, false, fmt.Errorf("stream of %s %s starts at version %d, expected %d", r.aggregateType, agg.ID(), stored[0].Version, fromVersion+1)
	}

	if err := agg.LoadFromHistory(eventstore.Events(stored)); err != nil {
		return zero, false, fmt.Errorf("failed to replay %s %s: %w", r.aggregateType, agg.ID(), err)
	}
	return agg, true, nil
}

// restoreSnapshot applies the latest snapshot to agg and returns its version,
// or 0 when no usable snapshot exists.
func (r *Repository[T]) restoreSnapshot(ctx context.Context, agg T) int {
	if r.opts.snapshotFrequency <= 0 {
		return 0
	}
	snapshotter, ok := any(agg).(domain.Snapshotter)
	if !ok {
		return 0
	}

	snap, err := r.store.GetLatestSnapshot(ctx, agg.ID(), eventstore.LatestVersion)
	if err != nil {
		log.Warn().Err(err).Str("aggregateID", agg.ID()).Msg("Failed to load snapshot")
		return 0
	}
	if snap == nil {
		return 0
	}
	if err := snapshotter.RestoreSnapshot(snap.Version, snap.State); err != nil {
		log.Warn().Err(err).Str("aggregateID", agg.ID()).Int("version", snap.Version).Msg("Ignoring unreadable snapshot")
		return 0
	}
	return snap.Version
}

// maybeSnapshot stores a snapshot when the save crossed a multiple of the
// snapshot frequency. Failures are logged; the events are already durable.
func (r *Repository[T]) maybeSnapshot(ctx context.Context, agg T, before int) {
	freq := r.opts.snapshotFrequency
	if freq <= 0 || before/freq == agg.Version()/freq {
		return
	}
	snapshotter, ok := any(agg).(domain.Snapshotter)
	if !ok {
		return
	}

	state, err := snapshotter.SnapshotState()
	if err == nil {
		err = r.store.SaveSnapshot(ctx, eventstore.Snapshot{
			AggregateID:   agg.ID(),
			AggregateType: r.aggregateType,
			Version:       agg.Version(),
			State:         state,
		})
	}
	if err != nil {
		log.Warn().Err(err).Str("aggregateID", agg.ID()).Int("version", agg.Version()).Msg("Failed to save snapshot")
		return
	}

	log.Debug().Str("aggregateID", agg.ID()).Int("version", agg.Version()).Msg("Snapshot saved")
}
