package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/metrics"
	"example.com/commerce/internal/repository"
	"example.com/commerce/internal/telemetry"
)

// ErrNotPublished is returned when events were saved but publishing them
// failed. The events are durable and the outbox relay publishes them later,
// so the command must not be retried.
var ErrNotPublished = errors.New("events saved but not published")

// Command outcomes recorded in metrics
const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

var validate = validator.New()

// Meta carries the caller identity and tracing ids of a command. They are
// stamped onto every event the command raises.
type Meta struct {
	UserID        string `json:"userId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	CausationID   string `json:"causationId,omitempty"`
}

func (m Meta) options() []domain.MetadataOption {
	var opts []domain.MetadataOption
	if m.UserID != "" {
		opts = append(opts, domain.WithUserID(m.UserID))
	}
	if m.CorrelationID != "" {
		opts = append(opts, domain.WithCorrelationID(m.CorrelationID))
	}
	if m.CausationID != "" {
		opts = append(opts, domain.WithCausationID(m.CausationID))
	}
	return opts
}

// Publisher publishes committed events.
type Publisher interface {
	PublishBatch(ctx context.Context, events []domain.Event) error
}

// Runner executes commands end to end: load, mutate, save, publish. Saves
// that lose an optimistic concurrency race are retried from a fresh load.
type Runner struct {
	outbox     eventstore.Outbox
	publisher  Publisher
	metrics    *metrics.Metrics
	tracer     *telemetry.Tracer
	maxTries   uint
	maxElapsed time.Duration
	interval   time.Duration
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithRetry bounds the attempts made for a command that keeps conflicting.
func WithRetry(maxTries uint, maxElapsed time.Duration) RunnerOption {
	return func(r *Runner) {
		r.maxTries = maxTries
		r.maxElapsed = maxElapsed
	}
}

// WithMetrics records command latency, outcomes and retries.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer runs each command in a tracer transaction.
func WithTracer(t *telemetry.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner creates a runner publishing through publisher and marking
// published events in outbox.
func NewRunner(outbox eventstore.Outbox, publisher Publisher, opts ...RunnerOption) *Runner {
	r := &Runner{
		outbox:     outbox,
		publisher:  publisher,
		maxTries:   5,
		maxElapsed: 5 * time.Second,
		interval:   20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// execute loads the aggregate, applies fn and commits the result. fn is
// re-run against a fresh load after a concurrency conflict.
func execute[T domain.Aggregate](ctx context.Context, r *Runner, repo *repository.Repository[T], command, id string, meta Meta, fn func(T) error) (T, error) {
	return run(ctx, r, repo, command, id, func() (T, error) {
		agg, err := repo.Get(ctx, id)
		if err != nil {
			return agg, err
		}
		stamp(agg, meta)
		return agg, fn(agg)
	})
}

// create runs a creation command. It fails with already_exists when the id
// has events.
func create[T domain.Aggregate](ctx context.Context, r *Runner, repo *repository.Repository[T], command, id string, meta Meta, build func() (T, error)) (T, error) {
	return run(ctx, r, repo, command, id, func() (T, error) {
		var zero T
		exists, err := repo.Exists(ctx, id)
		if err != nil {
			return zero, err
		}
		if exists {
			return zero, domain.AlreadyExists(repo.AggregateType(), id)
		}
		agg, err := build()
		if err != nil {
			return zero, err
		}
		stamp(agg, meta)
		return agg, nil
	})
}

// run wraps one attempt in the retry loop, tracing and metrics.
func run[T domain.Aggregate](ctx context.Context, r *Runner, repo *repository.Repository[T], command, id string, attempt func() (T, error)) (T, error) {
	start := time.Now()
	aggregateType := repo.AggregateType()

	var result T
	err := r.tracer.Trace(ctx, "command/"+command, map[string]interface{}{
		"aggregateType": aggregateType,
		"aggregateID":   id,
	}, func(ctx context.Context) error {
		var err error
		result, err = backoff.Retry(ctx, func() (T, error) {
			agg, err := attempt()
			if err != nil {
				return agg, backoff.Permanent(err)
			}
			if err := commit(ctx, r, repo, agg); err != nil {
				if eventstore.IsConcurrencyConflict(err) {
					r.metrics.CommandRetried(aggregateType, command)
					log.Debug().
						Err(err).
						Str("command", command).
						Str("aggregateID", id).
						Msg("Concurrency conflict, retrying command")
					return agg, err
				}
				return agg, backoff.Permanent(err)
			}
			return agg, nil
		}, r.retryOptions()...)
		return err
	})

	outcome := outcomeOK
	switch {
	case err == nil:
	case domain.IsDomainError(err):
		outcome = outcomeRejected
	default:
		outcome = outcomeFailed
	}
	r.metrics.ObserveCommand(aggregateType, command, outcome, start)

	if err != nil && !domain.IsDomainError(err) {
		log.Error().
			Err(err).
			Str("command", command).
			Str("aggregateID", id).
			Msg("Command failed")
	}
	return result, err
}

func (r *Runner) retryOptions() []backoff.RetryOption {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.interval
	opts := []backoff.RetryOption{backoff.WithBackOff(bo)}
	if r.maxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(r.maxTries))
	}
	if r.maxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(r.maxElapsed))
	}
	return opts
}

// commit saves the aggregate, then publishes and marks the saved events.
// Nothing is published unless the save succeeded.
func commit[T domain.Aggregate](ctx context.Context, r *Runner, repo *repository.Repository[T], agg T) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}
	endSave := telemetry.Segment(ctx, "save")
	err := repo.Save(ctx, agg)
	endSave()
	if err != nil {
		return err
	}

	endPublish := telemetry.Segment(ctx, "publish")
	err = r.publisher.PublishBatch(ctx, events)
	endPublish()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotPublished, err)
	}

	ids := make([]string, len(events))
	for i, evt := range events {
		ids[i] = evt.EventID
	}
	if err := r.outbox.MarkEventsPublished(ctx, ids); err != nil {
		// The relay republishes them; consumers are idempotent.
		log.Warn().Err(err).Str("aggregateID", agg.ID()).Msg("Failed to mark events as published")
	}
	return nil
}

// stamp applies the command metadata to events the aggregate raises next.
func stamp(agg domain.Aggregate, meta Meta) {
	if s, ok := any(agg).(interface {
		Stamp(opts ...domain.MetadataOption)
	}); ok {
		s.Stamp(meta.options()...)
	}
}

// validateCommand checks the validate tags of cmd.
func validateCommand(cmd interface{}) error {
	if err := validate.Struct(cmd); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return domain.InvalidArgument("%s", verrs.Error())
		}
		return domain.InvalidArgument("%s", err.Error())
	}
	return nil
}

// handle validates cmd and executes fn against the aggregate id.
func handle[T domain.Aggregate](ctx context.Context, r *Runner, repo *repository.Repository[T], command, id string, meta Meta, cmd interface{}, fn func(T) error) (T, error) {
	log.Info().Str("command", command).Str("aggregateID", id).Msg("Handling command")

	if err := validateCommand(cmd); err != nil {
		var zero T
		return zero, err
	}
	return execute(ctx, r, repo, command, id, meta, fn)
}

// newID returns id, or a fresh uuid when id is empty.
func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// Inherit fills unset ids from the message that carried the command.
func (m *Meta) Inherit(userID, correlationID, causationID string) {
	if m.UserID == "" {
		m.UserID = userID
	}
	if m.CorrelationID == "" {
		m.CorrelationID = correlationID
	}
	if m.CausationID == "" {
		m.CausationID = causationID
	}
}
