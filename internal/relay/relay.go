package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/metrics"
)

// Publisher sends one event to the bus
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Relay republishes persisted events that never reached the bus. Events
// younger than the grace period are left to the command path that wrote them.
type Relay struct {
	outbox    eventstore.Outbox
	publisher Publisher
	batch     int
	grace     time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a relay
func New(outbox eventstore.Outbox, publisher Publisher, batch int, grace time.Duration, m *metrics.Metrics) *Relay {
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		batch:     batch,
		grace:     grace,
		metrics:   m,
		now:       time.Now,
	}
}

// RunOnce publishes one batch in store order and returns how many events were
// marked published. It stops at the first publish failure so later events of
// the same aggregate are never sent ahead of earlier ones.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.outbox.GetUnpublishedEvents(ctx, r.now().Add(-r.grace), r.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to load unpublished events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := make([]string, 0, len(pending))
	var publishErr error
	for _, se := range pending {
		if err := r.publisher.Publish(ctx, se.Event); err != nil {
			publishErr = fmt.Errorf("failed to publish event %s: %w", se.Event.EventID, err)
			break
		}
		published = append(published, se.Event.EventID)
	}

	if len(published) > 0 {
		if err := r.outbox.MarkEventsPublished(ctx, published); err != nil {
			return 0, fmt.Errorf("failed to mark events published: %w", err)
		}
		r.metrics.EventsRelayed(len(published))
		log.Info().Int("count", len(published)).Msg("Relayed unpublished events")
	}
	return len(published), publishErr
}

// Drain runs batches until nothing is left or a batch fails.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.RunOnce(ctx)
		total += n
		if err != nil || n < r.batch {
			return total, err
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}
