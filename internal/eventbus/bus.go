package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/metrics"
	"example.com/commerce/internal/telemetry"
)

const (
	kindEvent   = "event"
	kindCommand = "command"
)

// Bus publishes events durably, mirrors them onto the real-time stream and
// dispatches consumed events to in-process handlers. It also carries the
// point-to-point command channel.
type Bus struct {
	transport     Transport
	service       string
	stream        Stream
	maxDeliveries int
	metrics       *metrics.Metrics
	tracer        *telemetry.Tracer
	handlers      dispatcher
	closed        atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithStream mirrors every published event onto s.
func WithStream(s Stream) Option {
	return func(b *Bus) { b.stream = s }
}

// WithMaxDeliveries dead-letters messages that still fail to decode or route
// on their nth delivery. Zero requeues forever.
func WithMaxDeliveries(n int) Option {
	return func(b *Bus) { b.maxDeliveries = n }
}

// WithMetrics records publish and delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithTracer runs each consumed message in a tracer transaction.
func WithTracer(t *telemetry.Tracer) Option {
	return func(b *Bus) { b.tracer = t }
}

// New creates a bus for service on top of transport.
func New(transport Transport, service string, opts ...Option) *Bus {
	b := &Bus{transport: transport, service: service}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Service returns the name this bus consumes as.
func (b *Bus) Service() string {
	return b.service
}

// Stream returns the real-time stream, nil when none is configured.
func (b *Bus) Stream() Stream {
	return b.stream
}

// Publish durably queues evt for every subscribed service, then appends it
// to the real-time stream. A stream failure is logged and does not fail the
// publish.
func (b *Bus) Publish(ctx context.Context, evt domain.Event) error {
	if b.closed.Load() {
		return ErrClosed
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.EventID, err)
	}
	msg := OutgoingMessage{ID: evt.EventID, Subject: evt.EventType, Body: body}
	if err := b.transport.PublishEvent(ctx, msg); err != nil {
		return fmt.Errorf("publish %s %s: %w", evt.EventType, evt.EventID, err)
	}
	b.metrics.EventPublished(evt.EventType)

	if b.stream != nil {
		if err := b.stream.Append(ctx, evt); err != nil {
			b.metrics.StreamFailed()
			log.Warn().
				Err(err).
				Str("eventID", evt.EventID).
				Str("eventType", evt.EventType).
				Msg("Failed to append event to real-time stream")
		}
	}

	log.Debug().
		Str("eventID", evt.EventID).
		Str("eventType", evt.EventType).
		Str("aggregateID", evt.AggregateID).
		Msg("Event published")
	return nil
}

// PublishBatch publishes events in order and stops at the first failure.
// Events before the failing one stay published.
func (b *Bus) PublishBatch(ctx context.Context, events []domain.Event) error {
	for _, evt := range events {
		if err := b.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler for eventType, or every type with Wildcard,
// and returns the subscription id.
func (b *Bus) Subscribe(eventType string, handler EventHandler) string {
	return b.handlers.add(eventType, handler)
}

// Unsubscribe removes a subscription and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	return b.handlers.remove(id)
}

// Consume runs the delivery loop for this service's event queue until ctx is
// done.
func (b *Bus) Consume(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	log.Info().Str("service", b.service).Msg("Starting event consumer")
	return b.transport.ConsumeEvents(ctx, b.service, b.deliverEvent)
}

// PublishCommand sends cmd to the command queue of target.
func (b *Bus) PublishCommand(ctx context.Context, target string, cmd Command) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if target == "" {
		return fmt.Errorf("command %s has no target service", cmd.CommandType)
	}

	cmd.TargetService = target
	if cmd.Metadata.CausationID == "" {
		cmd.Metadata.CausationID = cmd.CommandID
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command %s: %w", cmd.CommandID, err)
	}

	msg := OutgoingMessage{ID: cmd.CommandID, Subject: cmd.CommandType, Body: body}
	if err := b.transport.SendCommand(ctx, target, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", cmd.CommandType, target, err)
	}

	log.Debug().
		Str("commandID", cmd.CommandID).
		Str("commandType", cmd.CommandType).
		Str("target", target).
		Msg("Command sent")
	return nil
}

// SubscribeToCommands consumes the command queue of service with handler
// until ctx is done.
func (b *Bus) SubscribeToCommands(ctx context.Context, service string, handler CommandHandler) error {
	if b.closed.Load() {
		return ErrClosed
	}
	log.Info().Str("service", service).Msg("Starting command consumer")
	return b.transport.ConsumeCommands(ctx, service, func(ctx context.Context, d Delivery) {
		b.deliverCommand(ctx, d, handler)
	})
}

// Close closes the underlying transport. Later calls are no-ops.
func (b *Bus) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.transport.Close(ctx)
}

func (b *Bus) deliverEvent(ctx context.Context, d Delivery) {
	var evt domain.Event
	if err := json.Unmarshal(d.Body(), &evt); err != nil {
		b.reject(ctx, kindEvent, d, fmt.Errorf("decode event: %w", err))
		return
	}
	if evt.EventType == "" || evt.EventID == "" {
		b.reject(ctx, kindEvent, d, fmt.Errorf("event without id or type"))
		return
	}

	attrs := map[string]interface{}{
		"eventID":     evt.EventID,
		"eventType":   evt.EventType,
		"aggregateID": evt.AggregateID,
	}
	retry := b.tracer.Trace(ctx, "event/"+evt.EventType, attrs, func(ctx context.Context) error {
		return b.dispatch(ctx, evt)
	})

	// Cancelled mid-dispatch: leave the message unsettled so it is redelivered.
	if ctx.Err() != nil {
		return
	}
	if retry != nil {
		b.reject(ctx, kindEvent, d, fmt.Errorf("%s %s: %w", evt.EventType, evt.EventID, retry))
		return
	}
	if err := d.Ack(ctx); err != nil {
		log.Error().Err(err).Str("eventID", evt.EventID).Msg("Failed to acknowledge event")
		return
	}
	b.metrics.Delivery(kindEvent, metrics.OutcomeAcked)
}

// dispatch runs every matching handler. A failing handler is logged and
// does not stop its siblings. Errors wrapping ErrRetry are returned so the
// delivery is rejected rather than acknowledged.
func (b *Bus) dispatch(ctx context.Context, evt domain.Event) error {
	subs := b.handlers.match(evt.EventType)
	if len(subs) == 0 {
		log.Debug().Str("eventType", evt.EventType).Msg("No handlers for event type")
		return nil
	}

	var retry []error
	for _, sub := range subs {
		err := safeCall(func() error { return sub.handler(ctx, evt) })
		if errors.Is(err, ErrRetry) {
			log.Warn().
				Err(err).
				Str("eventID", evt.EventID).
				Str("subscription", sub.id).
				Msg("Event handler asked for redelivery")
			retry = append(retry, err)
			continue
		}
		if err != nil {
			b.metrics.HandlerFailed(evt.EventType)
			log.Error().
				Err(err).
				Str("eventID", evt.EventID).
				Str("eventType", evt.EventType).
				Str("subscription", sub.id).
				Msg("Event handler failed")
		}
	}
	return errors.Join(retry...)
}

func (b *Bus) deliverCommand(ctx context.Context, d Delivery, handler CommandHandler) {
	var cmd Command
	if err := json.Unmarshal(d.Body(), &cmd); err != nil {
		b.reject(ctx, kindCommand, d, fmt.Errorf("decode command: %w", err))
		return
	}
	if cmd.CommandType == "" {
		b.reject(ctx, kindCommand, d, fmt.Errorf("command %s without type", cmd.CommandID))
		return
	}

	attrs := map[string]interface{}{
		"commandID":   cmd.CommandID,
		"commandType": cmd.CommandType,
		"service":     cmd.TargetService,
	}
	err := b.tracer.Trace(ctx, "command/"+cmd.CommandType, attrs, func(ctx context.Context) error {
		return safeCall(func() error { return handler(ctx, cmd) })
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		b.reject(ctx, kindCommand, d, fmt.Errorf("%s %s: %w", cmd.CommandType, cmd.CommandID, err))
		return
	}

	if err := d.Ack(ctx); err != nil {
		log.Error().Err(err).Str("commandID", cmd.CommandID).Msg("Failed to acknowledge command")
		return
	}
	b.metrics.Delivery(kindCommand, metrics.OutcomeAcked)
}

// reject requeues a message that could not be processed, or dead-letters it
// once it has been delivered maxDeliveries times.
func (b *Bus) reject(ctx context.Context, kind string, d Delivery, cause error) {
	if b.maxDeliveries > 0 && d.DeliveryCount() >= b.maxDeliveries {
		if err := d.DeadLetter(ctx, cause.Error()); err != nil {
			log.Error().Err(err).Str("kind", kind).Msg("Failed to dead-letter message")
			return
		}
		b.metrics.Delivery(kind, metrics.OutcomeDeadLettered)
		log.Error().
			Err(cause).
			Str("kind", kind).
			Int("deliveries", d.DeliveryCount()).
			Msg("Message dead-lettered")
		return
	}

	if err := d.Nack(ctx); err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("Failed to requeue message")
		return
	}
	b.metrics.Delivery(kind, metrics.OutcomeRequeued)
	log.Warn().
		Err(cause).
		Str("kind", kind).
		Int("deliveries", d.DeliveryCount()).
		Msg("Message requeued")
}
