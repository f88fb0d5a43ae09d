package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
)

// ClaimState is the outcome of a dedup claim.
type ClaimState int

const (
	// ClaimAcquired means the caller now owns the key and must Complete or
	// Release it.
	ClaimAcquired ClaimState = iota
	// ClaimInProgress means another delivery holds an unexpired lease.
	ClaimInProgress
	// ClaimDone means the key was completed before.
	ClaimDone
)

const dedupDone = "done"

// Deduplicator records which events a consumer has already processed.
type Deduplicator interface {
	// Claim takes a short processing lease on key unless the key is leased
	// or completed already.
	Claim(ctx context.Context, key string) (ClaimState, error)
	// Complete marks key processed for the retention period.
	Complete(ctx context.Context, key string) error
	// Release drops the lease so a redelivery is processed again.
	Release(ctx context.Context, key string) error
}

// Idempotent wraps handler so each event id is processed once per consumer.
// A key is only marked done after the handler succeeds. A failed handler
// releases its lease; a delivery that finds a live lease is redelivered
// later through ErrRetry, so a crash mid-handle never drops the event.
func Idempotent(d Deduplicator, consumer string, handler EventHandler) EventHandler {
	return func(ctx context.Context, evt domain.Event) error {
		key := consumer + ":" + evt.EventID
		state, err := d.Claim(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRetry, err)
		}
		switch state {
		case ClaimDone:
			log.Debug().
				Str("consumer", consumer).
				Str("eventID", evt.EventID).
				Msg("Skipping duplicate event")
			return nil
		case ClaimInProgress:
			return fmt.Errorf("%w: event %s is being processed by %s", ErrRetry, evt.EventID, consumer)
		}

		// The lease must be settled even when the consumer is shutting down.
		settleCtx := context.WithoutCancel(ctx)
		if err := handler(ctx, evt); err != nil {
			if rerr := d.Release(settleCtx, key); rerr != nil {
				log.Error().Err(rerr).Str("key", key).Msg("Failed to release dedup claim")
			}
			return err
		}
		if err := d.Complete(settleCtx, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to complete dedup claim")
		}
		return nil
	}
}

type memoryClaim struct {
	done    bool
	expires time.Time
}

// MemoryDeduplicator keeps claims in process memory.
type MemoryDeduplicator struct {
	mu     sync.Mutex
	lease  time.Duration
	ttl    time.Duration
	claims map[string]memoryClaim
	now    func() time.Time
}

// NewMemoryDeduplicator creates a deduplicator whose processing leases last
// lease and whose completed keys expire after ttl. Zero keeps them forever.
func NewMemoryDeduplicator(lease, ttl time.Duration) *MemoryDeduplicator {
	return &MemoryDeduplicator{lease: lease, ttl: ttl, claims: make(map[string]memoryClaim), now: time.Now}
}

func (d *MemoryDeduplicator) Claim(_ context.Context, key string) (ClaimState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if c, ok := d.claims[key]; ok && (c.expires.IsZero() || now.Before(c.expires)) {
		if c.done {
			return ClaimDone, nil
		}
		return ClaimInProgress, nil
	}
	d.claims[key] = memoryClaim{expires: d.expiry(now, d.lease)}
	return ClaimAcquired, nil
}

func (d *MemoryDeduplicator) Complete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims[key] = memoryClaim{done: true, expires: d.expiry(d.now(), d.ttl)}
	return nil
}

func (d *MemoryDeduplicator) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, key)
	return nil
}

func (d *MemoryDeduplicator) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// RedisDeduplicator leases keys with SETNX and marks them done with SET.
type RedisDeduplicator struct {
	client redis.UniversalClient
	prefix string
	lease  time.Duration
	ttl    time.Duration
}

// NewRedisDeduplicator creates a Redis deduplicator namespacing keys by prefix.
func NewRedisDeduplicator(client redis.UniversalClient, prefix string, lease, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, prefix: prefix, lease: lease, ttl: ttl}
}

func (d *RedisDeduplicator) Claim(ctx context.Context, key string) (ClaimState, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, "processing", d.lease).Result()
	if err != nil {
		return ClaimInProgress, errors.Wrap(err, "failed to claim dedup key")
	}
	if ok {
		return ClaimAcquired, nil
	}

	val, err := d.client.Get(ctx, d.prefix+key).Result()
	switch {
	case err == redis.Nil:
		// Lease expired between SETNX and GET; the next delivery claims it.
		return ClaimInProgress, nil
	case err != nil:
		return ClaimInProgress, errors.Wrap(err, "failed to read dedup key")
	case val == dedupDone:
		return ClaimDone, nil
	default:
		return ClaimInProgress, nil
	}
}

func (d *RedisDeduplicator) Complete(ctx context.Context, key string) error {
	if err := d.client.Set(ctx, d.prefix+key, dedupDone, d.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to complete dedup key")
	}
	return nil
}

func (d *RedisDeduplicator) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return errors.Wrap(err, "failed to release dedup key")
	}
	return nil
}

var (
	_ Deduplicator = (*MemoryDeduplicator)(nil)
	_ Deduplicator = (*RedisDeduplicator)(nil)
)
