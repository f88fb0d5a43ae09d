package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/commerce/internal/domain"
)

func TestIdempotentSkipsRedelivery(t *testing.T) {
	ctx := context.Background()
	dedup := NewMemoryDeduplicator(time.Minute, 0)

	calls := 0
	handler := Idempotent(dedup, "projection", func(context.Context, domain.Event) error {
		calls++
		return nil
	})

	evt := cancelledEvent("order-1")
	require.NoError(t, handler(ctx, evt))
	require.NoError(t, handler(ctx, evt))
	require.NoError(t, handler(ctx, cancelledEvent("order-1")))
	assert.Equal(t, 2, calls)
}

func TestIdempotentReleasesClaimOnFailure(t *testing.T) {
	ctx := context.Background()
	dedup := NewMemoryDeduplicator(time.Minute, time.Hour)

	fail := true
	calls := 0
	handler := Idempotent(dedup, "projection", func(context.Context, domain.Event) error {
		calls++
		if fail {
			return errors.New("try again")
		}
		return nil
	})

	evt := cancelledEvent("order-1")
	require.Error(t, handler(ctx, evt))
	fail = false
	require.NoError(t, handler(ctx, evt))
	require.NoError(t, handler(ctx, evt))
	assert.Equal(t, 2, calls)
}

func TestIdempotentReleasesClaimWhenCancelled(t *testing.T) {
	dedup := NewMemoryDeduplicator(time.Minute, time.Hour)

	calls := 0
	handler := Idempotent(dedup, "audit", func(ctx context.Context, _ domain.Event) error {
		calls++
		if calls == 1 {
			return ctx.Err()
		}
		return nil
	})

	evt := cancelledEvent("order-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, handler(ctx, evt), context.Canceled)

	require.NoError(t, handler(context.Background(), evt))
	assert.Equal(t, 2, calls, "a shutdown mid-handle must not leave the key claimed")
}

func TestIdempotentAsksForRetryWhileLeased(t *testing.T) {
	ctx := context.Background()
	dedup := NewMemoryDeduplicator(time.Minute, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dedup.now = func() time.Time { return now }

	calls := 0
	handler := Idempotent(dedup, "audit", func(context.Context, domain.Event) error {
		calls++
		return nil
	})

	evt := cancelledEvent("order-1")
	// A consumer that died mid-handle left its lease behind.
	state, err := dedup.Claim(ctx, "audit:"+evt.EventID)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	require.ErrorIs(t, handler(ctx, evt), ErrRetry)
	assert.Equal(t, 0, calls)

	now = now.Add(2 * time.Minute)
	require.NoError(t, handler(ctx, evt))
	require.NoError(t, handler(ctx, evt))
	assert.Equal(t, 1, calls)
}

type brokenDeduplicator struct{}

func (brokenDeduplicator) Claim(context.Context, string) (ClaimState, error) {
	return ClaimInProgress, errors.New("redis down")
}
func (brokenDeduplicator) Complete(context.Context, string) error { return nil }
func (brokenDeduplicator) Release(context.Context, string) error  { return nil }

func TestIdempotentRetriesWhenClaimFails(t *testing.T) {
	handler := Idempotent(brokenDeduplicator{}, "audit", func(context.Context, domain.Event) error {
		t.Fatal("handler must not run without a claim")
		return nil
	})
	require.ErrorIs(t, handler(context.Background(), cancelledEvent("order-1")), ErrRetry)
}

func TestMemoryDeduplicatorLeaseAndRetention(t *testing.T) {
	ctx := context.Background()
	dedup := NewMemoryDeduplicator(time.Minute, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dedup.now = func() time.Time { return now }

	state, err := dedup.Claim(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	state, err = dedup.Claim(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, ClaimInProgress, state)

	require.NoError(t, dedup.Complete(ctx, "k"))
	now = now.Add(30 * time.Minute)
	state, err = dedup.Claim(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, ClaimDone, state, "completed keys outlive the lease")

	now = now.Add(time.Hour)
	state, err = dedup.Claim(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)
}

func TestMemoryStreamTrimsAndReadsAfterPosition(t *testing.T) {
	ctx := context.Background()
	stream := NewMemoryStream(3)

	var ids []string
	for i := 0; i < 5; i++ {
		evt := cancelledEvent("order-1")
		ids = append(ids, evt.EventID)
		require.NoError(t, stream.Append(ctx, evt))
	}
	require.Equal(t, 3, stream.Len())

	all, err := stream.Read(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].Event.EventID)

	tail, err := stream.Read(ctx, all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, ids[3], tail[0].Event.EventID)

	_, err = stream.Read(ctx, "not-a-position", 1)
	require.Error(t, err)
}
