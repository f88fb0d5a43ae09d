package eventbus

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/commerce/internal/domain"
)

// RedisStream is a Stream on a Redis stream key trimmed with MAXLEN ~.
type RedisStream struct {
	client redis.UniversalClient
	key    string
	maxLen int64
}

// NewRedisStream creates a stream on key keeping roughly maxLen entries.
func NewRedisStream(client redis.UniversalClient, key string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, key: key, maxLen: maxLen}
}

func (s *RedisStream) Append(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event for stream")
	}

	args := &redis.XAddArgs{
		Stream: s.key,
		ID:     "*",
		Values: map[string]interface{}{
			"eventId":   evt.EventID,
			"eventType": evt.EventType,
			"event":     data,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return errors.Wrap(err, "failed to append to Redis stream")
	}
	return nil
}

func (s *RedisStream) Read(ctx context.Context, after string, count int64) ([]StreamEntry, error) {
	start := "-"
	if after != "" {
		start = "(" + after
	}
	if count <= 0 {
		count = 100
	}

	msgs, err := s.client.XRangeN(ctx, s.key, start, "+", count).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read Redis stream")
	}

	out := make([]StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			return nil, errors.Errorf("stream entry %s has no event field", msg.ID)
		}
		var evt domain.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, errors.Wrapf(err, "failed to decode stream entry %s", msg.ID)
		}
		out = append(out, StreamEntry{ID: msg.ID, Event: evt})
	}
	return out, nil
}

var _ Stream = (*RedisStream)(nil)
