package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// DefaultStreamMaxLen caps the stream length.
const DefaultStreamMaxLen = 10000

// RedisStream appends events to a Redis stream with XADD. Consumers read the
// stream with consumer groups; the stream is trimmed approximately.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStream constructs a RedisStream publisher.
func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

// Publish implements Publisher.
func (r *RedisStream) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Kind, err)
	}

	_, err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":       string(event.Kind),
			"session_id": event.SessionID,
			"owner_id":   event.OwnerID,
			"data":       string(payload),
			"timestamp":  strconv.FormatInt(event.OccurredAt.Unix(), 10),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("events: xadd %s: %w", r.stream, err)
	}
	return nil
}
