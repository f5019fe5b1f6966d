package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/plp-labs/marketsync/internal/domain"
)

const (
	// transitionStream is the Redis stream consumers subscribe to for
	// market transition events.
	transitionStream = "marketsync:transitions"

	// streamMaxLen bounds the stream with approximate trimming so the
	// durable history stays in postgres, not Redis.
	streamMaxLen = 10000
)

// StreamSink publishes transition events onto a Redis stream for
// downstream consumers (dashboards, bots, websocket fan-out).
type StreamSink struct {
	rdb    *redis.Client
	stream string
}

// NewStreamSink creates a StreamSink. An empty stream name falls back to
// the default transition stream.
func NewStreamSink(c *Client, stream string) *StreamSink {
	if stream == "" {
		stream = transitionStream
	}
	return &StreamSink{rdb: c.Underlying(), stream: stream}
}

// Emit appends the event to the stream as a single JSON payload field.
func (s *StreamSink) Emit(ctx context.Context, ev domain.TransitionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal transition event %s: %w", ev.ID, err)
	}

	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event":  string(payload),
			"kind":   string(ev.Kind),
			"market": ev.Market.String(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: publish transition event %s: %w", ev.ID, err)
	}
	return nil
}

// Name implements domain.TransitionSink.
func (s *StreamSink) Name() string {
	return "redis-stream"
}

// Compile-time interface check.
var _ domain.TransitionSink = (*StreamSink)(nil)
