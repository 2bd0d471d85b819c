package apilog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisMaxStreamLen caps the stream length so an unconsumed stream does
// not grow without bound. Trimming is approximate (XADD MAXLEN ~).
const redisMaxStreamLen = 100000

// RedisSink implements Sink by appending records to a Redis stream.
// Downstream consumers read the stream with XREAD or consumer groups.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink creates a Redis sink publishing to the stream derived
// from the logical target name. Streams are created implicitly by
// XADD, so provisioning and retention days do not apply.
func NewRedisSink(client *redis.Client, target string) (*RedisSink, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &RedisSink{
		client: client,
		stream: TableForTarget(target),
	}, nil
}

// WriteBatch appends records to the stream with a single pipelined
// round trip.
func (s *RedisSink) WriteBatch(ctx context.Context, batch []*Record) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, r := range batch {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal log record %s: %w", r.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: redisMaxStreamLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":     r.ID,
				"record": payload,
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append log records to stream %s: %w", s.stream, err)
	}

	return nil
}

// Ping verifies the Redis connection is alive.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the client is managed by the storage layer.
func (s *RedisSink) Close() error {
	return nil
}
