package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/geotrack/internal/events"
	"github.com/signalsfoundry/geotrack/model"
)

// DefaultRedisKey is the list events are pushed to.
const DefaultRedisKey = "geotrack:events"

// RedisSink pushes JSON-encoded events onto a Redis list. Consumers pop
// from the other end to read events oldest first.
type RedisSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

// RedisOption customises a RedisSink.
type RedisOption func(*RedisSink)

// WithKey overrides the list key.
func WithKey(key string) RedisOption {
	return func(s *RedisSink) {
		if key != "" {
			s.key = key
		}
	}
}

// WithMaxLen trims the list to the newest n events after each push.
func WithMaxLen(n int64) RedisOption {
	return func(s *RedisSink) { s.maxLen = n }
}

// NewRedisSink connects to redisURL and verifies the connection.
func NewRedisSink(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisSink, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisSinkFromClient(client, opts...), nil
}

// NewRedisSinkFromClient wraps an existing client. The sink takes
// ownership and closes it on Close.
func NewRedisSinkFromClient(client *redis.Client, opts ...RedisOption) *RedisSink {
	s := &RedisSink{client: client, key: DefaultRedisKey}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisSink) Deliver(ctx context.Context, ev model.Event) error {
	data, err := events.MarshalJSON(ev)
	if err != nil {
		return err
	}
	if s.maxLen <= 0 {
		if err := s.client.LPush(ctx, s.key, data).Err(); err != nil {
			return fmt.Errorf("failed to push event to redis: %w", err)
		}
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push event to redis: %w", err)
	}
	return nil
}

// Pop removes and decodes up to n of the oldest events.
func (s *RedisSink) Pop(ctx context.Context, n int) ([]model.Event, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, n)
	for i := range n {
		cmds[i] = pipe.RPop(ctx, s.key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to pop events from redis: %w", err)
	}
	out := make([]model.Event, 0, n)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		ev, err := events.UnmarshalJSON(data)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Len returns the number of buffered events.
func (s *RedisSink) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
