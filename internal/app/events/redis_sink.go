package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "raffle.events"

// RedisPublisher is the subset of *redis.Client the sink needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

func NewRedisSink(client RedisPublisher, channel string) *RedisSink {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// NewRedisClient opens a client from a redis:// URL or a bare host:port.
func NewRedisClient(addr string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}
