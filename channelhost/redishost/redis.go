// Package redishost routes channel messages over Redis Streams so a guest's
// HTTP requests can land on any host instance behind a load balancer.
package redishost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/uibridge/uibridge-go/channelhost"
)

// Config for the Redis-backed MessageHost. Defaults load via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: BRIDGE_KEY_PREFIX
	KeyPrefix string `env:"BRIDGE_KEY_PREFIX,default=uibridge:channels:"`
	// StreamTTL bounds how long an idle channel stream survives.
	// ENV: BRIDGE_STREAM_TTL
	StreamTTL time.Duration `env:"BRIDGE_STREAM_TTL,default=30m"`
}

// Host is a Redis-backed channelhost.MessageHost.
type Host struct {
	client    *redis.Client
	keyPrefix string
	streamTTL time.Duration
}

var _ channelhost.MessageHost = (*Host)(nil)

// New connects to Redis and verifies it with a ping.
func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "uibridge:channels:"
	}
	ttl := cfg.StreamTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Host{client: cl, keyPrefix: prefix, streamTTL: ttl}, nil
}

// NewFromEnv builds a Host with envdecode-populated Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) streamKey(channelID string) string { return h.keyPrefix + "stream:" + channelID }

// Publish implements channelhost.MessageHost via XADD.
func (h *Host) Publish(ctx context.Context, channelID string, data []byte) (string, error) {
	key := h.streamKey(channelID)
	id, err := h.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{"d": data},
	}).Result()
	if err != nil {
		return "", err
	}
	// Refresh the idle TTL on every publish.
	_ = h.client.Expire(ctx, key, h.streamTTL).Err()
	return id, nil
}

// Subscribe implements channelhost.MessageHost via blocking XREAD.
func (h *Host) Subscribe(ctx context.Context, channelID string, lastEventID string, handler channelhost.HandlerFunc) error {
	key := h.streamKey(channelID)
	cursor := lastEventID
	if cursor == "" {
		cursor = "$"
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := h.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, cursor},
			Count:   16,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			cursor = m.ID
			var payload []byte
			switch v := m.Values["d"].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				payload = []byte(fmt.Sprintf("%v", v))
			}
			if err := handler(ctx, m.ID, payload); err != nil {
				return err
			}
		}
	}
}

// Cleanup implements channelhost.MessageHost. Best effort: a dead channel's
// stream also expires on its own via the idle TTL.
func (h *Host) Cleanup(ctx context.Context, channelID string) error {
	c := context.WithoutCancel(ctx)
	return h.client.Del(c, h.streamKey(channelID)).Err()
}
