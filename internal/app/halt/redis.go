package halt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// DefaultKey is the Redis key consulted when none is configured.
const DefaultKey = "supplychain:halted"

// RedisSwitch keeps the halt state in a Redis key so every replica observes
// the same switch. A missing key means not halted.
type RedisSwitch struct {
	client redis.Cmdable
	key    string
}

var _ Settable = (*RedisSwitch)(nil)

// NewRedisSwitch wraps an existing client.
func NewRedisSwitch(client redis.Cmdable, key string) *RedisSwitch {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &RedisSwitch{client: client, key: key}
}

// DialRedis opens a client and verifies connectivity.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisSwitch) Halted(ctx context.Context) (bool, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read halt key: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", "0", "false", "off":
		return false, nil
	default:
		return true, nil
	}
}

func (s *RedisSwitch) SetHalted(ctx context.Context, halted bool) error {
	if !halted {
		return s.client.Del(ctx, s.key).Err()
	}
	return s.client.Set(ctx, s.key, "1", 0).Err()
}
