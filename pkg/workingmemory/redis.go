package workingmemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goclaw/recall/pkg/memory"
)

// RedisConfig configures a RedisBuffer.
type RedisConfig struct {
	// KeyPrefix namespaces the per-scope lists.
	KeyPrefix string

	// Capacity is the number of turns kept per scope.
	Capacity int

	// TTL expires an idle scope's list. Zero disables expiry.
	TTL time.Duration
}

// DefaultRedisConfig returns the default Redis buffer configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix: "recall:wm:",
		Capacity:  DefaultCapacity,
		TTL:       24 * time.Hour,
	}
}

// RedisBuffer is a Buffer shared across processes. Each scope is a Redis list
// with the newest turn at the head, trimmed to Capacity on every append.
type RedisBuffer struct {
	client redis.Cmdable
	cfg    RedisConfig
	logger bufferLogger
}

type bufferLogger interface {
	Warn(msg string, args ...any)
}

type nopBufferLogger struct{}

func (nopBufferLogger) Warn(string, ...any) {}

// NewRedisBuffer creates a RedisBuffer over client.
func NewRedisBuffer(client redis.Cmdable, cfg RedisConfig, logger bufferLogger) (*RedisBuffer, error) {
	if client == nil {
		return nil, fmt.Errorf("workingmemory: redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("workingmemory: ttl must be >= 0")
	}
	if logger == nil {
		logger = nopBufferLogger{}
	}
	return &RedisBuffer{client: client, cfg: cfg, logger: logger}, nil
}

func (b *RedisBuffer) key(scope string) string {
	return b.cfg.KeyPrefix + scope
}

// Append implements Buffer.
func (b *RedisBuffer) Append(ctx context.Context, item memory.Item) error {
	if err := validateItem(item); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := b.key(item.Scope)
	if err := b.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBufferUnavailable, err)
	}
	if err := b.client.LTrim(ctx, key, 0, int64(b.cfg.Capacity-1)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBufferUnavailable, err)
	}
	if b.cfg.TTL > 0 {
		if err := b.client.Expire(ctx, key, b.cfg.TTL).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBufferUnavailable, err)
		}
	}
	return nil
}

// Recent implements Buffer. Entries that fail to decode are skipped.
func (b *RedisBuffer) Recent(ctx context.Context, scope string, n int) ([]memory.Item, error) {
	if scope == "" {
		return nil, memory.ErrInvalidScope
	}

	raw, err := b.client.LRange(ctx, b.key(scope), 0, int64(b.cfg.Capacity-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []memory.Item{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBufferUnavailable, err)
	}

	items := make([]memory.Item, 0, len(raw))
	for _, s := range raw {
		var it memory.Item
		if err := json.Unmarshal([]byte(s), &it); err != nil {
			b.logger.Warn("skipping undecodable working-memory entry", "scope", scope, "error", err)
			continue
		}
		if it.Scope != scope {
			continue
		}
		items = append(items, it)
	}
	return orderRecent(items, n), nil
}

// Clear implements Buffer.
func (b *RedisBuffer) Clear(ctx context.Context, scope string) error {
	if scope == "" {
		return memory.ErrInvalidScope
	}
	if err := b.client.Del(ctx, b.key(scope)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBufferUnavailable, err)
	}
	return nil
}
