package workingmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockRedisUnavailable = errors.New("mock redis unavailable")

// mockRedisClient implements the list commands RedisBuffer uses.
type mockRedisClient struct {
	redis.Cmdable

	mu      sync.Mutex
	lists   map[string][]string
	expires map[string]time.Duration
	down    atomic.Bool
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{
		lists:   make(map[string][]string),
		expires: make(map[string]time.Duration),
	}
}

func (m *mockRedisClient) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if m.down.Load() {
		return redis.NewIntResult(0, errMockRedisUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	for _, v := range values {
		list = append([]string{toString(v)}, list...)
	}
	m.lists[key] = list
	return redis.NewIntResult(int64(len(list)), nil)
}

func (m *mockRedisClient) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	if m.down.Load() {
		return redis.NewStatusResult("", errMockRedisUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = slice(m.lists[key], start, stop)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockRedisClient) LRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	if m.down.Load() {
		return redis.NewStringSliceResult(nil, errMockRedisUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return redis.NewStringSliceResult(slice(m.lists[key], start, stop), nil)
}

func (m *mockRedisClient) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	if m.down.Load() {
		return redis.NewBoolResult(false, errMockRedisUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *mockRedisClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if m.down.Load() {
		return redis.NewIntResult(0, errMockRedisUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.lists[k]; ok {
			n++
		}
		delete(m.lists, k)
	}
	return redis.NewIntResult(n, nil)
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func slice(list []string, start, stop int64) []string {
	n := int64(len(list))
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start >= n || start > stop {
		return []string{}
	}
	return append([]string(nil), list[start:stop+1]...)
}

func TestRedisBuffer_AppendTrimsAndExpires(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	b, err := NewRedisBuffer(client, RedisConfig{KeyPrefix: "test:wm:", Capacity: 2, TTL: time.Hour}, nil)
	require.NoError(t, err)

	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Append(ctx, turn("s1", fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	assert.Len(t, client.lists["test:wm:s1"], 2)
	assert.Equal(t, time.Hour, client.expires["test:wm:s1"])

	items, err := b.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t2"}, ids(items))
	assert.Equal(t, "s1", items[0].Scope)
}

func TestRedisBuffer_SkipsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	b, err := NewRedisBuffer(client, DefaultRedisConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, b.Append(ctx, turn("s1", "good", time.Now())))
	client.lists["recall:wm:s1"] = append([]string{"{not json"}, client.lists["recall:wm:s1"]...)

	items, err := b.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, ids(items))
}

func TestRedisBuffer_Unavailable(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	b, err := NewRedisBuffer(client, DefaultRedisConfig(), nil)
	require.NoError(t, err)

	client.down.Store(true)
	assert.ErrorIs(t, b.Append(ctx, turn("s1", "x", time.Now())), ErrBufferUnavailable)
	_, err = b.Recent(ctx, "s1", 0)
	assert.ErrorIs(t, err, ErrBufferUnavailable)
	assert.ErrorIs(t, b.Clear(ctx, "s1"), ErrBufferUnavailable)
}

func TestRedisBuffer_Clear(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	b, err := NewRedisBuffer(client, DefaultRedisConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, b.Append(ctx, turn("s1", "x", time.Now())))
	require.NoError(t, b.Clear(ctx, "s1"))

	items, err := b.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNewRedisBuffer_Validation(t *testing.T) {
	_, err := NewRedisBuffer(nil, DefaultRedisConfig(), nil)
	assert.Error(t, err)

	_, err = NewRedisBuffer(newMockRedisClient(), RedisConfig{TTL: -time.Second}, nil)
	assert.Error(t, err)
}
