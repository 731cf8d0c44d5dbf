package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/recall/config"
	"github.com/goclaw/recall/pkg/engine"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/longterm"
	"github.com/goclaw/recall/pkg/memory"
	"github.com/goclaw/recall/pkg/metrics"
	"github.com/goclaw/recall/pkg/workingmemory"
)

func TestBuildOverrides(t *testing.T) {
	t.Cleanup(func() {
		*appName, *port, *logLevel, *debugMode = "", 0, "", false
	})

	assert.Empty(t, buildOverrides())

	*appName = "recall-test"
	*port = 9090
	*logLevel = "debug"
	*debugMode = true

	assert.Equal(t, map[string]interface{}{
		"app.name":    "recall-test",
		"server.port": 9090,
		"log.level":   "debug",
		"app.debug":   true,
	}, buildOverrides())
}

func TestNewWorkingMemory_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WorkingMemory.Backend = "memory"
	cfg.WorkingMemory.Capacity = 2

	buffer, closeFn, err := newWorkingMemory(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn()) }()

	ctx := context.Background()
	for i, content := range []string{"first", "second", "third"} {
		require.NoError(t, buffer.Append(ctx, memory.Item{
			ID:      content,
			Scope:   "user-1",
			Kind:    memory.KindMessage,
			Role:    "user",
			Content: content,
			AddedAt: time.Unix(int64(i), 0),
		}))
	}

	items, err := buffer.Recent(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "third", items[0].Content)
}

func TestNewWorkingMemory_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WorkingMemory.Backend = "etcd"

	_, _, err := newWorkingMemory(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd")
}

func TestNewWorkingMemory_RedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WorkingMemory.Backend = "redis"
	cfg.Redis.Address = "127.0.0.1:1"
	cfg.Redis.DialTimeout = 200 * time.Millisecond

	_, _, err := newWorkingMemory(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

func TestNewGRPCServer_StartsWithMetricsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.GRPC.Enabled = true
	cfg.Server.GRPC.Port = 0

	mgr := metrics.NewManager(metrics.Config{Enabled: false})
	eng := newStartedEngine(t, cfg)

	srv, err := newGRPCServer(cfg, logger.Nop(), mgr, eng)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, srv.Stop(ctx))
}

func newStartedEngine(t *testing.T, cfg *config.Config) *engine.Engine {
	t.Helper()

	store, err := longterm.Open(longterm.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engineCfg, err := cfg.ToEngineConfig()
	require.NoError(t, err)
	eng, err := engine.New(engineCfg, workingmemory.NewMemoryBuffer(workingmemory.DefaultCapacity), store, store,
		engine.WithLogger(logger.Nop()),
	)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng
}
