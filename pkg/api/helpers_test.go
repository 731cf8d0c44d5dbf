package api

import (
	"context"
	"testing"
	"time"

	"github.com/goclaw/recall/config"
	"github.com/goclaw/recall/pkg/api/events"
	"github.com/goclaw/recall/pkg/api/handlers"
	"github.com/goclaw/recall/pkg/engine"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/longterm"
	"github.com/goclaw/recall/pkg/workingmemory"
)

type testStack struct {
	cfg      *config.Config
	engine   *engine.Engine
	events   *events.Broadcaster
	handlers *Handlers
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.HTTP.RequestTimeout = 5 * time.Second
	cfg.Tracing.Enabled = false
	return cfg
}

// newTestStack wires a running engine over in-memory stores to every handler.
func newTestStack(tb testing.TB) *testStack {
	tb.Helper()
	cfg := testConfig()

	store, err := longterm.Open(longterm.DefaultConfig(), nil)
	if err != nil {
		tb.Fatalf("longterm.Open() error = %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	broadcaster := events.NewBroadcaster()
	eng, err := engine.New(engine.DefaultConfig(), workingmemory.NewMemoryBuffer(workingmemory.DefaultCapacity), store, store,
		engine.WithLogger(logger.Nop()),
		engine.WithEventRecorder(broadcaster),
	)
	if err != nil {
		tb.Fatalf("engine.New() error = %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		tb.Fatalf("engine.Start() error = %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
		broadcaster.Close()
	})

	format := cfg.Context.ToFormatterOptions()
	consolidate, err := cfg.ToEngineConfig()
	if err != nil {
		tb.Fatalf("ToEngineConfig() error = %v", err)
	}

	ws := handlers.NewWebSocketHandler(logger.Nop(), handlers.WebSocketConfig{
		MaxConnections: cfg.Server.HTTP.MaxWebSocketConnections,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go ws.Consume(ctx, broadcaster)
	tb.Cleanup(func() {
		cancel()
		ws.Close()
	})

	return &testStack{
		cfg:    cfg,
		engine: eng,
		events: broadcaster,
		handlers: &Handlers{
			Health: handlers.NewHealthHandler(eng),
			Memory: handlers.NewMemoryHandler(eng, format, consolidate.Consolidation, logger.Nop()),
			Events: ws,
		},
	}
}
