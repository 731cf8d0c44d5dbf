package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/goclaw/recall/config"
	"github.com/goclaw/recall/pkg/api"
	"github.com/goclaw/recall/pkg/api/events"
	"github.com/goclaw/recall/pkg/api/handlers"
	"github.com/goclaw/recall/pkg/engine"
	"github.com/goclaw/recall/pkg/grpc"
	"github.com/goclaw/recall/pkg/grpc/interceptors"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/longterm"
	"github.com/goclaw/recall/pkg/metrics"
	"github.com/goclaw/recall/pkg/telemetry/tracing"
	"github.com/goclaw/recall/pkg/version"
	"github.com/goclaw/recall/pkg/workingmemory"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")
	watchFlag   = flag.Bool("watch", false, "Reload log level and scorer weights when the config file changes")

	// CLI overrides
	appName   = flag.String("app-name", "", "Override app name")
	port      = flag.Int("port", 0, "Override server port")
	logLevel  = flag.String("log-level", "", "Override log level")
	debugMode = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	overrides := buildOverrides()

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := cfg.Log.ToLoggerConfig()
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	build := version.Get()
	log.Info("Starting recall",
		"version", build.Version,
		"buildTime", build.BuildTime,
		"gitCommit", build.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	if err := run(cfg, log); err != nil {
		log.Error("recall exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("recall stopped gracefully")
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := tracing.InitFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	metricsManager := metrics.NewManager(cfg.Metrics.ToMetricsConfig())
	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	broadcaster := events.NewBroadcaster()
	metricsManager.RegisterEventStats(
		func() float64 { return float64(broadcaster.SubscriberCount()) },
		func() float64 { return float64(broadcaster.Dropped()) },
	)

	buffer, closeBuffer, err := newWorkingMemory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBuffer(); err != nil {
			log.Error("Error closing working memory", "error", err)
		}
	}()

	store, err := longterm.Open(cfg.LongTerm.ToStoreConfig(), log.With("component", "longterm"))
	if err != nil {
		return fmt.Errorf("open long-term store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing long-term store", "error", err)
		}
	}()

	engineCfg, err := cfg.ToEngineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	eng, err := engine.New(engineCfg, buffer, store, store,
		engine.WithLogger(log.With("component", "engine")),
		engine.WithMetrics(metricsManager),
		engine.WithEventRecorder(broadcaster),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	ws := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		MaxConnections: cfg.Server.HTTP.MaxWebSocketConnections,
	})
	go ws.Consume(ctx, broadcaster)

	format := cfg.Context.ToFormatterOptions()
	apiHandlers := &api.Handlers{
		Health: handlers.NewHealthHandler(eng),
		Memory: handlers.NewMemoryHandler(eng, format, engineCfg.Consolidation, log),
		Events: ws,
	}
	if metricsManager.Enabled() {
		apiHandlers.Metrics = metricsManager
	}
	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 2)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Server.GRPC.Enabled {
		grpcServer, err = newGRPCServer(cfg, log, metricsManager, eng)
		if err != nil {
			serverErrChan <- err
		}
	}

	if *watchFlag && *configPath != "" {
		go watchConfig(ctx, *configPath, cfg, eng, log)
	}

	log.Info("recall is running",
		"http_port", cfg.Server.Port,
		"grpc_enabled", cfg.Server.GRPC.Enabled,
		"grpc_port", cfg.Server.GRPC.Port,
		"metrics_port", cfg.Metrics.Port,
		"working_memory", cfg.WorkingMemory.Backend,
	)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("Server error", "error", err)
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}
	if grpcServer != nil {
		log.Info("Shutting down gRPC server")
		if err := grpcServer.Stop(shutdownCtx); err != nil {
			log.Error("Error shutting down gRPC server", "error", err)
		}
	}
	ws.Close()

	log.Info("Stopping engine")
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Error("Error during engine shutdown", "error", err)
	}
	cancel()
	broadcaster.Close()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}
	return runErr
}

// newWorkingMemory builds the configured turn buffer and its close func.
func newWorkingMemory(ctx context.Context, cfg *config.Config, log logger.Logger) (workingmemory.Buffer, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.WorkingMemory.Backend {
	case "", "memory":
		log.Info("Initialized in-memory working memory", "capacity", cfg.WorkingMemory.Capacity)
		return workingmemory.NewMemoryBuffer(cfg.WorkingMemory.Capacity), noClose, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
		}
		buffer, err := workingmemory.NewRedisBuffer(client, cfg.WorkingMemory.ToRedisBufferConfig(), log.With("component", "working_memory"))
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("create redis working memory: %w", err)
		}
		log.Info("Initialized redis working memory", "address", cfg.Redis.Address, "capacity", cfg.WorkingMemory.Capacity)
		return buffer, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown working memory backend %q", cfg.WorkingMemory.Backend)
	}
}

func newGRPCServer(cfg *config.Config, log logger.Logger, metricsManager *metrics.Manager, eng *engine.Engine) (*grpc.Server, error) {
	var registerer prometheus.Registerer = prometheus.NewRegistry()
	if metricsManager.Enabled() {
		registerer = metricsManager.Registry()
	}

	srv, err := grpc.New(cfg.Server.GRPC.ToGRPCConfig(cfg.Server.Host),
		grpc.WithLogger(log.With("component", "grpc")),
		grpc.WithMetrics(interceptors.NewMetrics(registerer)),
	)
	if err != nil {
		return nil, fmt.Errorf("create grpc server: %w", err)
	}

	engineCfg, err := cfg.ToEngineConfig()
	if err != nil {
		return nil, err
	}
	grpc.NewRelevanceService(eng, cfg.Context.ToFormatterOptions(), engineCfg.Consolidation).Register(srv)

	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("start grpc server: %w", err)
	}
	srv.SetReady(eng.IsReady())
	return srv, nil
}

// watchConfig applies log level and scorer changes from the config file.
func watchConfig(ctx context.Context, path string, current *config.Config, eng *engine.Engine, log logger.Logger) {
	watcher, err := config.NewWatcher(path, nil,
		config.WithBaseline(current),
		config.WithWatcherLogger(log.With("component", "config_watcher")),
	)
	if err != nil {
		log.Error("Failed to create config watcher", "error", err)
		return
	}
	defer watcher.Stop()

	watcher.OnChange(func(c config.Change) error {
		if c.Current.LogLevel != c.Previous.LogLevel {
			logger.SetLevel(logger.ParseLevel(c.Current.LogLevel))
			log.Info("Log level reloaded", "level", c.Current.LogLevel)
		}
		if !c.Current.RelevanceChanged(c.Previous) {
			return nil
		}
		scorerCfg, err := c.Config.Relevance.ToScorerConfig()
		if err != nil {
			return fmt.Errorf("relevance config: %w", err)
		}
		if err := eng.SetScorerConfig(scorerCfg); err != nil {
			return fmt.Errorf("apply relevance config: %w", err)
		}
		return nil
	})

	if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Config watcher stopped", "error", err)
	}
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *port != 0 {
		overrides["server.port"] = *port
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	b := version.Get()
	fmt.Printf("recall - Context Relevance Engine\n")
	fmt.Printf("Version:    %s\n", b.Version)
	fmt.Printf("Build Time: %s\n", b.BuildTime)
	fmt.Printf("Git Commit: %s\n", b.GitCommit)
	fmt.Printf("Go Version: %s\n", b.GoVersion)
}

func printHelp() {
	fmt.Printf("recall - Context relevance engine for conversational agents\n\n")
	fmt.Printf("Usage: recall [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  recall                                    # Run with default config\n")
	fmt.Printf("  recall -config config.yaml -watch         # Use a config file and hot reload it\n")
	fmt.Printf("  recall -port 9090 -log-level debug        # Override specific options\n")
	fmt.Printf("  recall -version                           # Print version info\n")
}
