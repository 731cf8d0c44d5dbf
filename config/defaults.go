package config

import (
	"time"

	"github.com/goclaw/recall/pkg/version"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "recall",
			Version:     version.Version,
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			GRPC: GRPCConfig{
				Enabled:           false,
				Port:              9090,
				MaxConnections:    1000,
				MaxRecvMsgSize:    4 * 1024 * 1024, // 4MB
				MaxSendMsgSize:    4 * 1024 * 1024, // 4MB
				EnableReflection:  false,
				EnableHealthCheck: true,
				EnableTracing:     true,
				RateLimit:         0,
				RateBurst:         20,
				Keepalive: GRPCKeepaliveConfig{
					MaxIdleSeconds:      300,
					MaxAgeSeconds:       3600,
					MaxAgeGraceSeconds:  60,
					TimeSeconds:         60,
					TimeoutSeconds:      20,
					MinTimeSeconds:      30,
					PermitWithoutStream: false,
				},
			},
			HTTP: HTTPConfig{
				ReadTimeout:             30 * time.Second,
				WriteTimeout:            30 * time.Second,
				IdleTimeout:             120 * time.Second,
				ShutdownTimeout:         15 * time.Second,
				RequestTimeout:          20 * time.Second,
				MaxHeaderBytes:          1 << 20, // 1MB
				MaxWebSocketConnections: 100,
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID"},
				MaxAge:         300,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
		Relevance: RelevanceConfig{
			Weights: WeightsConfig{
				Semantic:   1.0,
				Importance: 1.5,
				TagMatch:   0.8,
				Recency:    0.5,
			},
			KindWeights: map[string]float64{
				"goal":       2.0,
				"fact":       1.5,
				"entity":     1.3,
				"preference": 1.2,
				"message":    1.3,
				"task":       1.0,
			},
			RecencyMode:        "step",
			RecencyWindow:      24 * time.Hour,
			RecencyHalfLife:    72 * time.Hour,
			RecencyBaseline:    0.5,
			WorkingMemoryPrior: 1.0,
			UseImportance:      true,
			DefaultLimit:       10,
		},
		Gate: GateConfig{
			Limit:               10,
			ScoreThreshold:      0.7,
			ConfidenceThreshold: 0.75,
			BufferSize:          20,
		},
		Retrieval: RetrievalConfig{
			OverFetch: 3,
			Timeout:   5 * time.Second,
		},
		Consolidation: ConsolidationConfig{
			MinConfidence:    0.7,
			MaxItems:         10,
			GenerateInsights: false,
			EnrichTimeout:    10 * time.Second,
			EnrichRate:       0,
			EnrichBurst:      1,
			AsyncTimeout:     30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		WorkingMemory: WorkingMemoryConfig{
			Backend:   "memory",
			Capacity:  20,
			KeyPrefix: "recall:wm:",
			TTL:       24 * time.Hour,
		},
		Redis: RedisConfig{
			Address:      "localhost:6379",
			Password:     "",
			DB:           0,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		LongTerm: LongTermConfig{
			InMemory: true,
			Path:     "./data/longterm",
			K1:       1.2,
			B:        0.75,
		},
		Context: ContextConfig{
			Layout:        "grouped",
			SortBy:        "relevance",
			MaxTokens:     0,
			Title:         "## Relevant Memory",
			PreferSummary: false,
			CharsPerToken: 4,
		},
	}
}
