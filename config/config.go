// Package config provides configuration management for recall.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the global configuration for recall.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Relevance is the scorer's weight table and recency windows.
	Relevance RelevanceConfig `mapstructure:"relevance"`

	// Gate is the working-memory sufficiency gate configuration.
	Gate GateConfig `mapstructure:"gate"`

	// Retrieval is the long-term candidate fetch configuration.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Consolidation is the promotion pass configuration.
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`

	// Cache is the retrieval result cache configuration.
	Cache CacheConfig `mapstructure:"cache"`

	// WorkingMemory selects and sizes the turn buffer.
	WorkingMemory WorkingMemoryConfig `mapstructure:"working_memory"`

	// Redis is the Redis connection used by the redis working-memory backend.
	Redis RedisConfig `mapstructure:"redis"`

	// LongTerm is the durable store configuration.
	LongTerm LongTermConfig `mapstructure:"long_term"`

	// Context is the default context block rendering configuration.
	Context ContextConfig `mapstructure:"context"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is reported by /status and tracing. Empty uses the build version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP/gRPC server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"omitempty,hostname_rfc1123|ip"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// GRPC is the gRPC server configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// GRPCConfig holds gRPC-specific settings.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=1,max=65535"`

	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size" validate:"min=0"`
	MaxSendMsgSize int `mapstructure:"max_send_msg_size" validate:"min=0"`

	EnableReflection  bool `mapstructure:"enable_reflection"`
	EnableHealthCheck bool `mapstructure:"enable_health_check"`
	EnableTracing     bool `mapstructure:"enable_tracing"`

	// RateLimit is the per-client request rate. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"min=0"`
	RateBurst int     `mapstructure:"rate_burst" validate:"min=0"`

	TLS       GRPCTLSConfig       `mapstructure:"tls"`
	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCTLSConfig holds gRPC TLS/mTLS settings.
type GRPCTLSConfig struct {
	Enabled bool `mapstructure:"enabled"`

	CertFile string `mapstructure:"cert_file" validate:"omitempty,file"`
	KeyFile  string `mapstructure:"key_file" validate:"omitempty,file"`

	// CAFile verifies client certificates when ClientAuth is set.
	CAFile     string `mapstructure:"ca_file" validate:"omitempty,file"`
	ClientAuth bool   `mapstructure:"client_auth"`
}

// GRPCKeepaliveConfig holds gRPC keepalive settings.
type GRPCKeepaliveConfig struct {
	MaxIdleSeconds      int  `mapstructure:"max_idle_seconds" validate:"min=0"`
	MaxAgeSeconds       int  `mapstructure:"max_age_seconds" validate:"min=0"`
	MaxAgeGraceSeconds  int  `mapstructure:"max_age_grace_seconds" validate:"min=0"`
	TimeSeconds         int  `mapstructure:"time_seconds" validate:"min=0"`
	TimeoutSeconds      int  `mapstructure:"timeout_seconds" validate:"min=0"`
	MinTimeSeconds      int  `mapstructure:"min_time_seconds" validate:"min=0"`
	PermitWithoutStream bool `mapstructure:"permit_without_stream"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds a single API request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// MaxWebSocketConnections caps concurrent event stream subscribers.
	MaxWebSocketConnections int `mapstructure:"max_ws_connections" validate:"min=1"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"startswith=/"`
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter. Only otlpgrpc is supported.
	Exporter string `mapstructure:"exporter"`

	// Type is the legacy backend name, mapped onto Exporter.
	Type string `mapstructure:"type"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds one export call.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are sent with every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler is always_on, always_off or parentbased_traceidratio.
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off parentbased_traceidratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// WeightsConfig mirrors the scorer's sub-score weights.
type WeightsConfig struct {
	Semantic     float64 `mapstructure:"semantic" validate:"min=0"`
	Importance   float64 `mapstructure:"importance" validate:"min=0"`
	TagMatch     float64 `mapstructure:"tag_match" validate:"min=0"`
	Recency      float64 `mapstructure:"recency" validate:"min=0"`
	ContentValue float64 `mapstructure:"content_value" validate:"min=0"`
	Length       float64 `mapstructure:"length" validate:"min=0"`
	UserMessage  float64 `mapstructure:"user_message" validate:"min=0"`
}

// RelevanceConfig holds the scorer configuration.
type RelevanceConfig struct {
	Weights WeightsConfig `mapstructure:"weights"`

	// KindWeights multiplies base importance per kind name.
	KindWeights map[string]float64 `mapstructure:"kind_weights"`

	// RecencyMode is step or exponential.
	RecencyMode     string        `mapstructure:"recency_mode" validate:"oneof=step exponential"`
	RecencyWindow   time.Duration `mapstructure:"recency_window"`
	RecencyHalfLife time.Duration `mapstructure:"recency_half_life"`
	RecencyBaseline float64       `mapstructure:"recency_baseline" validate:"min=0,max=1"`

	// WorkingMemoryPrior is the semantic score of items without a similarity signal.
	WorkingMemoryPrior float64 `mapstructure:"working_memory_prior" validate:"min=0,max=1"`

	// UseImportance is the default for requests that do not set it.
	UseImportance bool `mapstructure:"use_importance"`

	// DefaultLimit is used when a request leaves the limit at zero.
	DefaultLimit int `mapstructure:"default_limit" validate:"min=1"`
}

// GateConfig holds the sufficiency gate configuration.
type GateConfig struct {
	Limit               int     `mapstructure:"limit" validate:"min=1"`
	ScoreThreshold      float64 `mapstructure:"score_threshold" validate:"min=0,max=1"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" validate:"min=0,max=1"`
	BufferSize          int     `mapstructure:"buffer_size" validate:"min=1"`
}

// RetrievalConfig holds the long-term fetch configuration.
type RetrievalConfig struct {
	// OverFetch multiplies the requested limit.
	OverFetch int `mapstructure:"over_fetch" validate:"min=1"`

	// Timeout bounds one search call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// ConsolidationConfig holds the promotion pass configuration.
type ConsolidationConfig struct {
	MinConfidence    float64       `mapstructure:"min_confidence" validate:"min=0,max=1"`
	MaxItems         int           `mapstructure:"max_items" validate:"min=1"`
	GenerateInsights bool          `mapstructure:"generate_insights"`
	EnrichTimeout    time.Duration `mapstructure:"enrich_timeout"`

	// EnrichRate caps enrichment calls per second. Zero disables the limit.
	EnrichRate  float64 `mapstructure:"enrich_rate" validate:"min=0"`
	EnrichBurst int     `mapstructure:"enrich_burst" validate:"min=0"`

	// AsyncTimeout bounds background passes.
	AsyncTimeout time.Duration `mapstructure:"async_timeout"`
}

// CacheConfig holds the retrieval cache configuration.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// WorkingMemoryConfig selects the turn buffer backend.
type WorkingMemoryConfig struct {
	// Backend is memory or redis.
	Backend string `mapstructure:"backend" validate:"oneof=memory redis"`

	// Capacity is the number of turns kept per scope.
	Capacity int `mapstructure:"capacity" validate:"min=1"`

	// KeyPrefix namespaces redis lists.
	KeyPrefix string `mapstructure:"key_prefix"`

	// TTL expires an idle scope in redis. Zero disables expiry.
	TTL time.Duration `mapstructure:"ttl"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"min=0"`
	PoolSize     int           `mapstructure:"pool_size" validate:"min=0"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LongTermConfig holds the durable store settings.
type LongTermConfig struct {
	// InMemory keeps records in memory only.
	InMemory bool `mapstructure:"in_memory"`

	// Path is the Badger directory.
	Path string `mapstructure:"path"`

	// K1 and B are the BM25 parameters.
	K1 float64 `mapstructure:"k1" validate:"gt=0"`
	B  float64 `mapstructure:"b" validate:"min=0,max=1"`
}

// ContextConfig holds the context block defaults.
type ContextConfig struct {
	// Layout is grouped or flat.
	Layout string `mapstructure:"layout" validate:"oneof=grouped flat"`

	// SortBy is relevance, time or importance.
	SortBy string `mapstructure:"sort_by" validate:"oneof=relevance time importance"`

	// MaxTokens bounds the block. Zero means unbounded.
	MaxTokens int `mapstructure:"max_tokens" validate:"min=0"`

	Title         string  `mapstructure:"title"`
	PreferSummary bool    `mapstructure:"prefer_summary"`
	CharsPerToken float64 `mapstructure:"chars_per_token" validate:"gt=0"`
}

// Validate performs validation on the configuration. A legacy tracing type
// is mapped onto the exporter before checking.
func (c *Config) Validate() error {
	if err := ValidateWithDetails(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// normalize applies the compatibility mappings validation relies on.
func (c *Config) normalize() {
	c.Tracing.Exporter = strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	if c.Tracing.Exporter == "" {
		switch strings.ToLower(strings.TrimSpace(c.Tracing.Type)) {
		case "jaeger", "otlp", "otlpgrpc":
			c.Tracing.Exporter = "otlpgrpc"
		}
	}
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, WorkingMemory: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.WorkingMemory.Backend)
}
