package grpc

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("grpc: invalid config")

// Config configures the gRPC listener that serves recall.v1.Relevance.
type Config struct {
	// Address is host:port. Port 0 picks a free port.
	Address string `validate:"required"`

	// TLS enables TLS or mTLS when set and enabled.
	TLS *TLSConfig

	// MaxConnections caps concurrent streams per connection. Zero is unlimited.
	MaxConnections int `validate:"gte=0"`

	Keepalive *KeepaliveConfig

	// Message size limits in bytes. Zero keeps the gRPC default.
	MaxRecvMsgSize int `validate:"gte=0"`
	MaxSendMsgSize int `validate:"gte=0"`

	EnableReflection  bool
	EnableHealthCheck bool
	EnableTracing     bool

	// RateLimit is the per-client request rate. Zero disables limiting.
	RateLimit float64 `validate:"gte=0"`
	RateBurst int     `validate:"gte=0"`
}

// TLSConfig holds TLS and mTLS settings.
type TLSConfig struct {
	Enabled  bool
	CertFile string `validate:"required_if=Enabled true"`
	KeyFile  string `validate:"required_if=Enabled true"`

	// CAFile verifies client certificates when ClientAuth is set.
	CAFile     string `validate:"required_if=ClientAuth true"`
	ClientAuth bool
}

// KeepaliveConfig holds server keepalive enforcement. Zero durations keep
// the gRPC defaults.
type KeepaliveConfig struct {
	MaxIdle     time.Duration `validate:"gte=0"`
	MaxAge      time.Duration `validate:"gte=0"`
	MaxAgeGrace time.Duration `validate:"gte=0"`

	// Time is the server ping interval and Timeout the wait for its ack.
	Time    time.Duration `validate:"gte=0"`
	Timeout time.Duration `validate:"gte=0"`

	// MinTime is the shortest client ping interval tolerated.
	MinTime             time.Duration `validate:"gte=0"`
	PermitWithoutStream bool
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":9090",
		MaxConnections:    1000,
		MaxRecvMsgSize:    4 << 20,
		MaxSendMsgSize:    4 << 20,
		EnableHealthCheck: true,
		EnableTracing:     true,
		RateBurst:         20,
		Keepalive: &KeepaliveConfig{
			MaxIdle:     5 * time.Minute,
			MaxAge:      time.Hour,
			MaxAgeGrace: time.Minute,
			Time:        time.Minute,
			Timeout:     20 * time.Second,
			MinTime:     30 * time.Second,
		},
	}
}

var configValidator = validator.New()

// Validate checks field ranges and the rules that span fields.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalidConfig, c.Address, err)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("%w: rate burst must be at least 1 when rate limiting is enabled", ErrInvalidConfig)
	}
	if c.TLS != nil && c.TLS.Enabled {
		if err := configValidator.Struct(c.TLS); err != nil {
			return fmt.Errorf("%w: tls: %v", ErrInvalidConfig, err)
		}
	}
	if k := c.Keepalive; k != nil {
		if err := configValidator.Struct(k); err != nil {
			return fmt.Errorf("%w: keepalive: %v", ErrInvalidConfig, err)
		}
		if k.Timeout > 0 && k.Time > 0 && k.Timeout >= k.Time {
			return fmt.Errorf("%w: keepalive timeout %s must be less than ping interval %s", ErrInvalidConfig, k.Timeout, k.Time)
		}
	}
	return nil
}
