package config

import (
	"fmt"
	"time"

	grpcpkg "github.com/goclaw/recall/pkg/grpc"
)

// ToGRPCConfig builds the listener config for host. Keepalive values are
// configured in whole seconds.
func (g *GRPCConfig) ToGRPCConfig(host string) *grpcpkg.Config {
	cfg := &grpcpkg.Config{
		Address:           fmt.Sprintf("%s:%d", host, g.Port),
		MaxConnections:    g.MaxConnections,
		MaxRecvMsgSize:    g.MaxRecvMsgSize,
		MaxSendMsgSize:    g.MaxSendMsgSize,
		EnableReflection:  g.EnableReflection,
		EnableHealthCheck: g.EnableHealthCheck,
		EnableTracing:     g.EnableTracing,
		RateLimit:         g.RateLimit,
		RateBurst:         g.RateBurst,
	}

	if g.TLS.Enabled {
		cfg.TLS = &grpcpkg.TLSConfig{
			Enabled:    g.TLS.Enabled,
			CertFile:   g.TLS.CertFile,
			KeyFile:    g.TLS.KeyFile,
			CAFile:     g.TLS.CAFile,
			ClientAuth: g.TLS.ClientAuth,
		}
	}

	ka := g.Keepalive
	cfg.Keepalive = &grpcpkg.KeepaliveConfig{
		MaxIdle:             seconds(ka.MaxIdleSeconds),
		MaxAge:              seconds(ka.MaxAgeSeconds),
		MaxAgeGrace:         seconds(ka.MaxAgeGraceSeconds),
		Time:                seconds(ka.TimeSeconds),
		Timeout:             seconds(ka.TimeoutSeconds),
		MinTime:             seconds(ka.MinTimeSeconds),
		PermitWithoutStream: ka.PermitWithoutStream,
	}

	return cfg
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
