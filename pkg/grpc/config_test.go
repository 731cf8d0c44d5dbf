package grpc

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "ephemeral port", mutate: func(c *Config) { c.Address = "127.0.0.1:0" }},
		{name: "missing address", mutate: func(c *Config) { c.Address = "" }, wantErr: true},
		{name: "address without port", mutate: func(c *Config) { c.Address = "localhost" }, wantErr: true},
		{name: "negative max connections", mutate: func(c *Config) { c.MaxConnections = -1 }, wantErr: true},
		{name: "negative message size", mutate: func(c *Config) { c.MaxRecvMsgSize = -1 }, wantErr: true},
		{name: "rate limit without burst", mutate: func(c *Config) { c.RateLimit, c.RateBurst = 50, 0 }, wantErr: true},
		{name: "rate limit with burst", mutate: func(c *Config) { c.RateLimit, c.RateBurst = 50, 5 }},
		{
			name:    "tls without key",
			mutate:  func(c *Config) { c.TLS = &TLSConfig{Enabled: true, CertFile: "cert.pem"} },
			wantErr: true,
		},
		{
			name: "client auth without ca",
			mutate: func(c *Config) {
				c.TLS = &TLSConfig{Enabled: true, CertFile: "cert.pem", KeyFile: "key.pem", ClientAuth: true}
			},
			wantErr: true,
		},
		{
			name:   "disabled tls is not checked",
			mutate: func(c *Config) { c.TLS = &TLSConfig{Enabled: false, ClientAuth: true} },
		},
		{
			name: "mtls complete",
			mutate: func(c *Config) {
				c.TLS = &TLSConfig{Enabled: true, CertFile: "cert.pem", KeyFile: "key.pem", CAFile: "ca.pem", ClientAuth: true}
			},
		},
		{
			name:    "keepalive timeout not below interval",
			mutate:  func(c *Config) { c.Keepalive.Timeout = c.Keepalive.Time },
			wantErr: true,
		},
		{
			name:    "negative keepalive",
			mutate:  func(c *Config) { c.Keepalive.MinTime = -time.Second },
			wantErr: true,
		},
		{name: "no keepalive", mutate: func(c *Config) { c.Keepalive = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) expected error")
	}

	cfg := DefaultConfig()
	cfg.Address = ""
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
	}
}
