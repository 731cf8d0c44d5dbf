package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate reports fields by their config key, e.g. "server.grpc.port".
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ConfigError is one invalid setting.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors lists every invalid setting found in one pass.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, ce := range e {
		fmt.Fprintf(&sb, "  - %s\n", ce.Error())
	}
	return sb.String()
}

// ValidateWithDetails normalizes cfg and checks it. Tag rules run first,
// then the rules that span several fields. All failures are returned
// together as ValidationErrors.
func ValidateWithDetails(cfg *Config) error {
	cfg.normalize()

	var details ValidationErrors
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			details = append(details, ConfigError{
				Field:   configKey(fe.Namespace()),
				Message: describe(fe),
				Value:   fe.Value(),
			})
		}
	}

	details = append(details, crossFieldErrors(cfg)...)
	if len(details) > 0 {
		return details
	}
	return nil
}

// configKey drops the root struct name from a validator namespace.
func configKey(namespace string) string {
	_, key, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return key
}

func crossFieldErrors(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	add := func(field, msg string, value interface{}) {
		errs = append(errs, ConfigError{Field: field, Message: msg, Value: value})
	}

	if t := cfg.Tracing; t.Enabled {
		if t.Exporter != "otlpgrpc" {
			add("tracing.exporter", "must be one of [otlpgrpc]", t.Exporter)
		}
		if strings.TrimSpace(t.Endpoint) == "" {
			add("tracing.endpoint", "required when tracing is enabled", t.Endpoint)
		}
		if t.Timeout <= 0 {
			add("tracing.timeout", "must be greater than 0", t.Timeout)
		}
	}

	if tls := cfg.Server.GRPC.TLS; tls.Enabled {
		if tls.CertFile == "" || tls.KeyFile == "" {
			add("server.grpc.tls", "cert_file and key_file are required when TLS is enabled", tls.CertFile)
		}
		if tls.ClientAuth && tls.CAFile == "" {
			add("server.grpc.tls.ca_file", "required when client_auth is set", tls.CAFile)
		}
	}

	if cfg.WorkingMemory.Backend == "redis" && strings.TrimSpace(cfg.Redis.Address) == "" {
		add("redis.address", "required for the redis working memory backend", cfg.Redis.Address)
	}

	if !cfg.LongTerm.InMemory && strings.TrimSpace(cfg.LongTerm.Path) == "" {
		add("long_term.path", "required unless in_memory is set", cfg.LongTerm.Path)
	}

	if cfg.Cache.Enabled && cfg.Cache.TTL <= 0 {
		add("cache.ttl", "must be greater than 0 when the cache is enabled", cfg.Cache.TTL)
	}

	if _, err := cfg.Relevance.ToScorerConfig(); err != nil {
		add("relevance", err.Error(), cfg.Relevance.Weights)
	}

	return errs
}

// describe renders a tag failure for operators.
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	case "file":
		return "file does not exist"
	case "hostname_rfc1123|ip":
		return "must be a host name or IP address"
	default:
		return "failed validation: " + fe.Tag()
	}
}
