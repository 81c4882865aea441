package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Environment represents the application environment
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// CurrentEnvironment reads APP_ENV, defaulting to development
func CurrentEnvironment() Environment {
	env := os.Getenv("APP_ENV")
	if env == "" {
		return Development
	}
	return Environment(env)
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Provider defines the interface for configuration management
type Provider interface {
	// GetString retrieves a string configuration value
	GetString(ctx context.Context, key string) (string, error)
	// GetInt retrieves an integer configuration value
	GetInt(ctx context.Context, key string) (int, error)
	// GetBool retrieves a boolean configuration value
	GetBool(ctx context.Context, key string) (bool, error)
	// GetSecret retrieves a secret value
	GetSecret(ctx context.Context, key string) (string, error)
	// GetEnvironment returns the current environment
	GetEnvironment() Environment
}

// EnvProvider implements Provider using environment variables
type EnvProvider struct {
	prefix      string
	environment Environment
}

// NewEnvProvider creates a new environment-based configuration provider
func NewEnvProvider(prefix string) Provider {
	return &EnvProvider{
		prefix:      prefix,
		environment: CurrentEnvironment(),
	}
}

// GetEnvironment returns the current environment
func (p *EnvProvider) GetEnvironment() Environment {
	return p.environment
}

// GetString retrieves a string configuration value from environment variables
func (p *EnvProvider) GetString(ctx context.Context, key string) (string, error) {
	value := os.Getenv(p.prefix + key)
	if value == "" {
		return "", fmt.Errorf("environment variable %s%s not set", p.prefix, key)
	}
	return value, nil
}

// GetInt retrieves an integer configuration value from environment variables
func (p *EnvProvider) GetInt(ctx context.Context, key string) (int, error) {
	value, err := p.GetString(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// GetBool retrieves a boolean configuration value from environment variables
func (p *EnvProvider) GetBool(ctx context.Context, key string) (bool, error) {
	value, err := p.GetString(ctx, key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(value)
}

// GetSecret retrieves a secret value from environment variables
func (p *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return p.GetString(ctx, key)
}

// stringOr returns the value of key or def when the provider has no value for it
func stringOr(ctx context.Context, p Provider, key, def string) string {
	value, err := p.GetString(ctx, key)
	if err != nil || value == "" {
		return def
	}
	return value
}

// ChainProvider asks each provider in turn and returns the first value found.
// The environment is taken from the first provider.
type ChainProvider []Provider

// NewChainProvider chains providers, earlier ones taking precedence
func NewChainProvider(providers ...Provider) ChainProvider {
	return ChainProvider(providers)
}

// GetEnvironment returns the environment of the first provider
func (c ChainProvider) GetEnvironment() Environment {
	if len(c) == 0 {
		return CurrentEnvironment()
	}
	return c[0].GetEnvironment()
}

// GetString returns the first value any provider has for key
func (c ChainProvider) GetString(ctx context.Context, key string) (string, error) {
	return chainGet(c, func(p Provider) (string, error) { return p.GetString(ctx, key) }, key)
}

// GetInt returns the first value any provider has for key
func (c ChainProvider) GetInt(ctx context.Context, key string) (int, error) {
	return chainGet(c, func(p Provider) (int, error) { return p.GetInt(ctx, key) }, key)
}

// GetBool returns the first value any provider has for key
func (c ChainProvider) GetBool(ctx context.Context, key string) (bool, error) {
	return chainGet(c, func(p Provider) (bool, error) { return p.GetBool(ctx, key) }, key)
}

// GetSecret returns the first secret any provider has for key
func (c ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return chainGet(c, func(p Provider) (string, error) { return p.GetSecret(ctx, key) }, key)
}

func chainGet[T any](c ChainProvider, get func(Provider) (T, error), key string) (T, error) {
	var zero T
	var errs []error
	for _, p := range c {
		v, err := get(p)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return zero, fmt.Errorf("config key %s not set", key)
	}
	return zero, fmt.Errorf("config key %s: %w", key, errors.Join(errs...))
}
