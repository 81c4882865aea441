package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ViperProvider implements Provider on top of a viper instance: an optional
// config file, overridden by environment variables of the same name.
type ViperProvider struct {
	v           *viper.Viper
	environment Environment
}

// NewViperProvider loads file (yaml, json, toml, ...) when given and binds the environment
func NewViperProvider(file string) (*ViperProvider, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	env := CurrentEnvironment()
	if v.IsSet("APP_ENV") {
		env = Environment(v.GetString("APP_ENV"))
	}

	return &ViperProvider{v: v, environment: env}, nil
}

// Set overrides a key, mostly useful for flags bound by the CLI
func (p *ViperProvider) Set(key string, value any) {
	p.v.Set(key, value)
}

// GetEnvironment returns the current environment
func (p *ViperProvider) GetEnvironment() Environment {
	return p.environment
}

// GetString retrieves a string configuration value
func (p *ViperProvider) GetString(ctx context.Context, key string) (string, error) {
	if !p.v.IsSet(key) {
		return "", fmt.Errorf("config key %s not set", key)
	}
	return p.v.GetString(key), nil
}

// GetInt retrieves an integer configuration value
func (p *ViperProvider) GetInt(ctx context.Context, key string) (int, error) {
	if !p.v.IsSet(key) {
		return 0, fmt.Errorf("config key %s not set", key)
	}
	return p.v.GetInt(key), nil
}

// GetBool retrieves a boolean configuration value
func (p *ViperProvider) GetBool(ctx context.Context, key string) (bool, error) {
	if !p.v.IsSet(key) {
		return false, fmt.Errorf("config key %s not set", key)
	}
	return p.v.GetBool(key), nil
}

// GetSecret retrieves a secret value
func (p *ViperProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return p.GetString(ctx, key)
}
