package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// secretTTL bounds how long a fetched secret is served from memory
const secretTTL = 5 * time.Minute

// SecretsClient is the subset of the Secrets Manager API used here
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsProvider implements Provider using AWS Secrets Manager.
// The secret is a JSON object of string values.
type AWSSecretsProvider struct {
	client      SecretsClient
	secretName  string
	environment Environment

	mu        sync.Mutex
	cache     map[string]string
	lastFetch time.Time
	now       func() time.Time
}

// NewAWSSecretsProvider creates a provider reading the named secret with the default AWS configuration
func NewAWSSecretsProvider(ctx context.Context, secretName string) (*AWSSecretsProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSSecretsProviderWithClient(secretsmanager.NewFromConfig(cfg), secretName), nil
}

// NewAWSSecretsProviderWithClient creates a provider on top of an existing client
func NewAWSSecretsProviderWithClient(client SecretsClient, secretName string) *AWSSecretsProvider {
	return &AWSSecretsProvider{
		client:      client,
		secretName:  secretName,
		environment: CurrentEnvironment(),
		now:         time.Now,
	}
}

// NewAWSConfigProvider creates a secrets provider for the secret named by AWS_SECRET_NAME
func NewAWSConfigProvider(ctx context.Context) (Provider, error) {
	secretName := os.Getenv("AWS_SECRET_NAME")
	if secretName == "" {
		return nil, fmt.Errorf("AWS_SECRET_NAME environment variable not set")
	}

	p, err := NewAWSSecretsProvider(ctx, secretName)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS secrets provider: %w", err)
	}
	return p, nil
}

// GetEnvironment returns the current environment
func (p *AWSSecretsProvider) GetEnvironment() Environment {
	return p.environment
}

// GetString retrieves a string configuration value from AWS Secrets Manager
func (p *AWSSecretsProvider) GetString(ctx context.Context, key string) (string, error) {
	secrets, err := p.secrets(ctx)
	if err != nil {
		return "", err
	}
	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret key %s not found", key)
	}
	return value, nil
}

// GetInt retrieves an integer configuration value from AWS Secrets Manager
func (p *AWSSecretsProvider) GetInt(ctx context.Context, key string) (int, error) {
	value, err := p.GetString(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// GetBool retrieves a boolean configuration value from AWS Secrets Manager
func (p *AWSSecretsProvider) GetBool(ctx context.Context, key string) (bool, error) {
	value, err := p.GetString(ctx, key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(value)
}

// GetSecret retrieves a secret value from AWS Secrets Manager
func (p *AWSSecretsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return p.GetString(ctx, key)
}

func (p *AWSSecretsProvider) secrets(ctx context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cache != nil && p.now().Sub(p.lastFetch) < secretTTL {
		return p.cache, nil
	}

	secret, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	if secret.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", p.secretName)
	}

	var secretMap map[string]string
	if err := json.Unmarshal([]byte(*secret.SecretString), &secretMap); err != nil {
		return nil, fmt.Errorf("failed to parse secret JSON: %w", err)
	}

	if err := validateSecretSchema(secretMap, p.environment); err != nil {
		return nil, fmt.Errorf("invalid secret schema: %w", err)
	}

	p.cache = secretMap
	p.lastFetch = p.now()
	return secretMap, nil
}

// validateSecretSchema validates the database keys stored in the secret
func validateSecretSchema(secrets map[string]string, env Environment) error {
	requiredKeys := []string{
		"DB_HOST",
		"DB_PORT",
		"DB_USER",
		"DB_PASSWORD",
		"DB_NAME",
		"DB_SSLMODE",
	}

	for _, key := range requiredKeys {
		if _, ok := secrets[key]; !ok {
			return &ValidationError{
				Field:   key,
				Message: "required secret key not found",
			}
		}
	}

	if _, err := strconv.Atoi(secrets["DB_PORT"]); err != nil {
		return &ValidationError{
			Field:   "DB_PORT",
			Message: "port must be a valid number",
		}
	}

	if !validSSLModes[secrets["DB_SSLMODE"]] {
		return &ValidationError{
			Field:   "DB_SSLMODE",
			Message: "invalid SSL mode",
		}
	}

	if env == Production {
		if strings.ToLower(secrets["DB_HOST"]) == "localhost" {
			return &ValidationError{
				Field:   "DB_HOST",
				Message: "localhost is not allowed in production",
			}
		}
		if secrets["DB_SSLMODE"] == "disable" {
			return &ValidationError{
				Field:   "DB_SSLMODE",
				Message: "SSL cannot be disabled in production",
			}
		}
		if err := checkProductionPassword("DB_PASSWORD", secrets["DB_PASSWORD"]); err != nil {
			return err
		}
	}

	return nil
}
