package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("TS_PORT", "8080")
	t.Setenv("TS_DEBUG", "true")
	t.Setenv("TS_NAME", "trees")
	p := NewEnvProvider("TS_")
	ctx := context.Background()

	assert.Equal(t, Staging, p.GetEnvironment())

	name, err := p.GetString(ctx, "NAME")
	require.NoError(t, err)
	assert.Equal(t, "trees", name)

	port, err := p.GetInt(ctx, "PORT")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	debug, err := p.GetBool(ctx, "DEBUG")
	require.NoError(t, err)
	assert.True(t, debug)

	_, err = p.GetString(ctx, "MISSING")
	assert.Error(t, err)
	_, err = p.GetInt(ctx, "NAME")
	assert.Error(t, err)
}

func TestGetTreeConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := GetTreeConfig(ctx, NewEnvProvider("TSEMPTY_"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTreeConfig(), cfg)

	t.Setenv("TS_TREE_STRATEGY", "nested_set")
	t.Setenv("TS_TREE_NODE_TABLE", "categories")
	t.Setenv("TS_TREE_PATH_DELIMITER", ".")
	cfg, err = GetTreeConfig(ctx, NewEnvProvider("TS_"))
	require.NoError(t, err)
	assert.Equal(t, "nested_set", cfg.Strategy)
	assert.Equal(t, "categories", cfg.NodeTable)
	assert.Equal(t, "tree_closure", cfg.ClosureTable)
	assert.Equal(t, ".", cfg.PathDelimiter)
}

func TestTreeConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *TreeConfig)
		field  string
	}{
		{"unknown strategy", func(c *TreeConfig) { c.Strategy = "btree" }, "Strategy"},
		{"unsafe node table", func(c *TreeConfig) { c.NodeTable = "nodes; drop" }, "NodeTable"},
		{"unsafe closure table", func(c *TreeConfig) { c.ClosureTable = "" }, "ClosureTable"},
		{"shared tables", func(c *TreeConfig) { c.ClosureTable = c.NodeTable }, "ClosureTable"},
		{"empty delimiter", func(c *TreeConfig) { c.PathDelimiter = "" }, "PathDelimiter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTreeConfig()
			tt.mutate(cfg)
			var verr *ValidationError
			require.ErrorAs(t, cfg.Validate(), &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestGetStoreConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := GetStoreConfig(ctx, NewEnvProvider("TSEMPTY_"))
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Driver)

	t.Setenv("TS_STORE_DRIVER", "oracle")
	_, err = GetStoreConfig(ctx, NewEnvProvider("TS_"))
	assert.Error(t, err)
}

func TestGetCacheConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := GetCacheConfig(ctx, NewEnvProvider("TSEMPTY_"))
	require.NoError(t, err)
	assert.Equal(t, CacheMemory, cfg.Backend)
	assert.Equal(t, 5*time.Minute, cfg.TTL)

	t.Setenv("TS_REDIS_HOST", "cache.internal")
	cfg, err = GetCacheConfig(ctx, NewEnvProvider("TS_"))
	require.NoError(t, err)
	assert.Equal(t, CacheRedis, cfg.Backend)
	assert.Equal(t, "cache.internal:6379", cfg.RedisAddr)

	t.Setenv("TS_CACHE_BACKEND", "dynamodb")
	t.Setenv("TS_CACHE_TTL", "30s")
	cfg, err = GetCacheConfig(ctx, NewEnvProvider("TS_"))
	require.NoError(t, err)
	assert.Equal(t, CacheDynamoDB, cfg.Backend)
	assert.Equal(t, 30*time.Second, cfg.TTL)
	assert.Equal(t, "tree-cache", cfg.DynamoDBTable)

	t.Setenv("TS_CACHE_TTL", "-1s")
	_, err = GetCacheConfig(ctx, NewEnvProvider("TS_"))
	assert.Error(t, err)
}

func TestDatabaseConfig(t *testing.T) {
	valid := func() *DatabaseConfig {
		return &DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "tree",
			Password: "secret",
			DBName:   "trees",
			SSLMode:  "disable",
		}
	}

	assert.NoError(t, valid().Validate(Development))

	cfg := valid()
	cfg.Password = "it's a secret"
	assert.Equal(t,
		`host=127.0.0.1 port=5432 user=tree password='it\'s a secret' dbname=trees sslmode=disable`,
		cfg.ConnectionString())

	tests := []struct {
		name   string
		mutate func(c *DatabaseConfig)
		env    Environment
		field  string
	}{
		{"port out of range", func(c *DatabaseConfig) { c.Port = 70000 }, Development, "Port"},
		{"bad db name", func(c *DatabaseConfig) { c.DBName = "1trees" }, Development, "DBName"},
		{"bad ssl mode", func(c *DatabaseConfig) { c.SSLMode = "maybe" }, Development, "SSLMode"},
		{"weak production password", func(c *DatabaseConfig) { c.SSLMode = "require" }, Production, "Password"},
		{"production without ssl", func(c *DatabaseConfig) { c.Password = "Str0ng-Passw0rd!" }, Production, "SSLMode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			var verr *ValidationError
			require.ErrorAs(t, cfg.Validate(tt.env), &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

type fakeSecretsClient struct {
	secret string
	calls  int
	err    error
}

func (f *fakeSecretsClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.secret)}, nil
}

const testSecret = `{"DB_HOST":"127.0.0.1","DB_PORT":"5432","DB_USER":"tree","DB_PASSWORD":"secret","DB_NAME":"trees","DB_SSLMODE":"disable"}`

func TestAWSSecretsProvider(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	client := &fakeSecretsClient{secret: testSecret}
	p := NewAWSSecretsProviderWithClient(client, "tree-service")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	cfg, err := GetDatabaseConfig(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "trees", cfg.DBName)
	assert.Equal(t, 1, client.calls)

	// served from memory until the ttl runs out
	_, err = p.GetString(ctx, "DB_USER")
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)

	now = now.Add(secretTTL + time.Second)
	_, err = p.GetString(ctx, "DB_USER")
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)

	_, err = p.GetString(ctx, "MISSING")
	assert.Error(t, err)
}

func TestAWSSecretsProviderRejectsBadSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	ctx := context.Background()

	p := NewAWSSecretsProviderWithClient(&fakeSecretsClient{secret: testSecret}, "tree-service")
	_, err := p.GetString(ctx, "DB_HOST")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "DB_SSLMODE", verr.Field)

	p = NewAWSSecretsProviderWithClient(&fakeSecretsClient{secret: `{"DB_HOST":"db"}`}, "tree-service")
	_, err = p.GetString(ctx, "DB_HOST")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "DB_PORT", verr.Field)

	boom := errors.New("access denied")
	p = NewAWSSecretsProviderWithClient(&fakeSecretsClient{err: boom}, "tree-service")
	_, err = p.GetString(ctx, "DB_HOST")
	assert.ErrorIs(t, err, boom)
}

func TestViperProvider(t *testing.T) {
	file := filepath.Join(t.TempDir(), "treestore.yaml")
	require.NoError(t, os.WriteFile(file, []byte("tree_strategy: closure\nstore_driver: memory\ncache_ttl: 1m\n"), 0o600))
	t.Setenv("TREE_NODE_TABLE", "categories")

	p, err := NewViperProvider(file)
	require.NoError(t, err)
	ctx := context.Background()

	tree, err := GetTreeConfig(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "closure", tree.Strategy)
	assert.Equal(t, "categories", tree.NodeTable)

	st, err := GetStoreConfig(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, st.Driver)

	p.Set("STORE_DRIVER", "pgx")
	st, err = GetStoreConfig(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, DriverPGX, st.Driver)

	_, err = p.GetInt(ctx, "NOT_THERE")
	assert.Error(t, err)

	_, err = NewViperProvider(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestChainProvider(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TS_DB_HOST", "from-env")
	t.Setenv("TS_STORE_DRIVER", "postgres")
	ctx := context.Background()

	secrets := NewAWSSecretsProviderWithClient(&fakeSecretsClient{secret: testSecret}, "tree-service")
	chain := NewChainProvider(secrets, NewEnvProvider("TS_"))

	host, err := chain.GetString(ctx, "DB_HOST")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host, "earlier providers win")

	driver, err := chain.GetString(ctx, "STORE_DRIVER")
	require.NoError(t, err)
	assert.Equal(t, "postgres", driver)

	port, err := chain.GetInt(ctx, "DB_PORT")
	require.NoError(t, err)
	assert.Equal(t, 5432, port)

	_, err = chain.GetString(ctx, "NOWHERE")
	assert.Error(t, err)
	_, err = NewChainProvider().GetBool(ctx, "NOWHERE")
	assert.Error(t, err)
	assert.Equal(t, Development, chain.GetEnvironment())
}
