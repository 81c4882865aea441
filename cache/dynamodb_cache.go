package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ammiranda/treestore/models"
)

// DynamoDBAPI defines the interface for DynamoDB operations
type DynamoDBAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTimeToLive(ctx context.Context, params *dynamodb.DescribeTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// generationKey holds the counter that versions every tree key. Invalidation bumps
// it instead of deleting items; stale items age out through the table TTL, which
// Initialize enables on ttlAttribute.
const (
	generationKey = "generation"
	ttlAttribute  = "ttl"
)

// tableWait bounds how long Initialize waits for a new table to become active
const tableWait = 2 * time.Minute

// DynamoDBCache implements CacheProvider using DynamoDB
type DynamoDBCache struct {
	client    DynamoDBAPI
	tableName string
	logger    *slog.Logger

	mu       sync.Mutex
	cacheTTL time.Duration
	now      func() time.Time
	// missed holds the generation a GetTree miss read, so the SetTree that follows
	// cannot file an older tree under a newer generation
	missed map[Key]int64
}

// NewDynamoDBCache creates a new DynamoDB cache provider with the default AWS configuration
func NewDynamoDBCache(ctx context.Context, tableName string, logger *slog.Logger) (*DynamoDBCache, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewDynamoDBCacheWithClient(dynamodb.NewFromConfig(cfg), tableName, logger), nil
}

// NewDynamoDBCacheWithClient creates a new DynamoDB cache provider with a custom client
func NewDynamoDBCacheWithClient(client DynamoDBAPI, tableName string, logger *slog.Logger) *DynamoDBCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoDBCache{
		client:    client,
		tableName: tableName,
		logger:    logger,
		cacheTTL:  DefaultTTL,
		now:       time.Now,
		missed:    make(map[Key]int64),
	}
}

// Initialize creates the DynamoDB table if it doesn't exist and enables expiry on
// the ttl attribute
func (c *DynamoDBCache) Initialize(ctx context.Context) error {
	if err := c.ensureTable(ctx); err != nil {
		return err
	}
	return c.ensureTTL(ctx)
}

func (c *DynamoDBCache) ensureTable(ctx context.Context) error {
	_, err := c.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.tableName),
	})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table %s: %w", c.tableName, err)
	}

	_, err = c.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(c.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("key"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("key"),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", c.tableName, err)
	}

	// the TTL setting can only be changed once the table is active
	waiter := dynamodb.NewTableExistsWaiter(c.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)}, tableWait); err != nil {
		return fmt.Errorf("table %s did not become active: %w", c.tableName, err)
	}
	return nil
}

func (c *DynamoDBCache) ensureTTL(ctx context.Context) error {
	out, err := c.client.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{
		TableName: aws.String(c.tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to describe ttl of %s: %w", c.tableName, err)
	}
	if d := out.TimeToLiveDescription; d != nil {
		switch d.TimeToLiveStatus {
		case types.TimeToLiveStatusEnabled, types.TimeToLiveStatusEnabling:
			if aws.ToString(d.AttributeName) == ttlAttribute {
				return nil
			}
			return fmt.Errorf("table %s expires items on %q, not %q", c.tableName, aws.ToString(d.AttributeName), ttlAttribute)
		}
	}

	_, err = c.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(c.tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(ttlAttribute),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable ttl on %s: %w", c.tableName, err)
	}
	return nil
}

// GetTree retrieves a tree from DynamoDB cache if available
func (c *DynamoDBCache) GetTree(ctx context.Context, key Key) (*models.TreeNode, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("dynamodb cache generation read failed", "error", err)
		return nil, false
	}

	item, ok := c.get(ctx, itemKey(gen, key))
	if !ok {
		c.miss(key, gen)
		return nil, false
	}
	if c.now().Unix() > item.TTL {
		// DynamoDB deletes expired items lazily, so expiry is checked here too
		if err := c.delete(ctx, item.Key); err != nil {
			c.logger.Warn("dynamodb cache cleanup failed", "key", item.Key, "error", err)
		}
		c.miss(key, gen)
		return nil, false
	}

	var tree models.TreeNode
	if err := json.Unmarshal([]byte(item.Data), &tree); err != nil {
		c.miss(key, gen)
		return nil, false
	}
	return &tree, true
}

func (c *DynamoDBCache) miss(key Key, gen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missed[key] = gen
}

// SetTree stores a tree in DynamoDB cache. After a GetTree miss on key the tree is
// filed under the generation that miss read; an invalidation in between leaves it
// unreachable.
func (c *DynamoDBCache) SetTree(ctx context.Context, key Key, tree *models.TreeNode) {
	c.mu.Lock()
	gen, ok := c.missed[key]
	delete(c.missed, key)
	ttl := c.cacheTTL
	c.mu.Unlock()

	if !ok {
		var err error
		if gen, err = c.generation(ctx); err != nil {
			c.logger.Warn("dynamodb cache generation read failed", "error", err)
			return
		}
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return
	}

	now := c.now()
	if err := c.put(ctx, CacheItem{
		Key:       itemKey(gen, key),
		Data:      string(data),
		Timestamp: now.Unix(),
		TTL:       now.Add(ttl).Unix(),
	}); err != nil {
		c.logger.Warn("dynamodb cache write failed", "key", key.String(), "error", err)
	}
}

// InvalidateCache moves every reader to a fresh generation of keys
func (c *DynamoDBCache) InvalidateCache(ctx context.Context) {
	gen, err := c.generation(ctx)
	if err != nil {
		// writing gen+1 from a guess could move the generation backwards
		c.logger.Warn("dynamodb cache generation read failed, cache not invalidated", "error", err)
		return
	}
	if err := c.put(ctx, CacheItem{
		Key:       generationKey,
		Data:      strconv.FormatInt(gen+1, 10),
		Timestamp: c.now().Unix(),
	}); err != nil {
		c.logger.Warn("dynamodb cache invalidation failed", "error", err)
	}
}

// SetCacheTTL sets the cache time-to-live duration
func (c *DynamoDBCache) SetCacheTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheTTL = ttl
}

func (c *DynamoDBCache) generation(ctx context.Context) (int64, error) {
	item, err := c.read(ctx, generationKey)
	if err != nil {
		return 0, err
	}
	if item == nil {
		return 0, nil
	}
	return strconv.ParseInt(item.Data, 10, 64)
}

func (c *DynamoDBCache) get(ctx context.Context, key string) (*CacheItem, bool) {
	item, err := c.read(ctx, key)
	if err != nil || item == nil {
		return nil, false
	}
	return item, true
}

// read returns nil without error when key is absent
func (c *DynamoDBCache) read(ctx context.Context, key string) (*CacheItem, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, nil
	}

	var item CacheItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *DynamoDBCache) put(ctx context.Context, item CacheItem) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      av,
	})
	return err
}

func (c *DynamoDBCache) delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	})
	return err
}

func itemKey(gen int64, key Key) string {
	return fmt.Sprintf("%d:%s", gen, key)
}

// CacheItem is one row of the cache table. TTL is an epoch second; 0 leaves the
// attribute out so the item never expires.
type CacheItem struct {
	Key       string `dynamodbav:"key"`
	Data      string `dynamodbav:"data"`
	Timestamp int64  `dynamodbav:"timestamp"`
	TTL       int64  `dynamodbav:"ttl,omitempty"`
}
