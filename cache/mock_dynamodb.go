package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MockDynamoDBClient implements DynamoDBAPI for testing
type MockDynamoDBClient struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]types.AttributeValue
	ttl    map[string]string

	// UpdateTTLCalls counts UpdateTimeToLive requests
	UpdateTTLCalls int
	getItemErr     error
}

// NewMockDynamoDBClient creates a new mock DynamoDB client
func NewMockDynamoDBClient() *MockDynamoDBClient {
	return &MockDynamoDBClient{
		tables: make(map[string]map[string]map[string]types.AttributeValue),
		ttl:    make(map[string]string),
	}
}

// CreateTable mocks the CreateTable operation
func (m *MockDynamoDBClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := aws.ToString(params.TableName)
	if _, ok := m.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	m.tables[name] = make(map[string]map[string]types.AttributeValue)
	return &dynamodb.CreateTableOutput{}, nil
}

// DescribeTable mocks the DescribeTable operation
func (m *MockDynamoDBClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.tables[aws.ToString(params.TableName)]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableName: params.TableName, TableStatus: types.TableStatusActive},
	}, nil
}

// GetItem mocks the GetItem operation
func (m *MockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getItemErr != nil {
		return nil, m.getItemErr
	}
	items, ok := m.tables[aws.ToString(params.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	item, ok := items[hashKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

// PutItem mocks the PutItem operation
func (m *MockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.tables[aws.ToString(params.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	items[hashKey(params.Item)] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// DeleteItem mocks the DeleteItem operation
func (m *MockDynamoDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.tables[aws.ToString(params.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	delete(items, hashKey(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// DescribeTimeToLive mocks the DescribeTimeToLive operation
func (m *MockDynamoDBClient) DescribeTimeToLive(ctx context.Context, params *dynamodb.DescribeTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name := aws.ToString(params.TableName)
	if _, ok := m.tables[name]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	desc := &types.TimeToLiveDescription{TimeToLiveStatus: types.TimeToLiveStatusDisabled}
	if attr, ok := m.ttl[name]; ok {
		desc = &types.TimeToLiveDescription{
			AttributeName:    aws.String(attr),
			TimeToLiveStatus: types.TimeToLiveStatusEnabled,
		}
	}
	return &dynamodb.DescribeTimeToLiveOutput{TimeToLiveDescription: desc}, nil
}

// UpdateTimeToLive mocks the UpdateTimeToLive operation. Like DynamoDB it rejects
// enabling TTL twice.
func (m *MockDynamoDBClient) UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateTTLCalls++
	name := aws.ToString(params.TableName)
	if _, ok := m.tables[name]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	spec := params.TimeToLiveSpecification
	if spec == nil || spec.AttributeName == nil {
		return nil, fmt.Errorf("ValidationException: missing TimeToLiveSpecification")
	}
	if !aws.ToBool(spec.Enabled) {
		delete(m.ttl, name)
		return &dynamodb.UpdateTimeToLiveOutput{TimeToLiveSpecification: spec}, nil
	}
	if _, ok := m.ttl[name]; ok {
		return nil, fmt.Errorf("ValidationException: TimeToLive is already enabled")
	}
	m.ttl[name] = aws.ToString(spec.AttributeName)
	return &dynamodb.UpdateTimeToLiveOutput{TimeToLiveSpecification: spec}, nil
}

// TimeToLive returns the attribute table expires items on, if any
func (m *MockDynamoDBClient) TimeToLive(table string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attr, ok := m.ttl[table]
	return attr, ok
}

// SetGetItemError makes every GetItem fail with err until it is cleared with nil
func (m *MockDynamoDBClient) SetGetItemError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getItemErr = err
}

// ItemCount returns the number of items stored in table
func (m *MockDynamoDBClient) ItemCount(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table])
}

func hashKey(item map[string]types.AttributeValue) string {
	if s, ok := item["key"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
