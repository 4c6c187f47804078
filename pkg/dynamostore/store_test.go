package dynamostore_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
)

// MockDynamoClient is a mock implementation of the Client interface
type MockDynamoClient struct {
	mock.Mock
}

func (m *MockDynamoClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *MockDynamoClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

func (m *MockDynamoClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DeleteItemOutput), args.Error(1)
}

func (m *MockDynamoClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.QueryOutput), args.Error(1)
}

func (m *MockDynamoClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.BatchGetItemOutput), args.Error(1)
}

func (m *MockDynamoClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.BatchWriteItemOutput), args.Error(1)
}

func (m *MockDynamoClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, params, optFns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DescribeTableOutput), args.Error(1)
}

func marshalSubscriber(t *testing.T, sub dynamostore.Subscriber) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(sub)
	require.NoError(t, err)
	return item
}

func TestGetSubscriber(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		want := dynamostore.Subscriber{
			UserID:      "user-1",
			Token:       "token-1",
			PlatformID:  int(dynamostore.PlatformAPNS),
			EndpointARN: "arn:aws:sns:us-east-1:1:endpoint/APNS/app/e1",
		}
		client.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			return aws.ToString(in.TableName) == "PNSubscribers"
		}), mock.Anything).Return(&dynamodb.GetItemOutput{Item: marshalSubscriber(t, want)}, nil)

		got, err := store.GetSubscriber(context.Background(), "user-1", "token-1")
		require.NoError(t, err)
		assert.Equal(t, want.EndpointARN, got.EndpointARN)
		assert.Equal(t, dynamostore.PlatformAPNS, got.Platform())
		client.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		client.On("GetItem", mock.Anything, mock.Anything, mock.Anything).
			Return(&dynamodb.GetItemOutput{}, nil)

		_, err := store.GetSubscriber(context.Background(), "user-1", "token-1")
		assert.ErrorIs(t, err, dynamostore.ErrNotFound)
	})

	t.Run("table missing", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		client.On("GetItem", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &types.ResourceNotFoundException{})

		_, err := store.GetSubscriber(context.Background(), "user-1", "token-1")
		assert.ErrorIs(t, err, dynamostore.ErrTableNotFound)
	})

	t.Run("prefix applied", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "staging-")

		client.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			return aws.ToString(in.TableName) == "staging-PNSubscribers"
		}), mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		_, err := store.GetSubscriber(context.Background(), "user-1", "token-1")
		assert.ErrorIs(t, err, dynamostore.ErrNotFound)
		client.AssertExpectations(t)
	})
}

func TestSubscribersOfUser(t *testing.T) {
	t.Parallel()

	t.Run("follows pagination", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		first := marshalSubscriber(t, dynamostore.Subscriber{UserID: "u", Token: "t1"})
		second := marshalSubscriber(t, dynamostore.Subscriber{UserID: "u", Token: "t2"})
		cursor := map[string]types.AttributeValue{
			"UserId": &types.AttributeValueMemberS{Value: "u"},
		}

		client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return in.ExclusiveStartKey == nil
		}), mock.Anything).Return(&dynamodb.QueryOutput{
			Items:            []map[string]types.AttributeValue{first},
			LastEvaluatedKey: cursor,
		}, nil).Once()
		client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return in.ExclusiveStartKey != nil
		}), mock.Anything).Return(&dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{second},
		}, nil).Once()

		subs, err := store.SubscribersOfUser(context.Background(), "u")
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, "t1", subs[0].Token)
		assert.Equal(t, "t2", subs[1].Token)
		client.AssertExpectations(t)
	})

	t.Run("no devices", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		client.On("Query", mock.Anything, mock.Anything, mock.Anything).
			Return(&dynamodb.QueryOutput{}, nil)

		subs, err := store.SubscribersOfUser(context.Background(), "u")
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestBatchGetSubscribers(t *testing.T) {
	t.Parallel()

	t.Run("retries unprocessed keys", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		s1 := marshalSubscriber(t, dynamostore.Subscriber{UserID: "u", Token: "t1"})
		s2 := marshalSubscriber(t, dynamostore.Subscriber{UserID: "u", Token: "t2"})
		leftover := map[string]types.KeysAndAttributes{
			"PNSubscribers": {Keys: []map[string]types.AttributeValue{{
				"UserId":            &types.AttributeValueMemberS{Value: "u"},
				"NotificationToken": &types.AttributeValueMemberS{Value: "t2"},
			}}},
		}

		client.On("BatchGetItem", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.BatchGetItemOutput{
			Responses:       map[string][]map[string]types.AttributeValue{"PNSubscribers": {s1}},
			UnprocessedKeys: leftover,
		}, nil).Once()
		client.On("BatchGetItem", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.BatchGetItemOutput{
			Responses: map[string][]map[string]types.AttributeValue{"PNSubscribers": {s2}},
		}, nil).Once()

		subs, err := store.BatchGetSubscribers(context.Background(), []dynamostore.SubscriberKey{
			{UserID: "u", Token: "t1"},
			{UserID: "u", Token: "t2"},
		})
		require.NoError(t, err)
		assert.Len(t, subs, 2)
		client.AssertExpectations(t)
	})

	t.Run("empty input makes no calls", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		subs, err := store.BatchGetSubscribers(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, subs)
		client.AssertNotCalled(t, "BatchGetItem")
	})
}

func TestBatchDeleteIterativeMemberships(t *testing.T) {
	t.Parallel()

	t.Run("chunks writes", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		keys := make([]dynamostore.SubscriberKey, 30)
		for i := range keys {
			keys[i] = dynamostore.SubscriberKey{UserID: "u", Token: string(rune('a' + i))}
		}

		client.On("BatchWriteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
			return len(in.RequestItems["PNIterativeTags"]) == 25
		}), mock.Anything).Return(&dynamodb.BatchWriteItemOutput{}, nil).Once()
		client.On("BatchWriteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
			return len(in.RequestItems["PNIterativeTags"]) == 5
		}), mock.Anything).Return(&dynamodb.BatchWriteItemOutput{}, nil).Once()

		err := store.BatchDeleteIterativeMemberships(context.Background(), "news", keys)
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("retries unprocessed items", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		leftover := map[string][]types.WriteRequest{
			"PNIterativeTags": {{DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
				"Tag":        &types.AttributeValueMemberS{Value: "news"},
				"Subscriber": &types.AttributeValueMemberS{Value: "u:::t"},
			}}}},
		}

		client.On("BatchWriteItem", mock.Anything, mock.Anything, mock.Anything).
			Return(&dynamodb.BatchWriteItemOutput{UnprocessedItems: leftover}, nil).Once()
		client.On("BatchWriteItem", mock.Anything, mock.Anything, mock.Anything).
			Return(&dynamodb.BatchWriteItemOutput{}, nil).Once()

		err := store.BatchDeleteIterativeMemberships(context.Background(), "news", []dynamostore.SubscriberKey{
			{UserID: "u", Token: "t"},
		})
		require.NoError(t, err)
		client.AssertExpectations(t)
	})
}

func TestTableExists(t *testing.T) {
	t.Parallel()

	t.Run("exists", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		client.On("DescribeTable", mock.Anything, mock.Anything, mock.Anything).
			Return(&dynamodb.DescribeTableOutput{}, nil)

		exists, err := store.TableExists(context.Background(), dynamostore.TableTags)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("missing table is not an error", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")

		client.On("DescribeTable", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &types.ResourceNotFoundException{})

		exists, err := store.TableExists(context.Background(), dynamostore.TableTags)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
