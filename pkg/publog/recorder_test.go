package publog_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/publog"
)

// MockDynamoClient is a mock implementation of the dynamostore Client interface
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

func TestRecorder(t *testing.T) {
	t.Parallel()

	t.Run("writes queued entries before close returns", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")
		rec := publog.New(store, nil, publog.Options{})

		client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			if aws.ToString(in.TableName) != "PNLogs" {
				return false
			}
			target, ok := in.Item["UserId"].(*types.AttributeValueMemberS)
			id, ok2 := in.Item["SNSMessageId"].(*types.AttributeValueMemberS)
			return ok && ok2 && target.Value == "u" && id.Value == "m-1"
		}), mock.Anything).Return(&dynamodb.PutItemOutput{}, nil).Once()

		rec.Record(context.Background(), "u", "m-1")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, rec.Close(ctx))
		client.AssertExpectations(t)
	})

	t.Run("empty message id gets a generated one", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")
		rec := publog.New(store, nil, publog.Options{})

		client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			id, ok := in.Item["SNSMessageId"].(*types.AttributeValueMemberS)
			return ok && id.Value != ""
		}), mock.Anything).Return(&dynamodb.PutItemOutput{}, nil).Once()

		rec.Record(context.Background(), "u", "")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, rec.Close(ctx))
		client.AssertExpectations(t)
	})

	t.Run("storage failure does not panic or block", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")
		rec := publog.New(store, nil, publog.Options{})

		client.On("PutItem", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, assert.AnError)

		rec.Record(context.Background(), "u", "m-1")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, rec.Close(ctx))
	})

	t.Run("record after close drops the entry", func(t *testing.T) {
		t.Parallel()
		client := new(MockDynamoClient)
		store := dynamostore.New(client, "")
		rec := publog.New(store, nil, publog.Options{})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, rec.Close(ctx))

		rec.Record(context.Background(), "u", "m-1")
		client.AssertNotCalled(t, "PutItem")
	})
}
