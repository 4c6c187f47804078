package dynamostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Client defines the DynamoDB operations used by Store.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store provides typed access to the push notification tables.
// It is safe for concurrent use.
type Store struct {
	client Client
	prefix string
}

// New creates a Store. prefix is prepended to every raw table name,
// isolating the tables of each application sharing an account.
func New(client Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// TableName returns the fully prefixed name of a raw table.
func (s *Store) TableName(raw string) string {
	return s.prefix + raw
}

// classify converts DynamoDB errors to package sentinels.
func classify(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrOperationTimeout, operation)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", ErrOperationCanceled, operation)
	}

	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("%w: %s", ErrTableNotFound, operation)
	}
	var pte *types.ProvisionedThroughputExceededException
	if errors.As(err, &pte) {
		return fmt.Errorf("%w: %s", ErrThroughputExceeded, operation)
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", ErrConditionFailed, operation)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s failed (code: %s): %w", operation, apiErr.ErrorCode(), err)
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}

func stringAttr(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func (s *Store) getItem(ctx context.Context, table string, key map[string]types.AttributeValue, out any, operation string) error {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.TableName(table)),
		Key:       key,
	})
	if err != nil {
		return classify(err, operation)
	}
	if len(resp.Item) == 0 {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(resp.Item, out); err != nil {
		return fmt.Errorf("%s: unmarshal: %w", operation, err)
	}
	return nil
}

func (s *Store) putItem(ctx context.Context, table string, record any, operation string) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", operation, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.TableName(table)),
		Item:      item,
	}); err != nil {
		return classify(err, operation)
	}
	return nil
}

func (s *Store) deleteItem(ctx context.Context, table string, key map[string]types.AttributeValue, operation string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.TableName(table)),
		Key:       key,
	}); err != nil {
		return classify(err, operation)
	}
	return nil
}

// queryAll runs a single-attribute key-condition query, following
// pagination until exhausted, and unmarshals every page into out (a
// pointer to a slice).
func (s *Store) queryAll(ctx context.Context, table, index, keyAttr, keyValue string, out any, operation string) error {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.TableName(table)),
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  map[string]string{"#pk": keyAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": stringAttr(keyValue)},
	}
	if index != "" {
		input.IndexName = aws.String(index)
	}

	var items []map[string]types.AttributeValue
	for {
		resp, err := s.client.Query(ctx, input)
		if err != nil {
			return classify(err, operation)
		}
		items = append(items, resp.Items...)
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}

	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("%s: unmarshal: %w", operation, err)
	}
	return nil
}

const batchWriteChunk = 25

// batchDelete removes the given keys from a table in chunks, retrying
// unprocessed keys until the store accepts them all.
func (s *Store) batchDelete(ctx context.Context, table string, keys []map[string]types.AttributeValue, operation string) error {
	tableName := s.TableName(table)
	for start := 0; start < len(keys); start += batchWriteChunk {
		end := min(start+batchWriteChunk, len(keys))

		writes := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			writes = append(writes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		pending := map[string][]types.WriteRequest{tableName: writes}
		for len(pending) > 0 {
			resp, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return classify(err, operation)
			}
			pending = resp.UnprocessedItems
		}
	}
	return nil
}

func subscriberKeyAV(userID, token string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"UserId":            stringAttr(userID),
		"NotificationToken": stringAttr(token),
	}
}

func membershipKeyAV(tag string, key SubscriberKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"Tag":        stringAttr(tag),
		"Subscriber": stringAttr(key.String()),
	}
}

// GetSubscriber loads a single device registration. Returns ErrNotFound
// when the (user, token) pair is not registered.
func (s *Store) GetSubscriber(ctx context.Context, userID, token string) (*Subscriber, error) {
	var sub Subscriber
	if err := s.getItem(ctx, TableSubscribers, subscriberKeyAV(userID, token), &sub, "get subscriber"); err != nil {
		return nil, err
	}
	return &sub, nil
}

// SubscribersOfUser returns every device registration of a user.
func (s *Store) SubscribersOfUser(ctx context.Context, userID string) ([]Subscriber, error) {
	var subs []Subscriber
	if err := s.queryAll(ctx, TableSubscribers, "", "UserId", userID, &subs, "query subscribers"); err != nil {
		return nil, err
	}
	return subs, nil
}

// BatchGetSubscribers loads registrations for the given keys. Missing
// keys are silently absent from the result.
func (s *Store) BatchGetSubscribers(ctx context.Context, keys []SubscriberKey) ([]Subscriber, error) {
	const chunk = 100
	tableName := s.TableName(TableSubscribers)

	var subs []Subscriber
	for start := 0; start < len(keys); start += chunk {
		end := min(start+chunk, len(keys))

		avKeys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, key := range keys[start:end] {
			avKeys = append(avKeys, subscriberKeyAV(key.UserID, key.Token))
		}

		pending := map[string]types.KeysAndAttributes{tableName: {Keys: avKeys}}
		for len(pending) > 0 {
			resp, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return nil, classify(err, "batch get subscribers")
			}
			var page []Subscriber
			if err := attributevalue.UnmarshalListOfMaps(resp.Responses[tableName], &page); err != nil {
				return nil, fmt.Errorf("batch get subscribers: unmarshal: %w", err)
			}
			subs = append(subs, page...)
			pending = resp.UnprocessedKeys
		}
	}
	return subs, nil
}

// PutSubscriber stores a device registration, replacing any prior row
// with the same key.
func (s *Store) PutSubscriber(ctx context.Context, sub *Subscriber) error {
	return s.putItem(ctx, TableSubscribers, sub, "put subscriber")
}

// DeleteSubscriber removes a device registration. Deleting an absent row
// is a no-op.
func (s *Store) DeleteSubscriber(ctx context.Context, userID, token string) error {
	return s.deleteItem(ctx, TableSubscribers, subscriberKeyAV(userID, token), "delete subscriber")
}

// GetTag loads a tag directory row. Returns ErrNotFound for unknown tags.
func (s *Store) GetTag(ctx context.Context, name string) (*Tag, error) {
	var tag Tag
	key := map[string]types.AttributeValue{"Tag": stringAttr(name)}
	if err := s.getItem(ctx, TableTags, key, &tag, "get tag"); err != nil {
		return nil, err
	}
	return &tag, nil
}

// PutTag stores a tag directory row.
func (s *Store) PutTag(ctx context.Context, tag *Tag) error {
	return s.putItem(ctx, TableTags, tag, "put tag")
}

// DeleteTag removes a tag directory row.
func (s *Store) DeleteTag(ctx context.Context, name string) error {
	key := map[string]types.AttributeValue{"Tag": stringAttr(name)}
	return s.deleteItem(ctx, TableTags, key, "delete tag")
}

// PutIterativeMembership stores one iterative tag membership row.
func (s *Store) PutIterativeMembership(ctx context.Context, m *IterativeMembership) error {
	return s.putItem(ctx, TableIterativeMemberships, m, "put iterative membership")
}

// DeleteIterativeMembership removes one iterative membership row.
func (s *Store) DeleteIterativeMembership(ctx context.Context, tag string, key SubscriberKey) error {
	return s.deleteItem(ctx, TableIterativeMemberships, membershipKeyAV(tag, key), "delete iterative membership")
}

// BatchDeleteIterativeMemberships removes a set of members from one
// iterative tag.
func (s *Store) BatchDeleteIterativeMemberships(ctx context.Context, tag string, keys []SubscriberKey) error {
	avKeys := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, key := range keys {
		avKeys = append(avKeys, membershipKeyAV(tag, key))
	}
	return s.batchDelete(ctx, TableIterativeMemberships, avKeys, "batch delete iterative memberships")
}

// IterativeMembersOfTag enumerates every membership row of one tag.
func (s *Store) IterativeMembersOfTag(ctx context.Context, tag string) ([]IterativeMembership, error) {
	var members []IterativeMembership
	if err := s.queryAll(ctx, TableIterativeMemberships, "", "Tag", tag, &members, "query iterative members"); err != nil {
		return nil, err
	}
	return members, nil
}

// IterativeMembershipsOfSubscriber reverse-queries all iterative tags a
// subscriber belongs to via the subscriber index.
func (s *Store) IterativeMembershipsOfSubscriber(ctx context.Context, key SubscriberKey) ([]IterativeMembership, error) {
	var members []IterativeMembership
	if err := s.queryAll(ctx, TableIterativeMemberships, SubscriberIndex, "Subscriber", key.String(), &members, "query iterative memberships"); err != nil {
		return nil, err
	}
	return members, nil
}

// PutTopicMembership stores one topic tag membership row.
func (s *Store) PutTopicMembership(ctx context.Context, m *TopicMembership) error {
	return s.putItem(ctx, TableTopicMemberships, m, "put topic membership")
}

// GetTopicMembership loads one topic membership row, typically to
// recover the subscription handle before an unsubscribe.
func (s *Store) GetTopicMembership(ctx context.Context, tag string, key SubscriberKey) (*TopicMembership, error) {
	var m TopicMembership
	if err := s.getItem(ctx, TableTopicMemberships, membershipKeyAV(tag, key), &m, "get topic membership"); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteTopicMembership removes one topic membership row.
func (s *Store) DeleteTopicMembership(ctx context.Context, tag string, key SubscriberKey) error {
	return s.deleteItem(ctx, TableTopicMemberships, membershipKeyAV(tag, key), "delete topic membership")
}

// TopicMembersOfTag enumerates every membership row of one topic tag.
func (s *Store) TopicMembersOfTag(ctx context.Context, tag string) ([]TopicMembership, error) {
	var members []TopicMembership
	if err := s.queryAll(ctx, TableTopicMemberships, "", "Tag", tag, &members, "query topic members"); err != nil {
		return nil, err
	}
	return members, nil
}

// TopicMembershipsOfSubscriber reverse-queries all topic tags a
// subscriber belongs to via the subscriber index.
func (s *Store) TopicMembershipsOfSubscriber(ctx context.Context, key SubscriberKey) ([]TopicMembership, error) {
	var members []TopicMembership
	if err := s.queryAll(ctx, TableTopicMemberships, SubscriberIndex, "Subscriber", key.String(), &members, "query topic memberships"); err != nil {
		return nil, err
	}
	return members, nil
}

// PutLogEntry appends one delivery log row.
func (s *Store) PutLogEntry(ctx context.Context, entry *LogEntry) error {
	return s.putItem(ctx, TableLogs, entry, "put log entry")
}

// TableExists probes whether a raw table has been provisioned. Used once
// per process to decide whether tagging operations are available.
func (s *Store) TableExists(ctx context.Context, raw string) (bool, error) {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.TableName(raw)),
	})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return false, nil
		}
		return false, classify(err, "describe table")
	}
	return true, nil
}
