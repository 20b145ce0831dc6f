package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MemoryStore persists per-conversation message history in a DynamoDB table
// keyed by conversation id. History is append-only during normal operation.
type MemoryStore struct {
	client *dynamodb.Client
	table  string
}

// NewMemoryStore creates a store backed by the given table.
func NewMemoryStore(client *dynamodb.Client, table string) *MemoryStore {
	return &MemoryStore{client: client, table: table}
}

// historyItem is the stored shape of one conversation.
type historyItem struct {
	SessionID string    `dynamodbav:"SessionId"`
	History   []Message `dynamodbav:"History"`
}

// Create writes an empty history for a new conversation.
func (s *MemoryStore) Create(ctx context.Context, conversationID string) error {
	item, err := attributevalue.MarshalMap(historyItem{
		SessionID: conversationID,
		History:   []Message{},
	})
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return withRetry(ctx, func() error {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      item,
		})
		return err
	})
}

// Get returns a conversation's full ordered history.
// Returns ErrConversationNotFound if the conversation does not exist.
func (s *MemoryStore) Get(ctx context.Context, conversationID string) ([]Message, error) {
	var out *dynamodb.GetItemOutput
	err := withRetry(ctx, func() error {
		var err error
		out, err = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.table),
			Key:       conversationKey(conversationID),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	if out.Item == nil {
		return nil, ErrConversationNotFound
	}

	var item historyItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return item.History, nil
}

// AppendTurn appends a user message and the assistant's reply as a single
// list_append, so no reader ever observes the assistant turn without the
// user turn that preceded it.
func (s *MemoryStore) AppendTurn(ctx context.Context, conversationID string, user, assistant Message) error {
	turn, err := attributevalue.Marshal([]Message{user, assistant})
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	err = withRetry(ctx, func() error {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(s.table),
			Key:              conversationKey(conversationID),
			UpdateExpression: aws.String("SET History = list_append(History, :turn)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":turn": turn,
			},
			ConditionExpression: aws.String("attribute_exists(SessionId)"),
		})
		return err
	})
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Delete removes a conversation's history.
func (s *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	return withRetry(ctx, func() error {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       conversationKey(conversationID),
		})
		return err
	})
}

func conversationKey(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"SessionId": &types.AttributeValueMemberS{Value: conversationID},
	}
}
