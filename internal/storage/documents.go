// Package storage implements the durable document and conversation records
// over DynamoDB. Both tables are plain key-value: the document table is keyed
// by (userid, documentid), the memory table by conversation id.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
)

// DocumentStore persists Document records in a DynamoDB table keyed by
// (userid, documentid).
type DocumentStore struct {
	client *dynamodb.Client
	table  string
}

// NewDocumentStore creates a store backed by the given table.
func NewDocumentStore(client *dynamodb.Client, table string) *DocumentStore {
	return &DocumentStore{client: client, table: table}
}

// Put writes a full document record, overwriting any existing item.
func (s *DocumentStore) Put(ctx context.Context, doc *Document) error {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return withRetry(ctx, func() error {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      item,
		})
		return err
	})
}

// Get fetches one document. Returns ErrDocumentNotFound if absent.
func (s *DocumentStore) Get(ctx context.Context, owner, documentID string) (*Document, error) {
	var out *dynamodb.GetItemOutput
	err := withRetry(ctx, func() error {
		var err error
		out, err = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.table),
			Key:       documentKey(owner, documentID),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if out.Item == nil {
		return nil, ErrDocumentNotFound
	}

	var doc Document
	if err := attributevalue.UnmarshalMap(out.Item, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	sortConversations(doc.Conversations)
	return &doc, nil
}

// List returns all of an owner's documents, newest first. Each document's
// conversations are likewise sorted newest first.
func (s *DocumentStore) List(ctx context.Context, owner string) ([]Document, error) {
	var out *dynamodb.QueryOutput
	err := withRetry(ctx, func() error {
		var err error
		out, err = s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("userid = :owner"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner": &types.AttributeValueMemberS{Value: owner},
			},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	var docs []Document
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &docs); err != nil {
		return nil, fmt.Errorf("unmarshal documents: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Created > docs[j].Created })
	for i := range docs {
		sortConversations(docs[i].Conversations)
	}
	return docs, nil
}

// UpdateStatus moves a document's status forward. The write is guarded by a
// condition expression so a redelivered job can never demote READY; a
// rejected transition is treated as a no-op, not an error.
func (s *DocumentStore) UpdateStatus(ctx context.Context, owner, documentID string, status Status) error {
	input := &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              documentKey(owner, documentID),
		UpdateExpression: aws.String("SET docstatus = :docstatus"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":docstatus": &types.AttributeValueMemberS{Value: string(status)},
		},
		ConditionExpression: aws.String("attribute_exists(documentid)"),
	}
	if status != StatusReady {
		input.ConditionExpression = aws.String("attribute_exists(documentid) AND docstatus <> :ready")
		input.ExpressionAttributeValues[":ready"] = &types.AttributeValueMemberS{Value: string(StatusReady)}
	}

	err := withRetry(ctx, func() error {
		_, err := s.client.UpdateItem(ctx, input)
		return err
	})
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		// Either the document is gone or it is already READY. In both cases
		// the safe answer under redelivery is to leave it alone.
		return nil
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// AppendConversation atomically appends a conversation ref to the document's
// list. DynamoDB's list_append avoids the read-modify-write race two
// concurrent new-conversation requests would otherwise have.
func (s *DocumentStore) AppendConversation(ctx context.Context, owner, documentID string, ref ConversationRef) error {
	refVal, err := attributevalue.Marshal([]ConversationRef{ref})
	if err != nil {
		return fmt.Errorf("marshal conversation ref: %w", err)
	}

	err = withRetry(ctx, func() error {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(s.table),
			Key:              documentKey(owner, documentID),
			UpdateExpression: aws.String("SET conversations = list_append(conversations, :ref)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ref": refVal,
			},
			ConditionExpression: aws.String("attribute_exists(documentid)"),
		})
		return err
	})
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

// Delete removes a document record.
func (s *DocumentStore) Delete(ctx context.Context, owner, documentID string) error {
	return withRetry(ctx, func() error {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       documentKey(owner, documentID),
		})
		return err
	})
}

func documentKey(owner, documentID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userid":     &types.AttributeValueMemberS{Value: owner},
		"documentid": &types.AttributeValueMemberS{Value: documentID},
	}
}

func sortConversations(refs []ConversationRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Created > refs[j].Created })
}

// withRetry runs op with exponential backoff on throttling and server-side
// errors. Anything else is permanent.
func withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isThrottle(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

func isThrottle(err error) bool {
	var throughput *types.ProvisionedThroughputExceededException
	var limit *types.LimitExceededException
	var internal *types.InternalServerError
	return errors.As(err, &throughput) || errors.As(err, &limit) || errors.As(err, &internal)
}
