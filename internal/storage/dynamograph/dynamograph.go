// Package dynamograph optionally mirrors key-state and speaker-audit
// records to DynamoDB for multi-host fleets, where the local
// filesystem-backed keymanager/metrics state is per-host and a shared
// table lets every host see the same rotation decisions. Single-table
// design: PK/SK item keys, attributevalue marshaling, conditional
// PutItem.
package dynamograph

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

// KeyStateItem mirrors one API key's rotation state, keyed FLEET#<id> /
// KEY#<index> in the same single table as AuditItem.
type KeyStateItem struct {
	PK                  string `dynamodbav:"PK"`
	SK                  string `dynamodbav:"SK"`
	KeyIndex            int    `dynamodbav:"keyIndex"`
	KeyName             string `dynamodbav:"keyName"`
	Status              string `dynamodbav:"status"`
	ConsecutiveFailures int    `dynamodbav:"consecutiveFailures"`
	RequestsToday       int    `dynamodbav:"requestsToday"`
	TokensToday         int    `dynamodbav:"tokensToday"`
	UpdatedAt           string `dynamodbav:"updatedAt"`
}

// AuditItem mirrors one speaker-remapping audit record.
type AuditItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	ID        string `dynamodbav:"id"`
	EpisodeID string `dynamodbav:"episodeId"`
	OldLabel  string `dynamodbav:"oldLabel"`
	NewLabel  string `dynamodbav:"newLabel"`
	Reason    string `dynamodbav:"reason,omitempty"`
	Timestamp string `dynamodbav:"timestamp"`
}

// Store mirrors key-state and audit records to a single DynamoDB table.
type Store struct {
	client    *dynamodb.Client
	tableName string
}

// NewStore builds a mirror store bound to tableName.
func NewStore(client *dynamodb.Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// PutKeyState upserts the rotation state of one API key.
func (s *Store) PutKeyState(ctx context.Context, fleetID string, index int, keyName, status string, consecutiveFailures, requestsToday, tokensToday int) error {
	item := KeyStateItem{
		PK:                  "FLEET#" + fleetID,
		SK:                  fmt.Sprintf("KEY#%04d", index),
		KeyIndex:            index,
		KeyName:             keyName,
		Status:              status,
		ConsecutiveFailures: consecutiveFailures,
		RequestsToday:       requestsToday,
		TokensToday:         tokensToday,
		UpdatedAt:           time.Now().UTC().Format(time.RFC3339),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal key state item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: av})
	if err != nil {
		return fmt.Errorf("put key state item: %w", err)
	}
	return nil
}

// ListKeyStates returns every mirrored key state for fleetID.
func (s *Store) ListKeyStates(ctx context.Context, fleetID string) ([]KeyStateItem, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: "FLEET#" + fleetID},
			":prefix": &types.AttributeValueMemberS{Value: "KEY#"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query key states: %w", err)
	}
	var items []KeyStateItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal key states: %w", err)
	}
	return items, nil
}

// PutAudit mirrors one speaker-remapping audit record, namespaced by
// podcast so each database's own audit stream stays isolated.
func (s *Store) PutAudit(ctx context.Context, podcastID string, rec episode.AuditRecord) error {
	item := AuditItem{
		PK:        "PODCAST#" + podcastID,
		SK:        "AUDIT#" + rec.EpisodeID + "#" + rec.ID,
		ID:        rec.ID,
		EpisodeID: rec.EpisodeID,
		OldLabel:  rec.OldLabel,
		NewLabel:  rec.NewLabel,
		Reason:    rec.Reason,
		Timestamp: rec.Timestamp,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal audit item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("put audit item: %w", err)
	}
	return nil
}

// ListAudits returns every mirrored audit record for podcastID.
func (s *Store) ListAudits(ctx context.Context, podcastID string) ([]AuditItem, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: "PODCAST#" + podcastID},
			":prefix": &types.AttributeValueMemberS{Value: "AUDIT#"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	var items []AuditItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal audits: %w", err)
	}
	return items, nil
}
