package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

type dynamoPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoDeliveryLog stores delivery attempts in a DynamoDB table keyed by id.
// Items expire after ttl when the table has TTL enabled on expires_at.
type DynamoDeliveryLog struct {
	client dynamoPutter
	table  string
	ttl    time.Duration
}

func NewDynamoDeliveryLog(client dynamoPutter, table string, ttl time.Duration) *DynamoDeliveryLog {
	return &DynamoDeliveryLog{client: client, table: table, ttl: ttl}
}

func (d *DynamoDeliveryLog) Record(ctx context.Context, log *DeliveryLog) error {
	if d.ttl > 0 {
		log.ExpiresAt = log.Timestamp.Add(d.ttl).Unix()
	}

	item, err := attributevalue.MarshalMap(log)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery log: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put delivery log: %w", err)
	}
	return nil
}
