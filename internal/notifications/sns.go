package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSChannel publishes status events to a topic for downstream consumers
type SNSChannel struct {
	client   snsPublisher
	topicARN string
}

func NewSNSChannel(client snsPublisher, topicARN string) *SNSChannel {
	return &SNSChannel{client: client, topicARN: topicARN}
}

func (c *SNSChannel) Name() string { return ChannelSNS }

func (c *SNSChannel) Send(ctx context.Context, event StatusEvent) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to encode status event: %w", err)
	}

	out, err := c.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.topicARN),
		Subject:  aws.String(event.Subject()),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Status),
			},
			"previous_status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.PreviousStatus),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", c.topicARN, err)
	}
	return aws.ToString(out.MessageId), nil
}
