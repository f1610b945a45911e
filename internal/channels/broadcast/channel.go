// Package broadcast implements the broadcast delivery channel: notifications
// published to an SNS topic that downstream consumers (in-app feeds, mobile
// push, dashboards) fan out from. It is the default channel for users
// without a webhook URL and the fallback when webhook delivery exhausts its
// retries.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"relaypoint/internal/types"
)

// SNSPublisher abstracts the SNS Publish operation for testability.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// message is the JSON body published to the topic. Subscribers filter on
// the user_id and event_type message attributes.
type message struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Channel publishes notifications to an SNS topic.
type Channel struct {
	client   SNSPublisher
	topicARN string
	logger   types.Logger
}

// New creates a broadcast Channel publishing to the given topic.
func New(client SNSPublisher, topicARN string, logger types.Logger) (*Channel, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("broadcast channel: topic ARN is empty")
	}
	return &Channel{client: client, topicARN: topicARN, logger: logger}, nil
}

// Channel returns the channel type identifier.
func (c *Channel) Channel() types.ChannelType {
	return types.ChannelBroadcast
}

// Send publishes the rendered content to the topic. The recipient is the
// target user ID, attached as a message attribute for subscription filtering.
// SNS errors are classified as transient server errors; the service either
// accepts the publish or is unavailable.
func (c *Channel) Send(ctx context.Context, recipient string, content types.RenderedContent, event *types.NotificationEvent) (string, error) {
	body, err := json.Marshal(message{
		EventID:   event.EventID,
		EventType: string(event.EventType),
		UserID:    recipient,
		ProjectID: event.ProjectID,
		Subject:   content.Subject,
		Body:      content.Body,
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "encoding broadcast message", err)
	}

	out, err := c.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.topicARN),
		Message:  aws.String(string(body)),
		Subject:  subjectOrDefault(content.Subject),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"user_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(recipient),
			},
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.EventType)),
			},
		},
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeTransportServer, "publishing broadcast notification", err)
	}

	return aws.ToString(out.MessageId), nil
}

// subjectOrDefault works around the SNS restriction that Subject, when set,
// must be non-empty.
func subjectOrDefault(subject string) *string {
	if subject == "" {
		return nil
	}
	return aws.String(subject)
}
