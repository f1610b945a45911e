// Package queue publishes notification events to the SQS event queue, both
// for initial dispatch and for the publish-subscribe retry cycle where a
// worker re-enqueues a transiently failed message with a backoff delay.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"relaypoint/internal/types"
)

// sqsMaxDelaySeconds is the maximum delay SQS supports (15 minutes).
// Larger backoff values are clamped to it.
const sqsMaxDelaySeconds = 900

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends EventMessages to the notification event queue.
type Publisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewPublisher creates a Publisher targeting the given SQS queue.
func NewPublisher(client SQSSender, queueURL string, logger types.Logger) *Publisher {
	return &Publisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish sends a new event to the queue with no delay and no retry state.
func (p *Publisher) Publish(ctx context.Context, msg types.EventMessage) error {
	return p.send(ctx, msg, 0)
}

// Republish re-enqueues a message after a transient failure. RetryCount is
// incremented before serialization so the next consumer sees an accurate
// attempt number; the delay is clamped to the SQS maximum of 900 seconds.
func (p *Publisher) Republish(ctx context.Context, msg types.EventMessage, delay time.Duration) error {
	msg.RetryCount++
	return p.send(ctx, msg, delay)
}

func (p *Publisher) send(ctx context.Context, msg types.EventMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to marshal event message", err)
	}

	delaySec := int32(delay.Seconds())
	if delaySec > sqsMaxDelaySeconds {
		delaySec = sqsMaxDelaySeconds
	}
	if delaySec < 0 {
		delaySec = 0
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to send message to "+p.queueURL, err)
	}

	fields := []any{
		"event_id", msg.EventID,
		"event_type", string(msg.EventType),
		"retry_count", msg.RetryCount,
		"delay_seconds", delaySec,
		"trace_id", msg.TraceID,
	}
	if rid := types.GetRequestID(ctx); rid != "" {
		fields = append(fields, "request_id", rid)
	}
	p.logger.Info("event message published", fields...)
	return nil
}
