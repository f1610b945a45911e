// Package main is the entrypoint for the Notify Worker Lambda function.
//
// The Notify Worker consumes event messages from the notification SQS queue
// and runs each one through the delivery pipeline: validation, preference
// resolution, channel routing, quiet hours and frequency filtering, template
// rendering, and idempotent delivery over webhook or broadcast.
//
// Cold start (main):
//  1. Load and validate configuration from the environment.
//  2. Initialize the structured logger.
//  3. Load AWS SDK configuration and construct SQS, SNS, CloudWatch clients.
//  4. Open the pgx connection pool and construct repositories.
//  5. Construct delivery channels, the shared breaker registry, and the
//     pipeline.
//  6. Register the handler and call lambda.Start.
//
// Handler flow per SQS record:
//  1. Unmarshal the EventMessage (malformed bodies are ACKed, never retried).
//  2. Record queue lag from the SentTimestamp attribute.
//  3. Run the pipeline. Business outcomes (delivered, suppressed, batched,
//     failed) always ACK; only transient infrastructure errors re-enter the
//     queue, via a delayed republish or a partial batch failure once the
//     republish itself fails or the retry budget is spent.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"relaypoint/internal/channels/broadcast"
	"relaypoint/internal/channels/webhook"
	"relaypoint/internal/config"
	"relaypoint/internal/db"
	"relaypoint/internal/pipeline"
	"relaypoint/internal/queue"
	"relaypoint/internal/resilience"
	"relaypoint/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn directly but With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

// queueRetryPolicy shapes the delay between queue-level redeliveries of a
// message that hit transient infrastructure failures (database or queue
// outages). Delivery-level retries inside the pipeline are separate.
var queueRetryPolicy = resilience.RetryPolicy{
	MaxAttempts:   5,
	InitialDelay:  30 * time.Second,
	MaxDelay:      15 * time.Minute,
	BackoffFactor: 2.0,
}

// eventProcessor is the pipeline surface the handler needs. Satisfied by
// *pipeline.Pipeline.
type eventProcessor interface {
	Process(ctx context.Context, msg types.EventMessage) (*pipeline.Outcome, error)
}

// retryPublisher is the queue surface the handler needs. Satisfied by
// *queue.Publisher.
type retryPublisher interface {
	Republish(ctx context.Context, msg types.EventMessage, delay time.Duration) error
}

// Handler holds the dependencies for the notify worker Lambda handler.
type Handler struct {
	pipeline   eventProcessor
	publisher  retryPublisher
	metrics    pipeline.Metrics
	maxRetries int
	logger     types.Logger
}

// Handle processes an SQS event containing one or more notification event
// messages. Each message is processed independently; messages that fail with
// transient errors and cannot be republished are returned in
// batchItemFailures so SQS redelivers only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord handles a single SQS record through the delivery pipeline.
// A non-nil return means SQS should redeliver the record.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.EventMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal event message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure, do not retry.
		return nil
	}

	logger := h.logger.With(
		"event_id", msg.EventID,
		"event_type", string(msg.EventType),
		"user_id", msg.UserID,
		"retry_count", msg.RetryCount,
		"trace_id", msg.TraceID,
	)

	if sentTimestamp, ok := record.Attributes["SentTimestamp"]; ok {
		if sentAt, err := parseMillisTimestamp(sentTimestamp); err == nil {
			h.metrics.RecordQueueLag(ctx, time.Since(sentAt))
		}
	}

	requestID := msg.TraceID
	if requestID == "" {
		requestID = record.MessageId
	}
	ctx = types.WithRequestID(ctx, requestID)
	ctx = types.WithLogger(ctx, logger)

	outcome, err := h.pipeline.Process(ctx, msg)
	if err != nil {
		return h.handleTransient(ctx, msg, err, logger)
	}

	logger.Info("event processed",
		"decision", string(outcome.Decision),
		"reason", outcome.Reason,
		"channel", string(outcome.Channel),
		"fallback_used", outcome.FallbackUsed,
	)
	return nil
}

// handleTransient implements the publish-subscribe retry pattern: a new
// message with an incremented retry count and a backoff delay is published
// and the original is ACKed. Once the retry budget is spent the record is
// surfaced as a batch item failure so SQS redrive policy moves it to the DLQ.
func (h *Handler) handleTransient(ctx context.Context, msg types.EventMessage, procErr error, logger types.Logger) error {
	if msg.RetryCount >= h.maxRetries {
		return fmt.Errorf("retries exhausted after %d attempts: %w", msg.RetryCount, procErr)
	}

	delay := resilience.Backoff(queueRetryPolicy, msg.RetryCount+1)
	if err := h.publisher.Republish(ctx, msg, delay); err != nil {
		return fmt.Errorf("republish for retry: %w", err)
	}

	logger.Warn("transient failure, retry scheduled",
		"error", procErr.Error(),
		"delay_seconds", int(delay.Seconds()),
	)
	return nil
}

// parseMillisTimestamp parses a millisecond-epoch string into a time.Time.
// Used for the SQS SentTimestamp attribute to calculate queue lag.
func parseMillisTimestamp(ms string) (time.Time, error) {
	var millis int64
	if _, err := fmt.Sscanf(ms, "%d", &millis); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})).With("service", cfg.Service, "env", cfg.Environment)

	logger.Info("notify worker initializing (cold start)")
	typedLogger := &slogAdapter{logger: logger}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err.Error())
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to connect to database", "error", err.Error())
		os.Exit(1)
	}

	prefRepo := db.NewPreferenceRepository(pool)
	templateRepo := db.NewTemplateRepository(pool)
	historyRepo := db.NewHistoryRepository(pool)
	executionRepo := db.NewExecutionRepository(pool)

	previousExpiry, err := cfg.Webhook.PreviousSecretExpiry()
	if err != nil {
		logger.Error("invalid previous signing secret expiry", "error", err.Error())
		os.Exit(1)
	}
	signer, err := webhook.NewSigner(webhook.SigningKeys{
		Secret:            cfg.Webhook.SigningSecret,
		PreviousSecret:    cfg.Webhook.PreviousSigningSecret,
		PreviousExpiresAt: previousExpiry,
	})
	if err != nil {
		logger.Error("failed to create webhook signer", "error", err.Error())
		os.Exit(1)
	}

	webhookChannel, err := webhook.New(webhook.Options{
		UserAgent:    cfg.Webhook.UserAgent,
		Timeout:      cfg.Webhook.DefaultTimeout,
		MaxRedirects: cfg.Webhook.MaxRedirects,
	}, signer, typedLogger)
	if err != nil {
		logger.Error("failed to create webhook channel", "error", err.Error())
		os.Exit(1)
	}

	broadcastChannel, err := broadcast.New(snsClient, cfg.AWS.BroadcastTopicARN, typedLogger)
	if err != nil {
		logger.Error("failed to create broadcast channel", "error", err.Error())
		os.Exit(1)
	}

	breakers := resilience.NewRegistry(resilience.BreakerSettings{
		FailureThreshold:    cfg.Resilience.BreakerFailureThreshold,
		ResetTimeout:        cfg.Resilience.BreakerResetTimeout,
		HalfOpenMaxAttempts: cfg.Resilience.BreakerHalfOpenMax,
	}, typedLogger)

	metrics := pipeline.NewCloudWatchMetrics(cwClient, typedLogger)
	publisher := queue.NewPublisher(sqsClient, cfg.AWS.NotificationQueue, typedLogger)

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.DefaultFrequencyLimit = types.FrequencyLimit{
		MaxPerWindow:  cfg.Pipeline.DefaultMaxPerWindow,
		WindowMinutes: cfg.Pipeline.DefaultWindowMinutes,
	}
	if cfg.Resilience.MaxRetryAttempts > 0 {
		for channel, policy := range pipeCfg.RetryPolicies {
			policy.MaxAttempts = cfg.Resilience.MaxRetryAttempts
			pipeCfg.RetryPolicies[channel] = policy
		}
	}

	pipe := pipeline.New(
		prefRepo,
		templateRepo,
		historyRepo,
		executionRepo,
		[]pipeline.Transport{webhookChannel, broadcastChannel},
		breakers,
		metrics,
		types.RealClock{},
		typedLogger,
		pipeCfg,
	)

	handler := &Handler{
		pipeline:   pipe,
		publisher:  publisher,
		metrics:    metrics,
		maxRetries: cfg.Pipeline.MaxQueueRetries,
		logger:     typedLogger,
	}

	logger.Info("notify worker initialized",
		"notification_queue", cfg.AWS.NotificationQueue,
		"broadcast_topic", cfg.AWS.BroadcastTopicARN,
		"max_queue_retries", cfg.Pipeline.MaxQueueRetries,
	)

	lambda.Start(handler.Handle)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
