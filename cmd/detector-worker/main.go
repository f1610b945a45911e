// Package main is the entrypoint for the Detector Worker Lambda function.
//
// The Detector Worker consumes suite execution completion messages from the
// suite events SQS queue and evaluates the failure detector rules against
// recent execution history: the per-suite failure rate rule and the
// per-test-case consecutive failures rule. Each alert that fires is
// converted into a critical alert notification event and published to the
// notification queue for pipeline delivery.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"relaypoint/internal/config"
	"relaypoint/internal/db"
	"relaypoint/internal/detector"
	"relaypoint/internal/pipeline"
	"relaypoint/internal/queue"
	"relaypoint/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
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

// failureDetector is the detector surface the handler needs. Satisfied by
// *detector.Detector.
type failureDetector interface {
	DetectSuiteFailureRate(ctx context.Context, suiteExecutionID string) (*types.CriticalAlert, error)
	DetectConsecutiveFailures(ctx context.Context, testCaseID string, limit int) (*types.CriticalAlert, error)
}

// eventPublisher is the queue surface the handler needs. Satisfied by
// *queue.Publisher.
type eventPublisher interface {
	Publish(ctx context.Context, msg types.EventMessage) error
}

// Handler holds the dependencies for the detector worker Lambda handler.
type Handler struct {
	detector         failureDetector
	publisher        eventPublisher
	metrics          pipeline.Metrics
	consecutiveLimit int
	logger           types.Logger
}

// Handle processes an SQS event of suite execution messages. Records that
// fail with infrastructure errors are reported as partial batch failures so
// SQS redelivers only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process suite execution message",
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

// processRecord evaluates both detector rules for one suite execution.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.SuiteExecutionMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal suite execution message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	logger := h.logger.With(
		"suite_execution_id", msg.SuiteExecutionID,
		"test_suite_id", msg.TestSuiteID,
		"trace_id", msg.TraceID,
	)

	requestID := msg.TraceID
	if requestID == "" {
		requestID = record.MessageId
	}
	ctx = types.WithRequestID(ctx, requestID)
	ctx = types.WithLogger(ctx, logger)

	alert, err := h.detector.DetectSuiteFailureRate(ctx, msg.SuiteExecutionID)
	if err != nil {
		return fmt.Errorf("suite failure rate: %w", err)
	}
	if alert != nil {
		if err := h.emitAlert(ctx, alert, msg, logger); err != nil {
			return err
		}
	}

	for _, testCaseID := range msg.TestCaseIDs {
		alert, err := h.detector.DetectConsecutiveFailures(ctx, testCaseID, h.consecutiveLimit)
		if err != nil {
			return fmt.Errorf("consecutive failures for %s: %w", testCaseID, err)
		}
		if alert == nil {
			continue
		}
		if err := h.emitAlert(ctx, alert, msg, logger); err != nil {
			return err
		}
	}

	return nil
}

// alertEventID derives the event ID from the alert identity so a redelivered
// suite execution message reproduces the same ID and the pipeline's
// (eventId, channel) dedup collapses the repeat instead of double-notifying.
func alertEventID(alert *types.CriticalAlert, msg types.SuiteExecutionMessage) string {
	if alert.AlertType == types.AlertConsecutiveFailures {
		return fmt.Sprintf("evt_alert_%s_%s_%s", alert.AlertType, msg.SuiteExecutionID, alert.TestCaseID)
	}
	return fmt.Sprintf("evt_alert_%s_%s", alert.AlertType, msg.SuiteExecutionID)
}

// emitAlert publishes a critical alert event to the notification queue.
func (h *Handler) emitAlert(ctx context.Context, alert *types.CriticalAlert, msg types.SuiteExecutionMessage, logger types.Logger) error {
	eventID := alertEventID(alert, msg)
	event := alert.ToNotificationEvent(eventID, msg.UserID, msg.ProjectID)

	if err := h.publisher.Publish(ctx, types.EventMessage{
		NotificationEvent: event,
		TraceID:           msg.TraceID,
	}); err != nil {
		return fmt.Errorf("publish critical alert: %w", err)
	}

	h.metrics.RecordCriticalAlert(ctx, alert.AlertType)
	logger.Warn("critical alert emitted",
		"alert_type", string(alert.AlertType),
		"event_id", eventID,
		"reason", alert.Reason,
	)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("service", cfg.Service, "env", cfg.Environment)

	logger.Info("detector worker initializing (cold start)")
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
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to connect to database", "error", err.Error())
		os.Exit(1)
	}

	executionRepo := db.NewExecutionRepository(pool)
	det := detector.New(executionRepo, types.RealClock{}, typedLogger)
	publisher := queue.NewPublisher(sqsClient, cfg.AWS.NotificationQueue, typedLogger)
	metrics := pipeline.NewCloudWatchMetrics(cwClient, typedLogger)

	handler := &Handler{
		detector:         det,
		publisher:        publisher,
		metrics:          metrics,
		consecutiveLimit: cfg.Detector.ConsecutiveFailureLimit,
		logger:           typedLogger,
	}

	logger.Info("detector worker initialized",
		"suite_events_queue", cfg.AWS.SuiteEventsQueue,
		"notification_queue", cfg.AWS.NotificationQueue,
		"consecutive_limit", cfg.Detector.ConsecutiveFailureLimit,
	)

	lambda.Start(handler.Handle)
}
