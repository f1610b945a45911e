// Package main is the entrypoint for the Digest Worker Lambda function.
//
// The Digest Worker runs on an EventBridge schedule. Each invocation sweeps
// delivery attempts that were batched by frequency limiting, groups them per
// user, and publishes one digest notification event per user back onto the
// notification queue. The batched attempts are then linked to the digest
// event so the next sweep skips them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"relaypoint/internal/config"
	"relaypoint/internal/db"
	"relaypoint/internal/digest"
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

// digestRunner is the generator surface the handler needs. Satisfied by
// *digest.Generator.
type digestRunner interface {
	Run(ctx context.Context) (int, error)
}

// Handler holds the dependencies for the digest worker Lambda handler.
type Handler struct {
	generator digestRunner
	logger    types.Logger
}

// Handle runs one digest sweep. A non-nil error makes the scheduled
// invocation visible as failed in Lambda monitoring; individual per-user
// publish failures are already handled inside the generator.
func (h *Handler) Handle(ctx context.Context, _ events.CloudWatchEvent) error {
	published, err := h.generator.Run(ctx)
	if err != nil {
		h.logger.Error("digest sweep failed", "error", err.Error())
		return err
	}

	h.logger.Info("digest sweep completed", "digests_published", published)
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

	logger.Info("digest worker initializing (cold start)")
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

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to connect to database", "error", err.Error())
		os.Exit(1)
	}

	historyRepo := db.NewHistoryRepository(pool)
	publisher := queue.NewPublisher(sqsClient, cfg.AWS.NotificationQueue, typedLogger)

	generator := digest.New(historyRepo, publisher, types.RealClock{}, typedLogger, digest.Config{
		MinAge:      cfg.Digest.MinAge,
		MaxAttempts: cfg.Digest.MaxAttempts,
		Concurrency: cfg.Digest.Concurrency,
	})

	handler := &Handler{
		generator: generator,
		logger:    typedLogger,
	}

	logger.Info("digest worker initialized",
		"notification_queue", cfg.AWS.NotificationQueue,
		"min_age", cfg.Digest.MinAge.String(),
		"max_attempts", cfg.Digest.MaxAttempts,
	)

	lambda.Start(handler.Handle)
}
