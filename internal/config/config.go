// Package config defines the global configuration for the relaypoint
// workers. Configuration is loaded once at process initialization (Lambda
// cold start) and immutable thereafter, following 12-Factor principles.
//
// Any missing required value or invalid format fails the cold start
// immediately rather than limping along with a partial config.
package config

import (
	"time"

	"relaypoint/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only
// the config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"relaypoint"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Database   DatabaseConfig
	AWS        AWSConfig
	Webhook    WebhookConfig
	Resilience ResilienceConfig
	Pipeline   PipelineConfig
	Detector   DetectorConfig
	Digest     DigestConfig
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	NotificationQueue string `envconfig:"SQS_NOTIFICATIONS" validate:"required,url"`
	SuiteEventsQueue  string `envconfig:"SQS_SUITE_EVENTS" validate:"required,url"`
	BroadcastTopicARN string `envconfig:"SNS_BROADCAST_TOPIC" validate:"required"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// WebhookConfig holds settings for outbound webhook delivery.
type WebhookConfig struct {
	UserAgent      string        `envconfig:"WEBHOOK_USER_AGENT" default:"Relaypoint-Webhook/1.0"`
	DefaultTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxRedirects   int           `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3"`

	SigningSecret           SecretString `envconfig:"WEBHOOK_SIGNING_SECRET" validate:"required"`
	PreviousSigningSecret   SecretString `envconfig:"WEBHOOK_SIGNING_SECRET_PREVIOUS"`
	PreviousSecretExpiresAt string       `envconfig:"WEBHOOK_SIGNING_SECRET_PREVIOUS_EXPIRES_AT"` // RFC3339
}

// ResilienceConfig tunes the retry and circuit breaker behavior shared by
// all outbound dependencies.
type ResilienceConfig struct {
	MaxRetryAttempts        int           `envconfig:"RESILIENCE_MAX_ATTEMPTS" default:"3"`
	BreakerFailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerResetTimeout     time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"30s"`
	BreakerHalfOpenMax      uint32        `envconfig:"BREAKER_HALF_OPEN_MAX" default:"1"`
}

// PipelineConfig tunes the notification pipeline defaults.
type PipelineConfig struct {
	DefaultMaxPerWindow  int `envconfig:"FREQ_DEFAULT_MAX_PER_WINDOW" default:"10"`
	DefaultWindowMinutes int `envconfig:"FREQ_DEFAULT_WINDOW_MINUTES" default:"60"`

	// MaxQueueRetries caps the publish-subscribe retry cycle for transient
	// infrastructure failures before a message is handed to the DLQ.
	MaxQueueRetries int `envconfig:"PIPELINE_MAX_QUEUE_RETRIES" default:"5"`
}

// DetectorConfig tunes the failure detector rules.
type DetectorConfig struct {
	ConsecutiveFailureLimit int `envconfig:"DETECTOR_CONSECUTIVE_LIMIT" default:"3"`
}

// DigestConfig tunes the scheduled digest worker.
type DigestConfig struct {
	MinAge      time.Duration `envconfig:"DIGEST_MIN_AGE" default:"1h"`
	MaxAttempts int           `envconfig:"DIGEST_MAX_ATTEMPTS" default:"1000"`
	Concurrency int           `envconfig:"DIGEST_CONCURRENCY" default:"8"`
}
