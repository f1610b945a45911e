// Package pipeline implements the notification decision pipeline: preference
// filtering, quiet-hours suppression, frequency-based batching, template
// selection and rendering, multi-channel routing with fallback, delivery
// history recording, and the critical-alert override.
//
// Each stage either continues with updated context or produces a terminal
// Outcome, so the full decision trace is inspectable and testable per stage.
package pipeline

import (
	"context"
	"time"

	"relaypoint/internal/resilience"
	"relaypoint/internal/types"
)

// Decision is the terminal state of a processed event.
type Decision string

const (
	DecisionDelivered  Decision = "delivered"
	DecisionSuppressed Decision = "suppressed"
	DecisionBatched    Decision = "batched"
	DecisionFailed     Decision = "failed"
)

// AttemptStatus maps the terminal decision onto the status recorded in the
// delivery history.
func (d Decision) AttemptStatus() types.AttemptStatus {
	switch d {
	case DecisionDelivered:
		return types.AttemptStatusSent
	case DecisionSuppressed:
		return types.AttemptStatusSuppressed
	case DecisionBatched:
		return types.AttemptStatusBatched
	default:
		return types.AttemptStatusFailed
	}
}

// Outcome is the result of processing one event through the pipeline.
type Outcome struct {
	Decision     Decision
	Reason       string
	Channel      types.ChannelType
	FallbackUsed bool
}

// PreferenceStore is the read-only view over persisted user preferences.
// Implementations return documented defaults when no record exists; they
// never return (nil, nil).
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*types.UserPreferences, error)
}

// TemplateStore resolves templates by exact (event type, channel) match.
// A missing template is (nil, nil); errors are reserved for store failures.
type TemplateStore interface {
	Get(ctx context.Context, eventType types.EventType, channel types.ChannelType) (*types.NotificationTemplate, error)
}

// HistoryStore is the append-only delivery audit trail. InsertIfAbsent uses
// the deterministic attempt ID as the (eventId, channel) deduplication key,
// so re-processing a duplicate queue delivery finds the prior attempt
// instead of resending.
type HistoryStore interface {
	InsertIfAbsent(ctx context.Context, attempt *types.DeliveryAttempt) (created bool, err error)
	Get(ctx context.Context, attemptID string) (*types.DeliveryAttempt, error)
	UpdateStatus(ctx context.Context, attemptID string, status types.AttemptStatus, reason string) error
	CountSentSince(ctx context.Context, userID string, eventType types.EventType, since time.Time) (int, error)
}

// OriginUpdater propagates the final attempt status back to the event's
// origin record (e.g. an analysis or execution row) when one exists.
type OriginUpdater interface {
	UpdateNotificationStatus(ctx context.Context, event *types.NotificationEvent, status types.AttemptStatus) error
}

// Transport sends rendered content to a recipient over one channel. Send
// failures carry an AppError transport code so the resilience kernel can
// classify them; only timeouts, server errors, and rate limiting are
// retried.
type Transport interface {
	Channel() types.ChannelType
	Send(ctx context.Context, recipient string, content types.RenderedContent, event *types.NotificationEvent) (providerMsgID string, err error)
}

// Config holds the pipeline's tunable behavior.
type Config struct {
	// DefaultFrequencyLimit applies to users without an explicit limit for
	// the event type. A zero MaxPerWindow disables frequency limiting.
	DefaultFrequencyLimit types.FrequencyLimit

	// RetryPolicies keys retry behavior by channel. Channels without an
	// entry use resilience.WebhookRetryPolicy.
	RetryPolicies map[types.ChannelType]resilience.RetryPolicy
}

// DefaultConfig returns conservative pipeline defaults.
func DefaultConfig() Config {
	return Config{
		DefaultFrequencyLimit: types.FrequencyLimit{MaxPerWindow: 10, WindowMinutes: 60},
		RetryPolicies: map[types.ChannelType]resilience.RetryPolicy{
			types.ChannelWebhook:   resilience.WebhookRetryPolicy,
			types.ChannelBroadcast: resilience.BroadcastRetryPolicy,
		},
	}
}
