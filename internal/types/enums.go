package types

// EventType identifies the kind of notification event.
type EventType string

const (
	EventAnalysisComplete   EventType = "analysis_complete"
	EventAnalysisFailed     EventType = "analysis_failed"
	EventTestSuiteCompleted EventType = "test_suite_completed"
	EventTestSuiteFailed    EventType = "test_suite_failed"
	EventCriticalAlert      EventType = "critical_alert"
	EventDigest             EventType = "notification_digest"

	// EventTypeDefault is the template-store key for the fallback template
	// row used when no exact (event_type, channel) template exists.
	EventTypeDefault EventType = "default"
)

// KnownEventTypes is the set of event types the pipeline accepts from the
// inbound queue. Anything else terminates with reason unknown_event_type
// and is not retried.
var KnownEventTypes = map[EventType]bool{
	EventAnalysisComplete:   true,
	EventAnalysisFailed:     true,
	EventTestSuiteCompleted: true,
	EventTestSuiteFailed:    true,
	EventCriticalAlert:      true,
	EventDigest:             true,
}

// ChannelType identifies a notification delivery channel.
type ChannelType string

const (
	ChannelWebhook   ChannelType = "webhook"
	ChannelBroadcast ChannelType = "broadcast"
	ChannelEmail     ChannelType = "email"
	ChannelInApp     ChannelType = "in_app"
)

// AttemptStatus enumerates all valid states for a delivery attempt record.
// These values MUST match the CHECK constraint in the delivery_attempts table.
type AttemptStatus string

const (
	AttemptStatusQueued     AttemptStatus = "queued"
	AttemptStatusSent       AttemptStatus = "sent"
	AttemptStatusFailed     AttemptStatus = "failed"
	AttemptStatusSuppressed AttemptStatus = "suppressed"
	AttemptStatusBatched    AttemptStatus = "batched"
)

// Suppression and failure reasons recorded on delivery attempts. Reason
// strings are part of the operator-facing audit trail, so values are stable.
const (
	ReasonMalformed          = "malformed"
	ReasonUnknownEventType   = "unknown_event_type"
	ReasonPreferenceDisabled = "preference_disabled"
	ReasonQuietHours         = "quiet_hours"
	ReasonFrequencyExceeded  = "frequency_exceeded"
	ReasonTemplateMissing    = "template_missing"
	ReasonAlreadyDelivered   = "already_delivered"
)

// AlertType identifies the failure-detector rule that produced a critical alert.
type AlertType string

const (
	AlertSuiteFailureThreshold AlertType = "suite_failure_threshold"
	AlertConsecutiveFailures   AlertType = "consecutive_failures"
)

// Severity is the priority class of a critical alert. The detector only
// emits Critical today; the type exists so the wire format does not change
// when lower severities are added.
type Severity string

const (
	SeverityCritical Severity = "critical"
)

// ExecutionStatus is the recorded outcome of a single test-case execution.
type ExecutionStatus string

const (
	ExecutionPassed ExecutionStatus = "passed"
	ExecutionFailed ExecutionStatus = "failed"
)
