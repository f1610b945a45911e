package types

import (
	"time"
)

// NotificationEvent is the immutable inbound event the pipeline processes.
// EventID is the idempotency key: duplicate deliveries of the same event
// from the at-least-once queue must not produce duplicate user-visible
// notifications. JSON tags use snake_case to match the producer contract.
type NotificationEvent struct {
	EventID     string         `json:"event_id" validate:"required"`
	EventType   EventType      `json:"event_type" validate:"required"`
	UserID      string         `json:"user_id" validate:"required"`
	ProjectID   string         `json:"project_id,omitempty"`
	ChannelHint ChannelType    `json:"channel_hint,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
}

// QuietHours is a per-user window during which non-critical notifications
// are suppressed. The window is [StartHour, EndHour) in the user's timezone
// and may wrap past midnight (e.g. 22 to 7).
type QuietHours struct {
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Timezone  string `json:"timezone"`
}

// FrequencyLimit caps how many notifications of one event type are sent
// within a trailing window before the rest are batched into a digest.
type FrequencyLimit struct {
	MaxPerWindow  int `json:"max_per_window"`
	WindowMinutes int `json:"window_minutes"`
}

// ContactInfo holds the per-channel delivery addresses for a user.
type ContactInfo struct {
	Email      string `json:"email,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// UserPreferences is the pipeline's read-only view of a user's notification
// settings. Mutations happen through the external preferences API only.
type UserPreferences struct {
	UserID                    string                       `json:"user_id"`
	ChannelsEnabled           []ChannelType                `json:"channels_enabled"`
	QuietHours                *QuietHours                  `json:"quiet_hours,omitempty"`
	FrequencyLimits           map[EventType]FrequencyLimit `json:"frequency_limits,omitempty"`
	CriticalAlertsBypassPrefs bool                         `json:"critical_alerts_bypass_preferences"`
	ContactInfo               ContactInfo                  `json:"contact_info"`
}

// ChannelEnabled reports whether the given channel appears in the user's
// enabled set.
func (p *UserPreferences) ChannelEnabled(ch ChannelType) bool {
	for _, c := range p.ChannelsEnabled {
		if c == ch {
			return true
		}
	}
	return false
}

// FrequencyLimitFor returns the configured limit for an event type, or the
// provided fallback when the user has no explicit limit.
func (p *UserPreferences) FrequencyLimitFor(et EventType, fallback FrequencyLimit) FrequencyLimit {
	if l, ok := p.FrequencyLimits[et]; ok {
		return l
	}
	return fallback
}

// DefaultPreferences returns the documented defaults applied when no stored
// preference record exists: all channels enabled, no quiet hours, and a
// conservative frequency cap.
func DefaultPreferences(userID string) *UserPreferences {
	return &UserPreferences{
		UserID: userID,
		ChannelsEnabled: []ChannelType{
			ChannelWebhook, ChannelBroadcast, ChannelEmail, ChannelInApp,
		},
		CriticalAlertsBypassPrefs: true,
	}
}

// NotificationTemplate is a stored template selected by exact
// (event_type, channel) match, with a "default" event-type fallback row.
type NotificationTemplate struct {
	TemplateID      string      `json:"template_id"`
	EventType       EventType   `json:"event_type"`
	Channel         ChannelType `json:"channel"`
	SubjectTemplate string      `json:"subject_template"`
	BodyTemplate    string      `json:"body_template"`
	Version         int         `json:"version"`
}

// RenderedContent is the result of substituting event context into a
// template's subject and body.
type RenderedContent struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// DeliveryAttempt is one append-only entry in an event's audit trail. A
// fallback delivery creates a second record (with FallbackFrom set) rather
// than mutating the first.
type DeliveryAttempt struct {
	AttemptID    string        `json:"attempt_id"`
	EventID      string        `json:"event_id"`
	UserID       string        `json:"user_id"`
	EventType    EventType     `json:"event_type"`
	Channel      ChannelType   `json:"channel"`
	Status       AttemptStatus `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	FallbackFrom ChannelType   `json:"fallback_from,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// AlertDetails carries the rule-specific evidence attached to a critical alert.
type AlertDetails struct {
	FailureRate         *float64   `json:"failure_rate,omitempty"`
	ConsecutiveFailures *int       `json:"consecutive_failures,omitempty"`
	AffectedTests       []string   `json:"affected_tests,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

// CriticalAlert is produced by the failure detector and converted 1:1 into
// a NotificationEvent with event type critical_alert.
type CriticalAlert struct {
	AlertType        AlertType    `json:"alert_type"`
	TestCaseID       string       `json:"test_case_id,omitempty"`
	TestSuiteID      string       `json:"test_suite_id,omitempty"`
	SuiteExecutionID string       `json:"suite_execution_id,omitempty"`
	Severity         Severity     `json:"severity"`
	Reason           string       `json:"reason"`
	Details          AlertDetails `json:"details"`
	Timestamp        time.Time    `json:"timestamp"`
}

// ToNotificationEvent converts the alert into a pipeline event addressed to
// the given user. The alert payload lands in the event context so templates
// can render the evidence.
func (a *CriticalAlert) ToNotificationEvent(eventID, userID, projectID string) NotificationEvent {
	ctx := map[string]any{
		"alert_type": string(a.AlertType),
		"severity":   string(a.Severity),
		"reason":     a.Reason,
	}
	if a.TestCaseID != "" {
		ctx["test_case_id"] = a.TestCaseID
	}
	if a.TestSuiteID != "" {
		ctx["test_suite_id"] = a.TestSuiteID
	}
	if a.SuiteExecutionID != "" {
		ctx["suite_execution_id"] = a.SuiteExecutionID
	}
	if a.Details.FailureRate != nil {
		ctx["failure_rate"] = *a.Details.FailureRate
	}
	if a.Details.ConsecutiveFailures != nil {
		ctx["consecutive_failures"] = *a.Details.ConsecutiveFailures
	}
	if len(a.Details.AffectedTests) > 0 {
		ctx["affected_tests"] = a.Details.AffectedTests
	}
	if a.Details.LastFailure != nil {
		ctx["last_failure"] = a.Details.LastFailure.Format(time.RFC3339)
	}

	return NotificationEvent{
		EventID:   eventID,
		EventType: EventCriticalAlert,
		UserID:    userID,
		ProjectID: projectID,
		Context:   ctx,
		CreatedAt: a.Timestamp,
	}
}

// ExecutionRecord is one test-case execution as read from the execution
// history store. Records are ordered by ExecutedAt descending when fetched
// for consecutive-failure detection.
type ExecutionRecord struct {
	ExecutionID      string          `json:"execution_id"`
	TestCaseID       string          `json:"test_case_id"`
	TestSuiteID      string          `json:"test_suite_id,omitempty"`
	SuiteExecutionID string          `json:"suite_execution_id,omitempty"`
	Status           ExecutionStatus `json:"status"`
	ExecutedAt       time.Time       `json:"executed_at"`
}
