package types

// EventMessage is the queue transport envelope for a NotificationEvent.
// The embedded event matches the inbound producer contract exactly; the
// envelope fields are additive and absent on first publication.
//
// RetryCount carries retry state across the publish-subscribe retry cycle:
// workers increment it before re-publishing on transient infrastructure
// failures, so the next consumer sees an accurate attempt number.
type EventMessage struct {
	NotificationEvent

	RetryCount int    `json:"retry_count,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

// SuiteExecutionMessage is the envelope the detector worker consumes when a
// test-suite execution finishes. It identifies the execution to inspect and
// the user to notify if a detector rule fires.
type SuiteExecutionMessage struct {
	SuiteExecutionID string   `json:"suite_execution_id"`
	TestSuiteID      string   `json:"test_suite_id"`
	ProjectID        string   `json:"project_id"`
	UserID           string   `json:"user_id"`
	TestCaseIDs      []string `json:"test_case_ids,omitempty"`
	TraceID          string   `json:"trace_id,omitempty"`
}
