package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/types"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) With(args ...any) types.Logger { return nopLogger{} }

// fakeHistory implements ExecutionHistory from in-memory fixtures.
type fakeHistory struct {
	suiteResults map[string][]types.ExecutionRecord
	recent       map[string][]types.ExecutionRecord
	err          error
}

func (f *fakeHistory) SuiteResults(ctx context.Context, suiteExecutionID string) ([]types.ExecutionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.suiteResults[suiteExecutionID], nil
}

func (f *fakeHistory) RecentForTestCase(ctx context.Context, testCaseID string, limit int) ([]types.ExecutionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	rows := f.recent[testCaseID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func record(tc string, status types.ExecutionStatus, at time.Time) types.ExecutionRecord {
	return types.ExecutionRecord{
		ExecutionID: "exec_" + tc,
		TestCaseID:  tc,
		TestSuiteID: "suite_1",
		Status:      status,
		ExecutedAt:  at,
	}
}

func TestDetectSuiteFailureRate(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		results []types.ExecutionRecord
		alert   bool
	}{
		{
			name: "majority failed triggers",
			results: []types.ExecutionRecord{
				record("tc1", types.ExecutionFailed, now),
				record("tc2", types.ExecutionFailed, now),
				record("tc3", types.ExecutionPassed, now),
			},
			alert: true,
		},
		{
			name: "exactly half does not trigger",
			results: []types.ExecutionRecord{
				record("tc1", types.ExecutionFailed, now),
				record("tc2", types.ExecutionPassed, now),
			},
			alert: false,
		},
		{
			name: "all passed does not trigger",
			results: []types.ExecutionRecord{
				record("tc1", types.ExecutionPassed, now),
				record("tc2", types.ExecutionPassed, now),
			},
			alert: false,
		},
		{
			name:    "no results does not trigger",
			results: nil,
			alert:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &fakeHistory{
				suiteResults: map[string][]types.ExecutionRecord{"se_1": tt.results},
			}
			d := New(history, fakeClock{now: now}, nopLogger{})

			alert, err := d.DetectSuiteFailureRate(context.Background(), "se_1")
			require.NoError(t, err)

			if !tt.alert {
				assert.Nil(t, alert)
				return
			}

			require.NotNil(t, alert)
			assert.Equal(t, types.AlertSuiteFailureThreshold, alert.AlertType)
			assert.Equal(t, types.SeverityCritical, alert.Severity)
			assert.Equal(t, "se_1", alert.SuiteExecutionID)
			require.NotNil(t, alert.Details.FailureRate)
			assert.InDelta(t, 2.0/3.0, *alert.Details.FailureRate, 1e-9)
			assert.Equal(t, []string{"tc1", "tc2"}, alert.Details.AffectedTests)
			assert.Equal(t, now, alert.Timestamp)
		})
	}
}

func TestDetectConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	// Most recent first, matching the store's recency-descending order.
	tests := []struct {
		name   string
		recent []types.ExecutionRecord
		alert  bool
	}{
		{
			name: "three straight failures triggers",
			recent: []types.ExecutionRecord{
				record("tc1", types.ExecutionFailed, now),
				record("tc1", types.ExecutionFailed, now.Add(-time.Hour)),
				record("tc1", types.ExecutionFailed, now.Add(-2*time.Hour)),
			},
			alert: true,
		},
		{
			name: "pass in the window resets eligibility",
			recent: []types.ExecutionRecord{
				record("tc1", types.ExecutionFailed, now),
				record("tc1", types.ExecutionFailed, now.Add(-time.Hour)),
				record("tc1", types.ExecutionPassed, now.Add(-2*time.Hour)),
			},
			alert: false,
		},
		{
			name: "fewer executions than limit is insufficient data",
			recent: []types.ExecutionRecord{
				record("tc1", types.ExecutionFailed, now),
				record("tc1", types.ExecutionFailed, now.Add(-time.Hour)),
			},
			alert: false,
		},
		{
			name:   "no history does not trigger",
			recent: nil,
			alert:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &fakeHistory{
				recent: map[string][]types.ExecutionRecord{"tc1": tt.recent},
			}
			d := New(history, fakeClock{now: now}, nopLogger{})

			alert, err := d.DetectConsecutiveFailures(context.Background(), "tc1", 3)
			require.NoError(t, err)

			if !tt.alert {
				assert.Nil(t, alert)
				return
			}

			require.NotNil(t, alert)
			assert.Equal(t, types.AlertConsecutiveFailures, alert.AlertType)
			assert.Equal(t, "tc1", alert.TestCaseID)
			require.NotNil(t, alert.Details.ConsecutiveFailures)
			assert.Equal(t, 3, *alert.Details.ConsecutiveFailures)
			require.NotNil(t, alert.Details.LastFailure)
			assert.Equal(t, now, *alert.Details.LastFailure)
		})
	}
}

func TestDetectors_PropagateStoreErrors(t *testing.T) {
	storeErr := errors.New("connection refused")
	d := New(&fakeHistory{err: storeErr}, fakeClock{}, nopLogger{})

	_, err := d.DetectSuiteFailureRate(context.Background(), "se_1")
	assert.ErrorIs(t, err, storeErr)

	_, err = d.DetectConsecutiveFailures(context.Background(), "tc1", 3)
	assert.ErrorIs(t, err, storeErr)
}

func TestCriticalAlert_ToNotificationEvent(t *testing.T) {
	rate := 0.75
	alert := types.CriticalAlert{
		AlertType:        types.AlertSuiteFailureThreshold,
		SuiteExecutionID: "se_9",
		Severity:         types.SeverityCritical,
		Reason:           "3 of 4 test cases failed (75%)",
		Details:          types.AlertDetails{FailureRate: &rate, AffectedTests: []string{"tc1"}},
		Timestamp:        time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	event := alert.ToNotificationEvent("evt_1", "user_1", "proj_1")

	assert.Equal(t, types.EventCriticalAlert, event.EventType)
	assert.Equal(t, "user_1", event.UserID)
	assert.Equal(t, "proj_1", event.ProjectID)
	assert.Equal(t, 0.75, event.Context["failure_rate"])
	assert.Equal(t, []string{"tc1"}, event.Context["affected_tests"])
	assert.Equal(t, alert.Timestamp, event.CreatedAt)
}
