// Package detector inspects recent test execution history and emits
// critical alerts for sustained failures. Both detectors are pure reads
// with no side effects; forwarding an emitted alert into the notification
// pipeline is the caller's responsibility.
package detector

import (
	"context"
	"fmt"

	"relaypoint/internal/types"
)

// ExecutionHistory is the read interface the detector needs over the
// execution store. Satisfied by db.ExecutionRepository.
type ExecutionHistory interface {
	// SuiteResults returns all test-case results recorded for a suite
	// execution.
	SuiteResults(ctx context.Context, suiteExecutionID string) ([]types.ExecutionRecord, error)

	// RecentForTestCase returns up to limit executions for the test case,
	// ordered by recency descending (index 0 is the most recent).
	RecentForTestCase(ctx context.Context, testCaseID string, limit int) ([]types.ExecutionRecord, error)
}

// SuiteFailureRateThreshold is the strict lower bound on failedCount/totalCount
// above which a suite execution is considered critically broken. A rate of
// exactly 0.5 does not trigger.
const SuiteFailureRateThreshold = 0.5

// DefaultConsecutiveFailureLimit is the streak length that triggers a
// consecutive-failures alert when not overridden by configuration.
const DefaultConsecutiveFailureLimit = 3

// Detector evaluates failure rules against execution history.
type Detector struct {
	history ExecutionHistory
	clock   types.Clock
	logger  types.Logger
}

// New creates a Detector over the given execution history.
func New(history ExecutionHistory, clock types.Clock, logger types.Logger) *Detector {
	return &Detector{
		history: history,
		clock:   clock,
		logger:  logger,
	}
}

// DetectSuiteFailureRate reads all test-case results for the suite execution
// and emits a SuiteFailureThreshold alert when strictly more than half of
// them failed. An execution with no recorded results never triggers.
func (d *Detector) DetectSuiteFailureRate(ctx context.Context, suiteExecutionID string) (*types.CriticalAlert, error) {
	results, err := d.history.SuiteResults(ctx, suiteExecutionID)
	if err != nil {
		return nil, fmt.Errorf("detect suite failure rate: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	var failed []string
	suiteID := ""
	for _, r := range results {
		if suiteID == "" {
			suiteID = r.TestSuiteID
		}
		if r.Status == types.ExecutionFailed {
			failed = append(failed, r.TestCaseID)
		}
	}

	rate := float64(len(failed)) / float64(len(results))
	if rate <= SuiteFailureRateThreshold {
		return nil, nil
	}

	d.logger.Warn("suite failure rate exceeded threshold",
		"suite_execution_id", suiteExecutionID,
		"failure_rate", rate,
		"failed_count", len(failed),
		"total_count", len(results),
	)

	return &types.CriticalAlert{
		AlertType:        types.AlertSuiteFailureThreshold,
		TestSuiteID:      suiteID,
		SuiteExecutionID: suiteExecutionID,
		Severity:         types.SeverityCritical,
		Reason: fmt.Sprintf("%d of %d test cases failed (%.0f%%)",
			len(failed), len(results), rate*100),
		Details: types.AlertDetails{
			FailureRate:   &rate,
			AffectedTests: failed,
		},
		Timestamp: d.clock.Now(),
	}, nil
}

// DetectConsecutiveFailures reads the limit most recent executions for the
// test case and emits a ConsecutiveFailures alert when every one of them
// failed. Fewer than limit recorded executions is treated as insufficient
// data and never triggers; a single passing execution anywhere in the
// window resets eligibility.
func (d *Detector) DetectConsecutiveFailures(ctx context.Context, testCaseID string, limit int) (*types.CriticalAlert, error) {
	if limit <= 0 {
		limit = DefaultConsecutiveFailureLimit
	}

	recent, err := d.history.RecentForTestCase(ctx, testCaseID, limit)
	if err != nil {
		return nil, fmt.Errorf("detect consecutive failures: %w", err)
	}
	if len(recent) < limit {
		return nil, nil
	}

	for _, r := range recent {
		if r.Status != types.ExecutionFailed {
			return nil, nil
		}
	}

	// recent[0] is the most recent execution.
	lastFailure := recent[0].ExecutedAt
	streak := limit

	d.logger.Warn("consecutive failure streak detected",
		"test_case_id", testCaseID,
		"streak", streak,
		"last_failure", lastFailure,
	)

	return &types.CriticalAlert{
		AlertType:   types.AlertConsecutiveFailures,
		TestCaseID:  testCaseID,
		TestSuiteID: recent[0].TestSuiteID,
		Severity:    types.SeverityCritical,
		Reason:      fmt.Sprintf("test case failed %d consecutive times", streak),
		Details: types.AlertDetails{
			ConsecutiveFailures: &streak,
			LastFailure:         &lastFailure,
		},
		Timestamp: d.clock.Now(),
	}, nil
}
