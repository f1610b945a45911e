package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"relaypoint/internal/types"
)

// ExecutionRepository reads test-case execution history for the failure
// detector and propagates notification status back to origin records.
type ExecutionRepository struct {
	db DBTX
}

// NewExecutionRepository creates an ExecutionRepository backed by the given
// database connection (pool or transaction).
func NewExecutionRepository(db DBTX) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// SuiteResults returns every test-case result recorded for one suite
// execution.
func (r *ExecutionRepository) SuiteResults(ctx context.Context, suiteExecutionID string) ([]types.ExecutionRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT execution_id, test_case_id, COALESCE(test_suite_id, ''),
		        COALESCE(suite_execution_id, ''), status, executed_at
		 FROM test_case_executions
		 WHERE suite_execution_id = $1
		 ORDER BY executed_at ASC`,
		suiteExecutionID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load suite results", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// RecentForTestCase returns the most recent executions of a test case,
// newest first, bounded by limit.
func (r *ExecutionRepository) RecentForTestCase(ctx context.Context, testCaseID string, limit int) ([]types.ExecutionRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT execution_id, test_case_id, COALESCE(test_suite_id, ''),
		        COALESCE(suite_execution_id, ''), status, executed_at
		 FROM test_case_executions
		 WHERE test_case_id = $1
		 ORDER BY executed_at DESC
		 LIMIT $2`,
		testCaseID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load test case history", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecutions(rows pgx.Rows) ([]types.ExecutionRecord, error) {
	var out []types.ExecutionRecord
	for rows.Next() {
		var rec types.ExecutionRecord
		if err := rows.Scan(
			&rec.ExecutionID,
			&rec.TestCaseID,
			&rec.TestSuiteID,
			&rec.SuiteExecutionID,
			&rec.Status,
			&rec.ExecutedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan execution record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read execution records", err)
	}
	return out, nil
}

// UpdateNotificationStatus writes the final delivery status back onto the
// record that produced the event: suite executions for test events,
// analyses for analysis events. Events without an origin row (digests,
// detector alerts) are a no-op.
func (r *ExecutionRepository) UpdateNotificationStatus(ctx context.Context, event *types.NotificationEvent, status types.AttemptStatus) error {
	switch event.EventType {
	case types.EventTestSuiteCompleted, types.EventTestSuiteFailed:
		id, ok := event.Context["suite_execution_id"].(string)
		if !ok || id == "" {
			return nil
		}
		_, err := r.db.Exec(ctx,
			`UPDATE suite_executions SET notification_status = $1, updated_at = NOW()
			 WHERE suite_execution_id = $2`,
			string(status),
			id,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to update suite execution status", err)
		}
		return nil

	case types.EventAnalysisComplete, types.EventAnalysisFailed:
		id, ok := event.Context["analysis_id"].(string)
		if !ok || id == "" {
			return nil
		}
		_, err := r.db.Exec(ctx,
			`UPDATE analyses SET notification_status = $1, updated_at = NOW()
			 WHERE analysis_id = $2`,
			string(status),
			id,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to update analysis status", err)
		}
		return nil

	default:
		return nil
	}
}
