package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"relaypoint/internal/types"
)

// HistoryRepository manages the delivery_attempts audit trail. The
// attempt_id primary key is the deterministic (event, channel) idempotency
// key, so InsertIfAbsent doubles as the duplicate-delivery guard.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository creates a HistoryRepository backed by the given
// database connection (pool or transaction).
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// InsertIfAbsent inserts the attempt, reporting whether a new row was
// created. A conflicting attempt_id leaves the existing row untouched.
func (r *HistoryRepository) InsertIfAbsent(ctx context.Context, a *types.DeliveryAttempt) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO delivery_attempts
		 (attempt_id, event_id, user_id, event_type, channel, status, reason, fallback_from, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
		 ON CONFLICT (attempt_id) DO NOTHING`,
		a.AttemptID,
		a.EventID,
		a.UserID,
		string(a.EventType),
		string(a.Channel),
		string(a.Status),
		nilIfEmpty(a.Reason),
		nilIfEmpty(string(a.FallbackFrom)),
		nilIfZeroTime(a.Timestamp),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert delivery attempt", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the attempt with the given ID, or (nil, nil) when absent.
func (r *HistoryRepository) Get(ctx context.Context, attemptID string) (*types.DeliveryAttempt, error) {
	row := r.db.QueryRow(ctx,
		`SELECT attempt_id, event_id, user_id, event_type, channel, status,
		        COALESCE(reason, ''), COALESCE(fallback_from, ''), created_at
		 FROM delivery_attempts
		 WHERE attempt_id = $1`,
		attemptID,
	)

	var a types.DeliveryAttempt
	err := row.Scan(
		&a.AttemptID,
		&a.EventID,
		&a.UserID,
		&a.EventType,
		&a.Channel,
		&a.Status,
		&a.Reason,
		&a.FallbackFrom,
		&a.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load delivery attempt", err)
	}
	return &a, nil
}

// UpdateStatus moves an attempt to a new status with an optional reason.
func (r *HistoryRepository) UpdateStatus(ctx context.Context, attemptID string, status types.AttemptStatus, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_attempts
		 SET status = $1, reason = $2, updated_at = NOW()
		 WHERE attempt_id = $3`,
		string(status),
		nilIfEmpty(reason),
		attemptID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update delivery attempt", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "delivery attempt not found: "+attemptID, nil)
	}
	return nil
}

// CountSentSince counts sent deliveries for a user and event type within
// the trailing frequency window.
func (r *HistoryRepository) CountSentSince(ctx context.Context, userID string, eventType types.EventType, since time.Time) (int, error) {
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM delivery_attempts
		 WHERE user_id = $1 AND event_type = $2 AND status = 'sent' AND created_at >= $3`,
		userID,
		string(eventType),
		since,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count recent deliveries", err)
	}
	return n, nil
}

// ListBatched returns batched attempts awaiting digest inclusion, oldest
// first, bounded by limit.
func (r *HistoryRepository) ListBatched(ctx context.Context, before time.Time, limit int) ([]types.DeliveryAttempt, error) {
	rows, err := r.db.Query(ctx,
		`SELECT attempt_id, event_id, user_id, event_type, channel, status,
		        COALESCE(reason, ''), COALESCE(fallback_from, ''), created_at
		 FROM delivery_attempts
		 WHERE status = 'batched' AND digest_event_id IS NULL AND created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		before,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list batched attempts", err)
	}
	defer rows.Close()

	var out []types.DeliveryAttempt
	for rows.Next() {
		var a types.DeliveryAttempt
		if err := rows.Scan(
			&a.AttemptID,
			&a.EventID,
			&a.UserID,
			&a.EventType,
			&a.Channel,
			&a.Status,
			&a.Reason,
			&a.FallbackFrom,
			&a.Timestamp,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan batched attempt", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list batched attempts", err)
	}
	return out, nil
}

// MarkDigested links batched attempts to the digest event that summarized
// them, removing them from future digest runs.
func (r *HistoryRepository) MarkDigested(ctx context.Context, attemptIDs []string, digestEventID string) error {
	if len(attemptIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE delivery_attempts
		 SET digest_event_id = $1, updated_at = NOW()
		 WHERE attempt_id = ANY($2)`,
		digestEventID,
		attemptIDs,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark attempts digested", err)
	}
	return nil
}
