package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/types"
)

func testAttempt() *types.DeliveryAttempt {
	return &types.DeliveryAttempt{
		AttemptID: "att_evt-1_webhook",
		EventID:   "evt-1",
		UserID:    "user-1",
		EventType: types.EventAnalysisComplete,
		Channel:   types.ChannelWebhook,
		Status:    types.AttemptStatusQueued,
		Timestamp: time.Now().UTC(),
	}
}

func TestHistoryRepository_InsertIfAbsent_Created(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	created, err := repo.InsertIfAbsent(context.Background(), testAttempt())
	require.NoError(t, err)
	assert.True(t, created)
	db.AssertExpectations(t)
}

func TestHistoryRepository_InsertIfAbsent_Conflict(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)

	// ON CONFLICT DO NOTHING reports zero affected rows.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	created, err := repo.InsertIfAbsent(context.Background(), testAttempt())
	require.NoError(t, err)
	assert.False(t, created)
}

func TestHistoryRepository_InsertIfAbsent_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.InsertIfAbsent(context.Background(), testAttempt())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestHistoryRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	got, err := repo.Get(context.Background(), "att_missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHistoryRepository_Get_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)

	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			vals := []any{
				"att_evt-1_webhook", "evt-1", "user-1", "analysis_complete",
				"webhook", "sent", "", "", created,
			}
			for i, d := range dest {
				assign(d, vals[i])
			}
			return nil
		}})

	got, err := repo.Get(context.Background(), "att_evt-1_webhook")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.AttemptStatusSent, got.Status)
	assert.Equal(t, types.ChannelWebhook, got.Channel)
	assert.Equal(t, created, got.Timestamp)
}

func TestHistoryRepository_UpdateStatus_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateStatus(context.Background(), "att_missing", types.AttemptStatusSent, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestHistoryRepository_CountSentSince(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*(dest[0].(*int)) = 4
			return nil
		}})

	n, err := repo.CountSentSince(context.Background(), "user-1", types.EventAnalysisComplete, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestHistoryRepository_ListBatched(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)

	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		{"att_evt-1_webhook", "evt-1", "user-1", "analysis_complete", "webhook", "batched", "frequency_exceeded", "", created},
		{"att_evt-2_webhook", "evt-2", "user-1", "analysis_complete", "webhook", "batched", "frequency_exceeded", "", created.Add(time.Minute)},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	got, err := repo.ListBatched(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "evt-1", got[0].EventID)
	assert.Equal(t, types.AttemptStatusBatched, got[0].Status)
}

func TestHistoryRepository_MarkDigested_EmptyIsNoop(t *testing.T) {
	db := new(mockDBTX)
	repo := NewHistoryRepository(db)

	err := repo.MarkDigested(context.Background(), nil, "evt-digest-1")
	require.NoError(t, err)
	db.AssertNotCalled(t, "Exec")
}
