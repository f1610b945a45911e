package digest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) With(args ...any) types.Logger { return nopLogger{} }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeHistory struct {
	mu       sync.Mutex
	batched  []types.DeliveryAttempt
	listErr  error
	markErr  error
	digested map[string]string // attemptID -> digestEventID
}

func (h *fakeHistory) ListBatched(_ context.Context, _ time.Time, _ int) ([]types.DeliveryAttempt, error) {
	return h.batched, h.listErr
}

func (h *fakeHistory) MarkDigested(_ context.Context, ids []string, digestEventID string) error {
	if h.markErr != nil {
		return h.markErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.digested == nil {
		h.digested = map[string]string{}
	}
	for _, id := range ids {
		h.digested[id] = digestEventID
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []types.EventMessage
	failUser  string
}

func (p *fakePublisher) Publish(_ context.Context, msg types.EventMessage) error {
	if p.failUser != "" && msg.UserID == p.failUser {
		return errors.New("queue unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return nil
}

func batchedAttempt(user, event string, et types.EventType, at time.Time) types.DeliveryAttempt {
	return types.DeliveryAttempt{
		AttemptID: "att_" + event + "_webhook",
		EventID:   event,
		UserID:    user,
		EventType: et,
		Channel:   types.ChannelWebhook,
		Status:    types.AttemptStatusBatched,
		Reason:    types.ReasonFrequencyExceeded,
		Timestamp: at,
	}
}

func newGenerator(h *fakeHistory, p *fakePublisher) *Generator {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	return New(h, p, clock, nopLogger{}, DefaultConfig())
}

func TestRun_EmptyBacklog(t *testing.T) {
	g := newGenerator(&fakeHistory{}, &fakePublisher{})

	n, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_GroupsAttemptsPerUser(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	history := &fakeHistory{batched: []types.DeliveryAttempt{
		batchedAttempt("user-a", "evt-1", types.EventAnalysisComplete, base),
		batchedAttempt("user-a", "evt-2", types.EventAnalysisComplete, base.Add(10*time.Minute)),
		batchedAttempt("user-a", "evt-3", types.EventTestSuiteFailed, base.Add(20*time.Minute)),
		batchedAttempt("user-b", "evt-4", types.EventAnalysisComplete, base),
	}}
	pub := &fakePublisher{}
	g := newGenerator(history, pub)

	n, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.published, 2)

	var userA types.EventMessage
	for _, msg := range pub.published {
		if msg.UserID == "user-a" {
			userA = msg
		}
	}
	require.NotEmpty(t, userA.EventID)
	assert.True(t, strings.HasPrefix(userA.EventID, "evt_digest_"))
	assert.Equal(t, types.EventDigest, userA.EventType)
	assert.Equal(t, 3, userA.Context["total"])
	byType := userA.Context["by_event_type"].(map[string]int)
	assert.Equal(t, 2, byType["analysis_complete"])
	assert.Equal(t, 1, byType["test_suite_failed"])
	assert.Equal(t, base.Format(time.RFC3339), userA.Context["window_start"])
	assert.Equal(t, base.Add(20*time.Minute).Format(time.RFC3339), userA.Context["window_end"])

	// All of user-a's attempts point at the same digest event.
	assert.Equal(t, userA.EventID, history.digested["att_evt-1_webhook"])
	assert.Equal(t, userA.EventID, history.digested["att_evt-2_webhook"])
	assert.Equal(t, userA.EventID, history.digested["att_evt-3_webhook"])
}

func TestRun_OneUserFailureDoesNotBlockOthers(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	history := &fakeHistory{batched: []types.DeliveryAttempt{
		batchedAttempt("user-a", "evt-1", types.EventAnalysisComplete, base),
		batchedAttempt("user-b", "evt-2", types.EventAnalysisComplete, base),
	}}
	pub := &fakePublisher{failUser: "user-a"}
	g := newGenerator(history, pub)

	n, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// user-a's attempts stay batched for the next run.
	_, marked := history.digested["att_evt-1_webhook"]
	assert.False(t, marked)
	assert.Equal(t, pub.published[0].EventID, history.digested["att_evt-2_webhook"])
}

func TestRun_ListFailurePropagates(t *testing.T) {
	g := newGenerator(&fakeHistory{listErr: errors.New("connection refused")}, &fakePublisher{})

	_, err := g.Run(context.Background())
	require.Error(t, err)
}
