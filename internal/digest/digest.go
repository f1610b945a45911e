// Package digest turns batched delivery attempts into periodic summary
// notifications. Attempts that the pipeline parked with status batched
// (frequency limit reached) are grouped per user, summarized into a single
// notification_digest event, and published back onto the event queue where
// they flow through the normal pipeline.
package digest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"relaypoint/internal/types"
)

// HistoryStore is the slice of the delivery audit trail the generator needs.
type HistoryStore interface {
	ListBatched(ctx context.Context, before time.Time, limit int) ([]types.DeliveryAttempt, error)
	MarkDigested(ctx context.Context, attemptIDs []string, digestEventID string) error
}

// EventPublisher dispatches generated digest events onto the event queue.
type EventPublisher interface {
	Publish(ctx context.Context, msg types.EventMessage) error
}

// Config tunes a digest run.
type Config struct {
	// MinAge keeps freshly batched attempts out of a run so a digest does
	// not race the frequency window that parked them.
	MinAge time.Duration

	// MaxAttempts bounds how many batched rows one run processes.
	MaxAttempts int

	// Concurrency bounds the per-user fan-out.
	Concurrency int
}

// DefaultConfig returns the digest defaults used by the scheduled worker.
func DefaultConfig() Config {
	return Config{
		MinAge:      time.Hour,
		MaxAttempts: 1000,
		Concurrency: 8,
	}
}

// Generator builds and publishes digest events.
type Generator struct {
	history   HistoryStore
	publisher EventPublisher
	clock     types.Clock
	logger    types.Logger
	cfg       Config
}

// New creates a Generator.
func New(history HistoryStore, publisher EventPublisher, clock types.Clock, logger types.Logger, cfg Config) *Generator {
	return &Generator{
		history:   history,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// userBatch collects one user's batched attempts for a run.
type userBatch struct {
	userID   string
	attempts []types.DeliveryAttempt
}

// Run executes one digest pass and returns the number of digest events
// published. Users are processed independently; one user's failure does not
// block the others, and their attempts stay batched for the next run.
func (g *Generator) Run(ctx context.Context) (int, error) {
	cutoff := g.clock.Now().Add(-g.cfg.MinAge)
	attempts, err := g.history.ListBatched(ctx, cutoff, g.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}
	if len(attempts) == 0 {
		return 0, nil
	}

	batches := groupByUser(attempts)
	g.logger.Info("starting digest run",
		"batched_attempts", len(attempts),
		"users", len(batches),
	)

	published := make([]bool, len(batches))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i, batch := range batches {
		i, batch := i, batch
		eg.Go(func() error {
			if err := g.publishDigest(egCtx, batch); err != nil {
				g.logger.Error("digest generation failed for user",
					"user_id", batch.userID,
					"error", err.Error(),
				)
				return nil
			}
			published[i] = true
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	count := 0
	for _, ok := range published {
		if ok {
			count++
		}
	}
	return count, nil
}

// publishDigest summarizes one user's batched attempts into a digest event.
// Attempts are marked digested only after the publish succeeds; a crash in
// between means the next run summarizes them again rather than losing them.
func (g *Generator) publishDigest(ctx context.Context, batch userBatch) error {
	byType := make(map[string]int)
	ids := make([]string, 0, len(batch.attempts))
	first := batch.attempts[0].Timestamp
	last := batch.attempts[0].Timestamp
	for _, a := range batch.attempts {
		byType[string(a.EventType)]++
		ids = append(ids, a.AttemptID)
		if a.Timestamp.Before(first) {
			first = a.Timestamp
		}
		if a.Timestamp.After(last) {
			last = a.Timestamp
		}
	}

	eventID := "evt_digest_" + uuid.NewString()
	msg := types.EventMessage{
		NotificationEvent: types.NotificationEvent{
			EventID:   eventID,
			EventType: types.EventDigest,
			UserID:    batch.userID,
			Context: map[string]any{
				"total":         len(batch.attempts),
				"by_event_type": byType,
				"window_start":  first.Format(time.RFC3339),
				"window_end":    last.Format(time.RFC3339),
			},
			CreatedAt: g.clock.Now(),
		},
		TraceID: eventID,
	}

	if err := g.publisher.Publish(ctx, msg); err != nil {
		return err
	}
	return g.history.MarkDigested(ctx, ids, eventID)
}

// groupByUser partitions attempts per user, ordered by user ID for a
// deterministic run.
func groupByUser(attempts []types.DeliveryAttempt) []userBatch {
	byUser := make(map[string][]types.DeliveryAttempt)
	for _, a := range attempts {
		byUser[a.UserID] = append(byUser[a.UserID], a)
	}

	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	out := make([]userBatch, 0, len(users))
	for _, u := range users {
		out = append(out, userBatch{userID: u, attempts: byUser[u]})
	}
	return out
}
