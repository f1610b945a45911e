package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"relaypoint/internal/types"
)

// TemplateRepository reads notification templates. Templates are keyed by
// (event_type, channel) with versioned rows; the highest version wins. The
// pipeline handles the "default" event-type fallback itself, so Get is an
// exact match.
type TemplateRepository struct {
	db DBTX
}

// NewTemplateRepository creates a TemplateRepository backed by the given
// database connection (pool or transaction).
func NewTemplateRepository(db DBTX) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Get returns the latest template for the exact (event type, channel) pair,
// or (nil, nil) when none exists.
func (r *TemplateRepository) Get(ctx context.Context, eventType types.EventType, channel types.ChannelType) (*types.NotificationTemplate, error) {
	row := r.db.QueryRow(ctx,
		`SELECT template_id, event_type, channel, subject_template, body_template, version
		 FROM notification_templates
		 WHERE event_type = $1 AND channel = $2
		 ORDER BY version DESC
		 LIMIT 1`,
		string(eventType),
		string(channel),
	)

	var tmpl types.NotificationTemplate
	err := row.Scan(
		&tmpl.TemplateID,
		&tmpl.EventType,
		&tmpl.Channel,
		&tmpl.SubjectTemplate,
		&tmpl.BodyTemplate,
		&tmpl.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load notification template", err)
	}
	return &tmpl, nil
}
