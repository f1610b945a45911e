package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"relaypoint/internal/types"
)

// PreferenceRepository reads user notification preferences from the
// user_notification_preferences table. The pipeline only reads; preference
// writes go through the external settings API.
type PreferenceRepository struct {
	db DBTX
}

// NewPreferenceRepository creates a PreferenceRepository backed by the given
// database connection (pool or transaction).
func NewPreferenceRepository(db DBTX) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get loads a user's preferences. A user without a stored row gets the
// documented defaults (all channels enabled, critical bypass on); this is
// never treated as an error.
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*types.UserPreferences, error) {
	row := r.db.QueryRow(ctx,
		`SELECT user_id, channels_enabled, quiet_hours, frequency_limits,
		        critical_alerts_bypass, email, webhook_url, phone
		 FROM user_notification_preferences
		 WHERE user_id = $1`,
		userID,
	)

	var (
		prefs          types.UserPreferences
		channels       []string
		quietHoursJSON []byte
		freqLimitsJSON []byte
		email          *string
		webhookURL     *string
		phone          *string
	)
	err := row.Scan(
		&prefs.UserID,
		&channels,
		&quietHoursJSON,
		&freqLimitsJSON,
		&prefs.CriticalAlertsBypassPrefs,
		&email,
		&webhookURL,
		&phone,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load user preferences", err)
	}

	prefs.ChannelsEnabled = make([]types.ChannelType, 0, len(channels))
	for _, c := range channels {
		prefs.ChannelsEnabled = append(prefs.ChannelsEnabled, types.ChannelType(c))
	}

	if len(quietHoursJSON) > 0 {
		var qh types.QuietHours
		if err := json.Unmarshal(quietHoursJSON, &qh); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode quiet hours", err)
		}
		prefs.QuietHours = &qh
	}
	if len(freqLimitsJSON) > 0 {
		if err := json.Unmarshal(freqLimitsJSON, &prefs.FrequencyLimits); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode frequency limits", err)
		}
	}

	if email != nil {
		prefs.ContactInfo.Email = *email
	}
	if webhookURL != nil {
		prefs.ContactInfo.WebhookURL = *webhookURL
	}
	if phone != nil {
		prefs.ContactInfo.Phone = *phone
	}
	return &prefs, nil
}
