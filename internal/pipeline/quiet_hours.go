package pipeline

import (
	"time"

	"relaypoint/internal/types"
)

// inQuietHours reports whether now falls inside the user's quiet-hours
// window. The window is [StartHour, EndHour) in the user's timezone and may
// wrap past midnight (e.g. 22 to 6). An unparseable timezone fails open so
// a bad preference row never silences a user permanently.
func inQuietHours(q *types.QuietHours, now time.Time, logger types.Logger) bool {
	if q == nil || q.StartHour == q.EndHour {
		return false
	}

	loc := time.UTC
	if q.Timezone != "" {
		parsed, err := time.LoadLocation(q.Timezone)
		if err != nil {
			logger.Warn("invalid quiet hours timezone, skipping suppression", "timezone", q.Timezone, "error", err)
			return false
		}
		loc = parsed
	}

	hour := now.In(loc).Hour()
	if q.StartHour < q.EndHour {
		return hour >= q.StartHour && hour < q.EndHour
	}
	// Overnight window.
	return hour >= q.StartHour || hour < q.EndHour
}
