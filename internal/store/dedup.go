package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/setevik/sosdesk/internal/incident"
)

// CooldownResult describes whether an incident should be pushed to staff.
type CooldownResult struct {
	// ShouldAlert is true if this incident should trigger a notification.
	ShouldAlert bool
	// RecentCount is the number of earlier incidents of the same flat and
	// type within the cooldown window.
	RecentCount int
	// Aggregated is true if the aggregate threshold was just reached, so a
	// summary alert should fire instead of a regular one.
	Aggregated bool
}

// CheckCooldown determines whether an incident should trigger a notification
// based on how many incidents of the same flat and type were raised within the
// window before it. The incident itself is excluded from the count.
//
// Logic:
//   - No prior incidents within window: alert (first occurrence).
//   - Prior count == threshold: alert once as aggregated (device keeps firing).
//   - Otherwise: suppress. Every incident is still stored and shown.
func (d *DB) CheckCooldown(inc *incident.Incident, window time.Duration, threshold int) (CooldownResult, error) {
	since := formatTS(inc.Timestamp.Add(-window))
	until := formatTS(inc.Timestamp)

	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM incidents
		WHERE flat_number = ? AND type = ? AND timestamp >= ? AND timestamp <= ? AND id != ?`,
		inc.FlatNumber, string(inc.Type), since, until, inc.ID,
	).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return CooldownResult{}, fmt.Errorf("checking cooldown: %w", err)
	}

	result := CooldownResult{RecentCount: count}

	switch {
	case count == 0:
		result.ShouldAlert = true
	case threshold > 0 && count == threshold:
		result.ShouldAlert = true
		result.Aggregated = true
	default:
		result.ShouldAlert = false
	}

	slog.Debug("cooldown check",
		"type", inc.Type,
		"flat", inc.FlatNumber,
		"recent_count", count,
		"threshold", threshold,
		"should_alert", result.ShouldAlert,
	)

	return result, nil
}
