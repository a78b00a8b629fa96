package notifier

import (
	"time"

	"github.com/setevik/sosdesk/internal/incident"
)

// TestIncident creates a synthetic incident for checking ntfy connectivity.
// It is never stored.
func TestIncident(society string) *incident.Incident {
	now := time.Now()
	return &incident.Incident{
		ID:           "test-" + now.Format("20060102-150405"),
		ResidentName: "Test Resident",
		FlatNumber:   "TEST",
		Type:         incident.TypeSOS,
		Status:       incident.StatusYetToAttend,
		Timestamp:    now,
		UpdatedAt:    now,
		Description: "This is a test notification from " + society + ".\n" +
			"If you see this, sosdesk alerts are configured correctly.",
	}
}
