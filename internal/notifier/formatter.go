package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/setevik/sosdesk/internal/incident"
)

// typeEmoji maps incident types to display emojis for ntfy titles.
var typeEmoji = map[incident.Type]string{
	incident.TypeSOS:           "\U0001f198", // SOS button
	incident.TypeFireAlarm:     "\U0001f525", // fire
	incident.TypeSmokeDetector: "\U0001f32b", // fog
	incident.TypeGasLeak:       "⚠️",
	incident.TypeFallDetection: "\U0001f6d1", // stop sign
}

// typeTags maps incident types to ntfy tag names.
var typeTags = map[incident.Type]string{
	incident.TypeSOS:           "sos,rotating_light",
	incident.TypeFireAlarm:     "fire,rotating_light",
	incident.TypeSmokeDetector: "fog,warning",
	incident.TypeGasLeak:       "warning,gas",
	incident.TypeFallDetection: "ambulance,warning",
}

// FormatTitle builds the ntfy notification title for an incident.
func FormatTitle(inc *incident.Incident) string {
	emoji := typeEmoji[inc.Type]
	if emoji == "" {
		emoji = "❗" // exclamation mark
	}
	resident := inc.ResidentName
	if resident == "" {
		resident = "Unknown resident"
	}
	return fmt.Sprintf("%s [%s] %s: %s", emoji, inc.FlatNumber, inc.Type.Label(), resident)
}

// FormatBody builds the ntfy notification body for an incident. Phone
// numbers are rendered as tel: URIs so they can be tapped to dial.
func FormatBody(inc *incident.Incident, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder

	if inc.ResidentName != "" {
		fmt.Fprintf(&b, "Resident: %s\n", inc.ResidentName)
	}
	fmt.Fprintf(&b, "Flat: %s\n", inc.FlatNumber)
	if inc.PhoneNumber != "" {
		fmt.Fprintf(&b, "Phone: %s\n", incident.TelURI(inc.PhoneNumber))
	}
	if inc.NOKPhone != "" {
		fmt.Fprintf(&b, "NOK: %s\n", incident.TelURI(inc.NOKPhone))
	}
	fmt.Fprintf(&b, "Time: %s\n", inc.Timestamp.In(loc).Format("2006-01-02 15:04:05 MST"))

	if inc.Description != "" {
		b.WriteString("\n")
		b.WriteString(inc.Description)
	}

	return b.String()
}

// TagsForType returns the ntfy tags string for an incident type.
func TagsForType(t incident.Type) string {
	if tags, ok := typeTags[t]; ok {
		return tags
	}
	return "warning"
}
