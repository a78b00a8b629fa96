package notifier

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/setevik/sosdesk/internal/incident"
)

// DigestSummary holds aggregated incident counts for a digest period.
type DigestSummary struct {
	Society  string
	Since    time.Time
	Until    time.Time
	Location *time.Location

	Total      int
	ByType     map[incident.Type]int
	ByFlat     map[incident.Type]map[string]int // type -> flat -> count
	ByStatus   map[incident.Status]int
	Unnotified int
}

// BuildDigest aggregates a list of incidents into a DigestSummary.
func BuildDigest(society string, incidents []*incident.Incident, since, until time.Time) *DigestSummary {
	d := &DigestSummary{
		Society:  society,
		Since:    since,
		Until:    until,
		ByType:   make(map[incident.Type]int),
		ByFlat:   make(map[incident.Type]map[string]int),
		ByStatus: make(map[incident.Status]int),
	}

	for _, inc := range incidents {
		d.Total++
		d.ByType[inc.Type]++
		d.ByStatus[inc.Status]++

		flat := inc.FlatNumber
		if flat == "" {
			flat = "unknown"
		}
		if d.ByFlat[inc.Type] == nil {
			d.ByFlat[inc.Type] = make(map[string]int)
		}
		d.ByFlat[inc.Type][flat]++

		if !inc.Notified {
			d.Unnotified++
		}
	}

	return d
}

// FormatDigest formats a DigestSummary as human-readable text suitable for
// ntfy or stdout output.
func FormatDigest(d *DigestSummary) string {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder

	fmt.Fprintf(&b, "=== %s ===\n", d.Society)
	fmt.Fprintf(&b, "Period: %s - %s\n\n",
		d.Since.In(loc).Format("Jan 02 15:04"),
		d.Until.In(loc).Format("Jan 02 15:04"))

	fmt.Fprintf(&b, "Incidents: %d\n", d.Total)
	for _, t := range incident.Types {
		n := d.ByType[t]
		fmt.Fprintf(&b, "  %-16s %d", t.Label()+":", n)
		if n > 0 {
			fmt.Fprintf(&b, " (%s)", formatBreakdown(d.ByFlat[t]))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nStatus:\n")
	for _, s := range incident.Statuses {
		fmt.Fprintf(&b, "  %-16s %d\n", s.Label()+":", d.ByStatus[s])
	}

	if d.ByStatus[incident.StatusYetToAttend] > 0 {
		fmt.Fprintf(&b, "\n%d incident(s) still waiting for staff.\n", d.ByStatus[incident.StatusYetToAttend])
	}

	return b.String()
}

// FormatDigestTitle generates the ntfy title for a digest notification. Dates
// are rendered in the digest's Location, same as the body.
func FormatDigestTitle(d *DigestSummary) string {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("\U0001f4ca %s incident digest (%s-%s)",
		d.Society,
		d.Since.In(loc).Format("Jan 02"),
		d.Until.In(loc).Format("Jan 02"))
}

// formatBreakdown turns a map[string]int into "A-101 ×2, B-205 ×1" sorted by
// count desc, then name.
func formatBreakdown(m map[string]int) string {
	type entry struct {
		name  string
		count int
	}

	entries := make([]entry, 0, len(m))
	for name, count := range m {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s ×%d", e.name, e.count)
	}
	return strings.Join(parts, ", ")
}
