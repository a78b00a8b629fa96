// Package dashboard derives the dashboard view from a flat incident list:
// today's per-status counts and the filtered, visible subset.
package dashboard

import (
	"time"

	"github.com/setevik/sosdesk/internal/incident"
)

// Stats holds per-status counts over one calendar day.
type Stats struct {
	YetToAttend int `json:"yetToAttend"`
	Attending   int `json:"attending"`
	Attended    int `json:"attended"`
	Total       int `json:"total"`
}

// Filter is the three orthogonal dashboard filters.
// Status and Type accept incident.AnyStatus / incident.AnyType (or "") as
// wildcards. Date is always applied and compared by calendar day in Date's
// location.
type Filter struct {
	Status incident.Status
	Type   incident.Type
	Date   time.Time
}

// Aggregate counts incidents raised on now's calendar day by status.
func Aggregate(incidents []*incident.Incident, now time.Time) Stats {
	var s Stats
	for _, inc := range incidents {
		if !SameDay(inc.Timestamp, now) {
			continue
		}
		switch inc.Status {
		case incident.StatusYetToAttend:
			s.YetToAttend++
		case incident.StatusAttending:
			s.Attending++
		case incident.StatusAttended:
			s.Attended++
		}
		s.Total++
	}
	return s
}

// Select returns the incidents matching every criterion of f, in input order.
func Select(incidents []*incident.Incident, f Filter) []*incident.Incident {
	out := make([]*incident.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if f.Matches(inc) {
			out = append(out, inc)
		}
	}
	return out
}

// Matches reports whether a single incident passes the filter.
func (f Filter) Matches(inc *incident.Incident) bool {
	if !anyStatus(f.Status) && inc.Status != f.Status {
		return false
	}
	if !anyType(f.Type) && inc.Type != f.Type {
		return false
	}
	return SameDay(inc.Timestamp, f.Date)
}

// SameDay reports whether ts falls on ref's calendar day, evaluated in ref's
// location.
func SameDay(ts, ref time.Time) bool {
	y1, m1, d1 := ts.In(ref.Location()).Date()
	y2, m2, d2 := ref.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// DayBounds returns [start, end) of ref's calendar day in ref's location.
func DayBounds(ref time.Time) (time.Time, time.Time) {
	y, m, d := ref.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, ref.Location())
	return start, start.AddDate(0, 0, 1)
}

func anyStatus(s incident.Status) bool {
	return s == "" || s == incident.AnyStatus
}

func anyType(t incident.Type) bool {
	return t == "" || t == incident.AnyType
}
