// Package incident defines the core data model for emergency incidents.
package incident

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownType       = errors.New("unknown incident type")
	ErrUnknownStatus     = errors.New("unknown incident status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminal          = errors.New("incident already attended")
)

// Type is the kind of emergency that raised the incident.
type Type string

const (
	TypeSOS           Type = "sos"
	TypeFireAlarm     Type = "fire_alarm"
	TypeSmokeDetector Type = "smoke_detector"
	TypeGasLeak       Type = "gas_leak"
	TypeFallDetection Type = "fall_detection"

	// AnyType matches every type in a filter.
	AnyType Type = "all"
)

// Types lists every incident type in display order.
var Types = []Type{TypeSOS, TypeFireAlarm, TypeSmokeDetector, TypeGasLeak, TypeFallDetection}

// Status is the attendance state of an incident.
type Status string

const (
	StatusYetToAttend Status = "yet_to_attend"
	StatusAttending   Status = "attending"
	StatusAttended    Status = "attended"

	// AnyStatus matches every status in a filter.
	AnyStatus Status = "all"
)

// Statuses lists every status in progression order.
var Statuses = []Status{StatusYetToAttend, StatusAttending, StatusAttended}

// Incident is a single emergency raised for a flat.
type Incident struct {
	ID           string    `json:"id"`
	ResidentName string    `json:"residentName"`
	FlatNumber   string    `json:"flatNumber"`
	PhoneNumber  string    `json:"phoneNumber"`
	NOKPhone     string    `json:"nokPhone"`
	Type         Type      `json:"incidentType"`
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Description  string    `json:"description,omitempty"`
	DeviceTag    string    `json:"deviceTag,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Notified     bool      `json:"notified"`
}

// HistoryEntry is one line of an incident's timeline.
type HistoryEntry struct {
	IncidentID string    `json:"incidentId"`
	At         time.Time `json:"at"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	From       Status    `json:"from,omitempty"`
	To         Status    `json:"to"`
}

// New creates a yet-to-attend incident with a generated UUID.
func New(typ Type, flat string, ts time.Time) *Incident {
	return &Incident{
		ID:         uuid.NewString(),
		FlatNumber: flat,
		Type:       typ,
		Status:     StatusYetToAttend,
		Timestamp:  ts,
		UpdatedAt:  ts,
	}
}

// Label returns a human-readable label for the type.
func (t Type) Label() string {
	switch t {
	case TypeSOS:
		return "SOS Alert"
	case TypeFireAlarm:
		return "Fire Alarm"
	case TypeSmokeDetector:
		return "Smoke Detector"
	case TypeGasLeak:
		return "Gas Leak"
	case TypeFallDetection:
		return "Fall Detection"
	case AnyType:
		return "All Types"
	default:
		return string(t)
	}
}

// Valid reports whether t is one of the closed set of types.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Label returns a human-readable label for the status.
func (s Status) Label() string {
	switch s {
	case StatusYetToAttend:
		return "Yet to Attend"
	case StatusAttending:
		return "Attending"
	case StatusAttended:
		return "Attended"
	case AnyStatus:
		return "All Statuses"
	default:
		return string(s)
	}
}

// Valid reports whether s is one of the closed set of statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Next returns the status that follows s. Attended has no successor.
func (s Status) Next() (Status, error) {
	switch s {
	case StatusYetToAttend:
		return StatusAttending, nil
	case StatusAttending:
		return StatusAttended, nil
	case StatusAttended:
		return s, ErrTerminal
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// CanAdvance reports whether from -> to is the single forward step.
func CanAdvance(from, to Status) bool {
	next, err := from.Next()
	return err == nil && next == to
}

// CheckTransition returns nil when from -> to is allowed, ErrTerminal when
// from is attended, and ErrInvalidTransition otherwise.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if from == StatusAttended {
		return ErrTerminal
	}
	if !CanAdvance(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ParseType parses a concrete incident type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// ParseStatus parses a concrete incident status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// ParseTypeFilter is ParseType that also accepts "all" and "".
func ParseTypeFilter(s string) (Type, error) {
	if v := strings.TrimSpace(s); v == "" || strings.EqualFold(v, string(AnyType)) {
		return AnyType, nil
	}
	return ParseType(s)
}

// ParseStatusFilter is ParseStatus that also accepts "all" and "".
func ParseStatusFilter(s string) (Status, error) {
	if v := strings.TrimSpace(s); v == "" || strings.EqualFold(v, string(AnyStatus)) {
		return AnyStatus, nil
	}
	return ParseStatus(s)
}

// TelURI builds a tel: URI for a display phone number. Only digits and a
// leading plus survive. Returns "" when no digits remain.
func TelURI(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if digits == "" {
		return ""
	}
	return "tel:" + b.String()
}
