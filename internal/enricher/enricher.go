// Package enricher fills in resident details on classified incidents.
package enricher

import (
	"context"
	"log/slog"

	"github.com/setevik/sosdesk/internal/directory"
	"github.com/setevik/sosdesk/internal/incident"
)

// Enricher adds resident context to incidents from the society directory.
type Enricher struct {
	dir *directory.Directory
}

// New creates an Enricher backed by dir.
func New(dir *directory.Directory) *Enricher {
	return &Enricher{dir: dir}
}

// Enrich resolves the resident for an incident, first by device tag and then
// by flat number, and copies name and phone numbers onto it. Fields that the
// signal already carried are kept. A default description is set when none
// was given.
func (e *Enricher) Enrich(ctx context.Context, inc *incident.Incident) {
	if ctx.Err() != nil {
		return
	}

	if r, ok := e.lookup(inc); ok {
		if inc.FlatNumber == "" {
			inc.FlatNumber = r.FlatNumber
		}
		setIfEmpty(&inc.ResidentName, r.Name)
		setIfEmpty(&inc.PhoneNumber, r.PhoneNumber)
		setIfEmpty(&inc.NOKPhone, r.NOKPhone)
	} else {
		slog.Debug("no resident found for incident",
			"id", inc.ID, "flat", inc.FlatNumber, "device", inc.DeviceTag)
	}

	if inc.Description == "" {
		inc.Description = DefaultDescription(inc.Type)
	}
}

func (e *Enricher) lookup(inc *incident.Incident) (directory.Resident, bool) {
	if e.dir == nil {
		return directory.Resident{}, false
	}
	if inc.DeviceTag != "" {
		if r, ok := e.dir.ResidentByDevice(inc.DeviceTag); ok {
			return r, true
		}
	}
	if inc.FlatNumber != "" {
		return e.dir.ResidentByFlat(inc.FlatNumber)
	}
	return directory.Resident{}, false
}

// DefaultDescription is the description used when a signal carried none.
func DefaultDescription(t incident.Type) string {
	switch t {
	case incident.TypeSOS:
		return "Emergency SOS button pressed"
	case incident.TypeFireAlarm:
		return "Fire alarm triggered"
	case incident.TypeSmokeDetector:
		return "Smoke detected"
	case incident.TypeGasLeak:
		return "Gas leak detected"
	case incident.TypeFallDetection:
		return "Fall detected"
	default:
		return "Emergency reported"
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
