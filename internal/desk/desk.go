// Package desk ties the incident pipeline together: raising incidents from
// device signals or by hand, advancing them, and reading the dashboard.
package desk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/setevik/sosdesk/internal/classifier"
	"github.com/setevik/sosdesk/internal/config"
	"github.com/setevik/sosdesk/internal/dashboard"
	"github.com/setevik/sosdesk/internal/directory"
	"github.com/setevik/sosdesk/internal/enricher"
	"github.com/setevik/sosdesk/internal/incident"
	"github.com/setevik/sosdesk/internal/intake"
	"github.com/setevik/sosdesk/internal/store"
)

// DateLayout is the calendar-day format accepted by the API and CLI.
const DateLayout = "2006-01-02"

// Notifier pushes a newly raised incident to staff.
type Notifier interface {
	Report(ctx context.Context, inc *incident.Incident) (bool, error)
}

// Desk is the incident desk.
type Desk struct {
	cfg *config.Config
	db  *store.DB
	dir *directory.Directory
	cls *classifier.Classifier
	enr *enricher.Enricher
	ntf Notifier
	loc *time.Location
	now func() time.Time
}

// New creates a Desk. A nil notifier disables push notifications.
func New(cfg *config.Config, db *store.DB, dir *directory.Directory, ntf Notifier) (*Desk, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Desk{
		cfg: cfg,
		db:  db,
		dir: dir,
		cls: classifier.New(),
		enr: enricher.New(dir),
		ntf: ntf,
		loc: loc,
		now: time.Now,
	}, nil
}

// Directory returns the society directory the desk resolves residents from.
func (d *Desk) Directory() *directory.Directory {
	return d.dir
}

// Location returns the society timezone.
func (d *Desk) Location() *time.Location {
	return d.loc
}

// Now returns the current time in the society timezone.
func (d *Desk) Now() time.Time {
	return d.now().In(d.loc)
}

// ParseDate parses a YYYY-MM-DD day in the society timezone. An empty string
// means today.
func (d *Desk) ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return d.Now(), nil
	}
	t, err := time.ParseInLocation(DateLayout, s, d.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// Stats returns the per-status counts for day's calendar day.
func (d *Desk) Stats(day time.Time) (dashboard.Stats, error) {
	incs, err := d.db.Day(day)
	if err != nil {
		return dashboard.Stats{}, fmt.Errorf("loading incidents: %w", err)
	}
	return dashboard.Aggregate(incs, day), nil
}

// List returns the incidents visible under f, in raise order.
func (d *Desk) List(f dashboard.Filter) ([]*incident.Incident, error) {
	incs, err := d.db.Day(f.Date)
	if err != nil {
		return nil, fmt.Errorf("loading incidents: %w", err)
	}
	return dashboard.Select(incs, f), nil
}

// Get returns one incident and its history.
func (d *Desk) Get(id string) (*incident.Incident, []incident.HistoryEntry, error) {
	inc, err := d.db.Get(id)
	if err != nil {
		return nil, nil, err
	}
	hist, err := d.db.History(id)
	if err != nil {
		return nil, nil, err
	}
	return inc, hist, nil
}

// Advance moves an incident forward. An empty to means the next status.
func (d *Desk) Advance(id string, to incident.Status, actor string) (*incident.Incident, error) {
	if to == "" {
		cur, err := d.db.Get(id)
		if err != nil {
			return nil, err
		}
		if to, err = cur.Status.Next(); err != nil {
			return nil, err
		}
	}
	if actor == "" {
		actor = "staff"
	}

	inc, err := d.db.Advance(id, to, actor, d.now())
	if err != nil {
		return nil, err
	}
	slog.Info("incident advanced", "id", id, "status", inc.Status, "actor", actor)
	return inc, nil
}

// Raise runs a new incident through enrichment, storage, cooldown and
// notification. Storage failures are returned; notification failures are
// logged since the incident is already on the dashboard.
func (d *Desk) Raise(ctx context.Context, inc *incident.Incident) error {
	if !inc.Type.Valid() {
		return fmt.Errorf("%w: %q", incident.ErrUnknownType, inc.Type)
	}
	if inc.Timestamp.IsZero() {
		inc.Timestamp = d.now()
	}

	d.enr.Enrich(ctx, inc)

	if err := d.db.Insert(inc); err != nil {
		return fmt.Errorf("storing incident: %w", err)
	}

	slog.Info("incident raised",
		"id", inc.ID,
		"type", inc.Type,
		"flat", inc.FlatNumber,
		"resident", inc.ResidentName,
	)

	d.notify(ctx, inc)
	return nil
}

func (d *Desk) notify(ctx context.Context, inc *incident.Incident) {
	if d.ntf == nil {
		return
	}

	cd, err := d.db.CheckCooldown(inc, d.cfg.Cooldown.Window.Duration, d.cfg.Cooldown.AggregateThreshold)
	if err != nil {
		slog.Error("cooldown check failed", "error", err)
	}

	if !cd.ShouldAlert {
		slog.Debug("notification suppressed by cooldown",
			"type", inc.Type,
			"flat", inc.FlatNumber,
			"recent_count", cd.RecentCount,
		)
		return
	}

	msg := *inc
	if cd.Aggregated {
		msg.Description = fmt.Sprintf("[x%d] %s", cd.RecentCount+1, inc.Description)
	}

	sent, err := d.ntf.Report(ctx, &msg)
	if err != nil {
		slog.Error("failed to send notification", "id", inc.ID, "error", err)
		return
	}
	if sent {
		if err := d.db.MarkNotified(inc.ID, d.now()); err != nil {
			slog.Warn("failed to mark incident notified", "id", inc.ID, "error", err)
		}
		inc.Notified = true
	}
}

// Consume reads device signals from src, raising an incident for every alarm
// signal. It returns nil when ctx is cancelled and wraps intake.ErrClosed when
// the source ends on its own, so callers can tell that intake has stopped.
func (d *Desk) Consume(ctx context.Context, src intake.Source) error {
	signals, err := src.Signals(ctx)
	if err != nil {
		return fmt.Errorf("starting intake: %w", err)
	}
	defer src.Stop()

	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("consuming signals: %w", intake.ErrClosed)
			}

			if sig.At.IsZero() {
				sig.At = d.now()
			}
			inc := d.cls.Classify(sig)
			if inc == nil {
				slog.Debug("signal ignored", "device", sig.DeviceTag, "kind", sig.Kind)
				continue
			}

			if err := d.Raise(ctx, inc); err != nil {
				slog.Error("failed to raise incident", "device", sig.DeviceTag, "error", err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}
