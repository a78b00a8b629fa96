// Package store provides SQLite-backed incident storage. It is the single
// source of truth for incident status.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/setevik/sosdesk/internal/dashboard"
	"github.com/setevik/sosdesk/internal/incident"
)

// ErrNotFound is returned when an incident does not exist.
var ErrNotFound = errors.New("incident not found")

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Fixed-width UTC layout so that text comparison in SQL orders correctly.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

const incidentColumns = `id, resident_name, flat_number, phone_number, nok_phone, type, status,
	timestamp, description, device_tag, updated_at, notified`

// DB wraps an SQLite connection for incident storage.
type DB struct {
	db *sql.DB
}

// Open opens or creates an SQLite database at the given path and applies
// pending migrations.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Insert stores a new incident together with its "raised" history entry.
func (d *DB) Insert(inc *incident.Incident) error {
	if inc.UpdatedAt.IsZero() {
		inc.UpdatedAt = inc.Timestamp
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID,
		inc.ResidentName,
		inc.FlatNumber,
		inc.PhoneNumber,
		inc.NOKPhone,
		string(inc.Type),
		string(inc.Status),
		formatTS(inc.Timestamp),
		inc.Description,
		inc.DeviceTag,
		formatTS(inc.UpdatedAt),
		inc.Notified,
	)
	if err != nil {
		return fmt.Errorf("inserting incident: %w", err)
	}

	actor := "system"
	if inc.DeviceTag != "" {
		actor = inc.DeviceTag
	}
	if err := insertHistory(tx, incident.HistoryEntry{
		IncidentID: inc.ID,
		At:         inc.Timestamp,
		Action:     inc.Type.Label() + " raised",
		Actor:      actor,
		To:         inc.Status,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// Get returns the incident with the given ID.
func (d *DB) Get(id string) (*incident.Incident, error) {
	row := d.db.QueryRow(`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return inc, err
}

// Advance moves an incident to the given status. Only the single forward step
// is accepted; the status check and the update happen in one transaction.
func (d *DB) Advance(id string, to incident.Status, actor string, at time.Time) (*incident.Incident, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning advance: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(`SELECT status FROM incidents WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading incident status: %w", err)
	}

	from := incident.Status(current)
	if err := incident.CheckTransition(from, to); err != nil {
		return nil, err
	}

	res, err := tx.Exec(`UPDATE incidents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTS(at), id, current)
	if err != nil {
		return nil, fmt.Errorf("updating incident status: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, fmt.Errorf("%w: %s changed concurrently", incident.ErrInvalidTransition, id)
	}

	if actor == "" {
		actor = "staff"
	}
	if err := insertHistory(tx, incident.HistoryEntry{
		IncidentID: id,
		At:         at,
		Action:     "Marked " + to.Label(),
		Actor:      actor,
		From:       from,
		To:         to,
	}); err != nil {
		return nil, err
	}

	inc, err := scanIncident(tx.QueryRow(`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing advance: %w", err)
	}

	slog.Debug("incident advanced", "id", id, "from", from, "to", to, "actor", actor)
	return inc, nil
}

// History returns the timeline of an incident, oldest first.
func (d *DB) History(id string) ([]incident.HistoryEntry, error) {
	rows, err := d.db.Query(`
		SELECT incident_id, at, action, actor, from_status, to_status
		FROM incident_history WHERE incident_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []incident.HistoryEntry
	for rows.Next() {
		var e incident.HistoryEntry
		var at, from, to string
		if err := rows.Scan(&e.IncidentID, &at, &e.Action, &e.Actor, &from, &to); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.At = parseTS(at)
		e.From = incident.Status(from)
		e.To = incident.Status(to)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkNotified records that an incident was pushed to staff: it sets the
// notified flag and appends an "Alert sent" entry to the timeline.
func (d *DB) MarkNotified(id string, at time.Time) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning mark notified: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM incidents WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading incident status: %w", err)
	}

	if _, err := tx.Exec(`UPDATE incidents SET notified = TRUE WHERE id = ?`, id); err != nil {
		return fmt.Errorf("marking incident notified: %w", err)
	}
	if err := insertHistory(tx, incident.HistoryEntry{
		IncidentID: id,
		At:         at,
		Action:     "Alert sent to staff",
		Actor:      "system",
		To:         incident.Status(status),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// QueryFilter controls which incidents are returned by Query.
type QueryFilter struct {
	Since  time.Time
	Until  time.Time
	Type   incident.Type
	Status incident.Status
	Flat   string
	Limit  int
}

// Query returns incidents matching the filter, newest first. Since is
// inclusive and Until exclusive.
func (d *DB) Query(f QueryFilter) ([]*incident.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []interface{}

	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, formatTS(f.Since))
	}
	if !f.Until.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, formatTS(f.Until))
	}
	if f.Type != "" && f.Type != incident.AnyType {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.Status != "" && f.Status != incident.AnyStatus {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Flat != "" {
		query += " AND flat_number = ?"
		args = append(args, f.Flat)
	}

	query += " ORDER BY timestamp DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return d.queryIncidents(query, args...)
}

// Day returns every incident raised on ref's calendar day (in ref's location),
// in the order they were raised.
func (d *DB) Day(ref time.Time) ([]*incident.Incident, error) {
	start, end := dashboard.DayBounds(ref)

	return d.queryIncidents(`SELECT `+incidentColumns+` FROM incidents
		WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC, rowid ASC`,
		formatTS(start), formatTS(end))
}

// Count returns the total number of stored incidents.
func (d *DB) Count() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM incidents`).Scan(&n)
	return n, err
}

// Purge deletes attended incidents older than the retention duration, along
// with their history. Open incidents are never purged.
func (d *DB) Purge(retention time.Duration) (int64, error) {
	cutoff := formatTS(time.Now().Add(-retention))

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning purge: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM incident_history WHERE incident_id IN (
		SELECT id FROM incidents WHERE status = ? AND timestamp < ?)`,
		string(incident.StatusAttended), cutoff); err != nil {
		return 0, fmt.Errorf("purging history: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM incidents WHERE status = ? AND timestamp < ?`,
		string(incident.StatusAttended), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging old incidents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (d *DB) queryIncidents(query string, args ...interface{}) ([]*incident.Incident, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(s scanner) (*incident.Incident, error) {
	var inc incident.Incident
	var ts, updated string
	var description, deviceTag sql.NullString

	err := s.Scan(
		&inc.ID,
		&inc.ResidentName,
		&inc.FlatNumber,
		&inc.PhoneNumber,
		&inc.NOKPhone,
		&inc.Type,
		&inc.Status,
		&ts,
		&description,
		&deviceTag,
		&updated,
		&inc.Notified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning incident row: %w", err)
	}

	inc.Timestamp = parseTS(ts)
	inc.UpdatedAt = parseTS(updated)
	inc.Description = description.String
	inc.DeviceTag = deviceTag.String
	return &inc, nil
}

func insertHistory(tx *sql.Tx, e incident.HistoryEntry) error {
	_, err := tx.Exec(`
		INSERT INTO incident_history (incident_id, at, action, actor, from_status, to_status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.IncidentID, formatTS(e.At), e.Action, e.Actor, string(e.From), string(e.To))
	if err != nil {
		return fmt.Errorf("inserting history: %w", err)
	}
	return nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(context.Background())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	for _, r := range results {
		slog.Debug("migration applied", "source", r.Source.Path, "duration", r.Duration)
	}
	slog.Debug("database schema up to date")
	return nil
}
