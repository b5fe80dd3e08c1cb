// CLAUDE:SUMMARY Loads watch_targets from SQLite and polls the table for changes.
package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"
)

// Schema for the watch_targets table. One row is one watch on one page;
// rows sharing a page_id must share its url.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_targets (
	id          TEXT PRIMARY KEY,
	page_id     TEXT NOT NULL,
	url         TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT 'element',
	selector    TEXT NOT NULL DEFAULT '',
	properties  TEXT NOT NULL DEFAULT '["height","width"]',
	status      TEXT NOT NULL DEFAULT 'active',
	updated_at  INTEGER NOT NULL
);
`

// DBTarget is a row from the watch_targets table.
type DBTarget struct {
	ID         string
	PageID     string
	URL        string
	Kind       string
	Selector   string
	Properties []string
	Status     string
	UpdatedAt  time.Time
}

// LoadTargets reads all active rows, ordered by page then id.
func LoadTargets(ctx context.Context, db *sql.DB) ([]DBTarget, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, page_id, url, kind, selector, properties, status, updated_at
		FROM watch_targets
		WHERE status = 'active'
		ORDER BY page_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load targets: %w", err)
	}
	defer rows.Close()

	var out []DBTarget
	for rows.Next() {
		var (
			t         DBTarget
			propsJSON string
			updatedMs int64
		)
		if err := rows.Scan(&t.ID, &t.PageID, &t.URL, &t.Kind, &t.Selector,
			&propsJSON, &t.Status, &updatedMs); err != nil {
			return nil, fmt.Errorf("config: scan target: %w", err)
		}
		if err := json.Unmarshal([]byte(propsJSON), &t.Properties); err != nil {
			return nil, fmt.Errorf("config: target %s: properties: %w", t.ID, err)
		}
		t.UpdatedAt = time.UnixMilli(updatedMs)
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTarget inserts or replaces a row, stamping updated_at.
func UpsertTarget(ctx context.Context, db *sql.DB, t DBTarget) error {
	props, err := json.Marshal(t.Properties)
	if err != nil {
		return err
	}
	if t.Kind == "" {
		t.Kind = "element"
	}
	if t.Status == "" {
		t.Status = "active"
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO watch_targets
			(id, page_id, url, kind, selector, properties, status, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.PageID, t.URL, t.Kind, t.Selector, string(props), t.Status, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: upsert target %s: %w", t.ID, err)
	}
	return nil
}

// Pages groups rows into page configurations, sorted by page id. Rows
// whose watch is invalid are skipped and reported.
func Pages(targets []DBTarget) ([]PageConfig, []error) {
	byID := make(map[string]*PageConfig)
	var errs []error
	for _, t := range targets {
		w := WatchConfig{Kind: t.Kind, Selector: t.Selector, Properties: t.Properties}
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: target %s: %w", t.ID, err))
			continue
		}
		p, ok := byID[t.PageID]
		if !ok {
			p = &PageConfig{ID: t.PageID, URL: t.URL}
			byID[t.PageID] = p
		}
		p.Watches = append(p.Watches, w)
	}

	out := make([]PageConfig, 0, len(byID))
	for _, p := range byID {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, errs
}

// Detector reads a version token; two different tokens mean the table
// changed.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// DataVersion uses PRAGMA data_version, which moves when another
// connection writes to the database file.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// LastUpdate uses the newest updated_at of watch_targets. It also sees
// writes made through the polling connection itself.
func LastUpdate(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(updated_at), 0) FROM watch_targets").Scan(&v)
	return v, err
}

// PollerOptions tunes a Poller.
type PollerOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Detector defaults to DataVersion.
	Detector Detector
	Logger   *slog.Logger
}

func (o *PollerOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = DataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Poller watches the watch_targets table and reloads on change.
type Poller struct {
	db   *sql.DB
	opts PollerOptions

	version atomic.Int64
	checks  atomic.Int64
	reloads atomic.Int64
	errors  atomic.Int64
}

// NewPoller creates a Poller. Call Run to start it.
func NewPoller(db *sql.DB, opts PollerOptions) *Poller {
	opts.defaults()
	return &Poller{db: db, opts: opts}
}

// PollerStats are point-in-time counters.
type PollerStats struct {
	Checks  int64 `json:"checks"`
	Reloads int64 `json:"reloads"`
	Errors  int64 `json:"errors"`
}

// Stats returns the current counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Checks:  p.checks.Load(),
		Reloads: p.reloads.Load(),
		Errors:  p.errors.Load(),
	}
}

// Run calls reload once with the current targets, then again every time
// the detector reports a new version, until ctx is done. If reload fails
// the version is not advanced and the reload is retried on the next poll.
func (p *Poller) Run(ctx context.Context, reload func(ctx context.Context, targets []DBTarget) error) {
	log := p.opts.Logger
	p.version.Store(-1)
	p.poll(ctx, reload)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	log.Info("config: polling watch_targets", "interval", p.opts.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, reload)
		}
	}
}

func (p *Poller) poll(ctx context.Context, reload func(ctx context.Context, targets []DBTarget) error) {
	log := p.opts.Logger
	p.checks.Add(1)
	v, err := p.opts.Detector(ctx, p.db)
	if err != nil {
		p.errors.Add(1)
		log.Warn("config: version check failed", "error", err)
		return
	}
	if v == p.version.Load() {
		return
	}

	targets, err := LoadTargets(ctx, p.db)
	if err == nil {
		err = reload(ctx, targets)
	}
	if err != nil {
		p.errors.Add(1)
		log.Error("config: reload failed", "version", v, "error", err)
		return
	}
	p.version.Store(v)
	p.reloads.Add(1)
	log.Info("config: targets reloaded", "version", v, "targets", len(targets))
}
