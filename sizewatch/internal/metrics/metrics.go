// CLAUDE:SUMMARY Buffered SQLite timeseries of per-page observer counters and runtime health.
// Package metrics records sizewatch counters as SQLite timeseries.
//
// Points are buffered and flushed in batches by a background goroutine; a
// full buffer is flushed inline. The metrics database should be separate
// from the change store to avoid write contention.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/hazyhaar/sizewatch/sizewatch/internal/dbopen"
)

// Schema holds the timeseries.
const Schema = `
CREATE TABLE IF NOT EXISTS size_metrics (
	name      TEXT NOT NULL,
	page_id   TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	value     REAL NOT NULL,
	unit      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_size_metrics_name_time
	ON size_metrics(name, timestamp DESC);
`

// Metric names.
const (
	Cycles      = "cycles_total"
	Checks      = "checks_total"
	Changes     = "changes_total"
	Errors      = "errors_total"
	Restarts    = "restarts_total"
	Targets     = "targets_count"
	Events      = "events_total"
	Goroutines  = "goroutines_count"
	HeapAllocMB = "heap_alloc_mb"
)

// Point is a single datapoint. PageID is empty for process-wide points.
type Point struct {
	Name      string    `json:"name"`
	PageID    string    `json:"page_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
}

// Options tunes a Recorder.
type Options struct {
	// BufferSize triggers an inline flush. Default: 100.
	BufferSize int
	// FlushInterval of the background flush. Default: 5s.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

func (o *Options) defaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Recorder buffers points and flushes them to SQLite in batches.
type Recorder struct {
	db     *sql.DB
	owned  bool
	opts   Options
	buffer []Point
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// New creates a recorder on db, applying the schema. The caller keeps
// ownership of db.
func New(db *sql.DB, opts Options) (*Recorder, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("metrics: schema: %w", err)
	}
	return start(db, false, opts), nil
}

// Open opens (or creates) a metrics database at path. Close closes it.
func Open(path string, opts Options) (*Recorder, error) {
	db, err := dbopen.Open(path, Schema)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return start(db, true, opts), nil
}

func start(db *sql.DB, owned bool, opts Options) *Recorder {
	opts.defaults()
	r := &Recorder{
		db:     db,
		owned:  owned,
		opts:   opts,
		buffer: make([]Point, 0, opts.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Record queues points for async persistence.
func (r *Recorder) Record(points ...Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, points...)
	if len(r.buffer) >= r.opts.BufferSize {
		r.flushLocked()
	}
}

// Flush writes buffered points now.
func (r *Recorder) Flush() {
	r.mu.Lock()
	r.flushLocked()
	r.mu.Unlock()
}

// Query returns points, newest first. Empty name or pageID match all.
// limit <= 0 means 100.
func (r *Recorder) Query(ctx context.Context, name, pageID string, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 100
	}
	q := "SELECT name, page_id, timestamp, value, unit FROM size_metrics WHERE 1=1"
	var args []any
	if name != "" {
		q += " AND name = ?"
		args = append(args, name)
	}
	if pageID != "" {
		q += " AND page_id = ?"
		args = append(args, pageID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("metrics: query: %w", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var (
			p  Point
			ts int64
		)
		if err := rows.Scan(&p.Name, &p.PageID, &ts, &p.Value, &p.Unit); err != nil {
			return nil, fmt.Errorf("metrics: scan: %w", err)
		}
		p.Timestamp = time.UnixMilli(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Cleanup deletes points older than retention and returns the count removed.
func (r *Recorder) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := r.db.ExecContext(ctx, "DELETE FROM size_metrics WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("metrics: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes remaining points and stops the background goroutine.
func (r *Recorder) Close() error {
	close(r.stop)
	<-r.done
	if r.owned {
		return r.db.Close()
	}
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

func (r *Recorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}
	log := r.opts.Logger

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("metrics: begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO size_metrics (name, page_id, timestamp, value, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		log.Error("metrics: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, p := range r.buffer {
		if _, err := stmt.ExecContext(ctx, p.Name, p.PageID, p.Timestamp.UnixMilli(), p.Value, p.Unit); err != nil {
			log.Error("metrics: insert", "error", err, "metric", p.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Error("metrics: commit", "error", err)
	}
	r.buffer = r.buffer[:0]
}

// Runtime samples process health.
func Runtime(now time.Time) []Point {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return []Point{
		{Name: Goroutines, Timestamp: now, Value: float64(runtime.NumGoroutine()), Unit: "count"},
		{Name: HeapAllocMB, Timestamp: now, Value: float64(mem.Alloc) / 1024 / 1024, Unit: "megabytes"},
	}
}
