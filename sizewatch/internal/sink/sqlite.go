// CLAUDE:SUMMARY Stores change events in SQLite and serves the most recent per page.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/sizewatch/sizewatch/change"
	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/dbopen"
)

// StoreSchema holds the change history.
const StoreSchema = `
CREATE TABLE IF NOT EXISTS size_changes (
	id          TEXT PRIMARY KEY,
	page_id     TEXT NOT NULL,
	page_url    TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	target_key  TEXT NOT NULL,
	target      TEXT NOT NULL,
	properties  TEXT NOT NULL DEFAULT '[]',
	previous    TEXT NOT NULL,
	current     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_size_changes_page ON size_changes(page_id, seq);
`

// SQLite records every event in the size_changes table.
type SQLite struct {
	db    *sql.DB
	owned bool
}

// NewSQLite wraps an open database, creating the table if needed. The
// caller keeps ownership of db.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(StoreSchema); err != nil {
		return nil, fmt.Errorf("sqlite sink: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// OpenSQLite opens (or creates) the store at path. Close closes the database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := dbopen.Open(path, StoreSchema)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: %w", err)
	}
	return &SQLite{db: db, owned: true}, nil
}

func (s *SQLite) Send(ctx context.Context, ev change.Event) error {
	target, err := json.Marshal(ev.Target)
	if err != nil {
		return fmt.Errorf("sqlite sink: marshal target: %w", err)
	}
	props, err := json.Marshal(ev.Properties)
	if err != nil {
		return fmt.Errorf("sqlite sink: marshal properties: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO size_changes (id, page_id, page_url, seq, target_key, target,
			properties, previous, current, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.PageID, ev.PageURL, ev.Seq, ev.Target.Key(), string(target),
		string(props), ev.Previous, ev.Current, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("sqlite sink: insert: %w", err)
	}
	return nil
}

// Recent returns the latest events of a page, newest first. limit <= 0
// means 100.
func (s *SQLite) Recent(ctx context.Context, pageID string, limit int) ([]change.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, page_url, seq, target, properties, previous, current, created_at
		FROM size_changes
		WHERE page_id = ?
		ORDER BY seq DESC
		LIMIT ?`, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: query: %w", err)
	}
	defer rows.Close()

	var out []change.Event
	for rows.Next() {
		var (
			ev            change.Event
			target, props string
		)
		if err := rows.Scan(&ev.ID, &ev.PageID, &ev.PageURL, &ev.Seq, &target, &props,
			&ev.Previous, &ev.Current, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite sink: scan: %w", err)
		}
		var t geometry.Target
		if err := json.Unmarshal([]byte(target), &t); err != nil {
			return nil, fmt.Errorf("sqlite sink: decode target: %w", err)
		}
		ev.Target = t
		json.Unmarshal([]byte(props), &ev.Properties)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
