package sizewatch

import (
	"database/sql"

	"github.com/hazyhaar/sizewatch/sizewatch/internal/config"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/dbopen"
)

// Config is the top-level sizewatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// ScheduleConfig is the back-off of the check cycles.
type ScheduleConfig = config.ScheduleConfig

// PageConfig defines a page to observe.
type PageConfig = config.PageConfig

// WatchConfig registers properties of the nodes matched by a selector.
type WatchConfig = config.WatchConfig

// MetricsConfig points at the metrics database.
type MetricsConfig = config.MetricsConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// DBTarget is one row of the watch_targets table.
type DBTarget = config.DBTarget

// SourcePoller reloads watch_targets rows when the table changes.
type SourcePoller = config.Poller

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// OpenSource opens (creating if needed) an SQLite watch_targets database.
// The caller must blank-import modernc.org/sqlite.
func OpenSource(path string) (*sql.DB, error) {
	return dbopen.Open(path, config.Schema)
}

// NewSourcePoller polls db with the given options. Pass Watcher.Reload to
// its Run method.
func NewSourcePoller(db *sql.DB, opts SourcePollerOptions) *SourcePoller {
	return config.NewPoller(db, opts)
}

// SourcePollerOptions tunes a SourcePoller.
type SourcePollerOptions = config.PollerOptions

// backoffFrom converts the configured schedule.
func backoffFrom(sc ScheduleConfig) Backoff {
	b := Backoff{Idle: sc.Idle}
	for _, s := range sc.Steps {
		b.Steps = append(b.Steps, BackoffStep{Cycles: s.Cycles, Delay: s.Delay})
	}
	return b
}
