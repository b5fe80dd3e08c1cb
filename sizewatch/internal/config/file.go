// CLAUDE:SUMMARY Defines sizewatch config structs and parses YAML configuration files with defaults.
// Package config handles sizewatch configuration from YAML files or SQLite.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
)

// Config is the top-level sizewatch configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Pages    []PageConfig   `yaml:"pages"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	// Listen is the address of the admin HTTP API. Empty disables it.
	Listen string `yaml:"listen"`
	// Source is an SQLite database holding watch_targets rows, polled for
	// changes. Empty disables it.
	Source SourceConfig `yaml:"source"`
	// Metrics is an SQLite database receiving periodic counter samples.
	// Empty disables it.
	Metrics MetricsConfig `yaml:"metrics"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// ScheduleConfig is the back-off of the check cycles.
type ScheduleConfig struct {
	Steps []StepConfig  `yaml:"steps"`
	Idle  time.Duration `yaml:"idle"`
}

// StepConfig applies Delay while fewer than Cycles cycles ran since the
// last restart.
type StepConfig struct {
	Cycles int           `yaml:"cycles"`
	Delay  time.Duration `yaml:"delay"`
}

// PageConfig defines a page to observe.
type PageConfig struct {
	ID        string         `yaml:"id"`
	URL       string         `yaml:"url"`
	NoStealth bool           `yaml:"no_stealth"` // open a plain page without stealth evasions
	Viewport  ViewportConfig `yaml:"viewport"`
	Watches   []WatchConfig  `yaml:"watches"`
}

// ViewportConfig is the emulated window size. Zero keeps the browser default.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// WatchConfig registers properties of the nodes matched by Selector.
type WatchConfig struct {
	Kind       string   `yaml:"kind"` // element | viewport | document
	Selector   string   `yaml:"selector"`
	Properties []string `yaml:"properties"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // webhook
	Path string `yaml:"path"` // sqlite
}

// SourceConfig points at the SQLite watch_targets table.
type SourceConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig points at the metrics database.
type MetricsConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// LoadFile reads and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if len(c.Schedule.Steps) == 0 && c.Schedule.Idle <= 0 {
		c.Schedule = DefaultSchedule()
	}
	if c.Schedule.Idle <= 0 {
		c.Schedule.Idle = time.Second
	}
	if c.Source.Path != "" && c.Source.Interval <= 0 {
		c.Source.Interval = time.Second
	}
	if c.Metrics.Path != "" && c.Metrics.Interval <= 0 {
		c.Metrics.Interval = 30 * time.Second
	}
	for i := range c.Pages {
		for j := range c.Pages[i].Watches {
			w := &c.Pages[i].Watches[j]
			if w.Kind == "" {
				w.Kind = string(geometry.KindElement)
			}
			if len(w.Properties) == 0 {
				w.Properties = []string{string(geometry.Height), string(geometry.Width)}
			}
		}
	}
}

// Validate reports the first invalid page or watch.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Pages))
	for _, p := range c.Pages {
		if p.ID == "" || p.URL == "" {
			return fmt.Errorf("config: page needs id and url (id=%q url=%q)", p.ID, p.URL)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
		for _, w := range p.Watches {
			if err := w.Validate(); err != nil {
				return fmt.Errorf("config: page %s: %w", p.ID, err)
			}
		}
	}
	for _, s := range c.Schedule.Steps {
		if s.Cycles <= 0 || s.Delay <= 0 {
			return fmt.Errorf("config: schedule step needs positive cycles and delay: %+v", s)
		}
	}
	return nil
}

// Validate checks kind and selector.
func (w WatchConfig) Validate() error {
	kind, err := geometry.ParseKind(w.Kind)
	if err != nil {
		return err
	}
	if kind == geometry.KindElement && w.Selector == "" {
		return fmt.Errorf("element watch needs a selector")
	}
	return nil
}

// DefaultSchedule is 64ms for 10 cycles, 250ms until cycle 100, then 1s.
func DefaultSchedule() ScheduleConfig {
	return ScheduleConfig{
		Steps: []StepConfig{
			{Cycles: 10, Delay: 64 * time.Millisecond},
			{Cycles: 100, Delay: 250 * time.Millisecond},
		},
		Idle: time.Second,
	}
}
