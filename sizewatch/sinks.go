package sizewatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/sizewatch/sizewatch/change"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/metrics"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/sink"
)

// Sink is the output interface for change events.
type Sink = sink.Sink

// Event is a change notification.
type Event = change.Event

// ChangeStore is the SQLite sink, queryable for recent events.
type ChangeStore = sink.SQLite

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn func(ctx context.Context, ev Event) error) Sink {
	return sink.NewCallback(fn)
}

// OpenChangeStore opens (creating if needed) an SQLite change store.
// The caller must blank-import modernc.org/sqlite.
func OpenChangeStore(path string) (*ChangeStore, error) {
	return sink.OpenSQLite(path)
}

// MetricsRecorder stores counter samples in SQLite.
type MetricsRecorder = metrics.Recorder

// MetricPoint is one metrics sample.
type MetricPoint = metrics.Point

// OpenMetrics opens (creating if needed) an SQLite metrics database.
// The caller must blank-import modernc.org/sqlite.
func OpenMetrics(path string, logger *slog.Logger) (*MetricsRecorder, error) {
	return metrics.Open(path, metrics.Options{Logger: logger})
}

// SinksFromConfig builds the configured sinks. With no configuration the
// result is a single stdout sink.
func SinksFromConfig(cfgs []SinkConfig, logger *slog.Logger) ([]Sink, error) {
	if len(cfgs) == 0 {
		return []Sink{NewStdoutSink(os.Stdout)}, nil
	}
	var out []Sink
	for _, c := range cfgs {
		switch c.Type {
		case "stdout", "":
			out = append(out, NewStdoutSink(os.Stdout))
		case "webhook":
			if c.URL == "" {
				return closeAll(out, fmt.Errorf("sizewatch: webhook sink needs a url"))
			}
			out = append(out, NewWebhookSink(c.URL, logger))
		case "sqlite":
			if c.Path == "" {
				return closeAll(out, fmt.Errorf("sizewatch: sqlite sink needs a path"))
			}
			s, err := OpenChangeStore(c.Path)
			if err != nil {
				return closeAll(out, fmt.Errorf("sizewatch: sqlite sink: %w", err))
			}
			out = append(out, s)
		default:
			return closeAll(out, fmt.Errorf("sizewatch: unknown sink type %q", c.Type))
		}
	}
	return out, nil
}

func closeAll(sinks []Sink, err error) ([]Sink, error) {
	for _, s := range sinks {
		s.Close()
	}
	return nil, err
}
