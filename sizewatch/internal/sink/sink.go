// Package sink defines output backends for sizewatch change events.
package sink

import (
	"context"

	"github.com/hazyhaar/sizewatch/sizewatch/change"
)

// Sink is the output interface. Implementations deliver change events to
// different backends (stdout, webhook, SQLite, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev change.Event) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
