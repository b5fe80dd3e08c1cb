package sink

import (
	"context"

	"github.com/hazyhaar/sizewatch/sizewatch/change"
)

// Func is called for each change event.
type Func func(ctx context.Context, ev change.Event) error

// Callback delivers events via a Go function call, for embedding sizewatch
// in the same binary as its consumer.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, ev change.Event) error {
	if c.fn != nil {
		return c.fn(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
