// CLAUDE:SUMMARY Get-or-create registry of observed targets with property merge and per-cycle checks.
package observer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/probe"
)

// ErrNoProperties is returned when a new target is registered without any
// property to watch.
var ErrNoProperties = errors.New("observer: no properties to watch")

// Registry holds observed targets keyed by target identity, in insertion
// order. Create one per page; there is no process-wide registry.
type Registry struct {
	reader probe.Reader
	logger *slog.Logger

	mu    sync.RWMutex
	index map[string]*Observed
	order []*Observed
}

// NewRegistry creates an empty registry reading through r.
func NewRegistry(r probe.Reader, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		reader: r,
		logger: logger,
		index:  make(map[string]*Observed),
	}
}

// Reader returns the reader the registry checks through.
func (r *Registry) Reader() probe.Reader { return r.reader }

// RegisterOrUpdate creates the observed target for t, seeding its signature
// without notifying, or merges props and appends h to the existing one.
// A seeding failure is logged and the target stays registered; its first
// successful check seeds it instead.
func (r *Registry) RegisterOrUpdate(ctx context.Context, t geometry.Target, props []geometry.Property, h Handler) error {
	_, err := r.register(ctx, t, props, h, true)
	return err
}

// RegisterOnce is RegisterOrUpdate except that h is only attached when the
// target is created. It reports whether it created the target.
func (r *Registry) RegisterOnce(ctx context.Context, t geometry.Target, props []geometry.Property, h Handler) (bool, error) {
	return r.register(ctx, t, props, h, false)
}

func (r *Registry) register(ctx context.Context, t geometry.Target, props []geometry.Property, h Handler, appendHandler bool) (bool, error) {
	key := t.Key()

	r.mu.Lock()
	o, ok := r.index[key]
	if !ok {
		if len(props) == 0 {
			r.mu.Unlock()
			return false, ErrNoProperties
		}
		o = newObserved(t, props, h)
		r.index[key] = o
		r.order = append(r.order, o)
	}
	r.mu.Unlock()

	if !ok {
		if err := o.seed(ctx, r.reader); err != nil {
			r.logger.Warn("observer: seed failed", "target", t.String(), "error", err)
		}
		r.logger.Debug("observer: target registered", "target", t.String(), "properties", props)
		return true, nil
	}

	if appendHandler {
		o.AddHandler(h)
	}
	if o.AddProperties(props) {
		r.logger.Debug("observer: properties merged", "target", t.String(), "properties", o.Properties())
	}
	return false, nil
}

// Get returns the observed target with the given key.
func (r *Registry) Get(key string) (*Observed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.index[key]
	return o, ok
}

// Len returns the number of observed targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Targets returns a snapshot of the observed targets in insertion order.
func (r *Registry) Targets() []*Observed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Observed, len(r.order))
	copy(out, r.order)
	return out
}

// CycleResult summarises one check cycle.
type CycleResult struct {
	Checked int
	Changed int
	Errors  int
}

// CheckAll checks every target once, in insertion order. A failing target
// is logged and does not stop the cycle.
func (r *Registry) CheckAll(ctx context.Context) CycleResult {
	var res CycleResult
	for _, o := range r.Targets() {
		if ctx.Err() != nil {
			break
		}
		res.Checked++
		changed, err := o.Check(ctx, r.reader)
		if err != nil {
			res.Errors++
			r.logger.Debug("observer: check failed", "target", o.Target().String(), "error", err)
			continue
		}
		if changed {
			res.Changed++
		}
	}
	return res
}
