// Package observer is the size observation engine: observed targets, the
// registry that owns them, and the back-off scheduler that dirty-checks
// every target's signature.
package observer

import (
	"context"
	"slices"
	"sync"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/probe"
)

// Handler is called once per detected change with the target and its
// watch state.
type Handler func(ctx context.Context, t geometry.Target, ot *Observed)

// Observed is the watch state of one target.
type Observed struct {
	target geometry.Target

	mu       sync.Mutex
	props    []geometry.Property // deduplicated, insertion ordered
	probe    *probe.Probe
	seeded   bool
	last     string
	lastBy   *probe.Probe // probe that produced last
	previous string
	handlers []Handler
}

func newObserved(t geometry.Target, props []geometry.Property, h Handler) *Observed {
	o := &Observed{target: t}
	o.addPropertiesLocked(props)
	if h != nil {
		o.handlers = append(o.handlers, h)
	}
	return o
}

// Target returns the observed target.
func (o *Observed) Target() geometry.Target { return o.target }

// Properties returns a copy of the accumulated property set.
func (o *Observed) Properties() []geometry.Property {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.props)
}

// Signature returns the last stored signature and whether one exists.
func (o *Observed) Signature() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.seeded
}

// Previous returns the signature replaced by the most recent change.
func (o *Observed) Previous() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.previous
}

// Handlers returns the number of registered handlers.
func (o *Observed) Handlers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handlers)
}

// Reads returns the currently compiled probe specification.
func (o *Observed) Reads() []geometry.Read {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.probe.Reads()
}

// AddProperties merges props into the property set and recompiles the
// probe when the set grew. It reports whether it grew.
func (o *Observed) AddProperties(props []geometry.Property) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.addPropertiesLocked(props)
}

func (o *Observed) addPropertiesLocked(props []geometry.Property) bool {
	grew := false
	for _, p := range props {
		if p == "" || slices.Contains(o.props, p) {
			continue
		}
		o.props = append(o.props, p)
		grew = true
	}
	if grew || o.probe == nil {
		o.probe = probe.Compile(o.target, o.props)
	}
	return grew
}

// AddHandler appends h. The same handler registered twice fires twice.
func (o *Observed) AddHandler(h Handler) {
	if h == nil {
		return
	}
	o.mu.Lock()
	o.handlers = append(o.handlers, h)
	o.mu.Unlock()
}

// Check recomputes the signature. The first signature is stored without
// notifying anyone. A different signature fires every handler in
// registration order and reports true.
//
// After the property set grew, the fresh signature is compared on the
// reads the stored one was taken with, so a change to an already watched
// property still fires while the new properties alone do not.
func (o *Observed) Check(ctx context.Context, r probe.Reader) (bool, error) {
	o.mu.Lock()
	p := o.probe
	o.mu.Unlock()

	sig, err := p.Signature(ctx, r)
	if err != nil {
		return false, err
	}

	o.mu.Lock()
	if p != o.probe {
		// Recompiled while reading; the next check compares the new shape.
		o.mu.Unlock()
		return false, nil
	}
	if !o.seeded {
		o.last, o.lastBy, o.seeded = sig, p, true
		o.mu.Unlock()
		return false, nil
	}
	same := sig == o.last
	if o.lastBy != p {
		cmp, ok := probe.Reshape(sig, p.Reads(), o.lastBy.Reads())
		same = ok && cmp == o.last
		if same {
			o.last, o.lastBy = sig, p
		}
	}
	if same {
		o.mu.Unlock()
		return false, nil
	}
	o.previous, o.last, o.lastBy = o.last, sig, p
	handlers := slices.Clone(o.handlers)
	o.mu.Unlock()

	for _, h := range handlers {
		h(ctx, o.target, o)
	}
	return true, nil
}

// seed stores the first signature of a new target without firing handlers.
func (o *Observed) seed(ctx context.Context, r probe.Reader) error {
	o.mu.Lock()
	p := o.probe
	o.mu.Unlock()

	sig, err := p.Signature(ctx, r)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if p == o.probe && !o.seeded {
		o.last, o.lastBy, o.seeded = sig, p, true
	}
	o.mu.Unlock()
	return nil
}
