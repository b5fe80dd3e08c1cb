package sizewatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"

	_ "modernc.org/sqlite"
)

// fakePage is a page without a browser: selectors map to stamp ids, and
// every target serves attribute values keyed "element.attr".
type fakePage struct {
	mu        sync.Mutex
	selectors map[string][]string
	vals      map[string]map[string]string
	viewport  [2]int
	noResize  bool
}

func newFakePage() *fakePage {
	return &fakePage{
		selectors: make(map[string][]string),
		vals:      make(map[string]map[string]string),
	}
}

func (f *fakePage) match(selector string, ids ...string) {
	f.mu.Lock()
	f.selectors[selector] = ids
	f.mu.Unlock()
}

func (f *fakePage) set(t Target, el geometry.Node, attr, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.vals[t.Key()]
	if m == nil {
		m = make(map[string]string)
		f.vals[t.Key()] = m
	}
	m[string(el)+"."+attr] = v
}

func (f *fakePage) Resolve(_ context.Context, kind geometry.Kind, selector string) ([]Target, error) {
	switch kind {
	case geometry.KindViewport:
		return []Target{geometry.Viewport()}, nil
	case geometry.KindDocument:
		return []Target{geometry.Document()}, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids, ok := f.selectors[selector]
	if !ok {
		return nil, fmt.Errorf("invalid selector %q", selector)
	}
	out := make([]Target, len(ids))
	for i, id := range ids {
		out[i] = geometry.Element(selector, id)
	}
	return out, nil
}

func (f *fakePage) ReadAll(_ context.Context, t Target, reads []geometry.Read) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(reads))
	for i, r := range reads {
		v, ok := f.vals[t.Key()][string(r.Element)+"."+r.Attr]
		if !ok {
			v = "undefined"
		}
		out[i] = v
	}
	return out, nil
}

// viewportPage is a fakePage that can be resized.
type viewportPage struct {
	*fakePage
}

func (v viewportPage) SetViewport(_ context.Context, w, h int) error {
	v.mu.Lock()
	v.viewport = [2]int{w, h}
	m := v.vals["viewport"]
	if m == nil {
		m = make(map[string]string)
		v.vals["viewport"] = m
	}
	m["root.clientWidth"] = fmt.Sprint(w)
	m["root.clientHeight"] = fmt.Sprint(h)
	v.mu.Unlock()
	return nil
}

// manualClock never fires on its own; fire runs the pending call.
type manualClock struct {
	mu      sync.Mutex
	pending func()
	delays  []time.Duration
}

type manualTimer struct {
	c  *manualClock
	id int
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if len(t.c.delays) == t.id && t.c.pending != nil {
		t.c.pending = nil
		return true
	}
	return false
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	c.pending = f
	return &manualTimer{c: c, id: len(c.delays)}
}

func (c *manualClock) fire() bool {
	c.mu.Lock()
	f := c.pending
	c.pending = nil
	c.mu.Unlock()
	if f == nil {
		return false
	}
	f()
	return true
}
