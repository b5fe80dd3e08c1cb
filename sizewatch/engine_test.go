package sizewatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
)

type hits struct {
	mu    sync.Mutex
	calls []Target
}

func (h *hits) handler(_ context.Context, t Target, _ *Observed) {
	h.mu.Lock()
	h.calls = append(h.calls, t)
	h.mu.Unlock()
}

func (h *hits) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

var hero = geometry.Element("#hero", "s-0")

func newTestEngine(page *fakePage) (*Engine, *manualClock) {
	clock := &manualClock{}
	return NewEngine(page, EngineConfig{Clock: clock}), clock
}

func TestEngine_NilHandlerIsNoop(t *testing.T) {
	e, _ := newTestEngine(newFakePage())
	if err := e.Register(context.Background(), []Target{hero}, OnResize(nil)); err != nil {
		t.Fatalf("nil handler returned error: %v", err)
	}
	if e.Len() != 0 {
		t.Fatalf("nil handler registered %d targets", e.Len())
	}
}

func TestEngine_HeightScenario(t *testing.T) {
	page := newFakePage()
	page.set(hero, geometry.Self, "clientHeight", "100")
	e, clock := newTestEngine(page)
	ctx := context.Background()
	var h hits

	if err := e.Register(ctx, []Target{hero}, OnResizeOfProperty(geometry.Height, h.handler)); err != nil {
		t.Fatal(err)
	}
	e.Start(ctx)
	if h.count() != 0 {
		t.Fatalf("unchanged height fired %d times", h.count())
	}

	page.set(hero, geometry.Self, "clientHeight", "150")
	clock.fire()
	if h.count() != 1 {
		t.Fatalf("height change: got %d calls, want 1", h.count())
	}
	o, _ := e.Lookup(hero)
	if o.Previous() != "100;" {
		t.Errorf("previous: got %q", o.Previous())
	}
	if sig, _ := o.Signature(); sig != "150;" {
		t.Errorf("signature: got %q", sig)
	}

	clock.fire()
	if h.count() != 1 {
		t.Fatalf("stable height fired again: %d calls", h.count())
	}
}

func TestEngine_UnwatchedPropertyNeverFires(t *testing.T) {
	page := newFakePage()
	page.set(hero, geometry.Self, "clientHeight", "100")
	page.set(hero, geometry.Self, "clientWidth", "300")
	e, clock := newTestEngine(page)
	ctx := context.Background()
	var h hits

	e.Register(ctx, []Target{hero}, OnResizeOfProperty(geometry.Height, h.handler))
	e.Start(ctx)
	page.set(hero, geometry.Self, "clientWidth", "320")
	clock.fire()
	if h.count() != 0 {
		t.Fatalf("width change fired a height-only watch")
	}
}

func TestEngine_RepeatedRegistrationMerges(t *testing.T) {
	page := newFakePage()
	e, _ := newTestEngine(page)
	ctx := context.Background()
	var a, b hits

	e.Register(ctx, []Target{hero}, OnResizeOfProperty(geometry.Height, a.handler))
	e.Register(ctx, []Target{hero}, OnResizeOf([]Property{geometry.Width, geometry.Height}, b.handler))

	views := e.Targets()
	if len(views) != 1 {
		t.Fatalf("got %d targets, want 1", len(views))
	}
	v := views[0]
	if len(v.Properties) != 2 || v.Properties[0] != geometry.Height || v.Properties[1] != geometry.Width {
		t.Errorf("properties: got %v", v.Properties)
	}
	if v.Handlers != 2 || !v.Seeded {
		t.Errorf("view: %+v", v)
	}
}

func TestEngine_EachTargetIndependent(t *testing.T) {
	page := newFakePage()
	other := geometry.Element("#hero", "s-1")
	page.set(hero, geometry.Self, "clientHeight", "10")
	page.set(other, geometry.Self, "clientHeight", "20")
	e, clock := newTestEngine(page)
	ctx := context.Background()
	var h hits

	e.Register(ctx, []Target{hero, other}, OnResize(h.handler))
	e.Start(ctx)
	page.set(other, geometry.Self, "clientHeight", "25")
	clock.fire()

	if h.count() != 1 || h.calls[0] != other {
		t.Fatalf("calls: %v", h.calls)
	}
}

func TestEngine_StartArmsBackoff(t *testing.T) {
	e, clock := newTestEngine(newFakePage())
	ctx := context.Background()
	e.Register(ctx, []Target{geometry.Viewport()}, OnResize(noop))

	e.Start(ctx)
	for i := 0; i < 11; i++ {
		clock.fire()
	}
	if got := clock.delays[0]; got != 64*time.Millisecond {
		t.Errorf("first delay: got %v", got)
	}
	if got := clock.delays[10]; got != 250*time.Millisecond {
		t.Errorf("11th delay: got %v", got)
	}

	e.Start(ctx)
	if got := clock.delays[len(clock.delays)-1]; got != 64*time.Millisecond {
		t.Errorf("delay after restart: got %v", got)
	}
	if s := e.Stats(); s.Restarts != 2 || !s.Running {
		t.Errorf("stats: %+v", s)
	}

	e.Stop()
	if e.Stats().Running {
		t.Error("still running after Stop")
	}
}
