// Package sizewatch watches the size and position of elements, the viewport
// and the document of pages rendered in Chrome, and reports every change of
// the watched properties to sinks.
//
// The engine keeps one observed target per node. Each target compiles its
// properties into a list of attribute reads whose joined values form a
// signature; a cycle re-reads every signature and notifies the handlers of
// the targets whose signature moved. Cycles run on a back-off (64ms, then
// 250ms, then 1s) that restarts on window resize and scroll.
package sizewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/observer"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/probe"
)

type (
	// Target identifies an element, the viewport or the document.
	Target = geometry.Target
	// Property is a watched property name.
	Property = geometry.Property
	// Reader reads attribute values for a target.
	Reader = probe.Reader
	// Observed is the live state of one observed target.
	Observed = observer.Observed
	// Handler is notified when an observed target's signature changes.
	// It runs on the scheduler goroutine and must not call Start.
	Handler = observer.Handler
	// Stats are the scheduler counters of an engine.
	Stats = observer.Stats
	// Backoff is the cycle delay schedule.
	Backoff = observer.Backoff
	// BackoffStep is one step of a Backoff.
	BackoffStep = observer.Step
	// Clock creates the scheduler's timers.
	Clock = observer.Clock
	// Timer is a pending cycle.
	Timer = observer.Timer
)

// DefaultBackoff is 64ms for 10 cycles, 250ms until cycle 100, then 1s.
func DefaultBackoff() Backoff { return observer.DefaultBackoff() }

// EngineConfig configures an Engine. The zero value is usable.
type EngineConfig struct {
	Backoff Backoff
	Clock   Clock
	Logger  *slog.Logger
}

// Engine is one registry of observed targets plus the scheduler that checks
// them. Use one engine per page.
type Engine struct {
	reg    *observer.Registry
	sched  *observer.Scheduler
	logger *slog.Logger
}

// NewEngine creates an idle engine reading through r.
func NewEngine(r Reader, cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	reg := observer.NewRegistry(r, cfg.Logger)
	return &Engine{
		reg: reg,
		sched: observer.NewScheduler(reg, observer.SchedulerConfig{
			Backoff: cfg.Backoff,
			Clock:   cfg.Clock,
			Logger:  cfg.Logger,
		}),
		logger: cfg.Logger,
	}
}

// Register applies reg to every target independently. A target seen for the
// first time is seeded without notification; a known target merges the
// properties and gains the handler. A registration without a handler does
// nothing.
func (e *Engine) Register(ctx context.Context, targets []Target, reg Registration) error {
	if !reg.Valid() {
		return nil
	}
	props := reg.Properties()
	var errs []error
	for _, t := range targets {
		if err := e.reg.RegisterOrUpdate(ctx, t, props, reg.handler); err != nil {
			errs = append(errs, fmt.Errorf("sizewatch: register %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// registerOnce registers t with h when t is new and only merges props into
// it otherwise, so h is attached to a target at most once.
func (e *Engine) registerOnce(ctx context.Context, t Target, props []Property, h Handler) error {
	if _, err := e.reg.RegisterOnce(ctx, t, props, h); err != nil {
		return fmt.Errorf("sizewatch: register %s: %w", t, err)
	}
	return nil
}

// Start restarts the back-off and runs a cycle now. Scheduling continues
// until ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) { e.sched.Start(ctx) }

// Stop cancels the pending cycle.
func (e *Engine) Stop() { e.sched.Stop() }

// Len is the number of observed targets.
func (e *Engine) Len() int { return e.reg.Len() }

// Lookup returns the observed state of t.
func (e *Engine) Lookup(t Target) (*Observed, bool) { return e.reg.Get(t.Key()) }

// Stats returns the scheduler counters.
func (e *Engine) Stats() Stats { return e.sched.Stats() }

// TargetView is a snapshot of one observed target.
type TargetView struct {
	Target     Target     `json:"target"`
	Properties []Property `json:"properties"`
	Signature  string     `json:"signature"`
	Seeded     bool       `json:"seeded"`
	Handlers   int        `json:"handlers"`
}

// Targets returns a snapshot of every observed target in registration
// order.
func (e *Engine) Targets() []TargetView {
	obs := e.reg.Targets()
	out := make([]TargetView, len(obs))
	for i, o := range obs {
		sig, seeded := o.Signature()
		out[i] = TargetView{
			Target:     o.Target(),
			Properties: o.Properties(),
			Signature:  sig,
			Seeded:     seeded,
			Handlers:   o.Handlers(),
		}
	}
	return out
}
