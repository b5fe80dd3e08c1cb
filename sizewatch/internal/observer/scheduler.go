// CLAUDE:SUMMARY Back-off scheduler running check cycles at 64ms, 250ms then 1s, restartable.
package observer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed calls. The real clock uses time.AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SchedulerConfig tunes a Scheduler.
type SchedulerConfig struct {
	Backoff Backoff
	// Clock overrides the real clock (tests).
	Clock  Clock
	Logger *slog.Logger
}

func (c *SchedulerConfig) defaults() {
	c.Backoff.defaults()
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler repeatedly checks every target of a Registry, with a delay
// that grows with the number of cycles since the last Start.
//
// Cycles never overlap. Start supersedes any pending cycle: a timer armed
// before the restart never runs a cycle afterwards.
type Scheduler struct {
	reg *Registry
	cfg SchedulerConfig

	mu      sync.Mutex
	gen     uint64
	count   int
	timer   Timer
	stopped bool

	// cycleMu serialises cycles. Handlers run inside a cycle and must not
	// call Start synchronously.
	cycleMu sync.Mutex

	cycles   atomic.Int64
	checks   atomic.Int64
	changes  atomic.Int64
	errors   atomic.Int64
	restarts atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Cycles   int64 `json:"cycles"`
	Checks   int64 `json:"checks"`
	Changes  int64 `json:"changes"`
	Errors   int64 `json:"errors"`
	Restarts int64 `json:"restarts"`
	// Count is the cycle counter since the last restart.
	Count int `json:"count"`
	// Running is true while a next cycle is pending.
	Running bool `json:"running"`
}

// NewScheduler creates an idle scheduler over reg. Call Start to run it.
func NewScheduler(reg *Registry, cfg SchedulerConfig) *Scheduler {
	cfg.defaults()
	return &Scheduler{reg: reg, cfg: cfg}
}

// Start cancels any pending cycle, resets the cycle count, runs one cycle
// immediately, and schedules the next. Scheduling ends when ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	gen := s.gen
	s.count = 0
	s.stopped = false
	s.mu.Unlock()

	s.restarts.Add(1)
	s.run(ctx, gen)
}

// Stop cancels the pending cycle. A later Start resumes scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.stopped = true
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	count, running := s.count, s.timer != nil && !s.stopped
	s.mu.Unlock()
	return Stats{
		Cycles:   s.cycles.Load(),
		Checks:   s.checks.Load(),
		Changes:  s.changes.Load(),
		Errors:   s.errors.Load(),
		Restarts: s.restarts.Load(),
		Count:    count,
		Running:  running,
	}
}

func (s *Scheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && !s.stopped
}

func (s *Scheduler) run(ctx context.Context, gen uint64) {
	s.cycleMu.Lock()
	if ctx.Err() != nil || !s.current(gen) {
		s.cycleMu.Unlock()
		return
	}
	res := s.reg.CheckAll(ctx)
	s.cycleMu.Unlock()

	s.cycles.Add(1)
	s.checks.Add(int64(res.Checked))
	s.changes.Add(int64(res.Changed))
	s.errors.Add(int64(res.Errors))
	if res.Changed > 0 {
		s.cfg.Logger.Debug("observer: cycle detected changes",
			"changed", res.Changed, "checked", res.Checked)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.stopped || ctx.Err() != nil {
		return
	}
	d := s.cfg.Backoff.Delay(s.count)
	s.count++
	s.timer = s.cfg.Clock.AfterFunc(d, func() { s.run(ctx, gen) })
}
