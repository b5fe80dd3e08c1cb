package sizewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/sizewatch/sizewatch/change"
	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/browser"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/config"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/mcptool"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/metrics"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/probe"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/sink"
)

var (
	// ErrUnknownPage is returned for a page id the watcher does not observe.
	ErrUnknownPage = errors.New("sizewatch: unknown page")
	// ErrNoViewport is returned when a page cannot emulate a viewport.
	ErrNoViewport = errors.New("sizewatch: page has no viewport control")
)

// Resolver turns a watch into the targets it covers. A browser tab is one.
type Resolver interface {
	Resolve(ctx context.Context, kind geometry.Kind, selector string) ([]Target, error)
}

// viewporter is implemented by resolvers that can resize their window.
type viewporter interface {
	SetViewport(ctx context.Context, width, height int) error
}

// WatchSpec asks for properties of the targets matched by a selector.
type WatchSpec struct {
	Kind       string   `json:"kind,omitempty"` // element | viewport | document
	Selector   string   `json:"selector,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

func (s WatchSpec) parse() (geometry.Kind, []Property, error) {
	kind, err := geometry.ParseKind(s.Kind)
	if err != nil {
		return "", nil, err
	}
	if kind == geometry.KindElement && s.Selector == "" {
		return "", nil, fmt.Errorf("sizewatch: element watch needs a selector")
	}
	props := geometry.Properties(s.Properties...)
	if len(props) == 0 {
		props = geometry.DefaultProperties()
	}
	return kind, props, nil
}

// key identifies the spec for replay deduplication.
func (s WatchSpec) key(kind geometry.Kind, props []Property) string {
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = string(p)
	}
	return string(kind) + "|" + s.Selector + "|" + strings.Join(names, ",")
}

func watchSpec(w WatchConfig) WatchSpec {
	return WatchSpec{Kind: w.Kind, Selector: w.Selector, Properties: w.Properties}
}

// page is the state of one observed page.
type page struct {
	cfg      PageConfig
	tab      *browser.Tab // nil for attached pages
	resolver Resolver
	engine   *Engine
	ctx      context.Context
	cancel   context.CancelFunc

	seq     atomic.Uint64
	mu      sync.Mutex
	specs   []WatchSpec
	applied map[string]bool
}

// PageInfo describes an observed page.
type PageInfo struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Targets int    `json:"targets"`
	Events  uint64 `json:"events"`
	Browser bool   `json:"browser"`
}

// PageStats are the counters of one page.
type PageStats struct {
	Stats
	Targets int    `json:"targets"`
	Events  uint64 `json:"events"`
}

// Watcher is the top-level orchestrator. It manages the browser, one engine
// per page, and the sinks. Create one per sizewatch instance.
type Watcher struct {
	cfg     *Config
	mgr     *browser.Manager
	sinkR   *sink.Router
	backoff Backoff
	clock   Clock
	store   *ChangeStore
	metrics *metrics.Recorder
	every   time.Duration
	pages   map[string]*page
	// detached holds browser pages between the two halves of a recycle.
	detached []*page
	mu       sync.Mutex
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock sets the clock of every page engine.
func WithClock(c Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithChangeStore serves recent events of the store on the admin API.
// The store is still added to the sinks by the caller.
func WithChangeStore(s *ChangeStore) Option {
	return func(w *Watcher) { w.store = s }
}

// WithMetrics samples every page's counters into rec at the given
// interval once the watcher is started.
func WithMetrics(rec *MetricsRecorder, every time.Duration) Option {
	return func(w *Watcher) {
		w.metrics = rec
		w.every = every
	}
}

// New creates a Watcher from configuration.
func New(cfg *Config, logger *slog.Logger, sinks []Sink, opts ...Option) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{}
		cfg.ApplyDefaults()
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             browser.ParseMode(cfg.Browser.Stealth),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	w := &Watcher{
		cfg:     cfg,
		mgr:     mgr,
		sinkR:   sink.NewRouter(logger, sinks...),
		backoff: backoffFrom(cfg.Schedule),
		pages:   make(map[string]*page),
		logger:  logger,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start launches the browser and begins observing all configured pages.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("sizewatch: start browser: %w", err)
	}

	w.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: w.detachBrowserPages,
		AfterRecycle:  func(*rod.Browser) { w.reopenBrowserPages(ctx) },
	})

	for _, pc := range w.cfg.Pages {
		if err := w.ObservePage(ctx, pc); err != nil {
			w.logger.Error("sizewatch: failed to observe page", "url", pc.URL, "error", err)
		}
	}

	if w.metrics != nil {
		go w.sampleLoop(ctx)
	}
	return nil
}

func (w *Watcher) sampleLoop(ctx context.Context) {
	every := w.every
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SampleMetrics()
		}
	}
}

// SampleMetrics records the counters of every page plus process health.
// It does nothing without a metrics recorder.
func (w *Watcher) SampleMetrics() {
	if w.metrics == nil {
		return
	}
	now := time.Now()
	points := metrics.Runtime(now)

	w.mu.Lock()
	for id, p := range w.pages {
		s := p.engine.Stats()
		for _, m := range []struct {
			name string
			v    int64
		}{
			{metrics.Cycles, s.Cycles},
			{metrics.Checks, s.Checks},
			{metrics.Changes, s.Changes},
			{metrics.Errors, s.Errors},
			{metrics.Restarts, s.Restarts},
			{metrics.Targets, int64(p.engine.Len())},
			{metrics.Events, int64(p.seq.Load())},
		} {
			points = append(points, metrics.Point{Name: m.name, PageID: id, Timestamp: now, Value: float64(m.v), Unit: "count"})
		}
	}
	w.mu.Unlock()

	w.metrics.Record(points...)
}

// ObservePage opens a tab on the page and starts watching it. Observing a
// page id twice adds the new watches to the existing page.
func (w *Watcher) ObservePage(ctx context.Context, pc PageConfig) error {
	w.mu.Lock()
	_, exists := w.pages[pc.ID]
	w.mu.Unlock()
	if exists {
		return w.watchAll(ctx, pc.ID, pc.Watches)
	}

	tab, err := w.openTab(ctx, pc)
	if err != nil {
		return err
	}
	p, err := w.attach(ctx, pc, tab, tab.Reader(), tab, 0)
	if err != nil {
		tab.Close()
		return err
	}
	w.listenLayout(p)
	w.logger.Info("sizewatch: observing page", "url", pc.URL, "id", pc.ID, "watches", len(pc.Watches))
	return nil
}

// Attach observes a page through a caller-supplied resolver and reader
// instead of a browser tab. Resize and scroll are up to the caller: call
// Refresh on either.
func (w *Watcher) Attach(ctx context.Context, pc PageConfig, res Resolver, r Reader) error {
	_, err := w.attach(ctx, pc, nil, r, res, 0)
	return err
}

func (w *Watcher) openTab(ctx context.Context, pc PageConfig) (*browser.Tab, error) {
	tab, err := browser.OpenTab(ctx, w.mgr, pc.URL, pc.ID, browser.TabOptions{
		NoStealth: pc.NoStealth,
		Width:     pc.Viewport.Width,
		Height:    pc.Viewport.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("sizewatch: open tab: %w", err)
	}
	return tab, nil
}

func (w *Watcher) attach(ctx context.Context, pc PageConfig, tab *browser.Tab, r Reader, res Resolver, seq uint64) (*page, error) {
	if pc.ID == "" {
		return nil, fmt.Errorf("sizewatch: page needs an id")
	}

	w.mu.Lock()
	if _, ok := w.pages[pc.ID]; ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("sizewatch: page %s already observed", pc.ID)
	}
	pctx, cancel := context.WithCancel(ctx)
	p := &page{
		cfg:      pc,
		tab:      tab,
		resolver: res,
		ctx:      pctx,
		cancel:   cancel,
		applied:  make(map[string]bool),
	}
	p.seq.Store(seq)
	p.engine = w.newEngine(r, pc.ID)
	w.pages[pc.ID] = p
	w.mu.Unlock()

	for _, wc := range pc.Watches {
		if _, err := w.apply(ctx, p, watchSpec(wc)); err != nil {
			w.logger.Warn("sizewatch: watch failed", "page_id", pc.ID, "selector", wc.Selector, "error", err)
		}
	}
	p.engine.Start(pctx)
	return p, nil
}

func (w *Watcher) newEngine(r Reader, pageID string) *Engine {
	return NewEngine(r, EngineConfig{
		Backoff: w.backoff,
		Clock:   w.clock,
		Logger:  w.logger.With("page_id", pageID),
	})
}

func (w *Watcher) listenLayout(p *page) {
	err := p.tab.ListenLayout(p.ctx, w.logger, func(ev browser.LayoutEvent) {
		w.logger.Debug("sizewatch: layout event", "page_id", p.cfg.ID, "event", ev)
		p.engine.Start(p.ctx)
	})
	if err != nil {
		w.logger.Warn("sizewatch: layout hooks failed", "page_id", p.cfg.ID, "error", err)
	}
}

// emitter is the handler registered once per target of a page. It turns a
// signature change into an event for the sinks.
func (w *Watcher) emitter(p *page) Handler {
	return func(ctx context.Context, t Target, o *Observed) {
		cur, _ := o.Signature()
		ev := change.Event{
			ID:         change.NewID(),
			PageID:     p.cfg.ID,
			PageURL:    p.cfg.URL,
			Seq:        p.seq.Add(1),
			Target:     t,
			Properties: o.Properties(),
			Reads:      o.Reads(),
			Previous:   o.Previous(),
			Current:    cur,
			Values:     probe.Split(cur),
			Timestamp:  time.Now().UnixMilli(),
		}
		if err := w.sinkR.Send(ctx, ev); err != nil {
			w.logger.Warn("sizewatch: send change failed", "page_id", p.cfg.ID, "target", t.String(), "error", err)
		}
	}
}

// apply resolves spec and registers its targets. A target gets the page's
// emitter once; later specs only merge their properties into it.
func (w *Watcher) apply(ctx context.Context, p *page, spec WatchSpec) ([]Target, error) {
	kind, props, err := spec.parse()
	if err != nil {
		return nil, err
	}
	targets, err := p.resolver.Resolve(ctx, kind, spec.Selector)
	if err != nil {
		return nil, fmt.Errorf("sizewatch: resolve: %w", err)
	}

	emit := w.emitter(p)
	var errs []error
	for _, t := range targets {
		if err := p.engine.registerOnce(ctx, t, props, emit); err != nil {
			errs = append(errs, err)
		}
	}

	p.mu.Lock()
	if k := spec.key(kind, props); !p.applied[k] {
		p.applied[k] = true
		p.specs = append(p.specs, spec)
	}
	p.mu.Unlock()
	return targets, errors.Join(errs...)
}

func (w *Watcher) page(pageID string) (*page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, pageID)
	}
	return p, nil
}

// Watch adds a watch to an observed page and restarts its cycles. Watching
// the same nodes again merges properties; there is no unwatch.
func (w *Watcher) Watch(ctx context.Context, pageID string, spec WatchSpec) ([]Target, error) {
	p, err := w.page(pageID)
	if err != nil {
		return nil, err
	}
	targets, err := w.apply(ctx, p, spec)
	if len(targets) > 0 {
		p.engine.Start(p.ctx)
	}
	if err != nil {
		return targets, err
	}
	w.logger.Info("sizewatch: watch added", "page_id", pageID, "kind", spec.Kind,
		"selector", spec.Selector, "targets", len(targets), "transport", mcptool.GetTransport(ctx))
	return targets, nil
}

func (w *Watcher) watchAll(ctx context.Context, pageID string, watches []WatchConfig) error {
	var errs []error
	for _, wc := range watches {
		if _, err := w.Watch(ctx, pageID, watchSpec(wc)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh restarts the page's back-off, as a window resize would.
func (w *Watcher) Refresh(pageID string) error {
	p, err := w.page(pageID)
	if err != nil {
		return err
	}
	p.engine.Start(p.ctx)
	return nil
}

// SetViewport resizes the page's window and restarts its cycles.
func (w *Watcher) SetViewport(ctx context.Context, pageID string, width, height int) error {
	p, err := w.page(pageID)
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("sizewatch: viewport must be positive, got %dx%d", width, height)
	}
	vp, ok := p.resolver.(viewporter)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoViewport, pageID)
	}
	if err := vp.SetViewport(ctx, width, height); err != nil {
		return err
	}
	p.engine.Start(p.ctx)
	return nil
}

// Targets returns the observed targets of a page.
func (w *Watcher) Targets(pageID string) ([]TargetView, error) {
	p, err := w.page(pageID)
	if err != nil {
		return nil, err
	}
	return p.engine.Targets(), nil
}

// Stats returns the counters of a page.
func (w *Watcher) Stats(pageID string) (PageStats, error) {
	p, err := w.page(pageID)
	if err != nil {
		return PageStats{}, err
	}
	return PageStats{
		Stats:   p.engine.Stats(),
		Targets: p.engine.Len(),
		Events:  p.seq.Load(),
	}, nil
}

// Pages lists observed pages sorted by id.
func (w *Watcher) Pages() []PageInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]PageInfo, 0, len(w.pages))
	for _, p := range w.pages {
		out = append(out, PageInfo{
			ID:      p.cfg.ID,
			URL:     p.cfg.URL,
			Targets: p.engine.Len(),
			Events:  p.seq.Load(),
			Browser: p.tab != nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reload merges watch_targets rows: rows of known pages add watches, rows
// of new pages open them. It is the reload callback of a SourcePoller.
func (w *Watcher) Reload(ctx context.Context, targets []DBTarget) error {
	ctx = mcptool.WithTransport(ctx, mcptool.TransportSource)
	pages, errs := config.Pages(targets)
	for _, err := range errs {
		w.logger.Warn("sizewatch: skipping target", "error", err)
	}

	var failed []error
	for _, pc := range pages {
		if err := w.ObservePage(ctx, pc); err != nil {
			failed = append(failed, fmt.Errorf("page %s: %w", pc.ID, err))
		}
	}
	return errors.Join(failed...)
}

// Stop gracefully shuts down all pages, the sinks and the browser.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, p := range w.pages {
		p.engine.Stop()
		p.cancel()
		if p.tab != nil {
			p.tab.Close()
		}
		w.logger.Info("sizewatch: stopped page", "id", id)
	}
	w.pages = make(map[string]*page)

	w.sinkR.Close()
	w.mgr.Close()
}

// detachBrowserPages stops browser pages before Chrome is killed. Attached
// pages are untouched.
func (w *Watcher) detachBrowserPages() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, p := range w.pages {
		if p.tab == nil {
			continue
		}
		p.engine.Stop()
		p.cancel()
		delete(w.pages, id)
		w.detached = append(w.detached, p)
	}
}

// reopenBrowserPages opens a fresh tab for every detached page and replays
// its watches. Stamps died with the old tab, so targets are resolved anew.
func (w *Watcher) reopenBrowserPages(ctx context.Context) {
	w.mu.Lock()
	old := w.detached
	w.detached = nil
	w.mu.Unlock()

	for _, p := range old {
		if err := w.reopen(ctx, p); err != nil {
			w.logger.Error("sizewatch: reopen page failed", "url", p.cfg.URL, "error", err)
		}
	}
}

func (w *Watcher) reopen(ctx context.Context, old *page) error {
	old.mu.Lock()
	specs := append([]WatchSpec(nil), old.specs...)
	old.mu.Unlock()

	pc := old.cfg
	pc.Watches = nil
	for _, s := range specs {
		pc.Watches = append(pc.Watches, WatchConfig{Kind: s.Kind, Selector: s.Selector, Properties: s.Properties})
	}

	tab, err := w.openTab(ctx, pc)
	if err != nil {
		return err
	}
	p, err := w.attach(ctx, pc, tab, tab.Reader(), tab, old.seq.Load())
	if err != nil {
		tab.Close()
		return err
	}
	w.listenLayout(p)
	w.logger.Info("sizewatch: page reopened", "id", pc.ID, "watches", len(specs))
	return nil
}
