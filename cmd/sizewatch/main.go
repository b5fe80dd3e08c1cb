// CLAUDE:SUMMARY Runs the sizewatch daemon: config, sinks, browser, SQLite poller, HTTP and MCP stdio.
// Command sizewatch is the element size observation daemon.
//
// Usage:
//
//	sizewatch -config sizewatch.yaml                     # observe pages from YAML config
//	sizewatch -url https://example.com -selector main    # quick single-page observation
//	sizewatch -config sizewatch.yaml -db targets.db      # hot-reload watches from SQLite
//	sizewatch -url https://example.com -mcp              # serve MCP tools on stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sizewatch/sizewatch"
	"github.com/hazyhaar/sizewatch/sizewatch/change"
	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
)

type options struct {
	configPath string
	url        string
	selector   string
	props      string
	dbPath     string
	storePath  string
	metrics    string
	listen     string
	mcp        bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to sizewatch.yaml config file")
	flag.StringVar(&o.url, "url", "", "observe a single URL")
	flag.StringVar(&o.selector, "selector", "", "CSS selector to watch with -url (default: the document)")
	flag.StringVar(&o.props, "props", "height,width", "comma separated properties to watch with -url")
	flag.StringVar(&o.dbPath, "db", "", "SQLite database with watch_targets rows, polled for changes")
	flag.StringVar(&o.storePath, "store", "", "SQLite database recording every change")
	flag.StringVar(&o.metrics, "metrics", "", "SQLite database receiving periodic counter samples")
	flag.StringVar(&o.listen, "http", "", "admin API listen address, overrides the config")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools on stdin/stdout")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("sizewatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	if o.listen != "" {
		cfg.Listen = o.listen
	}
	if o.storePath != "" {
		cfg.Sinks = append(cfg.Sinks, sizewatch.SinkConfig{Type: "sqlite", Path: o.storePath})
	}
	if o.metrics != "" {
		cfg.Metrics.Path = o.metrics
		if cfg.Metrics.Interval <= 0 {
			cfg.Metrics.Interval = 30 * time.Second
		}
	}
	if o.dbPath != "" {
		cfg.Source.Path = o.dbPath
		if cfg.Source.Interval <= 0 {
			cfg.Source.Interval = time.Second
		}
	}

	// With -mcp, stdout carries the protocol.
	if o.mcp {
		for i := range cfg.Sinks {
			if cfg.Sinks[i].Type == "stdout" || cfg.Sinks[i].Type == "" {
				return fmt.Errorf("stdout sink cannot be combined with -mcp")
			}
		}
	}

	sinks, err := sinkSet(cfg, logger, o.mcp)
	if err != nil {
		return err
	}

	var opts []sizewatch.Option
	for _, s := range sinks {
		if store, ok := s.(*sizewatch.ChangeStore); ok {
			opts = append(opts, sizewatch.WithChangeStore(store))
			break
		}
	}

	if cfg.Metrics.Path != "" {
		rec, err := sizewatch.OpenMetrics(cfg.Metrics.Path, logger)
		if err != nil {
			return fmt.Errorf("open metrics: %w", err)
		}
		defer rec.Close()
		opts = append(opts, sizewatch.WithMetrics(rec, cfg.Metrics.Interval))
	}

	w := sizewatch.New(cfg, logger, sinks, opts...)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer w.Stop()

	if cfg.Source.Path != "" {
		db, err := sizewatch.OpenSource(cfg.Source.Path)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		defer db.Close()
		poller := sizewatch.NewSourcePoller(db, sizewatch.SourcePollerOptions{
			Interval: cfg.Source.Interval,
			Logger:   logger,
		})
		go poller.Run(ctx, w.Reload)
	}

	if cfg.Listen != "" {
		srv := serveHTTP(ctx, logger, w, cfg.Listen)
		defer shutdown(srv)
	}

	if o.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "sizewatch", Version: "0.1.0"}, nil)
		w.RegisterMCP(srv)
		logger.Info("sizewatch: serving MCP on stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

func loadConfig(o options) (*sizewatch.Config, error) {
	if o.configPath != "" {
		cfg, err := sizewatch.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if o.url != "" {
			cfg.Pages = append(cfg.Pages, singlePage(o))
		}
		return cfg, nil
	}
	if o.url == "" && o.dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: sizewatch -config <file> | -url <url> [-selector S] [-props height,width] | -db <file>")
		os.Exit(2)
	}

	cfg := &sizewatch.Config{
		Browser: sizewatch.BrowserConfig{
			ResourceBlocking: []string{"media"},
		},
	}
	if o.url != "" {
		cfg.Pages = []sizewatch.PageConfig{singlePage(o)}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func singlePage(o options) sizewatch.PageConfig {
	w := sizewatch.WatchConfig{Kind: "document", Properties: splitProps(o.props)}
	if o.selector != "" {
		w = sizewatch.WatchConfig{Kind: "element", Selector: o.selector, Properties: splitProps(o.props)}
	}
	return sizewatch.PageConfig{
		ID:      change.NewID(),
		URL:     o.url,
		Watches: []sizewatch.WatchConfig{w},
	}
}

func splitProps(s string) []string {
	var out []string
	for _, p := range geometry.ParseProperties(s) {
		out = append(out, string(p))
	}
	return out
}

func sinkSet(cfg *sizewatch.Config, logger *slog.Logger, mcpMode bool) ([]sizewatch.Sink, error) {
	if len(cfg.Sinks) == 0 && mcpMode {
		// stdout is the MCP channel; events still reach the log.
		return []sizewatch.Sink{sizewatch.NewCallbackSink(func(_ context.Context, ev sizewatch.Event) error {
			logger.Info("sizewatch: change", "page_id", ev.PageID, "target", ev.Target.String(),
				"previous", ev.Previous, "current", ev.Current)
			return nil
		})}, nil
	}
	return sizewatch.SinksFromConfig(cfg.Sinks, logger)
}

func serveHTTP(ctx context.Context, logger *slog.Logger, w *sizewatch.Watcher, addr string) *http.Server {
	r := chi.NewRouter()
	w.RegisterHTTP(r)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info("sizewatch: admin API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("sizewatch: admin API stopped", "error", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
