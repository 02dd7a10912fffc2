package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"schedcal/internal/config"
	"schedcal/internal/grid"
	"schedcal/internal/ics"
	appLog "schedcal/internal/log"
	"schedcal/internal/store"
	"schedcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/schedcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh feeds, dump one evaluated grid as JSON and exit")

	flag.Parse()

	return cfg
}

func main() {
	appLog.Info("schedcal starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(conf.LogLevel)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"store_path", conf.Store.Path,
		"feed_count", len(conf.Feeds),
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	schedules, err := store.Open(conf.Store.Path)
	if err != nil {
		appLog.Error("failed to open schedule store", err, "path", conf.Store.Path)
		os.Exit(1)
	}
	defer schedules.Close()

	app := &application{
		flags:     flags,
		conf:      conf,
		schedules: schedules,
		fetcher:   ics.NewFetcher(cacheDir(conf.Store.Path)),
	}

	// Initial import so the first grid already reflects the feeds.
	app.refreshFeeds(ctx)

	if flags.once {
		if err := app.dumpGrid(ctx, os.Stdout); err != nil {
			appLog.Error("grid dump failed", err)
			os.Exit(1)
		}
		return
	}

	app.run(ctx)
	appLog.Info("schedcal exiting")
}

type application struct {
	flags flagConfig

	mu   sync.RWMutex
	conf *config.Config

	schedules *store.Store
	fetcher   *ics.Fetcher
	server    *web.Server
}

func (a *application) config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conf
}

func (a *application) run(ctx context.Context) {
	conf := a.config()
	a.server = web.NewServer(conf, a.schedules)

	// Periodic feed refresh.
	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		a.refreshFeeds(ctx)
		a.server.InvalidateGrid()
	}); err != nil {
		appLog.Error("invalid refresh cron spec", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	// Config hot-reload: feeds and log level apply live; listen address,
	// auth and rate limit changes need a restart.
	go func() {
		err := config.Watch(ctx, a.flags.configPath, func(next *config.Config) {
			if a.flags.listen != "" {
				next.Listen = a.flags.listen
			}
			a.mu.Lock()
			a.conf = next
			a.mu.Unlock()
			appLog.SetLevel(next.LogLevel)
			a.refreshFeeds(ctx)
			a.server.InvalidateGrid()
		})
		if err != nil {
			appLog.Error("config watch stopped", err, "path", a.flags.configPath)
		}
	}()

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: a.server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP shutdown failed", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}
}

// refreshFeeds re-imports every configured ICS feed into the store.
// Failures are per feed: one dead feed must not block the others, and a
// failed fetch keeps the feed's previously imported schedules in place.
func (a *application) refreshFeeds(ctx context.Context) {
	conf := a.config()

	for _, fc := range conf.Feeds {
		if fc.URL == "" {
			continue
		}
		feed := ics.Feed{ID: feedID(fc), Name: fc.Name, URL: fc.URL}

		body, fromCache, err := a.fetcher.Fetch(ctx, feed)
		if err != nil {
			appLog.Error("feed fetch failed, keeping previous import", err, "feed", feed.ID)
			continue
		}
		imported, err := ics.ImportSchedules(feed, body)
		if err != nil {
			appLog.Error("feed import failed, keeping previous import", err, "feed", feed.ID)
			continue
		}
		if err := a.schedules.ReplaceSource(ctx, feed.ID, imported); err != nil {
			appLog.Error("feed store update failed", err, "feed", feed.ID)
			continue
		}
		appLog.Info("feed refreshed", "feed", feed.ID, "schedules", len(imported), "from_cache", fromCache)
	}
}

// dumpGrid evaluates one window for the current instant and writes it as
// JSON. Empty cells are omitted; this output is for operators, not the
// renderer.
func (a *application) dumpGrid(ctx context.Context, out io.Writer) error {
	conf := a.config()

	schedules, err := a.schedules.List(ctx)
	if err != nil {
		return err
	}

	loc := time.Local
	if conf.Timezone != "" && conf.Timezone != "Local" {
		if l, err := time.LoadLocation(conf.Timezone); err == nil {
			loc = l
		}
	}
	window := grid.BuildWindow(time.Now().In(loc))
	cells := grid.Evaluate(schedules, window)

	type dump struct {
		WeekStart string              `json:"week_start"`
		Cells     map[string][]string `json:"cells"`
	}
	d := dump{
		WeekStart: window.WeekStart.Format("2006-01-02"),
		Cells:     make(map[string][]string),
	}
	for key, matched := range cells {
		if len(matched) == 0 {
			continue
		}
		names := make([]string, 0, len(matched))
		for _, m := range matched {
			names = append(names, m.Name)
		}
		d.Cells[fmt.Sprintf("%d/%s", key.Day, key.Slot)] = names
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func feedID(fc config.FeedConfig) string {
	if fc.ID != "" {
		return fc.ID
	}
	if fc.Name != "" {
		return fc.Name
	}
	return fc.URL
}

// cacheDir places the ICS cache next to the schedule database.
func cacheDir(storePath string) string {
	if storePath == "" {
		return filepath.Join(".", "var", "ics-cache")
	}
	return filepath.Join(filepath.Dir(storePath), "ics-cache")
}
