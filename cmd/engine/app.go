package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jobwatch-engine/internal/config"
	"jobwatch-engine/internal/events"
	"jobwatch-engine/internal/export"
	"jobwatch-engine/internal/fetch"
	"jobwatch-engine/internal/health"
	"jobwatch-engine/internal/logger"
	"jobwatch-engine/internal/metrics"
	"jobwatch-engine/internal/notify"
	"jobwatch-engine/internal/novelty"
	"jobwatch-engine/internal/secrets"
	"jobwatch-engine/internal/seen"
	"jobwatch-engine/internal/session"
	"jobwatch-engine/internal/store"
	"jobwatch-engine/internal/syncer"
)

const (
	dbFile            = "jobwatch.db"
	defaultConfigPath = "config/config.yml"
	postgresMaxConns  = 4
)

// resolveConfigPath returns the --config value, or the user config in the data dir,
// seeded from the shipped default on first run.
func resolveConfigPath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = config.Defaults().App.DataDir
	}
	p, err := config.EnsureUserConfig(dataDir, defaultConfigPath)
	if err != nil {
		return "", fmt.Errorf("config bootstrap: %w", err)
	}
	return p, nil
}

func loadConfig(path string) (config.Config, error) {
	raw, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg, v := config.NormalizeAndValidate(raw)
	if err := v.Err(); err != nil {
		return config.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	for _, w := range v.Warnings {
		fmt.Fprintf(os.Stderr, "config warning: %s\n", w)
	}
	return cfg, nil
}

// dataPath resolves relative file settings against the data dir.
func dataPath(cfg config.Config, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.App.DataDir, p)
}

// base holds what every command needs: config, logger and durable stores.
type base struct {
	cfg     config.Config
	cfgPath string
	log     logger.Logger
	db      *store.DB
	seen    seen.Store
	closers []func()
}

func openBase(ctx context.Context, cfgFlag string) (*base, error) {
	cfgPath, err := resolveConfigPath(cfgFlag)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	b := &base{cfg: cfg, cfgPath: cfgPath, log: log}
	b.closers = append(b.closers, func() { _ = log.Sync() })

	db, err := store.OpenMigrated(dataPath(cfg, dbFile))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open history db: %w", err)
	}
	b.db = db
	b.closers = append(b.closers, func() { _ = db.Close() })

	if err := b.openSeen(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *base) openSeen(ctx context.Context) error {
	switch b.cfg.Sync.SeenBackend {
	case config.SeenBackendSQLite:
		b.seen = seen.NewSQLiteStore(b.db.Pool)
	case config.SeenBackendPostgres:
		pg, err := seen.OpenPostgres(ctx, b.cfg.Sync.PostgresDSN, postgresMaxConns)
		if err != nil {
			return err
		}
		b.seen = pg
		b.closers = append(b.closers, pg.Close)
	default:
		b.seen = seen.NewFileStore(dataPath(b.cfg, b.cfg.Sync.SeenFile))
	}
	b.log.Debug("seen store ready", logger.String("backend", b.cfg.Sync.SeenBackend))
	return nil
}

// Close releases resources in reverse order of acquisition.
func (b *base) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// app adds the portal session, notifier and the components built on them.
type app struct {
	*base
	hub      *events.Hub
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	fetcher  *fetch.Fetcher
	engine   *syncer.Engine
	checker  *health.Checker
}

func openApp(ctx context.Context, cfgFlag string) (*app, error) {
	b, err := openBase(ctx, cfgFlag)
	if err != nil {
		return nil, err
	}
	cfg := b.cfg

	sp, err := session.NewStateFileProvider(session.StateFileConfig{
		StatePath:  dataPath(cfg, cfg.Source.StateFile),
		TargetPage: cfg.Source.TargetPage,
		UserAgent:  cfg.Source.UserAgent,
		Timeout:    cfg.RequestTimeout(),
	}, b.log)
	if err != nil {
		b.Close()
		return nil, err
	}

	a := &app{base: b, hub: events.NewHub(), metrics: metrics.New()}

	official, diagnostic := secrets.ResolveWebhooks(cfg)
	if official == "" {
		b.log.Warn("official webhook not configured, new listings will not be posted")
	}
	a.notifier = notify.New(
		notify.NewWebhook(secrets.ChannelOfficial, official, nil),
		notify.NewWebhook(secrets.ChannelTesting, diagnostic, nil),
		notify.Options{MaxMessageChars: cfg.Notify.MaxMessageChars, TargetPage: cfg.Source.TargetPage},
		b.log,
	)

	a.fetcher = fetch.New(fetch.Config{
		APIURL:       cfg.Source.APIURL,
		TargetPage:   cfg.Source.TargetPage,
		Sort:         cfg.Source.Sort,
		JobType:      cfg.Source.JobType,
		UserAgent:    cfg.Source.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		PreviewChars: cfg.Source.PreviewChars,
		ExtraFields:  cfg.Source.ExtraFields,
	}, sp)

	a.engine = syncer.New(syncer.Deps{
		Fetcher:  a.fetcher,
		Seen:     b.seen,
		Notifier: a.notifier,
		Export:   export.New(dataPath(cfg, cfg.Export.Path)),
		History:  store.CycleLog{DB: b.db.Pool},
		Events:   a.hub,
		Metrics:  a.metrics,
		Log:      b.log,
	}, syncer.Options{
		PageSize:     cfg.Sync.PageSize,
		RequestDelay: cfg.RequestDelay(),
		MaxPages:     cfg.Sync.MaxPages,
	})

	a.checker = health.NewChecker(health.Deps{
		Prober:   a.fetcher,
		Session:  sp,
		Reporter: a.notifier,
		Events:   a.hub,
		Metrics:  a.metrics,
		Log:      b.log,
		Location: cfg.Location(),
	})
	return a, nil
}

// runSync resolves the cutoff for this cycle and runs it. since overrides the configured
// default; an empty since uses today in the configured zone.
func (a *app) runSync(ctx context.Context, since string) (syncer.Result, error) {
	cutoff, err := novelty.ResolveCutoff(since, a.cfg.Sync.PostSince, a.cfg.App.TimeZone, time.Now())
	if err != nil {
		return syncer.Result{}, err
	}
	return a.engine.RunCycle(ctx, cutoff)
}

func (a *app) checkSession(ctx context.Context) error {
	_, err := a.checker.Check(ctx)
	if health.IsSessionInvalid(err) {
		a.log.Error("session invalid, re-run the login flow to refresh the state file", logger.Error(err))
	}
	return err
}
