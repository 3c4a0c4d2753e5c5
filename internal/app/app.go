// Package app wires the capture core together: settings, database, rules,
// storage, search and, in the daemon, the scheduler and background sweeps.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hpungsan/eidon/internal/capture"
	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/embedding"
	"github.com/hpungsan/eidon/internal/exclusion"
	"github.com/hpungsan/eidon/internal/logger"
	"github.com/hpungsan/eidon/internal/ocr"
	"github.com/hpungsan/eidon/internal/ops"
	"github.com/hpungsan/eidon/internal/scheduler"
	"github.com/hpungsan/eidon/internal/search"
	"github.com/hpungsan/eidon/internal/similarity"
	"github.com/hpungsan/eidon/internal/storage"
)

// Name is used for the base dir and for recognising our own windows.
const Name = "eidon"

// WatchInterval is how often the daemon checks for rule or settings edits
// made by another process.
const WatchInterval = 5 * time.Second

// backfillBatch bounds the embeddings computed per watcher tick.
const backfillBatch = 50

// Options configures Open.
type Options struct {
	// BaseDir holds config.json, .env, logs and, by default, the data.
	// Empty means ~/.eidon.
	BaseDir string

	// Log receives diagnostics. Nil discards them.
	Log *logger.Logger
}

// App is an opened Eidon installation.
type App struct {
	BaseDir string
	DataDir string

	DB      *sql.DB
	Config  *config.Holder
	Rules   *exclusion.Registry
	Storage *storage.Manager
	Index   *search.Index
	Log     *logger.Logger

	// Scheduler is nil until EnableCapture is called.
	Scheduler *scheduler.Scheduler
	sweeper   *storage.Sweeper

	mu        sync.Mutex
	revision  string
	embedding config.EmbeddingSettings
}

// DefaultBaseDir returns ~/.eidon.
func DefaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, "."+Name), nil
}

// Open loads settings, opens the database and loads the rule set.
func Open(ctx context.Context, opts Options) (*App, error) {
	baseDir := opts.BaseDir
	if baseDir == "" {
		var err error
		if baseDir, err = DefaultBaseDir(); err != nil {
			return nil, err
		}
	}
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}

	cfg, err := config.LoadAll(baseDir)
	if err != nil {
		return nil, err
	}
	dataDir := cfg.DataDir(baseDir)

	database, err := db.Init(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	holder := config.NewHolder(filepath.Join(baseDir, "config.json"), cfg)
	a := &App{
		BaseDir:   baseDir,
		DataDir:   dataDir,
		DB:        database,
		Config:    holder,
		Rules:     exclusion.NewRegistry(),
		Storage:   storage.NewManager(database, dataDir, holder, log),
		Index:     search.NewIndex(database, holder, embedding.New(cfg.Embedding), log),
		Log:       log,
		embedding: cfg.Embedding,
	}

	if cfg.Privacy.SeedDefaultRules {
		added, err := ops.SeedDefaultRules(ctx, database, time.Now())
		if err != nil {
			database.Close()
			return nil, err
		}
		if added > 0 {
			log.Info("installed %d default exclusion rules", added)
		}
	}
	if err := ops.LoadRules(ctx, database, a.Rules); err != nil {
		database.Close()
		return nil, err
	}
	a.revision, _, _ = db.GetMeta(ctx, database, db.MetaRevision)
	return a, nil
}

// Services returns the operation context. capture may be nil when no
// scheduler is reachable.
func (a *App) Services(c ops.CaptureController) *ops.Services {
	return &ops.Services{
		DB:                a.DB,
		BaseDir:           a.DataDir,
		Config:            a.Config,
		Rules:             a.Rules,
		Storage:           a.Storage,
		Index:             a.Index,
		Capture:           c,
		Log:               a.Log,
		OnSettingsChanged: a.ApplySettings,
	}
}

// EnableCapture builds the scheduler and the sweeper. selfURLs are the
// addresses of our own web UI, which are never captured.
func (a *App) EnableCapture(ctx context.Context, selfURLs ...string) (*scheduler.Scheduler, error) {
	cfg := a.Config.Current()

	capturer, idle := capture.New(cfg.Capture.Backend)
	if !capturer.Available() {
		a.Log.Warning("no capture backend available (%s); captures will fail until one is installed", capturer.Name())
	}

	var extractor ocr.Extractor = ocr.Noop{}
	if cfg.OCR.Enabled {
		t := ocr.NewTesseract(cfg.OCR.Command, cfg.OCR.Language)
		if t.Available() {
			extractor = t
		} else {
			a.Log.Warning("ocr: %s not found, text extraction disabled", t.Command)
		}
	}

	usage, err := db.GetUsage(ctx, a.DB)
	if err != nil {
		return nil, err
	}
	_, newest, err := db.EntryBounds(ctx, a.DB)
	if err != nil {
		return nil, err
	}

	a.Scheduler = scheduler.New(scheduler.Deps{
		Capturer: capturer,
		Idle:     idle,
		Rules:    a.Rules,
		Filter:   similarity.NewFilter(nil),
		OCR:      extractor,
		Store:    a.Storage,
		Index:    a.Index,
		Self: capture.SelfFilter{
			PID:         os.Getpid(),
			AppNames:    []string{Name},
			URLPrefixes: selfURLs,
			TitleMarker: "Eidon",
		},
		Config:       a.Config,
		Log:          a.Log,
		CaptureCount: usage.CaptureCount,
		LastCapture:  newest,
	})
	a.sweeper = storage.NewSweeper(a.Storage)
	return a.Scheduler, nil
}

// Run drives the scheduler, the sweeper and the change watcher until ctx is
// cancelled. EnableCapture must have been called.
func (a *App) Run(ctx context.Context) error {
	if a.Scheduler == nil {
		return fmt.Errorf("capture is not enabled")
	}

	if res, err := a.Storage.Reconcile(ctx); err != nil {
		a.Log.Warning("reconcile: %v", err)
	} else if res.OrphansRemoved > 0 || res.CountersRepaired {
		a.Log.Info("reconcile: removed %d orphan files, counters repaired=%t", res.OrphansRemoved, res.CountersRepaired)
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				a.Log.Error("%s stopped: %v", name, err)
			}
		}()
	}
	run("scheduler", a.Scheduler.Run)
	run("sweeper", a.sweeper.Run)
	run("watcher", a.watch)

	wg.Wait()
	return nil
}

// watch polls for external edits and backfills missing embeddings.
func (a *App) watch(ctx context.Context) error {
	ticker := time.NewTicker(WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := a.Reload(ctx); err != nil {
			a.Log.Warning("reload: %v", err)
		}
		if a.Index.Embedder() != nil {
			if n, err := a.Index.Backfill(ctx, backfillBatch); err != nil {
				a.Log.Warning("embedding backfill: %v", err)
			} else if n > 0 {
				a.Log.Info("embedded %d entries", n)
			}
		}
	}
}

// Reload re-reads rules and settings when another process changed them.
// It reports whether anything was reloaded.
func (a *App) Reload(ctx context.Context) (bool, error) {
	rev, _, err := db.GetMeta(ctx, a.DB, db.MetaRevision)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	changed := rev != a.revision
	a.revision = rev
	a.mu.Unlock()
	if !changed {
		return false, nil
	}

	if err := ops.LoadRules(ctx, a.DB, a.Rules); err != nil {
		return true, err
	}
	cfg, err := config.LoadAll(a.BaseDir)
	if err != nil {
		return true, err
	}
	snap, err := a.Config.Replace(cfg)
	if err != nil {
		return true, err
	}
	a.ApplySettings(snap)
	a.Log.Info("reloaded rules and settings (revision %s)", revisionLabel(rev))
	return true, nil
}

// ApplySettings propagates a new settings snapshot to the running parts.
func (a *App) ApplySettings(snap config.Snapshot) {
	a.mu.Lock()
	embedChanged := snap.Config.Embedding != a.embedding
	a.embedding = snap.Config.Embedding
	a.mu.Unlock()

	if embedChanged {
		a.Index.SetEmbedder(embedding.New(snap.Config.Embedding))
		a.Log.Info("embedding provider set to %q", snap.Config.Embedding.Provider)
	}
	if a.Scheduler != nil {
		a.Scheduler.Wake()
	}
	if a.sweeper != nil {
		a.sweeper.Wake()
	}
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

func revisionLabel(rev string) string {
	if _, err := strconv.Atoi(rev); err != nil {
		return "0"
	}
	return rev
}
