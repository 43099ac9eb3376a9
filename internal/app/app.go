// Package app wires the directory service together: configuration, logging,
// the participant index, the business-card provider, the indexing queue and
// the optional drop-directory importer.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phax/phoss-directory-sub000/internal/businesscard"
	"github.com/phax/phoss-directory-sub000/internal/config"
	"github.com/phax/phoss-directory-sub000/internal/importer"
	"github.com/phax/phoss-directory-sub000/internal/indexer"
	"github.com/phax/phoss-directory-sub000/internal/logging"
	"github.com/phax/phoss-directory-sub000/internal/query"
	"github.com/phax/phoss-directory-sub000/internal/store"
)

// Options controls which parts of the service are started.
type Options struct {
	// ConfigPath is an explicit config file. Empty uses the default lookup.
	ConfigPath string
	// WithIndexer starts the asynchronous work queue. Requires a configured
	// provider base URL.
	WithIndexer bool
	// WithImporter starts the drop-directory watcher. Implies WithIndexer.
	WithImporter bool
}

// App holds the assembled service components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      *store.Manager
	Provider   businesscard.Provider
	Indexer    *indexer.Manager
	Translator *query.Translator

	lock       *DataDirLock
	logCleanup func()

	watcherCancel context.CancelFunc
	watcherWG     sync.WaitGroup
}

// New assembles the service. Components are started in dependency order and
// torn down by Close in reverse.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Log.Level,
		FilePath:      cfg.LogFile(),
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxFiles:      cfg.Log.MaxFiles,
		WriteToStderr: true,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &App{
		Config:     cfg,
		Logger:     logger,
		logCleanup: logCleanup,
	}

	lock := NewDataDirLock(cfg.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		a.Close()
		return nil, err
	}
	if !acquired {
		a.Close()
		return nil, fmt.Errorf("data directory %s is in use by another instance (lock: %s)",
			cfg.DataDir, lock.Path())
	}
	a.lock = lock

	st, err := store.NewManager(store.Config{
		Path:           cfg.IndexPath(),
		SystemOwners:   cfg.Index.SystemOwners,
		CountCacheSize: cfg.Index.CountCacheSize,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = st
	a.Translator = query.NewTranslator(st)

	if opts.WithIndexer || opts.WithImporter {
		if err := a.startIndexer(); err != nil {
			a.Close()
			return nil, err
		}
	}
	if opts.WithImporter {
		a.startImporter()
	}

	return a, nil
}

func (a *App) startIndexer() error {
	cfg := a.Config
	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required to run the indexer")
	}

	a.Provider = businesscard.NewHTTPProvider(businesscard.HTTPProviderConfig{
		BaseURL: cfg.Provider.BaseURL,
		Timeout: config.Duration(cfg.Provider.Timeout, businesscard.DefaultFetchTimeout),
	})

	exec := indexer.NewExecutor(a.Store, a.Provider, a.Logger)
	mgr, err := indexer.NewManager(indexer.Config{
		DataDir:       cfg.DataDir,
		QueueLength:   cfg.Indexer.QueueLength,
		Workers:       cfg.Indexer.Workers,
		RetryInterval: config.Duration(cfg.Indexer.RetryInterval, indexer.DefaultRetryInterval),
		ExpiryWindow:  config.Duration(cfg.Indexer.ExpiryWindow, indexer.DefaultExpiryWindow),
		SweepInterval: config.Duration(cfg.Indexer.SweepInterval, indexer.DefaultSweepInterval),
		Logger:        a.Logger,
	}, exec)
	if err != nil {
		return err
	}
	a.Indexer = mgr
	return nil
}

func (a *App) startImporter() {
	cfg := a.Config
	w, err := importer.NewWatcher(importer.WatcherConfig{
		Dir:         cfg.ImportDir(),
		OwnerID:     cfg.Import.OwnerID,
		Host:        "localhost",
		SettleDelay: config.Duration(cfg.Import.SettleDelay, importer.DefaultSettleDelay),
		Logger:      a.Logger,
	}, a.Indexer)
	if err != nil {
		a.Logger.Warn("drop-directory importer disabled", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.watcherCancel = cancel
	a.watcherWG.Add(1)
	go func() {
		defer a.watcherWG.Done()
		if err := w.Run(ctx); err != nil {
			a.Logger.Error("drop-directory importer stopped", slog.String("error", err.Error()))
		}
	}()
	a.Logger.Info("watching drop directory", slog.String("dir", cfg.ImportDir()))
}

// Close tears the service down in reverse start order. Safe to call on a
// partially assembled App.
func (a *App) Close() {
	if a.watcherCancel != nil {
		a.watcherCancel()
		done := make(chan struct{})
		go func() {
			a.watcherWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			a.Logger.Warn("importer did not stop in time")
		}
		a.watcherCancel = nil
	}

	if a.Indexer != nil {
		if err := a.Indexer.Close(); err != nil {
			a.Logger.Error("indexer shutdown failed", slog.String("error", err.Error()))
		}
		a.Indexer = nil
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("index close failed", slog.String("error", err.Error()))
		}
		a.Store = nil
	}

	if a.lock != nil {
		_ = a.lock.Unlock()
		a.lock = nil
	}

	if a.logCleanup != nil {
		a.logCleanup()
		a.logCleanup = nil
	}
}
