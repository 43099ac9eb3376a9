package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/phax/phoss-directory-sub000/internal/identifier"
	"github.com/phax/phoss-directory-sub000/internal/indexer"
)

const (
	// suffixDone marks a fully processed drop file.
	suffixDone = ".done"
	// suffixFailed marks a drop file that could not be processed.
	suffixFailed = ".failed"

	// DefaultSettleDelay is how long a drop file must stay quiet before it
	// is picked up, so half-written files are not parsed.
	DefaultSettleDelay = 500 * time.Millisecond
)

// Queuer accepts work items for asynchronous indexing.
type Queuer interface {
	Queue(item indexer.WorkItem) (indexer.QueueStatus, error)
}

// Summary reports the outcome of importing one identifier list.
type Summary struct {
	Queued      int
	Duplicates  int
	Rejected    int
	Diagnostics []string
}

// Watcher monitors a drop directory for identifier list files. Every
// completed file is parsed, its participants are queued for indexing and
// the file is renamed with a .done or .failed suffix.
type Watcher struct {
	dir         string
	queue       Queuer
	ownerID     string
	host        string
	settleDelay time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// WatcherConfig configures a drop-directory watcher.
type WatcherConfig struct {
	// Dir is the drop directory. It is created if missing.
	Dir string
	// OwnerID is recorded as the owner of every queued item.
	OwnerID string
	// Host is recorded as the requesting host of every queued item.
	Host        string
	SettleDelay time.Duration
	Logger      *slog.Logger
}

// NewWatcher creates a drop-directory watcher. Call Run to start it.
func NewWatcher(cfg WatcherConfig, queue Queuer) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("importer: drop directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create drop directory: %w", err)
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Watcher{
		dir:         cfg.Dir,
		queue:       queue,
		ownerID:     cfg.OwnerID,
		host:        cfg.Host,
		settleDelay: cfg.SettleDelay,
		logger:      cfg.Logger,
		pending:     make(map[string]*time.Timer),
	}, nil
}

// Run watches the drop directory until the context is cancelled. Files
// already present at startup are processed first.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch drop directory: %w", err)
	}

	w.processExisting()

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("drop directory watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) processExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to scan drop directory", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.schedule(filepath.Join(w.dir, e.Name()))
	}
}

// schedule (re)arms the settle timer for one drop file. Every write resets
// the timer, so the file is only picked up once it stops changing.
func (w *Watcher) schedule(path string) {
	if isProcessed(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.processFile(path)
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// processFile imports one drop file and renames it by outcome. A file that
// yields no valid identifiers at all is considered failed.
func (w *Watcher) processFile(path string) {
	log := w.logger.With(slog.String("file", filepath.Base(path)))

	summary, err := w.importFile(path)
	if err != nil {
		log.Warn("drop file import failed", slog.String("error", err.Error()))
		w.markFile(path, suffixFailed, log)
		return
	}
	for _, d := range summary.Diagnostics {
		log.Warn("drop file diagnostic", slog.String("detail", d))
	}

	if summary.Queued == 0 && summary.Duplicates == 0 {
		log.Warn("drop file contained no valid identifiers",
			slog.Int("rejected", summary.Rejected))
		w.markFile(path, suffixFailed, log)
		return
	}

	log.Info("drop file imported",
		slog.Int("queued", summary.Queued),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("rejected", summary.Rejected))
	w.markFile(path, suffixDone, log)
}

func (w *Watcher) importFile(path string) (Summary, error) {
	ids, diagnostics, err := ParseFile(path)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Rejected: len(diagnostics), Diagnostics: diagnostics}
	for _, id := range ids {
		status, err := w.queueOne(id)
		if err != nil {
			summary.Diagnostics = append(summary.Diagnostics,
				fmt.Sprintf("%s: %s", id.String(), err.Error()))
			summary.Rejected++
			continue
		}
		if status == indexer.StatusDuplicate {
			summary.Duplicates++
		} else {
			summary.Queued++
		}
	}
	return summary, nil
}

func (w *Watcher) queueOne(id identifier.ParticipantID) (indexer.QueueStatus, error) {
	item := indexer.NewWorkItem(id, indexer.ActionCreateUpdate, w.ownerID, w.host)
	return w.queue.Queue(item)
}

func (w *Watcher) markFile(path, suffix string, log *slog.Logger) {
	if err := os.Rename(path, path+suffix); err != nil {
		log.Warn("failed to rename drop file", slog.String("error", err.Error()))
	}
}

func isProcessed(path string) bool {
	return strings.HasSuffix(path, suffixDone) || strings.HasSuffix(path, suffixFailed)
}
