package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

const (
	// DefaultQueueLength bounds the in-memory work queue.
	DefaultQueueLength = 500
	// DefaultWorkers is the number of background indexing workers.
	DefaultWorkers = 2
	// DefaultRetryInterval is the minimum pause between retries of one item.
	DefaultRetryInterval = time.Minute
	// DefaultExpiryWindow is how long an item may keep failing before it is
	// moved to the dead list.
	DefaultExpiryWindow = 24 * time.Hour
	// DefaultSweepInterval is how often the retry lists are inspected.
	DefaultSweepInterval = 15 * time.Second

	snapshotFileName = "indexer-queue.json"
	listDBFileName   = "indexer-lists.db"
)

// QueueStatus is the outcome of queueing a work item.
type QueueStatus string

const (
	// StatusQueued means the item was accepted for background processing.
	StatusQueued QueueStatus = "queued"
	// StatusDuplicate means an equal item is already queued, executing or
	// awaiting a retry.
	StatusDuplicate QueueStatus = "duplicate"
)

// Config holds the indexer manager settings.
type Config struct {
	// DataDir holds the durable lists and the shutdown snapshot.
	DataDir       string
	QueueLength   int
	Workers       int
	RetryInterval time.Duration
	ExpiryWindow  time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.QueueLength <= 0 {
		c.QueueLength = DefaultQueueLength
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.ExpiryWindow <= 0 {
		c.ExpiryWindow = DefaultExpiryWindow
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats is a point-in-time view of the manager's lists.
type Stats struct {
	Queued    int `json:"queued"`
	InFlight  int `json:"in_flight"`
	ReIndex   int `json:"reindex"`
	Dead      int `json:"dead"`
	TotalDone int `json:"total_done"`
}

// Manager owns the work queue and the retry and dead lists.
type Manager struct {
	cfg    Config
	exec   *Executor
	logger *slog.Logger
	lists  *listStore

	mu        sync.Mutex
	inFlight  map[DedupKey]WorkItem
	reindex   map[DedupKey]*ReIndexItem
	dead      map[DedupKey]*ReIndexItem
	totalDone int
	closed    bool

	queue  chan WorkItem
	cancel context.CancelFunc
	group  *errgroup.Group

	now func() time.Time
}

// NewManager opens the durable lists, restores a shutdown snapshot if one
// exists and starts the background workers.
func NewManager(cfg Config, exec *Executor) (*Manager, error) {
	cfg.applyDefaults()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, pderrors.Wrap(pderrors.ErrCodeListStorage, err)
	}

	lists, err := openListStore(filepath.Join(cfg.DataDir, listDBFileName))
	if err != nil {
		return nil, err
	}

	reindex, err := lists.allReIndex()
	if err != nil {
		_ = lists.Close()
		return nil, err
	}
	dead, err := lists.allDead()
	if err != nil {
		_ = lists.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	m := &Manager{
		cfg:      cfg,
		exec:     exec,
		logger:   cfg.Logger,
		lists:    lists,
		inFlight: make(map[DedupKey]WorkItem),
		reindex:  reindex,
		dead:     dead,
		queue:    make(chan WorkItem, cfg.QueueLength),
		cancel:   cancel,
		group:    group,
		now:      time.Now,
	}

	m.restoreSnapshot()

	for i := 0; i < cfg.Workers; i++ {
		group.Go(func() error {
			m.workerLoop(gctx)
			return nil
		})
	}
	group.Go(func() error {
		m.sweepLoop(gctx)
		return nil
	})

	m.logger.Info("indexer started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_length", cfg.QueueLength),
		slog.Int("reindex_items", len(reindex)),
		slog.Int("dead_items", len(dead)))

	return m, nil
}

// Queue accepts a work item for asynchronous processing. An item whose
// deduplication key is already queued, executing or awaiting a retry is
// reported as a duplicate and dropped. A fresh request supersedes a dead
// entry with the same key.
func (m *Manager) Queue(item WorkItem) (QueueStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", pderrors.New(pderrors.ErrCodeManagerShutdown, "indexer is shut down", nil)
	}

	key := item.DedupKey()
	if _, ok := m.inFlight[key]; ok {
		return StatusDuplicate, nil
	}
	if _, ok := m.reindex[key]; ok {
		return StatusDuplicate, nil
	}

	if _, ok := m.dead[key]; ok {
		delete(m.dead, key)
		if err := m.lists.deleteDead(key); err != nil {
			return "", err
		}
		m.logger.Info("dead entry superseded by new request",
			slog.String("key", key.String()))
	}

	select {
	case m.queue <- item:
		m.inFlight[key] = item
		return StatusQueued, nil
	default:
		return "", pderrors.New(pderrors.ErrCodeQueueFull,
			fmt.Sprintf("work queue is full (%d items)", m.cfg.QueueLength), nil)
	}
}

func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-m.queue:
			m.process(ctx, item)
		}
	}
}

// process executes one freshly queued item and records the outcome.
func (m *Manager) process(ctx context.Context, item WorkItem) {
	res := m.exec.Execute(ctx, item, 0)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := item.DedupKey()
	delete(m.inFlight, key)

	switch {
	case res.Success:
		m.totalDone++
	case res.Fatal:
		m.moveToDeadLocked(NewReIndexItem(item, m.now(), m.cfg.ExpiryWindow))
	default:
		r := NewReIndexItem(item, m.now(), m.cfg.ExpiryWindow)
		m.reindex[key] = r
		if err := m.lists.putReIndex(r); err != nil {
			m.logger.Error("failed to persist re-index entry",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
		}
		m.logger.Info("item scheduled for retry",
			slog.String("key", key.String()),
			slog.Time("expires", r.MaxRetry))
	}
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep expires overdue re-index entries and retries the due ones. Expiry is
// checked first so an item never gets a retry past its window.
func (m *Manager) sweep(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	var due []*ReIndexItem
	for key, r := range m.reindex {
		if r.IsExpired(now) {
			delete(m.reindex, key)
			if err := m.lists.deleteReIndex(key); err != nil {
				m.logger.Error("failed to remove re-index entry",
					slog.String("key", key.String()),
					slog.String("error", err.Error()))
			}
			m.moveToDeadLocked(r)
			continue
		}
		if r.IsRetryDue(now, m.cfg.RetryInterval) {
			delete(m.reindex, key)
			m.inFlight[key] = r.Item
			r.MarkRetried(now)
			due = append(due, r)
		}
	}
	m.mu.Unlock()

	for _, r := range due {
		m.retry(ctx, r)
	}
}

// retry executes one due re-index item and records the outcome.
func (m *Manager) retry(ctx context.Context, r *ReIndexItem) {
	res := m.exec.Execute(ctx, r.Item, r.RetryCount)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.Item.DedupKey()
	delete(m.inFlight, key)

	switch {
	case res.Success:
		m.totalDone++
		if err := m.lists.deleteReIndex(key); err != nil {
			m.logger.Error("failed to remove re-index entry",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
		}
	case res.Fatal || r.IsExpired(m.now()):
		if err := m.lists.deleteReIndex(key); err != nil {
			m.logger.Error("failed to remove re-index entry",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
		}
		m.moveToDeadLocked(r)
	default:
		m.reindex[key] = r
		if err := m.lists.putReIndex(r); err != nil {
			m.logger.Error("failed to persist re-index entry",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
		}
	}
}

// moveToDeadLocked records an item on the dead list. Caller holds mu.
func (m *Manager) moveToDeadLocked(r *ReIndexItem) {
	key := r.Item.DedupKey()
	m.dead[key] = r
	if err := m.lists.putDead(r); err != nil {
		m.logger.Error("failed to persist dead entry",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
	}
	m.logger.Warn("item moved to dead list",
		slog.String("key", key.String()),
		slog.Int("retries", r.RetryCount))
}

// ReIndexItems returns a copy of the re-index list, oldest failure first.
func (m *Manager) ReIndexItems() []ReIndexItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedItems(m.reindex)
}

// DeadItems returns a copy of the dead list, oldest failure first.
func (m *Manager) DeadItems() []ReIndexItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedItems(m.dead)
}

func sortedItems(in map[DedupKey]*ReIndexItem) []ReIndexItem {
	out := make([]ReIndexItem, 0, len(in))
	for _, r := range in {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstFailure.Before(out[j].FirstFailure)
	})
	return out
}

// RetryDead removes one dead entry and queues its work item again with a
// fresh retry lifecycle. Reports whether the item was re-queued. If the
// queue rejects the item the entry is put back on the dead list, so a full
// queue or a shutdown never loses it.
func (m *Manager) RetryDead(key DedupKey) (bool, error) {
	m.mu.Lock()
	r, ok := m.dead[key]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.dead, key)
	if err := m.lists.deleteDead(key); err != nil {
		m.mu.Unlock()
		return false, err
	}
	m.mu.Unlock()

	_, err := m.Queue(r.Item)
	if err != nil {
		m.mu.Lock()
		m.dead[key] = r
		putErr := m.lists.putDead(r)
		m.mu.Unlock()
		if putErr != nil {
			m.logger.Error("failed to restore dead entry",
				slog.String("key", key.String()),
				slog.String("error", putErr.Error()))
		}
		return false, err
	}
	return true, nil
}

// RetryAllDead re-queues every dead entry. Returns the number of items
// actually accepted; the rest stay dead.
func (m *Manager) RetryAllDead() (int, error) {
	keys := make([]DedupKey, 0)
	m.mu.Lock()
	for key := range m.dead {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	queued := 0
	for _, key := range keys {
		ok, err := m.RetryDead(key)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	return queued, nil
}

// Stats returns a snapshot of the manager's state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Queued:    len(m.queue),
		InFlight:  len(m.inFlight),
		ReIndex:   len(m.reindex),
		Dead:      len(m.dead),
		TotalDone: m.totalDone,
	}
}

// snapshotEntry is one queued-but-unprocessed item written at shutdown.
type snapshotEntry struct {
	Participant string    `json:"participant"`
	Action      string    `json:"action"`
	OwnerID     string    `json:"owner"`
	Host        string    `json:"host"`
	CreatedAt   time.Time `json:"created"`
}

func (m *Manager) snapshotPath() string {
	return filepath.Join(m.cfg.DataDir, snapshotFileName)
}

// restoreSnapshot re-queues items written by a previous shutdown and removes
// the snapshot file. Items that no longer fit the queue are dropped with a
// warning.
func (m *Manager) restoreSnapshot() {
	data, err := os.ReadFile(m.snapshotPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to read queue snapshot", slog.String("error", err.Error()))
		}
		return
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		m.logger.Warn("ignoring unreadable queue snapshot", slog.String("error", err.Error()))
		_ = os.Remove(m.snapshotPath())
		return
	}

	restored := 0
	for _, e := range entries {
		pid, err := identifier.ParseParticipantID(e.Participant)
		if err != nil {
			continue
		}
		action, err := ParseActionType(e.Action)
		if err != nil {
			continue
		}
		item := WorkItem{
			Participant:    pid,
			Action:         action,
			OwnerID:        e.OwnerID,
			RequestingHost: e.Host,
			CreatedAt:      e.CreatedAt,
		}
		status, err := m.Queue(item)
		if err != nil {
			m.logger.Warn("dropping snapshot item",
				slog.String("key", item.DedupKey().String()),
				slog.String("error", err.Error()))
			continue
		}
		if status == StatusQueued {
			restored++
		}
	}

	_ = os.Remove(m.snapshotPath())
	if restored > 0 {
		m.logger.Info("restored queued items from snapshot", slog.Int("items", restored))
	}
}

// writeSnapshot drains the queue channel and persists the unprocessed items.
// Caller holds mu and has stopped the workers.
func (m *Manager) writeSnapshotLocked() error {
	var entries []snapshotEntry
	for {
		select {
		case item := <-m.queue:
			delete(m.inFlight, item.DedupKey())
			entries = append(entries, snapshotEntry{
				Participant: item.Participant.String(),
				Action:      string(item.Action),
				OwnerID:     item.OwnerID,
				Host:        item.RequestingHost,
				CreatedAt:   item.CreatedAt,
			})
		default:
			if len(entries) == 0 {
				return nil
			}
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return pderrors.Wrap(pderrors.ErrCodeQueueSnapshot, err)
			}
			if err := os.WriteFile(m.snapshotPath(), data, 0o644); err != nil {
				return pderrors.Wrap(pderrors.ErrCodeQueueSnapshot, err)
			}
			m.logger.Info("wrote queue snapshot", slog.Int("items", len(entries)))
			return nil
		}
	}
}

// Close stops the workers, snapshots the unprocessed queue and closes the
// durable lists. The manager accepts no work afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	_ = m.group.Wait()

	m.mu.Lock()
	snapErr := m.writeSnapshotLocked()
	m.mu.Unlock()

	if err := m.lists.Close(); err != nil {
		if snapErr != nil {
			return snapErr
		}
		return pderrors.Wrap(pderrors.ErrCodeListStorage, err)
	}
	return snapErr
}
