package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

var (
	bucketReIndex = []byte("reindex")
	bucketDead    = []byte("dead")
)

// listOpenTimeout bounds the wait for bbolt's file lock so a second process
// fails with a clear error instead of blocking on the running service.
const listOpenTimeout = time.Second

// listStore persists the re-index and dead lists. Every mutation is written
// through immediately; the lists survive a crash without a shutdown hook.
type listStore struct {
	db *bbolt.DB
}

// openListStore opens or creates the durable list storage.
func openListStore(path string) (*listStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: listOpenTimeout})
	if err != nil {
		return nil, wrapListOpenError(path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketReIndex, bucketDead} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, pderrors.Wrap(pderrors.ErrCodeListStorage, err)
	}

	return &listStore{db: db}, nil
}

func wrapListOpenError(path string, err error) error {
	if errors.Is(err, bbolt.ErrTimeout) {
		return pderrors.New(pderrors.ErrCodeListStorage,
			fmt.Sprintf("list storage %s is in use by a running service", path), err)
	}
	return pderrors.Wrap(pderrors.ErrCodeListStorage, err)
}

func (s *listStore) Close() error {
	return s.db.Close()
}

// reIndexEntry is the JSON shape of one persisted list entry.
type reIndexEntry struct {
	Participant   string     `json:"participant"`
	Action        string     `json:"action"`
	OwnerID       string     `json:"owner"`
	Host          string     `json:"host"`
	CreatedAt     time.Time  `json:"created"`
	RetryCount    int        `json:"retry_count"`
	FirstFailure  time.Time  `json:"first_failure"`
	PreviousRetry *time.Time `json:"previous_retry,omitempty"`
	MaxRetry      time.Time  `json:"max_retry"`
}

func toEntry(r *ReIndexItem) reIndexEntry {
	return reIndexEntry{
		Participant:   r.Item.Participant.String(),
		Action:        string(r.Item.Action),
		OwnerID:       r.Item.OwnerID,
		Host:          r.Item.RequestingHost,
		CreatedAt:     r.Item.CreatedAt,
		RetryCount:    r.RetryCount,
		FirstFailure:  r.FirstFailure,
		PreviousRetry: r.PreviousRetry,
		MaxRetry:      r.MaxRetry,
	}
}

func fromEntry(e reIndexEntry) (*ReIndexItem, error) {
	pid, err := identifier.ParseParticipantID(e.Participant)
	if err != nil {
		return nil, err
	}
	action, err := ParseActionType(e.Action)
	if err != nil {
		return nil, err
	}
	return &ReIndexItem{
		Item: WorkItem{
			Participant:    pid,
			Action:         action,
			OwnerID:        e.OwnerID,
			RequestingHost: e.Host,
			CreatedAt:      e.CreatedAt,
		},
		RetryCount:    e.RetryCount,
		FirstFailure:  e.FirstFailure,
		PreviousRetry: e.PreviousRetry,
		MaxRetry:      e.MaxRetry,
	}, nil
}

// put writes one entry into the given bucket.
func (s *listStore) put(bucket []byte, r *ReIndexItem) error {
	data, err := json.Marshal(toEntry(r))
	if err != nil {
		return pderrors.Wrap(pderrors.ErrCodeListStorage, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(r.Item.DedupKey().String()), data)
	})
	if err != nil {
		return pderrors.Wrap(pderrors.ErrCodeListStorage, err)
	}
	return nil
}

// delete removes one entry from the given bucket.
func (s *listStore) delete(bucket []byte, key DedupKey) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key.String()))
	})
	if err != nil {
		return pderrors.Wrap(pderrors.ErrCodeListStorage, err)
	}
	return nil
}

// all loads every entry of the given bucket. Unreadable entries are skipped;
// durable state must never block startup.
func (s *listStore) all(bucket []byte) (map[DedupKey]*ReIndexItem, error) {
	out := make(map[DedupKey]*ReIndexItem)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e reIndexEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			item, err := fromEntry(e)
			if err != nil {
				return nil
			}
			out[item.Item.DedupKey()] = item
			return nil
		})
	})
	if err != nil {
		return nil, pderrors.Wrap(pderrors.ErrCodeListStorage, err)
	}
	return out, nil
}

// LoadLists reads the persisted re-index and dead lists without starting a
// manager. The storage is opened read-only; if a running service holds it,
// the open fails fast instead of waiting on the file lock.
func LoadLists(dataDir string) (reindex, dead []ReIndexItem, err error) {
	path := filepath.Join(dataDir, listDBFileName)
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return nil, nil, nil
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: listOpenTimeout, ReadOnly: true})
	if err != nil {
		return nil, nil, wrapListOpenError(path, err)
	}
	s := &listStore{db: db}
	defer func() { _ = s.Close() }()

	reindexMap, err := s.allReIndex()
	if err != nil {
		return nil, nil, err
	}
	deadMap, err := s.allDead()
	if err != nil {
		return nil, nil, err
	}
	return sortedItems(reindexMap), sortedItems(deadMap), nil
}

func (s *listStore) putReIndex(r *ReIndexItem) error { return s.put(bucketReIndex, r) }
func (s *listStore) putDead(r *ReIndexItem) error    { return s.put(bucketDead, r) }
func (s *listStore) deleteReIndex(k DedupKey) error  { return s.delete(bucketReIndex, k) }
func (s *listStore) deleteDead(k DedupKey) error     { return s.delete(bucketDead, k) }
func (s *listStore) allReIndex() (map[DedupKey]*ReIndexItem, error) {
	return s.all(bucketReIndex)
}
func (s *listStore) allDead() (map[DedupKey]*ReIndexItem, error) {
	return s.all(bucketDead)
}
