package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/search/query"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/phax/phoss-directory-sub000/internal/businesscard"
	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

// maxGroupDocs bounds the per-participant document scan. A participant has a
// handful of entities in practice.
const maxGroupDocs = 10000

// DefaultCountCacheSize bounds the count-query result cache.
const DefaultCountCacheSize = 512

// Config configures the storage manager.
type Config struct {
	// Path is the on-disk index location. Empty means in-memory (tests).
	Path string

	// SystemOwners are privileged owner identifiers that may delete any
	// entry regardless of the stored owner.
	SystemOwners []string

	// CountCacheSize is the number of cached count-query results.
	// Defaults to DefaultCountCacheSize.
	CountCacheSize int
}

// Manager is the storage layer between work execution and the search index
// engine. All index mutation goes through its write lock; the atomic
// replace-by-key of a participant group is observed as a single unit by any
// concurrent reader.
type Manager struct {
	mu     sync.RWMutex
	index  bleve.Index
	config Config
	closed bool

	systemOwners map[string]struct{}
	countCache   *lru.Cache[string, uint64]
}

// NewManager opens (or creates) the index at cfg.Path.
func NewManager(cfg Config) (*Manager, error) {
	idx, err := openIndex(cfg.Path)
	if err != nil {
		return nil, err
	}

	size := cfg.CountCacheSize
	if size <= 0 {
		size = DefaultCountCacheSize
	}
	cache, err := lru.New[string, uint64](size)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	owners := make(map[string]struct{}, len(cfg.SystemOwners))
	for _, o := range cfg.SystemOwners {
		owners[o] = struct{}{}
	}

	return &Manager{
		index:        idx,
		config:       cfg,
		systemOwners: owners,
		countCache:   cache,
	}, nil
}

// CreateOrUpdate replaces all documents of the card's participant with one
// document per business entity, as one atomic batch under the write lock.
// A concurrent reader sees either the complete old group or the complete new
// group, never a mix.
func (m *Manager) CreateOrUpdate(ctx context.Context, card *businesscard.BusinessCard, meta MetaData) error {
	if !card.HasEntities() {
		return pderrors.New(pderrors.ErrCodeInvalidInput,
			fmt.Sprintf("business card of %s has no entities", card.Participant), nil)
	}

	docs := buildDocuments(card, meta)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return pderrors.New(pderrors.ErrCodeIndexWrite, "index is closed", nil)
	}

	existing, err := m.participantDocIDsLocked(ctx, card.Participant)
	if err != nil {
		return pderrors.Wrap(pderrors.ErrCodeIndexRead, err)
	}

	batch := m.index.NewBatch()
	for _, id := range existing {
		batch.Delete(id)
	}
	for i, doc := range docs {
		if err := batch.Index(docID(card.Participant, i), doc); err != nil {
			return pderrors.Wrap(pderrors.ErrCodeIndexWrite, err)
		}
	}

	if err := m.index.Batch(batch); err != nil {
		return pderrors.Wrap(pderrors.ErrCodeIndexWrite, err)
	}

	m.countCache.Purge()

	slog.Debug("participant_indexed",
		slog.String("participant", card.Participant.String()),
		slog.Int("entities", len(docs)),
		slog.Int("replaced", len(existing)))
	return nil
}

// Delete removes all documents of the participant's exact-match key and
// returns the prior document count. With verifyOwner set, the caller's owner
// must match the stored owner or be a configured system owner; refusal is
// reported as 0 removed, not as an error.
func (m *Manager) Delete(ctx context.Context, id identifier.ParticipantID, meta MetaData, verifyOwner bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, pderrors.New(pderrors.ErrCodeIndexWrite, "index is closed", nil)
	}

	docIDs, storedOwner, err := m.participantDocsWithOwnerLocked(ctx, id)
	if err != nil {
		return 0, pderrors.Wrap(pderrors.ErrCodeIndexRead, err)
	}
	if len(docIDs) == 0 {
		return 0, nil
	}

	if verifyOwner && !m.ownerAllowed(meta.OwnerID, storedOwner) {
		slog.Warn("delete_refused",
			slog.String("participant", id.String()),
			slog.String("asserted_owner", meta.OwnerID),
			slog.String("stored_owner", storedOwner))
		return 0, nil
	}

	batch := m.index.NewBatch()
	for _, d := range docIDs {
		batch.Delete(d)
	}
	if err := m.index.Batch(batch); err != nil {
		return 0, pderrors.Wrap(pderrors.ErrCodeIndexWrite, err)
	}

	m.countCache.Purge()

	slog.Info("participant_deleted",
		slog.String("participant", id.String()),
		slog.Int("documents", len(docIDs)))
	return len(docIDs), nil
}

// Search executes a query and reconstructs one StoredBusinessEntity per
// matched document. Grouping by participant is the caller's explicit step
// (GroupByParticipant).
func (m *Manager) Search(ctx context.Context, q query.Query, maxResults int) ([]StoredBusinessEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, pderrors.New(pderrors.ErrCodeIndexRead, "index is closed", nil)
	}
	if q == nil {
		return nil, pderrors.New(pderrors.ErrCodeInvalidQuery, "nil query", nil)
	}

	if maxResults <= 0 {
		maxResults = maxGroupDocs
	}
	req := bleve.NewSearchRequest(q)
	req.Size = maxResults
	req.Fields = []string{"*"}

	result, err := m.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, pderrors.Wrap(pderrors.ErrCodeIndexRead, err)
	}

	entities := make([]StoredBusinessEntity, 0, len(result.Hits))
	for _, hit := range result.Hits {
		entity, err := entityFromFields(hit.Fields)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}

	return entities, nil
}

// Count returns the number of documents matching the query, or CountError on
// failure. Results are cached until the next mutation.
func (m *Manager) Count(ctx context.Context, q query.Query) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed || q == nil {
		return CountError
	}

	key := countCacheKey(q)
	if key != "" {
		if cached, ok := m.countCache.Get(key); ok {
			return int(cached)
		}
	}

	req := bleve.NewSearchRequest(q)
	req.Size = 0

	result, err := m.index.SearchInContext(ctx, req)
	if err != nil {
		slog.Warn("count_failed", slog.String("error", err.Error()))
		return CountError
	}

	if key != "" {
		m.countCache.Add(key, result.Total)
	}
	return int(result.Total)
}

// ContainsEntry checks whether any document exists for the exact participant
// key, optionally restricted by query mode.
func (m *Manager) ContainsEntry(ctx context.Context, id identifier.ParticipantID, mode QueryMode) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, pderrors.New(pderrors.ErrCodeIndexRead, "index is closed", nil)
	}

	q := ApplyMode(participantTermQuery(id), mode)
	req := bleve.NewSearchRequest(q)
	req.Size = 0

	result, err := m.index.SearchInContext(ctx, req)
	if err != nil {
		return false, pderrors.Wrap(pderrors.ErrCodeIndexRead, err)
	}
	return result.Total > 0, nil
}

// AllParticipantIDs scans the whole index and returns every participant with
// its entity document count, sorted by identifier. Used for administrative
// listing and export.
func (m *Manager) AllParticipantIDs(ctx context.Context, mode QueryMode) ([]ParticipantCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, pderrors.New(pderrors.ErrCodeIndexRead, "index is closed", nil)
	}

	docCount, err := m.index.DocCount()
	if err != nil {
		return nil, pderrors.Wrap(pderrors.ErrCodeIndexRead, err)
	}
	if docCount == 0 {
		return nil, nil
	}

	q := ApplyMode(query.NewMatchAllQuery(), mode)
	req := bleve.NewSearchRequest(q)
	req.Size = int(docCount)
	req.Fields = []string{FieldParticipant}

	result, err := m.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, pderrors.Wrap(pderrors.ErrCodeIndexRead, err)
	}

	tally := make(map[identifier.ParticipantID]int)
	for _, hit := range result.Hits {
		pid, err := identifier.ParseParticipantID(fieldString(hit.Fields, FieldParticipant))
		if err != nil {
			continue
		}
		tally[pid]++
	}

	out := make([]ParticipantCount, 0, len(tally))
	for pid, n := range tally {
		out = append(out, ParticipantCount{Participant: pid, Entities: n})
	}
	sortParticipantCounts(out)
	return out, nil
}

// SplitIntoTerms runs the text-field analyzer over free text to obtain
// normalized terms. On analyzer failure it falls back to lower-cased
// whitespace splitting.
func (m *Manager) SplitIntoTerms(text string) []string {
	analyzer := m.index.Mapping().AnalyzerNamed(standard.Name)
	if analyzer == nil {
		return whitespaceTerms(text)
	}

	tokens := analyzer.Analyze([]byte(text))
	if len(tokens) == 0 {
		return whitespaceTerms(text)
	}

	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// DocCount returns the total number of index documents.
func (m *Manager) DocCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, pderrors.New(pderrors.ErrCodeIndexRead, "index is closed", nil)
	}
	return m.index.DocCount()
}

// Close closes the underlying index. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.index.Close()
}

// ownerAllowed implements the delete ownership rule.
func (m *Manager) ownerAllowed(asserted, stored string) bool {
	if asserted == "" {
		return false
	}
	if asserted == stored {
		return true
	}
	_, ok := m.systemOwners[asserted]
	return ok
}

// participantDocIDsLocked returns the index keys of every document of the
// participant. Caller must hold at least the read lock.
func (m *Manager) participantDocIDsLocked(ctx context.Context, id identifier.ParticipantID) ([]string, error) {
	req := bleve.NewSearchRequest(participantTermQuery(id))
	req.Size = maxGroupDocs

	result, err := m.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// participantDocsWithOwnerLocked additionally fetches the stored owner of
// the group. All documents of a group share the same metadata, so the first
// hit's owner is authoritative.
func (m *Manager) participantDocsWithOwnerLocked(ctx context.Context, id identifier.ParticipantID) ([]string, string, error) {
	req := bleve.NewSearchRequest(participantTermQuery(id))
	req.Size = maxGroupDocs
	req.Fields = []string{FieldMDOwner}

	result, err := m.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, "", err
	}

	var owner string
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
		if owner == "" {
			owner = fieldString(hit.Fields, FieldMDOwner)
		}
	}
	return ids, owner, nil
}

// participantTermQuery builds the exact-match query on the participant key.
func participantTermQuery(id identifier.ParticipantID) query.Query {
	q := query.NewTermQuery(id.String())
	q.SetField(FieldParticipant)
	return q
}

// ApplyMode composes a base query with the query-mode policy: identity,
// "not deleted" or "deleted only".
func ApplyMode(base query.Query, mode QueryMode) query.Query {
	switch mode {
	case ModeNonDeleted:
		deleted := query.NewTermQuery(valueTrue)
		deleted.SetField(FieldDeleted)
		bq := query.NewBooleanQuery(nil, nil, []query.Query{deleted})
		bq.AddMust(base)
		return bq
	case ModeDeletedOnly:
		deleted := query.NewTermQuery(valueTrue)
		deleted.SetField(FieldDeleted)
		return query.NewConjunctionQuery([]query.Query{base, deleted})
	default:
		return base
	}
}

// countCacheKey derives a stable cache key from the query's JSON form.
// Returns "" when the query cannot be serialized; such queries bypass the
// cache.
func countCacheKey(q query.Query) string {
	data, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	return string(data)
}

// whitespaceTerms is the analyzer fallback.
func whitespaceTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	return fields
}

// sortParticipantCounts orders rows by the identifier's total order.
func sortParticipantCounts(rows []ParticipantCount) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Participant.Compare(rows[j].Participant) < 0
	})
}
