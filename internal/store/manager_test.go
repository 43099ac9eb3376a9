package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phax/phoss-directory-sub000/internal/businesscard"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{Path: "", SystemOwners: []string{"pd-admin"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func acmeCard() *businesscard.BusinessCard {
	return &businesscard.BusinessCard{
		Participant: identifier.NewParticipantID("iso6523-actorid-upis", "0088:123456"),
		Entities: []businesscard.BusinessEntity{{
			Names:       []businesscard.Name{{Name: "Acme Corp"}},
			CountryCode: "be",
			Identifiers: []businesscard.Identifier{{Scheme: "iso6523-actorid-upis", Value: "0088:123456"}},
		}},
		DocTypes: []identifier.DocTypeID{
			identifier.NewDocTypeID("busdox-docid-qns", "urn:invoice"),
		},
	}
}

func TestManager_CreateOrUpdate_RoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	meta := NewMetaData("smp1", "10.0.0.1")
	require.NoError(t, m.CreateOrUpdate(ctx, acmeCard(), meta))

	pid := identifier.NewParticipantID("iso6523-actorid-upis", "0088:123456")
	hits, err := m.Search(ctx, participantTermQuery(pid), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	e := hits[0]
	assert.Equal(t, pid, e.Participant)
	require.Len(t, e.Names, 1)
	assert.Equal(t, "Acme Corp", e.Names[0].Name)
	assert.Empty(t, e.Names[0].LanguageCode)
	assert.Equal(t, "BE", e.CountryCode, "country is normalized to upper case")
	require.Len(t, e.Identifiers, 1)
	assert.Equal(t, "iso6523-actorid-upis", e.Identifiers[0].Scheme)
	assert.Equal(t, "0088:123456", e.Identifiers[0].Value)
	require.Len(t, e.DocTypes, 1)
	assert.Equal(t, "busdox-docid-qns::urn:invoice", e.DocTypes[0].String())
	assert.Equal(t, "smp1", e.Metadata.OwnerID)
	assert.Equal(t, "10.0.0.1", e.Metadata.RequestingHost)
	assert.True(t, e.GroupEnd, "single-entity group's only document is its last")
	assert.False(t, e.Deleted)
}

func TestManager_CreateOrUpdate_MultilingualNames(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	card := acmeCard()
	card.Entities[0].Names = []businesscard.Name{
		{Name: "Acme Corp", LanguageCode: "en"},
		{Name: "Acme NV", LanguageCode: "nl"},
	}
	require.NoError(t, m.CreateOrUpdate(ctx, card, NewMetaData("smp1", "h")))

	hits, err := m.Search(ctx, participantTermQuery(card.Participant), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Len(t, hits[0].Names, 2)
	assert.Equal(t, "en", hits[0].Names[0].LanguageCode)
	assert.Equal(t, "Acme Corp", hits[0].Names[0].Name)
	assert.Equal(t, "nl", hits[0].Names[1].LanguageCode)
}

func TestManager_CreateOrUpdate_ReplacesWholeGroup(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	pid := identifier.NewParticipantID("s", "multi")

	three := &businesscard.BusinessCard{
		Participant: pid,
		Entities: []businesscard.BusinessEntity{
			{Names: []businesscard.Name{{Name: "One"}}},
			{Names: []businesscard.Name{{Name: "Two"}}},
			{Names: []businesscard.Name{{Name: "Three"}}},
		},
	}
	require.NoError(t, m.CreateOrUpdate(ctx, three, NewMetaData("o", "h")))

	hits, err := m.Search(ctx, participantTermQuery(pid), 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// Exactly one document carries the group-end marker
	markers := 0
	for _, h := range hits {
		if h.GroupEnd {
			markers++
		}
	}
	assert.Equal(t, 1, markers)

	// Shrinking the group leaves no stale documents behind
	one := &businesscard.BusinessCard{
		Participant: pid,
		Entities:    []businesscard.BusinessEntity{{Names: []businesscard.Name{{Name: "Only"}}}},
	}
	require.NoError(t, m.CreateOrUpdate(ctx, one, NewMetaData("o", "h")))

	hits, err = m.Search(ctx, participantTermQuery(pid), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Only", hits[0].Names[0].Name)
	assert.True(t, hits[0].GroupEnd)
}

func TestManager_AtomicGroupReplace_ConcurrentReaders(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	pid := identifier.NewParticipantID("s", "atomic")

	write := func(n int, name string) {
		entities := make([]businesscard.BusinessEntity, n)
		for i := range entities {
			entities[i] = businesscard.BusinessEntity{Names: []businesscard.Name{{Name: name}}}
		}
		require.NoError(t, m.CreateOrUpdate(ctx, &businesscard.BusinessCard{Participant: pid, Entities: entities}, NewMetaData("o", "h")))
	}

	write(2, "Old")

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers must only ever observe a complete group: 2 docs all "Old" or
	// 3 docs all "New", with exactly one group-end marker.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := m.Search(ctx, participantTermQuery(pid), 10)
				require.NoError(t, err)
				names := map[string]bool{}
				markers := 0
				for _, h := range hits {
					names[h.Names[0].Name] = true
					if h.GroupEnd {
						markers++
					}
				}
				assert.LessOrEqual(t, len(names), 1, "mixed old/new group visible")
				assert.Equal(t, 1, markers)
			}
		}()
	}

	for i := 0; i < 15; i++ {
		if i%2 == 0 {
			write(3, "New")
		} else {
			write(2, "Old")
		}
	}
	close(stop)
	wg.Wait()
}

func TestManager_Delete_OwnerVerification(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	pid := identifier.NewParticipantID("iso6523-actorid-upis", "0088:123456")

	require.NoError(t, m.CreateOrUpdate(ctx, acmeCard(), NewMetaData("smp1", "h")))

	// Mismatched owner: refused, documents intact
	removed, err := m.Delete(ctx, pid, NewMetaData("intruder", "h"), true)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	exists, err := m.ContainsEntry(ctx, pid, ModeAll)
	require.NoError(t, err)
	assert.True(t, exists)

	// System owner bypasses the stored-owner check
	removed, err = m.Delete(ctx, pid, NewMetaData("pd-admin", "h"), true)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, err = m.ContainsEntry(ctx, pid, ModeAll)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestManager_Delete_MatchingOwner(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	pid := identifier.NewParticipantID("iso6523-actorid-upis", "0088:123456")

	require.NoError(t, m.CreateOrUpdate(ctx, acmeCard(), NewMetaData("smp1", "h")))

	removed, err := m.Delete(ctx, pid, NewMetaData("smp1", "h"), true)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestManager_Delete_AbsentParticipant(t *testing.T) {
	m := newTestManager(t)

	removed, err := m.Delete(context.Background(), identifier.NewParticipantID("s", "nope"), NewMetaData("o", "h"), false)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestManager_Count_UsesCacheUntilMutation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.CreateOrUpdate(ctx, acmeCard(), NewMetaData("o", "h")))

	pid := identifier.NewParticipantID("iso6523-actorid-upis", "0088:123456")
	q := participantTermQuery(pid)

	assert.Equal(t, 1, m.Count(ctx, q))
	assert.Equal(t, 1, m.Count(ctx, q), "cached result")

	_, err := m.Delete(ctx, pid, MetaData{}, false)
	require.NoError(t, err)

	assert.Equal(t, 0, m.Count(ctx, q), "cache invalidated by mutation")
}

func TestManager_AllParticipantIDs_SortedWithCounts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, v := range []string{"0088:2", "0088:1"} {
		card := &businesscard.BusinessCard{
			Participant: identifier.NewParticipantID("iso6523-actorid-upis", v),
			Entities: []businesscard.BusinessEntity{
				{Names: []businesscard.Name{{Name: "A"}}},
				{Names: []businesscard.Name{{Name: "B"}}},
			},
		}
		require.NoError(t, m.CreateOrUpdate(ctx, card, NewMetaData("o", "h")))
	}

	rows, err := m.AllParticipantIDs(ctx, ModeNonDeleted)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "iso6523-actorid-upis::0088:1", rows[0].Participant.String())
	assert.Equal(t, 2, rows[0].Entities)
	assert.Equal(t, "iso6523-actorid-upis::0088:2", rows[1].Participant.String())
}

func TestManager_CreateOrUpdate_RejectsEmptyCard(t *testing.T) {
	m := newTestManager(t)

	err := m.CreateOrUpdate(context.Background(), &businesscard.BusinessCard{
		Participant: identifier.NewParticipantID("s", "v"),
	}, NewMetaData("o", "h"))
	require.Error(t, err)
}

func TestManager_RegistrationDateRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	reg := time.Date(2019, 4, 1, 0, 0, 0, 0, time.UTC)
	card := acmeCard()
	card.Entities[0].RegistrationDate = &reg
	require.NoError(t, m.CreateOrUpdate(ctx, card, NewMetaData("o", "h")))

	hits, err := m.Search(ctx, participantTermQuery(card.Participant), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.NotNil(t, hits[0].RegistrationDate)
	assert.Equal(t, "2019-04-01", hits[0].RegistrationDate.Format(RegDateLayout))
}

func TestGroupByParticipant_PreservesFirstSeenOrder(t *testing.T) {
	a := identifier.NewParticipantID("s", "a")
	b := identifier.NewParticipantID("s", "b")

	groups := GroupByParticipant([]StoredBusinessEntity{
		{Participant: b},
		{Participant: a},
		{Participant: b},
	})

	require.Len(t, groups, 2)
	assert.Equal(t, b, groups[0].Participant)
	assert.Len(t, groups[0].Entities, 2)
	assert.Equal(t, a, groups[1].Participant)
}
