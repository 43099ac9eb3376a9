package query

import (
	"context"
	"testing"

	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phax/phoss-directory-sub000/internal/businesscard"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
	"github.com/phax/phoss-directory-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.Manager {
	t.Helper()
	m, err := store.NewManager(store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestBuildQuery_SingleTermIsWildcard(t *testing.T) {
	tr := NewTranslator(nil)

	q := tr.BuildQuery(store.FieldName, "acme")
	require.NotNil(t, q)

	wq, ok := q.(*blevequery.WildcardQuery)
	require.True(t, ok, "single term builds one wildcard clause, got %T", q)
	assert.Equal(t, "*acme*", wq.Wildcard)
	assert.Equal(t, store.FieldName, wq.FieldVal)
}

func TestBuildQuery_MultipleTermsAreConjunction(t *testing.T) {
	tr := NewTranslator(nil)

	q := tr.BuildQuery(store.FieldName, "acme shop")
	require.NotNil(t, q)

	cq, ok := q.(*blevequery.ConjunctionQuery)
	require.True(t, ok, "multiple terms build a conjunction, got %T", q)
	require.Len(t, cq.Conjuncts, 2)

	first, ok := cq.Conjuncts[0].(*blevequery.WildcardQuery)
	require.True(t, ok)
	assert.Equal(t, "*acme*", first.Wildcard)
	second, ok := cq.Conjuncts[1].(*blevequery.WildcardQuery)
	require.True(t, ok)
	assert.Equal(t, "*shop*", second.Wildcard)
}

func TestBuildQuery_EmptyTextYieldsNoQuery(t *testing.T) {
	tr := NewTranslator(nil)
	assert.Nil(t, tr.BuildQuery(store.FieldName, "   "))
}

func TestBuildQuery_StripsWildcardMetacharacters(t *testing.T) {
	tr := NewTranslator(nil)

	q := tr.BuildQuery(store.FieldName, "ac*me")
	require.NotNil(t, q)
	wq, ok := q.(*blevequery.WildcardQuery)
	require.True(t, ok)
	assert.Equal(t, "*acme*", wq.Wildcard)
}

func TestParticipantID_InvalidInputYieldsNoQuery(t *testing.T) {
	tr := NewTranslator(nil)
	assert.Nil(t, tr.ParticipantID("not-an-identifier"))
	assert.NotNil(t, tr.ParticipantID("iso6523-actorid-upis::0088:123"))
}

func TestDocTypeID_InvalidInputYieldsNoQuery(t *testing.T) {
	tr := NewTranslator(nil)
	assert.Nil(t, tr.DocTypeID("junk"))
	assert.NotNil(t, tr.DocTypeID("busdox-docid-qns::urn:invoice"))
}

func TestCountryCode_UpperCasedExactMatch(t *testing.T) {
	tr := NewTranslator(nil)

	q := tr.CountryCode("be")
	require.NotNil(t, q)
	tq, ok := q.(*blevequery.TermQuery)
	require.True(t, ok)
	assert.Equal(t, "BE", tq.Term)
	assert.Equal(t, store.FieldCountry, tq.FieldVal)
}

func TestIdentifierScheme_LowerCased(t *testing.T) {
	tr := NewTranslator(nil)

	q := tr.IdentifierScheme("VAT")
	require.NotNil(t, q)
	tq, ok := q.(*blevequery.TermQuery)
	require.True(t, ok)
	assert.Equal(t, "vat", tq.Term)
}

func TestFreeTextFields_MinimumLengthGuard(t *testing.T) {
	tr := NewTranslator(nil)

	assert.Nil(t, tr.Name("ab"))
	assert.Nil(t, tr.GeoInfo("x"))
	assert.Nil(t, tr.Contact("  a "))
	assert.NotNil(t, tr.Name("abc"))
}

func TestName_CoversBothNameRepresentations(t *testing.T) {
	tr := NewTranslator(nil)

	q := tr.Name("acme")
	require.NotNil(t, q)
	_, ok := q.(*blevequery.DisjunctionQuery)
	assert.True(t, ok, "name queries OR the untagged and multilingual fields, got %T", q)
}

func TestTranslator_EndToEndSearch(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()
	tr := NewTranslator(m)

	card := &businesscard.BusinessCard{
		Participant: identifier.NewParticipantID("iso6523-actorid-upis", "0088:123456"),
		Entities: []businesscard.BusinessEntity{{
			Names:       []businesscard.Name{{Name: "Acme Trading Shop"}},
			CountryCode: "BE",
		}},
	}
	require.NoError(t, m.CreateOrUpdate(ctx, card, store.NewMetaData("o", "h")))

	// Substring wildcard match on a name token
	hits, err := m.Search(ctx, tr.Name("cme"), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// Conjunction: both terms must match
	hits, err = m.Search(ctx, tr.Name("acme shop"), 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = m.Search(ctx, tr.Name("acme warehouse"), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Exact country match is case-normalized on both sides
	hits, err = m.Search(ctx, tr.CountryCode("be"), 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// Generic catch-all with mode composition
	hits, err = m.Search(ctx, tr.Generic("trading", store.ModeNonDeleted), 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
