// Package query translates user-supplied or field-targeted text into search
// engine queries: tokenization via the index analyzer, wildcard substring
// matching per term, and per-field boolean composition.
package query

import (
	"log/slog"
	"strings"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/phax/phoss-directory-sub000/internal/identifier"
	"github.com/phax/phoss-directory-sub000/internal/store"
)

// MinQueryLength is the minimum input length for free-text field queries.
// Shorter inputs would expand into overly broad wildcard scans.
const MinQueryLength = 3

// TermSplitter produces normalized terms from free text. The storage manager
// implements this with the index analyzer.
type TermSplitter interface {
	SplitIntoTerms(text string) []string
}

// Translator builds engine queries for the directory's document schema.
type Translator struct {
	splitter TermSplitter
}

// NewTranslator creates a translator over the given term splitter.
func NewTranslator(splitter TermSplitter) *Translator {
	return &Translator{splitter: splitter}
}

// SplitIntoTerms tokenizes free text. Falls back to lower-cased whitespace
// splitting when no splitter is available.
func (t *Translator) SplitIntoTerms(text string) []string {
	if t.splitter != nil {
		if terms := t.splitter.SplitIntoTerms(text); len(terms) > 0 {
			return terms
		}
	}
	return strings.Fields(strings.ToLower(text))
}

// BuildQuery converts free text into a query on one tokenized field: each
// term becomes a *term* wildcard clause, multiple terms are a conjunction.
// Returns nil when the text yields no usable terms.
func (t *Translator) BuildQuery(field, text string) query.Query {
	terms := t.SplitIntoTerms(text)

	clauses := make([]query.Query, 0, len(terms))
	for _, term := range terms {
		term = sanitizeWildcardTerm(term)
		if term == "" {
			continue
		}
		wq := query.NewWildcardQuery("*" + term + "*")
		wq.SetField(field)
		clauses = append(clauses, wq)
	}

	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return query.NewConjunctionQuery(clauses)
	}
}

// ParticipantID parses and re-encodes the identifier for an exact match.
// Syntactically invalid input yields no query.
func (t *Translator) ParticipantID(text string) query.Query {
	pid, err := identifier.ParseParticipantID(strings.TrimSpace(text))
	if err != nil {
		slog.Debug("query_rejected", slog.String("field", store.FieldParticipant), slog.String("error", err.Error()))
		return nil
	}
	return exactMatch(store.FieldParticipant, pid.String())
}

// DocTypeID parses and re-encodes the document type identifier for an exact
// match. Invalid input yields no query.
func (t *Translator) DocTypeID(text string) query.Query {
	dt, err := identifier.ParseDocTypeID(strings.TrimSpace(text))
	if err != nil {
		slog.Debug("query_rejected", slog.String("field", store.FieldDocType), slog.String("error", err.Error()))
		return nil
	}
	return exactMatch(store.FieldDocType, dt.String())
}

// CountryCode upper-cases and exact-matches.
func (t *Translator) CountryCode(text string) query.Query {
	cc := strings.ToUpper(strings.TrimSpace(text))
	if cc == "" {
		return nil
	}
	return exactMatch(store.FieldCountry, cc)
}

// IdentifierScheme lower-cases and exact-matches the additional-identifier
// scheme. Values are stored as published; lookups normalize to lower case.
func (t *Translator) IdentifierScheme(text string) query.Query {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return nil
	}
	return exactMatch(store.FieldIDScheme, s)
}

// IdentifierValue lower-cases and exact-matches the additional-identifier
// value.
func (t *Translator) IdentifierValue(text string) query.Query {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return nil
	}
	return exactMatch(store.FieldIDValue, s)
}

// Name matches entity names. The untagged and the multilingual name fields
// are alternative representations, so the per-field conjunctions are OR'd.
func (t *Translator) Name(text string) query.Query {
	if tooShort(text) {
		return nil
	}
	return anyOf(
		t.BuildQuery(store.FieldName, text),
		t.BuildQuery(store.FieldMLName, text),
	)
}

// GeoInfo matches the geographic information field.
func (t *Translator) GeoInfo(text string) query.Query {
	if tooShort(text) {
		return nil
	}
	return t.BuildQuery(store.FieldGeoInfo, text)
}

// AdditionalInfo matches the free-form additional information field.
func (t *Translator) AdditionalInfo(text string) query.Query {
	if tooShort(text) {
		return nil
	}
	return t.BuildQuery(store.FieldAdditionalInfo, text)
}

// Website matches website URIs.
func (t *Translator) Website(text string) query.Query {
	if tooShort(text) {
		return nil
	}
	return t.BuildQuery(store.FieldWebsite, text)
}

// Contact matches across the contact tuple's sub-values (type, name, phone,
// email), any of which may hit.
func (t *Translator) Contact(text string) query.Query {
	if tooShort(text) {
		return nil
	}
	return t.BuildQuery(store.FieldContact, text)
}

// RegistrationDate exact-matches the fixed textual date form.
func (t *Translator) RegistrationDate(text string) query.Query {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}
	return exactMatch(store.FieldRegDate, s)
}

// Generic matches the derived catch-all text field, restricted by query
// mode (all / exclude soft-deleted / soft-deleted only).
func (t *Translator) Generic(text string, mode store.QueryMode) query.Query {
	base := t.BuildQuery(store.FieldAllText, text)
	if base == nil {
		return nil
	}
	return store.ApplyMode(base, mode)
}

// exactMatch is a case-sensitive term query on one keyword field.
func exactMatch(field, value string) query.Query {
	q := query.NewTermQuery(value)
	q.SetField(field)
	return q
}

// anyOf ORs the non-nil clauses. Returns nil if none remain.
func anyOf(clauses ...query.Query) query.Query {
	kept := make([]query.Query, 0, len(clauses))
	for _, c := range clauses {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return query.NewDisjunctionQuery(kept)
	}
}

// sanitizeWildcardTerm strips wildcard metacharacters from a term so user
// input cannot change the match shape.
func sanitizeWildcardTerm(term string) string {
	return strings.Map(func(r rune) rune {
		if r == '*' || r == '?' {
			return -1
		}
		return r
	}, term)
}

// tooShort applies the free-text minimum length guard.
func tooShort(text string) bool {
	if len(strings.TrimSpace(text)) < MinQueryLength {
		slog.Debug("query_too_short", slog.String("text", text))
		return true
	}
	return false
}
