package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phax/phoss-directory-sub000/internal/businesscard"
	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

func TestBuildDocuments_GroupEndOnLastOnly(t *testing.T) {
	card := &businesscard.BusinessCard{
		Participant: identifier.NewParticipantID("s", "v"),
		Entities: []businesscard.BusinessEntity{
			{Names: []businesscard.Name{{Name: "First"}}},
			{Names: []businesscard.Name{{Name: "Second"}}},
		},
	}

	docs := buildDocuments(card, NewMetaData("owner", "host"))
	require.Len(t, docs, 2)

	_, first := docs[0][FieldGroupEnd]
	_, last := docs[1][FieldGroupEnd]
	assert.False(t, first)
	assert.True(t, last)
}

func TestBuildDocuments_DocTypesDuplicatedPerEntity(t *testing.T) {
	card := &businesscard.BusinessCard{
		Participant: identifier.NewParticipantID("s", "v"),
		Entities: []businesscard.BusinessEntity{
			{Names: []businesscard.Name{{Name: "A"}}},
			{Names: []businesscard.Name{{Name: "B"}}},
		},
		DocTypes: []identifier.DocTypeID{identifier.NewDocTypeID("dt", "x")},
	}

	docs := buildDocuments(card, NewMetaData("o", "h"))
	for _, doc := range docs {
		assert.Equal(t, []string{"dt::x"}, doc[FieldDocType])
	}
}

func TestBuildDocuments_CountryUpperCased(t *testing.T) {
	card := &businesscard.BusinessCard{
		Participant: identifier.NewParticipantID("s", "v"),
		Entities:    []businesscard.BusinessEntity{{CountryCode: "be"}},
	}

	docs := buildDocuments(card, NewMetaData("o", "h"))
	assert.Equal(t, "BE", docs[0][FieldCountry])
}

func TestBuildDocuments_AllTextCoversFields(t *testing.T) {
	reg := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	card := &businesscard.BusinessCard{
		Participant: identifier.NewParticipantID("s", "0088:9"),
		Entities: []businesscard.BusinessEntity{{
			Names:          []businesscard.Name{{Name: "Acme"}},
			GeoInfo:        "Brussels",
			AdditionalInfo: "wholesale",
			WebsiteURIs:    []string{"https://acme.example"},
			Contacts:       []businesscard.Contact{{Name: "Jo", Email: "jo@acme.example"}},
			RegistrationDate: &reg,
		}},
	}

	all := buildDocuments(card, NewMetaData("o", "h"))[0][FieldAllText].(string)
	for _, want := range []string{"Acme", "Brussels", "wholesale", "acme.example", "jo@acme.example", "0088:9"} {
		assert.Contains(t, all, want)
	}
}

func TestContactEncoding_RoundTrip(t *testing.T) {
	c := businesscard.Contact{Type: "support", Name: "Jo", Phone: "+32 2 555", Email: "jo@x.example"}
	assert.Equal(t, c, decodeContact(encodeContact(c)))

	empty := businesscard.Contact{Name: "only name"}
	assert.Equal(t, empty, decodeContact(encodeContact(empty)))
}

func TestEntityFromFields_ParallelArrayMismatchIsFatal(t *testing.T) {
	_, err := entityFromFields(map[string]any{
		FieldParticipant: "s::v",
		FieldIDScheme:    []any{"a", "b"},
		FieldIDValue:     []any{"only-one"},
	})

	require.Error(t, err)
	assert.True(t, pderrors.IsFatal(err))
	assert.Equal(t, pderrors.ErrCodeFieldMismatch, pderrors.GetCode(err))
}

func TestEntityFromFields_UnparsableParticipantIsFatal(t *testing.T) {
	_, err := entityFromFields(map[string]any{FieldParticipant: "garbage"})
	require.Error(t, err)
	assert.True(t, pderrors.IsFatal(err))
}
