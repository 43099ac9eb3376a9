// Package store maps participant business cards onto search-index documents
// and back. One document is written per business entity; all documents of a
// participant form one group that is replaced atomically.
package store

import (
	"time"

	"github.com/phax/phoss-directory-sub000/internal/businesscard"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

// MetaData is attached to every index write, for audit and for ownership
// verification on delete.
type MetaData struct {
	CreatedAt      time.Time
	OwnerID        string
	RequestingHost string
}

// NewMetaData creates metadata stamped with the current time.
func NewMetaData(ownerID, requestingHost string) MetaData {
	return MetaData{
		CreatedAt:      time.Now().UTC(),
		OwnerID:        ownerID,
		RequestingHost: requestingHost,
	}
}

// StoredBusinessEntity is the read-side reconstruction of one indexed entity
// document. Document type identifiers are duplicated onto every entity of a
// participant, so each reconstruction carries the full list.
type StoredBusinessEntity struct {
	Participant      identifier.ParticipantID
	Names            []businesscard.Name
	CountryCode      string
	GeoInfo          string
	Identifiers      []businesscard.Identifier
	WebsiteURIs      []string
	Contacts         []businesscard.Contact
	AdditionalInfo   string
	RegistrationDate *time.Time
	DocTypes         []identifier.DocTypeID
	Metadata         MetaData
	Deleted          bool
	GroupEnd         bool
}

// ParticipantGroup is all stored entities of one participant, in index order.
type ParticipantGroup struct {
	Participant identifier.ParticipantID
	Entities    []StoredBusinessEntity
}

// GroupByParticipant groups a flat result list by participant identifier,
// preserving first-seen order of participants and entity order within each
// group.
func GroupByParticipant(entities []StoredBusinessEntity) []ParticipantGroup {
	var order []string
	byID := make(map[string]*ParticipantGroup)

	for _, e := range entities {
		key := e.Participant.String()
		g, ok := byID[key]
		if !ok {
			g = &ParticipantGroup{Participant: e.Participant}
			byID[key] = g
			order = append(order, key)
		}
		g.Entities = append(g.Entities, e)
	}

	out := make([]ParticipantGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *byID[key])
	}
	return out
}

// ParticipantCount is one row of the administrative full-scan listing.
type ParticipantCount struct {
	Participant identifier.ParticipantID
	Entities    int
}

// CountError is the failure sentinel returned by Count.
const CountError = -1
