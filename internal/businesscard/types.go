// Package businesscard defines the business-card data model published by
// participants and the port to the upstream provider it is fetched from.
package businesscard

import (
	"time"

	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

// Name is a single entity name with an optional language code.
// An empty LanguageCode means the name is untagged.
type Name struct {
	Name         string `json:"name"`
	LanguageCode string `json:"language,omitempty"`
}

// Identifier is an additional scheme/value pair attached to an entity
// (company registration numbers, VAT IDs and the like).
type Identifier struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

// Contact is one contact tuple of an entity.
type Contact struct {
	Type  string `json:"type,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// BusinessEntity is one named sub-record of a participant. A participant may
// publish several business entities; the directory stores one index document
// per entity.
type BusinessEntity struct {
	Names            []Name       `json:"names"`
	CountryCode      string       `json:"countrycode,omitempty"`
	GeoInfo          string       `json:"geoinfo,omitempty"`
	Identifiers      []Identifier `json:"identifiers,omitempty"`
	WebsiteURIs      []string     `json:"websites,omitempty"`
	Contacts         []Contact    `json:"contacts,omitempty"`
	AdditionalInfo   string       `json:"additionalinfo,omitempty"`
	RegistrationDate *time.Time   `json:"registrationdate,omitempty"`
}

// BusinessCard is the complete published record of one participant: its
// business entities plus the document types it can receive. Document type
// identifiers describe the participant, not a single entity.
type BusinessCard struct {
	Participant identifier.ParticipantID `json:"participant"`
	Entities    []BusinessEntity         `json:"entities"`
	DocTypes    []identifier.DocTypeID   `json:"doctypes,omitempty"`
}

// HasEntities reports whether the card carries at least one business entity.
// A card without entities is not usable for indexing.
func (bc *BusinessCard) HasEntities() bool {
	return bc != nil && len(bc.Entities) > 0
}
