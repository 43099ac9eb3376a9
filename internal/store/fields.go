package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/phax/phoss-directory-sub000/internal/businesscard"
	pderrors "github.com/phax/phoss-directory-sub000/internal/errors"
	"github.com/phax/phoss-directory-sub000/internal/identifier"
)

// Index field names. Exact-match fields use the keyword analyzer, free-text
// fields the standard analyzer; the split is defined in the index mapping.
const (
	FieldParticipant    = "participant"
	FieldName           = "name"
	FieldMLName         = "mlname"
	FieldCountry        = "country"
	FieldGeoInfo        = "geoinfo"
	FieldIDScheme       = "idscheme"
	FieldIDValue        = "idvalue"
	FieldWebsite        = "website"
	FieldContact        = "contact"
	FieldAdditionalInfo = "additionalinfo"
	FieldRegDate        = "regdate"
	FieldDocType        = "doctype"
	FieldMDCreated      = "md-created"
	FieldMDOwner        = "md-owner"
	FieldMDHost         = "md-host"
	FieldDeleted        = "deleted"
	FieldGroupEnd       = "groupend"
	FieldAllText        = "alltext"
)

// RegDateLayout is the fixed textual format for registration dates.
const RegDateLayout = "2006-01-02"

// Marker values for flag fields.
const (
	valueTrue     = "true"
	valueFalse    = "false"
	valueGroupEnd = "x"
)

// pairSep joins the sub-values of a composite field value (language+name,
// contact tuple). Control character, never occurs in payload data, and the
// standard analyzer treats it as a token boundary so the parts stay
// searchable.
const pairSep = "\x1f"

// QueryMode restricts which documents a read operation sees.
type QueryMode int

const (
	// ModeAll matches every document.
	ModeAll QueryMode = iota
	// ModeNonDeleted excludes soft-deleted documents. Hard delete is
	// canonical here, so this only matters for tombstones written by older
	// tooling.
	ModeNonDeleted
	// ModeDeletedOnly matches soft-deleted documents only.
	ModeDeletedOnly
)

// docID returns the index key of the n-th entity document of a participant.
func docID(id identifier.ParticipantID, n int) string {
	return fmt.Sprintf("%s@%d", id.String(), n)
}

// buildDocuments maps a business card plus metadata to one index document
// per business entity. The last document carries the group-end marker.
func buildDocuments(card *businesscard.BusinessCard, meta MetaData) []map[string]any {
	docTypes := make([]string, 0, len(card.DocTypes))
	for _, dt := range card.DocTypes {
		docTypes = append(docTypes, dt.String())
	}

	docs := make([]map[string]any, 0, len(card.Entities))
	for i, entity := range card.Entities {
		doc := map[string]any{
			FieldParticipant: card.Participant.String(),
			FieldMDCreated:   meta.CreatedAt.UTC().Format(time.RFC3339Nano),
			FieldMDOwner:     meta.OwnerID,
			FieldMDHost:      meta.RequestingHost,
			FieldDeleted:     valueFalse,
		}

		var allText []string
		allText = append(allText, card.Participant.Value)

		// Single untagged name and the multilingual pair list are mutually
		// exclusive representations.
		if len(entity.Names) == 1 && entity.Names[0].LanguageCode == "" {
			doc[FieldName] = entity.Names[0].Name
			allText = append(allText, entity.Names[0].Name)
		} else if len(entity.Names) > 0 {
			mlnames := make([]string, 0, len(entity.Names))
			for _, n := range entity.Names {
				mlnames = append(mlnames, n.LanguageCode+pairSep+n.Name)
				allText = append(allText, n.Name)
			}
			doc[FieldMLName] = mlnames
		}

		if entity.CountryCode != "" {
			cc := strings.ToUpper(entity.CountryCode)
			doc[FieldCountry] = cc
			allText = append(allText, cc)
		}
		if entity.GeoInfo != "" {
			doc[FieldGeoInfo] = entity.GeoInfo
			allText = append(allText, entity.GeoInfo)
		}

		if len(entity.Identifiers) > 0 {
			schemes := make([]string, 0, len(entity.Identifiers))
			values := make([]string, 0, len(entity.Identifiers))
			for _, ident := range entity.Identifiers {
				schemes = append(schemes, ident.Scheme)
				values = append(values, ident.Value)
				allText = append(allText, ident.Scheme, ident.Value)
			}
			doc[FieldIDScheme] = schemes
			doc[FieldIDValue] = values
		}

		if len(entity.WebsiteURIs) > 0 {
			doc[FieldWebsite] = entity.WebsiteURIs
			allText = append(allText, entity.WebsiteURIs...)
		}

		if len(entity.Contacts) > 0 {
			contacts := make([]string, 0, len(entity.Contacts))
			for _, c := range entity.Contacts {
				contacts = append(contacts, encodeContact(c))
				allText = append(allText, c.Type, c.Name, c.Phone, c.Email)
			}
			doc[FieldContact] = contacts
		}

		if entity.AdditionalInfo != "" {
			doc[FieldAdditionalInfo] = entity.AdditionalInfo
			allText = append(allText, entity.AdditionalInfo)
		}
		if entity.RegistrationDate != nil {
			doc[FieldRegDate] = entity.RegistrationDate.Format(RegDateLayout)
		}

		// Document types describe the participant, duplicated onto every
		// entity document so a participant-level query is one term lookup.
		if len(docTypes) > 0 {
			doc[FieldDocType] = docTypes
			allText = append(allText, docTypes...)
		}

		if i == len(card.Entities)-1 {
			doc[FieldGroupEnd] = valueGroupEnd
		}

		doc[FieldAllText] = strings.Join(nonEmpty(allText), " ")
		docs = append(docs, doc)
	}

	return docs
}

// encodeContact packs a contact tuple into one composite field value.
func encodeContact(c businesscard.Contact) string {
	return strings.Join([]string{c.Type, c.Name, c.Phone, c.Email}, pairSep)
}

// decodeContact is the inverse of encodeContact.
func decodeContact(s string) businesscard.Contact {
	parts := strings.SplitN(s, pairSep, 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return businesscard.Contact{Type: parts[0], Name: parts[1], Phone: parts[2], Email: parts[3]}
}

// entityFromFields reconstructs a typed entity from the stored fields of one
// matched document. Mismatched parallel field arrays are a programming
// invariant violation, not a recoverable condition.
func entityFromFields(fields map[string]any) (StoredBusinessEntity, error) {
	var e StoredBusinessEntity

	pidStr := fieldString(fields, FieldParticipant)
	pid, err := identifier.ParseParticipantID(pidStr)
	if err != nil {
		return e, pderrors.New(pderrors.ErrCodeFieldMismatch,
			fmt.Sprintf("stored document has unparsable participant %q", pidStr), err)
	}
	e.Participant = pid

	if name := fieldString(fields, FieldName); name != "" {
		e.Names = []businesscard.Name{{Name: name}}
	} else {
		for _, v := range fieldStrings(fields, FieldMLName) {
			lang, name, _ := strings.Cut(v, pairSep)
			e.Names = append(e.Names, businesscard.Name{Name: name, LanguageCode: lang})
		}
	}

	e.CountryCode = fieldString(fields, FieldCountry)
	e.GeoInfo = fieldString(fields, FieldGeoInfo)

	schemes := fieldStrings(fields, FieldIDScheme)
	values := fieldStrings(fields, FieldIDValue)
	if len(schemes) != len(values) {
		return e, pderrors.New(pderrors.ErrCodeFieldMismatch,
			fmt.Sprintf("identifier fields out of sync: %d schemes, %d values", len(schemes), len(values)), nil)
	}
	for i := range schemes {
		e.Identifiers = append(e.Identifiers, businesscard.Identifier{Scheme: schemes[i], Value: values[i]})
	}

	e.WebsiteURIs = fieldStrings(fields, FieldWebsite)
	for _, c := range fieldStrings(fields, FieldContact) {
		e.Contacts = append(e.Contacts, decodeContact(c))
	}
	e.AdditionalInfo = fieldString(fields, FieldAdditionalInfo)

	if rd := fieldString(fields, FieldRegDate); rd != "" {
		t, err := time.Parse(RegDateLayout, rd)
		if err == nil {
			e.RegistrationDate = &t
		}
	}

	for _, dt := range fieldStrings(fields, FieldDocType) {
		parsed, err := identifier.ParseDocTypeID(dt)
		if err != nil {
			continue
		}
		e.DocTypes = append(e.DocTypes, parsed)
	}

	if created := fieldString(fields, FieldMDCreated); created != "" {
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.Metadata.CreatedAt = t
		}
	}
	e.Metadata.OwnerID = fieldString(fields, FieldMDOwner)
	e.Metadata.RequestingHost = fieldString(fields, FieldMDHost)

	e.Deleted = fieldString(fields, FieldDeleted) == valueTrue
	e.GroupEnd = fieldString(fields, FieldGroupEnd) == valueGroupEnd

	return e, nil
}

// fieldString returns a single stored field value, first element if the
// field is repeated.
func fieldString(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// fieldStrings returns all stored values of a repeated field.
func fieldStrings(fields map[string]any, name string) []string {
	switch v := fields[name].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// nonEmpty filters empty strings out of a slice.
func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
