// Package identifier provides the participant and document-type identifier
// value types used throughout the directory. An identifier is an immutable
// (scheme, value) pair with a canonical "scheme::value" string form that is
// used both as the search-index key and on the wire.
package identifier

import (
	"fmt"
	"net/url"
	"strings"
)

// Separator joins scheme and value in the canonical string form.
const Separator = "::"

// ParticipantID identifies a network participant. The zero value is invalid.
type ParticipantID struct {
	Scheme string
	Value  string
}

// NewParticipantID creates a participant identifier from scheme and value.
func NewParticipantID(scheme, value string) ParticipantID {
	return ParticipantID{Scheme: scheme, Value: value}
}

// ParseParticipantID parses the canonical "scheme::value" form.
// The scheme must be non-empty; the value may be empty only syntactically
// never in practice, so it is rejected as well.
func ParseParticipantID(s string) (ParticipantID, error) {
	scheme, value, err := split(s)
	if err != nil {
		return ParticipantID{}, err
	}
	return ParticipantID{Scheme: scheme, Value: value}, nil
}

// String returns the canonical "scheme::value" form.
func (p ParticipantID) String() string {
	return p.Scheme + Separator + p.Value
}

// URLPercentEncoded returns the canonical form percent-encoded for use in a
// URL path segment.
func (p ParticipantID) URLPercentEncoded() string {
	return url.PathEscape(p.String())
}

// IsValid reports whether both scheme and value are non-empty.
func (p ParticipantID) IsValid() bool {
	return p.Scheme != "" && p.Value != ""
}

// Compare provides a total order over participant identifiers, scheme first.
// Returns -1, 0 or 1.
func (p ParticipantID) Compare(o ParticipantID) int {
	if c := strings.Compare(p.Scheme, o.Scheme); c != 0 {
		return c
	}
	return strings.Compare(p.Value, o.Value)
}

// DocTypeID identifies a document type a participant can receive.
// Same canonical form as ParticipantID but a distinct type, the two are
// never interchangeable.
type DocTypeID struct {
	Scheme string
	Value  string
}

// NewDocTypeID creates a document type identifier from scheme and value.
func NewDocTypeID(scheme, value string) DocTypeID {
	return DocTypeID{Scheme: scheme, Value: value}
}

// ParseDocTypeID parses the canonical "scheme::value" form.
func ParseDocTypeID(s string) (DocTypeID, error) {
	scheme, value, err := split(s)
	if err != nil {
		return DocTypeID{}, err
	}
	return DocTypeID{Scheme: scheme, Value: value}, nil
}

// String returns the canonical "scheme::value" form.
func (d DocTypeID) String() string {
	return d.Scheme + Separator + d.Value
}

// IsValid reports whether both scheme and value are non-empty.
func (d DocTypeID) IsValid() bool {
	return d.Scheme != "" && d.Value != ""
}

// Compare provides a total order over document type identifiers.
func (d DocTypeID) Compare(o DocTypeID) int {
	if c := strings.Compare(d.Scheme, o.Scheme); c != 0 {
		return c
	}
	return strings.Compare(d.Value, o.Value)
}

// split breaks "scheme::value" at the first separator.
func split(s string) (scheme, value string, err error) {
	idx := strings.Index(s, Separator)
	if idx <= 0 {
		return "", "", fmt.Errorf("identifier %q is not in scheme%svalue form", s, Separator)
	}
	scheme = s[:idx]
	value = s[idx+len(Separator):]
	if value == "" {
		return "", "", fmt.Errorf("identifier %q has an empty value part", s)
	}
	return scheme, value, nil
}
