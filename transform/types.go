// Package transform renders STIX packages as delimited text, Snort rules and
// summary statistics.
//
// Each observable object is reduced to one or more field sets: the values
// found at the field paths configured for its object type. The text
// transform writes one row per field set, grouped by object type in sorted
// order. The Snort transform reuses that traversal and swaps the Address
// renderer for one that emits an IDS rule per address.
package transform

import (
	"errors"
	"sort"
)

// ObjectType identifies a CybOX object type, e.g. "Address".
type ObjectType string

const (
	ObjectAddress       ObjectType = "Address"
	ObjectDomainName    ObjectType = "DomainName"
	ObjectEmailMessage  ObjectType = "EmailMessage"
	ObjectFile          ObjectType = "File"
	ObjectHTTPSession   ObjectType = "HTTPSession"
	ObjectSocketAddress ObjectType = "SocketAddress"
	ObjectURI           ObjectType = "URI"
)

func (o ObjectType) String() string {
	return string(o)
}

func sortObjectTypes(types []ObjectType) {
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
}

// ============================================================================
// Extracted observables
// ============================================================================

// FieldSet maps a field path, as written in the field table, to one value.
type FieldSet map[string]string

// Observable is an observable reduced to the fields of its object type.
type Observable struct {
	ID        string
	Type      ObjectType
	FieldSets []FieldSet
}

// Group holds the observables of one object type together with the field
// paths that were extracted for them.
type Group struct {
	Type        ObjectType
	Fields      []FieldPath
	Observables []Observable
}

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrInvalidFieldPath is returned for an empty path or empty segment.
	ErrInvalidFieldPath = errors.New("invalid field path")

	// ErrInvalidFieldTable is returned for a mapping file that cannot be used.
	ErrInvalidFieldTable = errors.New("invalid field table")

	// ErrNilPackage is returned when a transform is built without a package.
	ErrNilPackage = errors.New("package is nil")
)
