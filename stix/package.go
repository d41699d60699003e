// Package stix reads STIX 1.x XML packages into a small object model.
//
// Only what the transforms need is modelled: package metadata, the CybOX
// observables found at package level, inside observable compositions and
// inside indicators, and each observable object's Properties element as a
// generic tree of named nodes. The normalized document is retained so that a
// package can be written back to disk unchanged.
package stix

import (
	"sort"
	"strings"
)

// LatestVersion is the STIX version documents are normalized to.
const LatestVersion = "1.2"

// Header holds the STIX_Header fields used for display.
type Header struct {
	Title       string
	Description string
	TLP         string // TLP colour from a TLPMarkingStructureType marking
}

// Package is a parsed STIX_Package document.
type Package struct {
	ID          string
	Version     string
	Timestamp   string
	Header      Header
	Observables []Observable
	Indicators  int

	xml []byte
}

// XML returns a copy of the package document as it was parsed.
func (p *Package) XML() []byte {
	out := make([]byte, len(p.xml))
	copy(out, p.xml)
	return out
}

// ObjectTypes returns the distinct object types of the package, sorted.
func (p *Package) ObjectTypes() []string {
	seen := make(map[string]bool)
	for _, o := range p.Observables {
		seen[o.ObjectType] = true
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Observable is a CybOX observable carrying a single object.
type Observable struct {
	ID         string
	ObjectID   string
	XSIType    string // raw xsi:type of the Properties element
	ObjectType string // e.g. "Address" for AddressObj:AddressObjectType
	Properties *Node
}

// Node is one element of an object's Properties tree. Leaves carry a Value.
type Node struct {
	Name     string
	Value    string
	Children []*Node
}

// IsLeaf reports whether the node has no child elements.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// ChildrenNamed returns the direct children with the given name, in
// document order.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// WrapperName returns the shared name of the children when every child has
// the same name, as list containers such as To/Recipient or Hashes/Hash do.
func (n *Node) WrapperName() (string, bool) {
	if len(n.Children) == 0 {
		return "", false
	}
	name := n.Children[0].Name
	for _, c := range n.Children[1:] {
		if c.Name != name {
			return "", false
		}
	}
	return name, true
}

// ObjectTypeFromXSI derives the object type name from an xsi:type value:
// "AddressObj:AddressObjectType" becomes "Address".
func ObjectTypeFromXSI(xsiType string) string {
	local := xsiType
	if i := strings.LastIndex(local, ":"); i >= 0 {
		local = local[i+1:]
	}
	if trimmed := strings.TrimSuffix(local, "ObjectType"); trimmed != "" {
		return trimmed
	}
	return local
}

// listDelimiter separates multiple values inside one CybOX field.
const listDelimiter = "##comma##"

// reservedNames get a trailing underscore in field paths, matching the
// spelling used by the field tables.
var reservedNames = map[string]bool{
	"from": true,
	"type": true,
	"id":   true,
}

// NormalizeName converts an element name to the snake_case spelling used in
// field paths: "Address_Value" becomes "address_value", "From" becomes "from_".
func NormalizeName(local string) string {
	name := strings.ToLower(local)
	if reservedNames[name] {
		return name + "_"
	}
	return name
}
