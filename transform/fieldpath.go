package transform

import (
	"fmt"
	"sort"
	"strings"

	"ctitoolkit/stix"
)

// FieldPath is a dotted path into an object's Properties tree, such as
// "header.from_.address_value".
type FieldPath struct {
	raw      string
	segments []string
}

// ParseFieldPath splits a dotted path into segments.
func ParseFieldPath(s string) (FieldPath, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FieldPath{}, fmt.Errorf("%w: empty", ErrInvalidFieldPath)
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" {
			return FieldPath{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidFieldPath, s)
		}
	}
	return FieldPath{raw: s, segments: segments}, nil
}

// MustParseFieldPath is ParseFieldPath for literals; it panics on error.
func MustParseFieldPath(s string) FieldPath {
	p, err := ParseFieldPath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p FieldPath) String() string {
	return p.raw
}

// Segments returns a copy of the path segments.
func (p FieldPath) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Resolve returns the non-empty leaf values the path reaches, in document
// order. When a node lacks the next segment but is a list wrapper (all of
// its children share one name), the wrapper is stepped through and the
// segment is looked up on each of its children.
func (p FieldPath) Resolve(root *stix.Node) []string {
	if root == nil || len(p.segments) == 0 {
		return nil
	}

	nodes := []*stix.Node{root}
	for _, seg := range p.segments {
		var next []*stix.Node
		for _, n := range nodes {
			next = append(next, step(n, seg)...)
		}
		if len(next) == 0 {
			return nil
		}
		nodes = next
	}

	var values []string
	for _, n := range nodes {
		if n.IsLeaf() && n.Value != "" {
			values = append(values, n.Value)
		}
	}
	return values
}

func step(n *stix.Node, seg string) []*stix.Node {
	if children := n.ChildrenNamed(seg); len(children) > 0 {
		return children
	}
	if _, ok := n.WrapperName(); !ok {
		return nil
	}
	var out []*stix.Node
	for _, c := range n.Children {
		out = append(out, step(c, seg)...)
	}
	return out
}

// LeafPaths returns the paths of every leaf carrying a value, sorted and
// without duplicates.
func LeafPaths(root *stix.Node) []FieldPath {
	if root == nil {
		return nil
	}
	seen := make(map[string]bool)
	var walk func(n *stix.Node, prefix []string)
	walk = func(n *stix.Node, prefix []string) {
		for _, c := range n.Children {
			path := append(append([]string(nil), prefix...), c.Name)
			if c.IsLeaf() {
				if c.Value != "" {
					seen[strings.Join(path, ".")] = true
				}
				continue
			}
			walk(c, path)
		}
	}
	walk(root, nil)
	return sortedPaths(seen)
}

func sortedPaths(set map[string]bool) []FieldPath {
	raw := make([]string, 0, len(set))
	for p := range set {
		raw = append(raw, p)
	}
	sort.Strings(raw)

	paths := make([]FieldPath, 0, len(raw))
	for _, r := range raw {
		paths = append(paths, FieldPath{raw: r, segments: strings.Split(r, ".")})
	}
	return paths
}
