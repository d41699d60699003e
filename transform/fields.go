package transform

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ctitoolkit/stix"
)

// FieldTable maps an object type to the ordered field paths extracted for
// it. The order of the paths is the column order of the rendered rows.
type FieldTable map[ObjectType][]FieldPath

// DefaultFields returns the built-in mapping for the known object types.
func DefaultFields() FieldTable {
	return FieldTable{
		ObjectAddress:      {MustParseFieldPath("address_value")},
		ObjectDomainName:   {MustParseFieldPath("value")},
		ObjectEmailMessage: {MustParseFieldPath("header.from_.address_value"), MustParseFieldPath("header.to.address_value")},
		ObjectFile:         {MustParseFieldPath("hashes.simple_hash_value")},
		ObjectHTTPSession: {
			MustParseFieldPath("http_request_response.http_client_request.http_request_header.parsed_header.user_agent"),
		},
		ObjectSocketAddress: {MustParseFieldPath("ip_address.address_value")},
		ObjectURI:           {MustParseFieldPath("value")},
	}
}

// Types returns the object types of the table, sorted.
func (ft FieldTable) Types() []ObjectType {
	types := make([]ObjectType, 0, len(ft))
	for t := range ft {
		types = append(types, t)
	}
	sortObjectTypes(types)
	return types
}

// ParseFieldTable reads a mapping document of the form
//
//	Address:
//	  - address_value
//	EmailMessage:
//	  - header.from_.address_value
//	  - header.to.address_value
func ParseFieldTable(data []byte) (FieldTable, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFieldTable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no object types", ErrInvalidFieldTable)
	}

	table := make(FieldTable, len(raw))
	for objectType, paths := range raw {
		if objectType == "" {
			return nil, fmt.Errorf("%w: empty object type", ErrInvalidFieldTable)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("%w: %s has no field paths", ErrInvalidFieldTable, objectType)
		}
		parsed := make([]FieldPath, 0, len(paths))
		for _, p := range paths {
			fp, err := ParseFieldPath(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFieldTable, objectType, err)
			}
			parsed = append(parsed, fp)
		}
		table[ObjectType(objectType)] = parsed
	}
	return table, nil
}

// LoadFieldTable reads a mapping file.
func LoadFieldTable(path string) (FieldTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field table: %w", err)
	}
	table, err := ParseFieldTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// ============================================================================
// Extraction
// ============================================================================

// Collect groups the observables of a package by object type and reduces
// each to its field sets. With a table, exactly the table's types are
// returned (possibly empty) with the table's paths. Without one, every type
// present is returned with the sorted leaf paths found on its observables.
// Groups are sorted by type; observables keep document order.
func Collect(pkg *stix.Package, table FieldTable) []Group {
	byType := make(map[ObjectType][]stix.Observable)
	for _, o := range pkg.Observables {
		t := ObjectType(o.ObjectType)
		byType[t] = append(byType[t], o)
	}

	var types []ObjectType
	if table != nil {
		types = table.Types()
	} else {
		for t := range byType {
			types = append(types, t)
		}
		sortObjectTypes(types)
	}

	groups := make([]Group, 0, len(types))
	for _, t := range types {
		fields := table[t]
		if table == nil {
			fields = unionLeafPaths(byType[t])
		}
		g := Group{Type: t, Fields: fields}
		for _, o := range byType[t] {
			g.Observables = append(g.Observables, Observable{
				ID:        o.ID,
				Type:      t,
				FieldSets: BuildFieldSets(o.Properties, fields),
			})
		}
		groups = append(groups, g)
	}
	return groups
}

func unionLeafPaths(observables []stix.Observable) []FieldPath {
	seen := make(map[string]bool)
	for _, o := range observables {
		for _, p := range LeafPaths(o.Properties) {
			seen[p.String()] = true
		}
	}
	return sortedPaths(seen)
}

// BuildFieldSets resolves every path against the tree. When one path yields
// n values, n field sets are built and the i-th value goes to the i-th set.
// A path with a single value is repeated in every set; a path whose value
// count is neither 1 nor n is left out of the sets it cannot fill. With no
// values at all one empty set is returned.
func BuildFieldSets(root *stix.Node, fields []FieldPath) []FieldSet {
	resolved := make([][]string, len(fields))
	n := 0
	for i, f := range fields {
		resolved[i] = f.Resolve(root)
		if len(resolved[i]) > n {
			n = len(resolved[i])
		}
	}
	if n == 0 {
		return []FieldSet{{}}
	}

	sets := make([]FieldSet, n)
	for i := range sets {
		set := make(FieldSet, len(fields))
		for j, f := range fields {
			values := resolved[j]
			switch {
			case len(values) == 1:
				set[f.String()] = values[0]
			case i < len(values) && len(values) == n:
				set[f.String()] = values[i]
			}
		}
		sets[i] = set
	}
	return sets
}
