package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ctitoolkit/stix"
)

func leaf(name, value string) *stix.Node {
	return &stix.Node{Name: name, Value: value}
}

func node(name string, children ...*stix.Node) *stix.Node {
	return &stix.Node{Name: name, Children: children}
}

func observable(id, objectType string, children ...*stix.Node) stix.Observable {
	return stix.Observable{ID: id, ObjectType: objectType, Properties: node("properties", children...)}
}

func addressObservable(id string, values ...string) stix.Observable {
	children := make([]*stix.Node, len(values))
	for i, v := range values {
		children[i] = leaf("address_value", v)
	}
	return observable(id, "Address", children...)
}

func emailObservable(id, from string, to ...string) stix.Observable {
	recipients := make([]*stix.Node, len(to))
	for i, addr := range to {
		recipients[i] = node("recipient", leaf("address_value", addr))
	}
	return observable(id, "EmailMessage",
		node("header",
			node("to", recipients...),
			node("from_", leaf("address_value", from)),
			leaf("subject", "Invoice"),
		),
	)
}

func testPackage(observables ...stix.Observable) *stix.Package {
	return &stix.Package{ID: "example:Package-test", Version: stix.LatestVersion, Observables: observables}
}

func loadExamplePackage(t *testing.T) *stix.Package {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "stix", "testdata", "package-1.2.xml"))
	require.NoError(t, err)
	pkg, err := stix.ParseBytes(raw)
	require.NoError(t, err)
	return pkg
}
