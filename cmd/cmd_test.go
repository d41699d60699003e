package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctitoolkit/source"
	"ctitoolkit/storage"
)

const (
	examplePackage = "../stix/testdata/package-1.2.xml"
	legacyPackage  = "../stix/testdata/package-1.0.xml"
	notSTIX        = "../stix/testdata/not-stix.xml"
)

// findCommand finds a subcommand by name
func findCommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// execute runs the root command with args and returns stdout and stderr
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--no-color"}, args...))

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// TestRootCommandStructure tests the command hierarchy
func TestRootCommandStructure(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "ctitoolkit", root.Use)

	for _, name := range []string{"text", "snort", "stats", "save", "history"} {
		assert.NotNil(t, findCommand(root, name), "Missing command: %s", name)
	}

	for _, flag := range []string{"config", "no-color", "quiet", "log-level", "ledger", "skip-seen", "metrics-textfile", "progress"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "Missing flag: %s", flag)
	}
}

// TestSubcommandFlags tests the flags of each subcommand
func TestSubcommandFlags(t *testing.T) {
	root := NewRootCmd()

	expected := map[string][]string{
		"text":    {"separator", "header", "no-header", "header-prefix", "all-types", "field-map", "escape-quotes", "output", "xml-output"},
		"snort":   {"initial-sid", "rule-revision", "rule-action", "output", "xml-output"},
		"stats":   {"output", "xml-output"},
		"save":    {"dir"},
		"history": {"limit", "json"},
	}

	for name, flags := range expected {
		sub := findCommand(root, name)
		require.NotNil(t, sub, name)
		for _, flag := range flags {
			assert.NotNil(t, sub.Flags().Lookup(flag), "%s: missing flag %s", name, flag)
		}
	}

	snortCmd := findCommand(root, "snort")
	assert.Equal(t, "5500000", snortCmd.Flags().Lookup("initial-sid").DefValue)
	assert.Equal(t, "alert", snortCmd.Flags().Lookup("rule-action").DefValue)
	assert.Equal(t, "o", findCommand(root, "text").Flags().Lookup("output").Shorthand)
}

func TestSubcommandsRequireSources(t *testing.T) {
	for _, name := range []string{"text", "snort", "stats"} {
		_, _, err := execute(t, "", name)
		assert.Error(t, err, name)
	}

	_, _, err := execute(t, "", "save", examplePackage)
	assert.Error(t, err, "save requires --dir")
}

// TestExpandSources tests file, directory and stdin arguments
func TestExpandSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.xml", "a.XML", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("<x/>"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.xml"), 0o755))

	items, err := expandSources([]string{dir, "-", "missing.xml"}, strings.NewReader("<x/>"))
	require.NoError(t, err)

	var names []string
	for _, item := range items {
		names = append(names, item.FileName())
	}
	assert.Equal(t, []string{"a.XML", "b.xml", stdinName, "missing.xml"}, names)

	_, ok := items[2].(*source.StreamItem)
	assert.True(t, ok)
}

// TestTextCommand tests rendering a package to stdout
func TestTextCommand(t *testing.T) {
	stdout, stderr, err := execute(t, "", "text", examplePackage)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stdout, "# observable_type|observable_fields\n# address_value\n10.0.0.5\n"), stdout)
	assert.Contains(t, stdout, "mallory@example.net|bob@example.com\n")
	assert.Contains(t, stderr, "Rendered 1/1 sources")
}

// TestTextCommand_Flags tests that flags override the defaults
func TestTextCommand_Flags(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	stdout, _, err := execute(t, "", "--quiet", "text", "--no-header", "--separator", ",", "-o", out, examplePackage)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(data)
	assert.NotContains(t, text, "#")
	assert.Contains(t, text, "mallory@example.net,alice@example.com\n")
	assert.Contains(t, text, "http://bad.example.com/landing|page\n")
}

// TestTextCommand_FieldMap tests a YAML field table
func TestTextCommand_FieldMap(t *testing.T) {
	fieldMap := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(fieldMap, []byte("DomainName:\n  - value\n"), 0o600))

	stdout, _, err := execute(t, "", "--quiet", "text", "--field-map", fieldMap, examplePackage)
	require.NoError(t, err)
	assert.Equal(t, "# observable_type|observable_fields\n# value\nbad.example.com\n", stdout)

	_, _, err = execute(t, "", "--quiet", "text", "--field-map", filepath.Join(t.TempDir(), "absent.yaml"), examplePackage)
	assert.Error(t, err)
}

// TestTextCommand_Stdin tests reading a package from standard input
func TestTextCommand_Stdin(t *testing.T) {
	data, err := os.ReadFile(examplePackage)
	require.NoError(t, err)

	stdout, _, err := execute(t, string(data), "--quiet", "text", "-")
	require.NoError(t, err)
	assert.Contains(t, stdout, "10.0.0.5\n")
}

// TestTextCommand_FailedSourceContinues tests that one bad source does not stop the batch
func TestTextCommand_FailedSourceContinues(t *testing.T) {
	stdout, stderr, err := execute(t, "", "text", notSTIX, examplePackage)
	require.NoError(t, err)

	assert.Contains(t, stdout, "10.0.0.5\n")
	assert.Contains(t, stderr, "not-stix.xml")
	assert.Contains(t, stderr, "Rendered 1/2 sources (1 failed)")
}

// TestSnortCommand tests that sids continue across sources
func TestSnortCommand(t *testing.T) {
	stdout, stderr, err := execute(t, "", "snort", "--initial-sid", "100", "--rule-action", "drop", examplePackage, legacyPackage)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "drop ip any any -> 10.0.0.5 any"))
	assert.Contains(t, lines[0], "sid:100;")
	assert.Contains(t, lines[3], "-> 203.0.113.9 any")
	assert.Contains(t, lines[3], "(ID example:Observable-old)")
	assert.Contains(t, lines[3], "sid:103;")

	assert.Contains(t, stderr, "1 upgraded to STIX 1.2")
	assert.Contains(t, stderr, "4 rules, sids 100-103")
}

func TestSnortCommand_InvalidOptions(t *testing.T) {
	_, _, err := execute(t, "", "snort", "--rule-action", "block", examplePackage)
	assert.ErrorContains(t, err, "invalid rule action")

	_, _, err = execute(t, "", "snort", "--initial-sid", "0", examplePackage)
	assert.Error(t, err)
}

// TestStatsCommand tests the per-package summary
func TestStatsCommand(t *testing.T) {
	stdout, _, err := execute(t, "", "--quiet", "stats", examplePackage)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stdout, "# source: package-1.2.xml\n"), stdout)
	assert.Contains(t, stdout, "# title: Example campaign\n")
	assert.Contains(t, stdout, "# tlp: GREEN\n")
	assert.True(t, strings.HasSuffix(stdout, "total|6\n"), stdout)
}

// TestSaveCommand tests writing upgraded packages to a directory
func TestSaveCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	_, stderr, err := execute(t, "", "save", "--dir", dir, legacyPackage, notSTIX)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Saved 1/2 sources (1 failed)")

	data, err := os.ReadFile(filepath.Join(dir, "package-1.0.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `version="1.2"`)
	assert.Contains(t, string(data), "203.0.113.9")

	_, err = os.Stat(filepath.Join(dir, "not-stix.xml"))
	assert.True(t, os.IsNotExist(err))
}

// TestLedger_SkipSeen tests that recorded sources are skipped on a later run
func TestLedger_SkipSeen(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")

	stdout, _, err := execute(t, "", "--ledger", ledgerPath, "text", examplePackage)
	require.NoError(t, err)
	assert.Contains(t, stdout, "10.0.0.5")

	stdout, stderr, err := execute(t, "", "--ledger", ledgerPath, "--skip-seen", "text", examplePackage, legacyPackage)
	require.NoError(t, err)
	assert.NotContains(t, stdout, "10.0.0.5")
	assert.Contains(t, stdout, "203.0.113.9")
	assert.Contains(t, stderr, "1 already processed")

	ledger, err := storage.NewLedger(ledgerPath, 0, nil)
	require.NoError(t, err)
	defer ledger.Close()

	entries, err := ledger.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	versions := map[string]string{}
	for _, e := range entries {
		versions[e.FileName] = e.STIXVersion + "/" + e.Outcome
	}
	assert.Equal(t, map[string]string{
		"package-1.2.xml": "1.2/parsed",
		"package-1.0.xml": "1.0/upgraded",
	}, versions)
}

// TestHistoryCommand tests listing the ledger newest first
func TestHistoryCommand(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")

	_, _, err := execute(t, "", "--quiet", "--ledger", ledgerPath, "text", examplePackage)
	require.NoError(t, err)
	_, _, err = execute(t, "", "--quiet", "--ledger", ledgerPath, "text", legacyPackage)
	require.NoError(t, err)

	stdout, _, err := execute(t, "", "--ledger", ledgerPath, "history")
	require.NoError(t, err)
	assert.Contains(t, stdout, "PROCESSED SOURCES")
	legacy := strings.Index(stdout, "package-1.0.xml")
	current := strings.Index(stdout, "package-1.2.xml")
	require.True(t, legacy >= 0 && current >= 0, stdout)
	assert.Less(t, legacy, current, "newest entry comes first")
	assert.Contains(t, stdout, "upgraded")

	stdout, _, err = execute(t, "", "--ledger", ledgerPath, "history", "--json", "-n", "1")
	require.NoError(t, err)

	var entries []storage.Entry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "package-1.0.xml", entries[0].FileName)
	assert.Equal(t, "1.0", entries[0].STIXVersion)
	assert.Len(t, entries[0].Digest, 64)
}

func TestHistoryCommand_Empty(t *testing.T) {
	stdout, _, err := execute(t, "", "--ledger", filepath.Join(t.TempDir(), "ledger.db"), "history")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No processed sources recorded")
}

func TestHistoryCommand_RequiresLedger(t *testing.T) {
	_, _, err := execute(t, "", "history")
	assert.ErrorIs(t, err, ErrNoLedger)
}

// TestMetricsTextfile tests that metrics are written on exit
func TestMetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctitoolkit.prom")

	_, _, err := execute(t, "", "--quiet", "--metrics-textfile", path, "snort", examplePackage)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ctitoolkit_snort_rules_generated_total")
	assert.Contains(t, string(data), "ctitoolkit_sources_loaded_total")
}

func TestInvalidLogLevel(t *testing.T) {
	_, _, err := execute(t, "", "--log-level", "chatty", "text", examplePackage)
	assert.Error(t, err)
}
