package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"

	"ctitoolkit/source"
	"ctitoolkit/stix"
	"ctitoolkit/storage"
)

// stdinName is the file name given to a package read from standard input.
const stdinName = "stdin.xml"

// expandSources turns command arguments into source items. A directory
// contributes its *.xml files in name order; "-" reads stdin. Paths that do
// not exist are kept so the failure is reported with the other sources.
func expandSources(args []string, stdin io.Reader) ([]source.Item, error) {
	var items []source.Item
	for _, arg := range args {
		if arg == "-" {
			items = append(items, &source.StreamItem{Name: stdinName, Reader: stdin})
			continue
		}

		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			items = append(items, source.FileItem{Path: arg})
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", arg, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".xml") {
				continue
			}
			items = append(items, source.FileItem{Path: filepath.Join(arg, entry.Name())})
		}
	}
	return items, nil
}

// batchSummary counts what happened to each source of a run.
type batchSummary struct {
	Parsed   int
	Upgraded int
	Failed   int
	Skipped  int
}

func (b batchSummary) total() int {
	return b.Parsed + b.Upgraded + b.Failed + b.Skipped
}

// loadBatch loads every item in order. Failed sources are logged by the
// source package and left out; with the ledger's skip-seen option, sources
// already recorded are left out as well. Each loaded package is saved to
// xmlDir when set and recorded in the ledger when one is open.
func (rt *session) loadBatch(ctx context.Context, items []source.Item, xmlDir string) ([]*source.SourceItem, batchSummary, error) {
	if xmlDir != "" {
		if err := os.MkdirAll(xmlDir, 0755); err != nil {
			return nil, batchSummary{}, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var s *spinner.Spinner
	if showProgress && !quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(rt.stderr))
		s.Suffix = " Loading sources..."
		s.Start()
		defer s.Stop()
	}

	var (
		loaded  []*source.SourceItem
		summary batchSummary
	)
	for i, item := range items {
		if s != nil {
			s.Suffix = fmt.Sprintf(" Loading %s (%d/%d)...", item.FileName(), i+1, len(items))
		}

		si := source.Load(item, rt.logger)
		if si.Package == nil {
			summary.Failed++
			continue
		}

		if rt.ledger != nil && rt.cfg.Ledger.SkipSeen {
			seen, err := rt.ledger.Seen(ctx, si.Digest())
			if err != nil {
				return nil, summary, err
			}
			if seen {
				rt.logger.Infof("%s: already processed, skipping", si.FileName())
				summary.Skipped++
				continue
			}
		}

		if si.Outcome == stix.OutcomeUpgraded {
			summary.Upgraded++
		} else {
			summary.Parsed++
		}

		if xmlDir != "" {
			si.Save(xmlDir)
		}

		if rt.ledger != nil {
			err := rt.ledger.Record(ctx, storage.Entry{
				Digest:      si.Digest(),
				FileName:    si.FileName(),
				STIXVersion: si.SourceVersion(),
				Outcome:     string(si.Outcome),
				Observables: len(si.Package.Observables),
			})
			if err != nil {
				return nil, summary, err
			}
		}

		loaded = append(loaded, si)
	}
	return loaded, summary, nil
}

// printSummary reports the batch on stderr unless --quiet is set.
func (rt *session) printSummary(verb string, summary batchSummary) {
	if quiet {
		return
	}
	done := summary.Parsed + summary.Upgraded
	switch {
	case summary.total() == 0:
		warningColor.Fprintln(rt.stderr, "⚠ No sources given")
	case summary.Failed == 0:
		successColor.Fprintf(rt.stderr, "✓ %s %d/%d sources\n", verb, done, summary.total())
	default:
		errorColor.Fprintf(rt.stderr, "✗ %s %d/%d sources (%d failed)\n", verb, done, summary.total(), summary.Failed)
	}
	if summary.Upgraded > 0 {
		infoColor.Fprintf(rt.stderr, "  %d upgraded to STIX %s\n", summary.Upgraded, stix.LatestVersion)
	}
	if summary.Skipped > 0 {
		infoColor.Fprintf(rt.stderr, "  %d already processed\n", summary.Skipped)
	}
}

// openOutput returns the file at path, or stdout when path is empty.
func (rt *session) openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return rt.stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
