package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ctitoolkit/storage"
)

// ErrNoLedger is returned by commands that read the ledger when none is configured.
var ErrNoLedger = errors.New("no ledger configured: pass --ledger or set ledger.enabled")

const historyDigestWidth = 12

// newHistoryCmd creates the 'history' subcommand
func newHistoryCmd() *cobra.Command {
	var (
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the sources recorded in the ledger",
		Long:  "Display the most recently processed sources, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := initRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if rt.ledger == nil {
				return ErrNoLedger
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			entries, err := rt.ledger.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to read ledger: %w", err)
			}

			if outputJSON {
				encoder := json.NewEncoder(rt.stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(entries)
			}

			renderHistory(rt.stdout, entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of entries to show (0 for all)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	return cmd
}

func renderHistory(w io.Writer, entries []storage.Entry) {
	if len(entries) == 0 {
		warningColor.Fprintln(w, "No processed sources recorded")
		return
	}

	infoColor.Fprintln(w, "PROCESSED SOURCES")
	infoColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-20s %-30s %-8s %-20s %-12s %-12s\n",
		"Processed At", "File", "Version", "Outcome", "Observables", "Digest")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, e := range entries {
		digest := e.Digest
		if len(digest) > historyDigestWidth {
			digest = digest[:historyDigestWidth]
		}
		fmt.Fprintf(w, "%-20s %-30s %-8s %-20s %-12d %-12s\n",
			e.ProcessedAt.Local().Format("2006-01-02 15:04:05"),
			e.FileName,
			e.STIXVersion,
			e.Outcome,
			e.Observables,
			digest,
		)
	}

	infoColor.Fprintln(w, strings.Repeat("=", 100))
}
