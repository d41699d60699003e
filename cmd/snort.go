package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"ctitoolkit/source"
	"ctitoolkit/transform"
)

// newSnortCmd creates the 'snort' subcommand
func newSnortCmd() *cobra.Command {
	var (
		initialSID   int
		ruleRevision int
		ruleAction   string
		output       string
		xmlOutput    string
	)

	cmd := &cobra.Command{
		Use:   "snort [flags] SOURCES...",
		Short: "Render address observables as Snort rules",
		Long: `Render one Snort rule per address observable value. Rule sids count up
from --initial-sid across all sources of the run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := initRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := transform.DefaultSnortOptions()
			opts.Separator = rt.cfg.Snort.Separator
			opts.IncludeHeader = rt.cfg.Snort.IncludeHeader
			opts.HeaderPrefix = rt.cfg.Snort.HeaderPrefix
			opts.InitialSID = rt.cfg.Snort.InitialSID
			opts.RuleRevision = rt.cfg.Snort.RuleRevision
			opts.RuleAction = rt.cfg.Snort.RuleAction

			flags := cmd.Flags()
			if flags.Changed("initial-sid") {
				opts.InitialSID = initialSID
			}
			if flags.Changed("rule-revision") {
				opts.RuleRevision = ruleRevision
			}
			if flags.Changed("rule-action") {
				opts.RuleAction = ruleAction
			}
			if opts.InitialSID < 1 || opts.RuleRevision < 1 {
				return fmt.Errorf("sid and revision must be positive (got sid %d, rev %d)", opts.InitialSID, opts.RuleRevision)
			}
			if !transform.IsSnortAction(opts.RuleAction) {
				return fmt.Errorf("invalid rule action %q: must be one of %s",
					opts.RuleAction, strings.Join(transform.SnortActions, ", "))
			}

			items, err := expandSources(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			loaded, summary, err := rt.loadBatch(context.Background(), items, rt.xmlOutputDir(xmlOutput))
			if err != nil {
				return err
			}

			w, closeOutput, err := rt.openOutput(output)
			if err != nil {
				return err
			}
			next, err := renderSnort(w, loaded, opts, rt)
			if err != nil {
				_ = closeOutput()
				return err
			}
			if err := closeOutput(); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}

			rt.printSummary("Rendered", summary)
			if !quiet && next > opts.InitialSID {
				infoColor.Fprintf(rt.stderr, "  %d rules, sids %d-%d\n", next-opts.InitialSID, opts.InitialSID, next-1)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&initialSID, "initial-sid", transform.DefaultSnortInitialSID, "sid of the first rule")
	cmd.Flags().IntVar(&ruleRevision, "rule-revision", transform.DefaultSnortRuleRevision, "rev of every rule")
	cmd.Flags().StringVar(&ruleAction, "rule-action", transform.DefaultSnortRuleAction,
		"Rule action ("+strings.Join(transform.SnortActions, ", ")+")")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write output to file instead of stdout")
	cmd.Flags().StringVar(&xmlOutput, "xml-output", "", "Also save each parsed package to this directory")

	return cmd
}

// renderSnort writes the rules of every package, seeding each transform
// with the sid the previous one stopped at. It returns the next free sid.
func renderSnort(w io.Writer, loaded []*source.SourceItem, opts transform.SnortOptions, rt *session) (int, error) {
	for _, si := range loaded {
		s, err := transform.NewSnortTransform(si.Package, opts, rt.logger)
		if err != nil {
			return opts.InitialSID, fmt.Errorf("%s: %w", si.FileName(), err)
		}
		if _, err := io.WriteString(w, s.Text()); err != nil {
			return opts.InitialSID, fmt.Errorf("failed to write output: %w", err)
		}
		opts.InitialSID = s.NextSID()
	}
	return opts.InitialSID, nil
}
