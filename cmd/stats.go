package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ctitoolkit/transform"
)

// newStatsCmd creates the 'stats' subcommand
func newStatsCmd() *cobra.Command {
	var (
		output    string
		xmlOutput string
	)

	cmd := &cobra.Command{
		Use:   "stats [flags] SOURCES...",
		Short: "Summarize packages and count observables per object type",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := initRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := transform.DefaultStatsOptions()
			opts.Separator = rt.cfg.Text.Separator
			opts.HeaderPrefix = rt.cfg.Text.HeaderPrefix
			opts.DefaultTitle = rt.cfg.Package.DefaultTitle
			opts.DefaultDescription = rt.cfg.Package.DefaultDescription
			opts.DefaultTLP = rt.cfg.Package.DefaultTLP

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
			for _, si := range loaded {
				st, err := transform.NewStatsTransform(si.Package, opts)
				if err != nil {
					_ = closeOutput()
					return fmt.Errorf("%s: %w", si.FileName(), err)
				}
				if _, err := io.WriteString(w, opts.HeaderPrefix+" source: "+si.FileName()+"\n"+st.Text()); err != nil {
					_ = closeOutput()
					return fmt.Errorf("failed to write output: %w", err)
				}
			}
			if err := closeOutput(); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}

			rt.printSummary("Summarized", summary)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write output to file instead of stdout")
	cmd.Flags().StringVar(&xmlOutput, "xml-output", "", "Also save each parsed package to this directory")

	return cmd
}
