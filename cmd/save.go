package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// newSaveCmd creates the 'save' subcommand
func newSaveCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "save --dir DIR SOURCES...",
		Short: "Write each package to a directory as STIX 1.2",
		Long: `Load each source, upgrading older STIX versions, and write the resulting
document to DIR under the source's file name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := initRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			items, err := expandSources(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			_, summary, err := rt.loadBatch(context.Background(), items, dir)
			if err != nil {
				return err
			}

			rt.printSummary("Saved", summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Output directory")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}
