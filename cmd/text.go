package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ctitoolkit/source"
	"ctitoolkit/transform"
)

// newTextCmd creates the 'text' subcommand
func newTextCmd() *cobra.Command {
	var (
		separator    string
		header       bool
		noHeader     bool
		headerPrefix string
		allTypes     bool
		fieldMap     string
		escapeQuotes bool
		output       string
		xmlOutput    string
	)

	cmd := &cobra.Command{
		Use:   "text [flags] SOURCES...",
		Short: "Render observables as delimited text",
		Long: `Render the observables of each package as delimited text, one block per
object type. Values containing the separator are quoted; missing values are
written as None.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := initRuntime(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := transform.DefaultTextOptions()
			opts.Separator = rt.cfg.Text.Separator
			opts.IncludeHeader = rt.cfg.Text.IncludeHeader
			opts.HeaderPrefix = rt.cfg.Text.HeaderPrefix
			opts.EscapeQuotes = rt.cfg.Text.EscapeQuotes

			flags := cmd.Flags()
			if flags.Changed("separator") {
				opts.Separator = separator
			}
			if flags.Changed("header") {
				opts.IncludeHeader = header
			}
			if noHeader {
				opts.IncludeHeader = false
			}
			if flags.Changed("header-prefix") {
				opts.HeaderPrefix = headerPrefix
			}
			if flags.Changed("escape-quotes") {
				opts.EscapeQuotes = escapeQuotes
			}

			fields, err := rt.fieldTable(fieldMap, allTypes)
			if err != nil {
				return err
			}
			opts.Fields = fields

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
			if err := renderText(w, loaded, opts, rt); err != nil {
				_ = closeOutput()
				return err
			}
			if err := closeOutput(); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}

			rt.printSummary("Rendered", summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&separator, "separator", "|", "Field separator")
	cmd.Flags().BoolVar(&header, "header", true, "Write header lines")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "Omit header lines")
	cmd.Flags().StringVar(&headerPrefix, "header-prefix", "#", "Prefix of header lines")
	cmd.Flags().BoolVar(&allTypes, "all-types", false, "Render every object type with all of its fields")
	cmd.Flags().StringVar(&fieldMap, "field-map", "", "YAML file mapping object types to field paths")
	cmd.Flags().BoolVar(&escapeQuotes, "escape-quotes", false, "Double quotes inside quoted values")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write output to file instead of stdout")
	cmd.Flags().StringVar(&xmlOutput, "xml-output", "", "Also save each parsed package to this directory")

	return cmd
}

func renderText(w io.Writer, loaded []*source.SourceItem, opts transform.TextOptions, rt *session) error {
	for _, si := range loaded {
		tr, err := transform.NewTextTransform(si.Package, opts, rt.logger)
		if err != nil {
			return fmt.Errorf("%s: %w", si.FileName(), err)
		}
		if _, err := io.WriteString(w, tr.Text()); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

// fieldTable picks the column table: none with allTypes, the YAML file from
// the flag or config when set, else the built-in table.
func (rt *session) fieldTable(flagPath string, allTypes bool) (transform.FieldTable, error) {
	if allTypes {
		return nil, nil
	}
	path := rt.cfg.FieldMappings.YAMLPath
	if flagPath != "" {
		path = flagPath
	}
	if path == "" {
		return transform.DefaultFields(), nil
	}
	table, err := transform.LoadFieldTable(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load field map: %w", err)
	}
	return table, nil
}

// xmlOutputDir returns the flag value or the configured directory.
func (rt *session) xmlOutputDir(flagDir string) string {
	if flagDir != "" {
		return flagDir
	}
	return rt.cfg.DataPaths.XMLOutputDir
}
