// Package cmd provides the ctitoolkit command-line interface.
package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ctitoolkit/config"
	"ctitoolkit/metrics"
	"ctitoolkit/storage"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

// Global flags
var (
	configFile      string
	noColor         bool
	quiet           bool
	logLevel        string
	ledgerPath      string
	skipSeen        bool
	metricsTextfile string
	showProgress    bool
)

// NewRootCmd creates the ctitoolkit command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ctitoolkit",
		Short: "Convert STIX threat intelligence into text and Snort rules",
		Long: `Convert STIX 1.x packages into delimited text, Snort IDS rules or per-type
statistics.

Sources are files, directories (every *.xml inside) or "-" for standard input.
Packages of an older STIX version are upgraded to STIX 1.2 before rendering.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "Record processed sources in this SQLite ledger")
	rootCmd.PersistentFlags().BoolVar(&skipSeen, "skip-seen", false, "Skip sources already recorded in the ledger")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file on exit")
	rootCmd.PersistentFlags().BoolVar(&showProgress, "progress", false, "Show progress indicator")

	rootCmd.AddCommand(newTextCmd())
	rootCmd.AddCommand(newSnortCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newSaveCmd())
	rootCmd.AddCommand(newHistoryCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// session is what a subcommand needs once flags and config are resolved.
type session struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	ledger *storage.Ledger
	stdout io.Writer
	stderr io.Writer
}

// initRuntime loads configuration, applies persistent flag overrides, builds
// the logger and opens the ledger when enabled. The returned cleanup closes
// the ledger and writes the metrics textfile.
func initRuntime(cmd *cobra.Command) (*session, func(), error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("ledger") {
		cfg.Ledger.Enabled = true
		cfg.DataPaths.LedgerPath = ledgerPath
	}
	if flags.Changed("skip-seen") {
		cfg.Ledger.SkipSeen = skipSeen
	}
	if flags.Changed("metrics-textfile") {
		cfg.Metrics.Textfile = metricsTextfile
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	rt := &session{
		cfg:    cfg,
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}

	rt.logger, err = newLogger(cfg.Log.Level, cfg.Log.Format, rt.stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Ledger.Enabled {
		rt.ledger, err = storage.NewLedger(cfg.GetLedgerPath(), cfg.Ledger.CacheSize, rt.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open ledger: %w", err)
		}
	}

	cleanup := func() {
		if rt.ledger != nil {
			if err := rt.ledger.Close(); err != nil {
				rt.logger.Warnf("Failed to close ledger: %v", err)
			}
		}
		if cfg.Metrics.Textfile != "" {
			if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				rt.logger.Warnf("Failed to write metrics textfile: %v", err)
			}
		}
		_ = rt.logger.Sync()
	}

	return rt, cleanup, nil
}
