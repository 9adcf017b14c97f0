package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rezonia/erechnung/internal/config"
	"github.com/rezonia/erechnung/internal/logger"
	"github.com/rezonia/erechnung/pkg/erechnung"
)

var (
	version = "1.0.0"

	// Global flags
	verbose      bool
	configFile   string
	logLevel     string
	logFormat    string
	outputFormat string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "erechnung",
	Short: "Generate, validate, export and deliver German e-invoices",
	Long: `erechnung produces XRechnung (UBL 2.1) and ZUGFeRD (PDF with embedded XML)
documents from invoice snapshots, checks them against the German e-invoicing
rules and delivers them through configured channels.

Invoices are read from JSON files holding one invoice object or an array.

Examples:
  # Generate both formats for an invoice
  erechnung generate invoice.json --format both -d out/

  # Check compliance
  erechnung validate invoice.json --standard xrechnung

  # Export a batch as zip
  erechnung export invoices/ -o batch.zip --folders --metadata

  # Deliver through a channel
  erechnung deliver invoice.json --channel archive

  # Run the API and the retry worker
  erechnung serve
  erechnung worker`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml); environment wins")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error) (env: LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json) (env: LOG_FORMAT)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output-format", "f", "table", "Output format (table, json)")
}

func initConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	if logFormat != "" {
		loaded.LogFormat = logFormat
	}
	if verbose && logLevel == "" {
		loaded.LogLevel = "debug"
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = loaded.LogLevel
	logCfg.Format = loaded.LogFormat
	logCfg.Output = loaded.LogOutput
	if err := logger.Setup(logCfg); err != nil {
		return err
	}

	cfg = loaded
	return nil
}

// offlineService builds a service that needs no database
func offlineService() (*erechnung.Service, error) {
	return erechnung.NewOfflineFromConfig(cfg, log.Logger)
}

// onlineService builds a service with delivery; callers must Close it
func onlineService(ctx context.Context) (*erechnung.Service, error) {
	return erechnung.NewFromConfig(ctx, cfg, log.Logger)
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
