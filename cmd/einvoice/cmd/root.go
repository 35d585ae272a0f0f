package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/config"
	"github.com/rezonia/einvoice-engine/internal/logger"
)

var (
	version = "1.0.0"

	// Global flags
	cfgFile string
	verbose bool

	// Loaded before every command runs
	cfg *config.Config
	log *zap.Logger
)

// annotationService marks long-running commands whose logs go to the configured output
const annotationService = "service"

var rootCmd = &cobra.Command{
	Use:   "einvoice",
	Short: "Generate, validate and batch-extract EU e-invoices",
	Long: `einvoice turns canonical invoice JSON into EU e-invoice formats and
extracts invoices from scanned documents in batches.

Supports:
  - XRechnung 3.0 (CII and UBL), PEPPOL BIS Billing 3.0
  - Factur-X EN 16931 and BASIC (PDF/A-3 with embedded XML)
  - FatturaPA 1.2.2, KSeF FA(2), NLCIUS, CIUS-RO

Configuration is read from --config, a .env file and EINVOICE_* variables.

Examples:
  # Generate an XRechnung from invoice JSON
  einvoice generate --format xrechnung-cii invoice.json -o out/

  # Validate without generating
  einvoice validate --format peppol-bis invoice.json

  # Submit scans for batch extraction
  einvoice batch submit --owner acme scans/*.pdf --format xrechnung-ubl`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func Execute() error {
	defer func() {
		if log != nil {
			_ = log.Sync()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logCfg := logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: cfg.Log.OutputPath}
	if verbose {
		logCfg.Level = "debug"
	}
	// one-shot commands keep stdout for their results
	if cmd.Annotations[annotationService] == "" && logCfg.OutputPath == "stdout" {
		logCfg.OutputPath = "stderr"
	}

	log, err = logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
