package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/model"
)

var (
	validateFormat string
	validateJSON   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [invoice.json]",
	Short: "Check an invoice against the rules of a target format",
	Long: `Validate runs the schema, EN 16931 and country rule tiers without
generating a document. The command fails when any error is reported.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFormat, "format", "f", "", "Target format id")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the report as JSON")
	_ = validateCmd.MarkFlagRequired("format")
}

func runValidate(cmd *cobra.Command, args []string) error {
	inv, err := readInvoice(args[0])
	if err != nil {
		return err
	}

	report, err := newRegistry(nil).Validate(model.FormatID(validateFormat), inv)
	if err != nil {
		return err
	}

	if validateJSON {
		if err := outputJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d errors, %d warnings)\n",
			report.Profile, report.Status(), len(report.Errors), len(report.Warnings))
		printFindings(cmd.OutOrStdout(), append(report.Errors, report.Warnings...))
	}

	if report.HasErrors() {
		return fmt.Errorf("invoice %s is not valid for %s", inv.InvoiceNumber, validateFormat)
	}
	return nil
}
