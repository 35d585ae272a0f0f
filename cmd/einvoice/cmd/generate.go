package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/tax"
	"github.com/rezonia/einvoice-engine/internal/validation"
)

var (
	generateFormat  string
	generateOutput  string
	generateCompute bool
	generateTimeout time.Duration
)

var generateCmd = &cobra.Command{
	Use:   "generate [invoice.json]",
	Short: "Generate an e-invoice from canonical invoice JSON",
	Long: `Generate validates the invoice for the target format and writes the
document. Without --output the XML is printed to stdout; hybrid formats
need --output because they also produce a PDF.

Use "-" to read the invoice from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateFormat, "format", "f", "", "Target format id (see 'einvoice formats')")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "Output directory")
	generateCmd.Flags().BoolVar(&generateCompute, "compute", false, "Recompute line and document totals before generating")
	generateCmd.Flags().DurationVar(&generateTimeout, "timeout", 2*time.Minute, "Generation timeout, including external validation")
	_ = generateCmd.MarkFlagRequired("format")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	inv, err := readInvoice(args[0])
	if err != nil {
		return err
	}
	if generateCompute {
		tax.Compute(inv)
	}

	registry := newRegistry(nil)
	gen, err := registry.Create(model.FormatID(generateFormat))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), generateTimeout)
	defer cancel()

	printVerbose("Generating %s for invoice %s\n", gen.FormatName(), inv.InvoiceNumber)
	out, err := gen.Generate(ctx, inv)
	if err != nil {
		var blocked *model.BlockingValidationError
		if errors.As(err, &blocked) {
			if report, verr := registry.Validate(gen.FormatID(), inv); verr == nil {
				printFindings(cmd.ErrOrStderr(), report.Errors)
			}
		}
		return err
	}
	printFindings(cmd.ErrOrStderr(), out.ValidationWarnings)

	if generateOutput == "" {
		if out.PDFContent != nil {
			return fmt.Errorf("%s produces a PDF; use --output", gen.FormatID())
		}
		_, err := io.WriteString(cmd.OutOrStdout(), out.XMLContent)
		return err
	}

	if err := os.MkdirAll(generateOutput, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(generateOutput, out.FileName)
	content := []byte(out.XMLContent)
	if out.PDFContent != nil {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".pdf"
		content = out.PDFContent
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %d bytes)\n", path, out.ValidationStatus, len(content))
	return nil
}

func printFindings(w io.Writer, findings []validation.Finding) {
	if len(findings) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tRULE\tFIELD\tMESSAGE")
	for _, f := range findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Severity, f.RuleID, f.Field, f.Message)
	}
	_ = tw.Flush()
}
