package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/format"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file.xml|file.pdf]",
	Short: "Read key fields back from a generated e-invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		summary, err := format.Inspect(content)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", args[0], err)
		}
		return outputJSON(cmd.OutOrStdout(), summary)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
