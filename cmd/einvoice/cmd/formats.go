package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported e-invoice formats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSYNTAX\tHYBRID")
		fmt.Fprintln(w, "--\t----\t------\t------")
		for _, info := range newRegistry(nil).Formats() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", info.ID, info.Name, info.Syntax, info.Hybrid)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}
