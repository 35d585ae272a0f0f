package cmd

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var grantKey string

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage extraction credits",
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance [owner]",
	Short: "Show the credit balance of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, closeDB, err := openBackend(ctx)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer closeDB()

		balance, err := db.Balance(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", args[0], balance)
		return nil
	},
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant [owner] [amount]",
	Short: "Add credits to an account",
	Long: `Grant adds credits. Pass --key to make the grant safe to repeat:
a key that was already applied is ignored.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		key := grantKey
		if key == "" {
			key = "cli:" + uuid.NewString()
		}

		ctx := cmd.Context()
		db, closeDB, err := openBackend(ctx)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer closeDB()

		if err := db.Grant(ctx, args[0], amount, key); err != nil {
			return err
		}
		balance, err := db.Balance(ctx, args[0])
		if err != nil {
			return err
		}
		printVerbose("Applied grant %s\n", key)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", args[0], balance)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsBalanceCmd, creditsGrantCmd)

	creditsGrantCmd.Flags().StringVar(&grantKey, "key", "", "Idempotency key (default: random)")
}
