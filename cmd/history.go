package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/factor-relay/internal/audit"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <item-id>",
	Short: "Show the newest history entries for an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), cfg, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Orchestrator.History(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entries)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", audit.DefaultLimit, "number of entries to show (1-100)")
	rootCmd.AddCommand(historyCmd)
}
