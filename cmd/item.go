package main

import (
	"github.com/spf13/cobra"
)

var itemCmd = &cobra.Command{
	Use:   "item <item-id>",
	Short: "Fetch a live snapshot of a board item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), cfg, "board")
		if err != nil {
			return err
		}
		defer env.Close()

		it, err := env.Orchestrator.Item(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), it)
	},
}

func init() {
	rootCmd.AddCommand(itemCmd)
}
