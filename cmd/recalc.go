package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/factor-relay/internal/model"
)

var recalcCmd = &cobra.Command{
	Use:   "recalc [item-id...]",
	Short: "Recalculate result columns for the given items, or the whole board",
	Long:  "With item ids, recalculates each item in turn. Without arguments, recalculates every board item that has a stored factor.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), cfg, "board")
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()

		if len(args) == 0 {
			summary, err := env.Orchestrator.RecalculateBoard(cmd.Context(), model.TriggeredBySystem)
			if err != nil {
				return err
			}
			if err := printJSON(out, summary); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return eris.Errorf("%d of %d items failed", summary.Failed, summary.Total-summary.Skipped)
			}
			return nil
		}

		results := make([]*model.CalculationResult, 0, len(args))
		failed := 0
		for _, itemID := range args {
			res, err := env.Orchestrator.CalculateAndUpdateResult(cmd.Context(), itemID, model.TriggeredBySystem)
			if err != nil {
				failed++
			}
			results = append(results, res)
		}
		if err := printJSON(out, results); err != nil {
			return err
		}
		if failed > 0 {
			return eris.Errorf("%d of %d items failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recalcCmd)
}
