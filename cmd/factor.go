package main

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/factor-relay/internal/model"
)

var factorRecalculate bool

var factorCmd = &cobra.Command{
	Use:   "factor",
	Short: "Read or change an item's factor",
}

var factorGetCmd = &cobra.Command{
	Use:   "get <item-id>",
	Short: "Show the stored factor for an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), cfg, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		f, configured, err := env.Orchestrator.GetFactor(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"item_id":    args[0],
			"factor":     f.Value,
			"configured": configured,
		})
	},
}

var factorSetCmd = &cobra.Command{
	Use:   "set <item-id> <factor>",
	Short: "Store a new factor for an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return eris.Wrapf(model.ErrInvalidFactor, "parse %q", args[1])
		}

		mode := "store"
		if factorRecalculate {
			mode = "board"
		}
		env, err := initEnv(cmd.Context(), cfg, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		upd, err := env.Orchestrator.UpdateFactor(cmd.Context(), args[0], value, model.TriggeredBySystem)
		if err != nil {
			return err
		}

		out := map[string]any{"update": upd}
		var calcErr error
		if factorRecalculate {
			var res *model.CalculationResult
			res, calcErr = env.Orchestrator.CalculateAndUpdateResult(cmd.Context(), args[0], model.TriggeredBySystem)
			out["calculation"] = res
		}
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		return calcErr
	},
}

func init() {
	factorSetCmd.Flags().BoolVar(&factorRecalculate, "recalculate", false, "recalculate the item after storing the factor")
	factorCmd.AddCommand(factorGetCmd, factorSetCmd)
	rootCmd.AddCommand(factorCmd)
}
