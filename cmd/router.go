package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/reserve/internal/render"
	"github.com/derickschaefer/reserve/internal/snapshot"
)

var routerK int

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Rank indicators by |z| over their 40 most recent points",
	Long: `router is the lightweight sibling of snapshot: for each registry
indicator it reads up to 40 recent points of the primary series, computes
z20, skips indicators with no data, and returns the top-K picks ranked by
|z|, each annotated with why it's interesting and its flip trigger.`,
	Example: `  reserve router
  reserve router --k 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		specs, err := deps.Registry()
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}

		picks, err := snapshot.ComputeRouter(deps.Store, specs, orDefaultInt(routerK, deps.Config.DefaultK))
		if err != nil {
			return fmt.Errorf("computing router: %w", err)
		}

		if resolveFormat(deps.Config.Format) == render.FormatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(picks)
		}

		printSimpleTable(cmd.OutOrStdout(), []string{"INDICATOR", "WHY", "TRIGGER"}, func(add func(...string)) {
			for _, p := range picks {
				add(p.IndicatorID, p.Why, p.Trigger)
			}
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(routerCmd)
	routerCmd.Flags().IntVar(&routerK, "k", 0, "number of top picks to return (default from config)")
}
