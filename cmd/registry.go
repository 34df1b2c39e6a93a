package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/registry"
	"github.com/derickschaefer/reserve/internal/render"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the indicator registry: specs, buckets, and QT caps",
	Long: `Registry commands inspect the static indicator_id -> spec table and its
derived bucket structure, and manage the quantitative-tightening caps the
qt_pace indicator reads.

  reserve registry list
  reserve registry buckets
  reserve registry caps list
  reserve registry caps set --effective 2026-01-01 --ust 9e9 --mbs 8e9`,
}

// ─── registry list ────────────────────────────────────────────────────────────

var registryOnlyAvailable bool

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the effective IndicatorSpec table",
	Example: `  reserve registry list
  reserve registry list --only-available`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		specs, err := deps.Registry()
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}

		if registryOnlyAvailable {
			if err := deps.RequireStore(); err != nil {
				return err
			}
			defer deps.Close()

			var allSeries []string
			for _, s := range specs {
				allSeries = append(allSeries, s.Series...)
			}
			latest, err := deps.Store.LatestForSeries(allSeries)
			if err != nil {
				return fmt.Errorf("checking series availability: %w", err)
			}
			available := make([]model.IndicatorSpec, 0, len(specs))
			for _, s := range specs {
				for _, sid := range s.Series {
					if _, ok := latest[sid]; ok {
						available = append(available, s)
						break
					}
				}
			}
			specs = available
		}

		if resolveFormat(deps.Config.Format) == render.FormatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(specs)
		}

		printSimpleTable(cmd.OutOrStdout(), []string{"INDICATOR", "CATEGORY", "SCORING", "DIRECTIONALITY", "SERIES", "DUPLICATES OF"}, func(add func(...string)) {
			for _, s := range specs {
				add(s.IndicatorID, s.Category, s.Scoring, s.Directionality, fmt.Sprintf("%v", s.Series), s.DuplicatesOf)
			}
		})
		return nil
	},
}

// ─── registry buckets ─────────────────────────────────────────────────────────

var registryBucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Show the root_id -> [members...] bucket map",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		specs, err := deps.Registry()
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}
		buckets := registry.Buckets(specs)

		if resolveFormat(deps.Config.Format) == render.FormatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(buckets)
		}

		printSimpleTable(cmd.OutOrStdout(), []string{"ROOT", "MEMBERS"}, func(add func(...string)) {
			for root, members := range buckets {
				add(root, fmt.Sprintf("%v", members))
			}
		})
		return nil
	},
}

// ─── registry caps ────────────────────────────────────────────────────────────

var registryCapsCmd = &cobra.Command{
	Use:   "caps",
	Short: "List or set quantitative-tightening runoff caps",
}

var registryCapsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored QT caps, ascending by effective date",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		caps, err := deps.Store.ListQTCaps()
		if err != nil {
			return fmt.Errorf("reading qt caps: %w", err)
		}

		if resolveFormat(deps.Config.Format) == render.FormatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(caps)
		}

		printSimpleTable(cmd.OutOrStdout(), []string{"EFFECTIVE", "UST CAP (USD/WK)", "MBS CAP (USD/WK)"}, func(add func(...string)) {
			for _, c := range caps {
				add(c.EffectiveDate.Format("2006-01-02"),
					fmt.Sprintf("%.0f", c.USTCapUSDWeek), fmt.Sprintf("%.0f", c.MBSCapUSDWeek))
			}
		})
		return nil
	},
}

var (
	registryCapsEffective string
	registryCapsUST       float64
	registryCapsMBS       float64
)

var registryCapsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Upsert a QT cap effective on a given date",
	Example: `  reserve registry caps set --effective 2026-01-01 --ust 9000000000 --mbs 8000000000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if registryCapsEffective == "" {
			return fmt.Errorf("--effective is required, e.g. --effective 2026-01-01")
		}
		effective, err := time.Parse("2006-01-02", registryCapsEffective)
		if err != nil {
			return fmt.Errorf("invalid --effective %q: expected YYYY-MM-DD: %w", registryCapsEffective, err)
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		cap := model.QTCap{
			EffectiveDate: effective,
			USTCapUSDWeek: registryCapsUST,
			MBSCapUSDWeek: registryCapsMBS,
		}
		if err := deps.Store.PutQTCap(cap); err != nil {
			return fmt.Errorf("writing qt cap: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Set QT cap effective %s: ust=%.0f mbs=%.0f\n",
			effective.Format("2006-01-02"), registryCapsUST, registryCapsMBS)
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryListCmd)
	registryCmd.AddCommand(registryBucketsCmd)
	registryCmd.AddCommand(registryCapsCmd)
	registryCapsCmd.AddCommand(registryCapsListCmd)
	registryCapsCmd.AddCommand(registryCapsSetCmd)

	registryListCmd.Flags().BoolVar(&registryOnlyAvailable, "only-available", false, "keep only indicators with stored data for at least one of their series")

	registryCapsSetCmd.Flags().StringVar(&registryCapsEffective, "effective", "", "effective date, YYYY-MM-DD (required)")
	registryCapsSetCmd.Flags().Float64Var(&registryCapsUST, "ust", 0, "UST runoff cap in USD/week")
	registryCapsSetCmd.Flags().Float64Var(&registryCapsMBS, "mbs", 0, "MBS runoff cap in USD/week")
}
