package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/render"
	"github.com/derickschaefer/reserve/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Compute and inspect liquidity regime snapshots",
	Long: `Snapshot commands evaluate the indicator registry against the stored
bitemporal series and fold the result into a bucket/regime rollup.

  reserve snapshot recompute --horizon 1w --save
  reserve snapshot backfill --days 30
  reserve snapshot show <snapshot-id>
  reserve snapshot history <indicator-id>`,
}

// ─── snapshot recompute ───────────────────────────────────────────────────────

var (
	snapshotHorizon string
	snapshotK       int
	snapshotSave    bool
	snapshotAsOf    string
)

var snapshotRecomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Evaluate the registry as of now (or --as-of) and print the regime",
	Example: `  reserve snapshot recompute
  reserve snapshot recompute --horizon 1w --save
  reserve snapshot recompute --as-of 2026-07-01T00:00:00Z --k 5`,
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

		opts := snapshot.Options{
			Horizon: orDefault(snapshotHorizon, deps.Config.DefaultHorizon),
			K:       orDefaultInt(snapshotK, deps.Config.DefaultK),
			Save:    snapshotSave,
			Specs:   specs,
		}
		if snapshotAsOf != "" {
			t, err := time.Parse(time.RFC3339, snapshotAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of %q: expected RFC3339 timestamp: %w", snapshotAsOf, err)
			}
			opts.AsOf = &t
		}

		result, err := snapshot.ComputeSnapshot(deps.Store, opts)
		if err != nil {
			return fmt.Errorf("computing snapshot: %w", err)
		}

		return printSnapshotResult(cmd, deps.Config.Format, result)
	},
}

// ─── snapshot backfill ────────────────────────────────────────────────────────

var snapshotBackfillDays int

var snapshotBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Recompute and save one snapshot per day for the trailing window",
	Example: `  reserve snapshot backfill --days 30`,
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

		days := snapshotBackfillDays
		if days <= 0 {
			days = 30
		}
		horizon := orDefault(snapshotHorizon, deps.Config.DefaultHorizon)

		now := time.Now().UTC()
		saved := 0
		for i := days; i >= 0; i-- {
			day := now.AddDate(0, 0, -i)
			asOf := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, time.UTC)
			_, err := snapshot.ComputeSnapshot(deps.Store, snapshot.Options{
				Horizon: horizon,
				K:       orDefaultInt(snapshotK, deps.Config.DefaultK),
				Save:    true,
				AsOf:    &asOf,
				Specs:   specs,
			})
			if err != nil {
				return fmt.Errorf("backfilling %s: %w", asOf.Format("2006-01-02"), err)
			}
			saved++
		}

		if err := deps.Store.AppendEventLog(model.EventsLog{
			EventType: "backfill_history", StartedAt: now,
			Status: "ok", Details: map[string]interface{}{"days": days, "horizon": horizon},
		}); err != nil {
			return fmt.Errorf("recording event log: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Backfilled %d daily snapshots (horizon=%s)\n", saved, horizon)
		return nil
	},
}

// ─── snapshot show ────────────────────────────────────────────────────────────

var snapshotShowCmd = &cobra.Command{
	Use:     "show <snapshot-id>",
	Short:   "Show a persisted snapshot by ID",
	Example: `  reserve snapshot show 3fa85f64-5717-4562-b3fc-2c963f66afa6`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid snapshot id %q: %w", args[0], err)
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		snap, ok, err := deps.Store.GetSnapshot(id)
		if err != nil {
			return fmt.Errorf("reading snapshot: %w", err)
		}
		if !ok {
			return fmt.Errorf("snapshot %s not found", id)
		}
		rows, err := deps.Store.ListSnapshotIndicators(id)
		if err != nil {
			return fmt.Errorf("reading snapshot indicators: %w", err)
		}

		if resolveFormat(deps.Config.Format) == render.FormatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{"snapshot": snap, "indicators": rows})
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s — %s (%s), score %d/%d, as of %s\n\n",
			snap.SnapshotID, snap.RegimeLabel, snap.Tilt, snap.Score, snap.MaxScore,
			snap.AsOf.Format(time.RFC3339))
		printSimpleTable(cmd.OutOrStdout(), []string{"INDICATOR", "VALUE", "Z20", "STATUS", "FLIP TRIGGER"}, func(add func(...string)) {
			for _, r := range rows {
				add(r.IndicatorID, fmt.Sprintf("%.4g", r.Value), formatZ(r.Z20), r.Status, r.FlipTrigger)
			}
		})
		return nil
	},
}

// ─── snapshot history ─────────────────────────────────────────────────────────

var (
	snapshotHistoryHorizon string
	snapshotHistoryLimit   int
)

var snapshotHistoryCmd = &cobra.Command{
	Use:     "history <indicator-id>",
	Short:   "Show the persisted evaluation history for one indicator",
	Example: `  reserve snapshot history net_liq --horizon 1w --limit 20`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		limit := snapshotHistoryLimit
		if limit <= 0 {
			limit = 20
		}
		points, err := deps.Store.IndicatorHistory(args[0], snapshotHistoryHorizon, limit)
		if err != nil {
			return fmt.Errorf("reading indicator history: %w", err)
		}
		if len(points) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No history for indicator %q\n", args[0])
			return nil
		}

		if resolveFormat(deps.Config.Format) == render.FormatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(points)
		}

		printSimpleTable(cmd.OutOrStdout(), []string{"AS OF", "VALUE", "Z20", "STATUS"}, func(add func(...string)) {
			for _, p := range points {
				add(p.AsOf.Format("2006-01-02"), fmt.Sprintf("%.4g", p.Value), formatZ(p.Z20), p.Status)
			}
		})
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotRecomputeCmd)
	snapshotCmd.AddCommand(snapshotBackfillCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotHistoryCmd)

	snapshotRecomputeCmd.Flags().StringVar(&snapshotHorizon, "horizon", "", "horizon label, e.g. 1w (default from config)")
	snapshotRecomputeCmd.Flags().IntVar(&snapshotK, "k", 0, "number of top representative indicators to return (default from config)")
	snapshotRecomputeCmd.Flags().BoolVar(&snapshotSave, "save", false, "persist the result as a durable snapshot")
	snapshotRecomputeCmd.Flags().StringVar(&snapshotAsOf, "as-of", "", "evaluate as of this RFC3339 timestamp instead of now")

	snapshotBackfillCmd.Flags().IntVar(&snapshotBackfillDays, "days", 30, "number of trailing days to backfill")
	snapshotBackfillCmd.Flags().StringVar(&snapshotHorizon, "horizon", "", "horizon label, e.g. 1w (default from config)")
	snapshotBackfillCmd.Flags().IntVar(&snapshotK, "k", 0, "number of top representative indicators to persist per day")

	snapshotHistoryCmd.Flags().StringVar(&snapshotHistoryHorizon, "horizon", "", "restrict to one horizon (default: all)")
	snapshotHistoryCmd.Flags().IntVar(&snapshotHistoryLimit, "limit", 20, "maximum number of points to return")
}

// ─── shared helpers ───────────────────────────────────────────────────────────

func printSnapshotResult(cmd *cobra.Command, cfgFormat string, result snapshot.Result) error {
	if result.SnapshotID != uuid.Nil && resolveFormat(cfgFormat) == render.FormatTable {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved as snapshot %s\n\n", result.SnapshotID)
	}

	envelope := &model.Result{
		Kind:        model.KindSnapshot,
		GeneratedAt: time.Now(),
		Command:     "snapshot recompute",
		Data:        &result,
		Stats:       model.ResultStats{Items: len(result.Indicators)},
	}
	return render.Render(cmd.OutOrStdout(), envelope, resolveFormat(cfgFormat))
}

func formatZ(z *float64) string {
	if z == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *z)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
