// Package snapshot orchestrates ComputeSnapshot and ComputeRouter: run the
// registry through the evaluator, fold the results through the
// bucket/regime aggregator, and (optionally) persist a reproducible
// Snapshot with its frozen input set.
//
// Persistence is upsert-by-day: saving deletes any existing snapshot for
// the same (horizon, calendar day) before writing, so /events/recompute
// and /events/backfill_history stay idempotent per day.
package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/derickschaefer/reserve/internal/aggregate"
	"github.com/derickschaefer/reserve/internal/evaluate"
	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/registry"
	"github.com/derickschaefer/reserve/internal/stats"
)

// Store is the persistence surface ComputeSnapshot needs beyond
// evaluate.Reader: writing the snapshot, its frozen inputs, its per-
// indicator rows, and the audit trail.
type Store interface {
	evaluate.Reader
	PutSnapshot(snap model.Snapshot) error
	PutFrozenInputs(fi model.FrozenInputs) error
	PutSnapshotIndicators(rows []model.SnapshotIndicator) error
	DeleteSnapshotsForDay(horizon string, day time.Time) error
	AppendEventLog(ev model.EventsLog) error
}

// Result is the full Liquidity Snapshot response: regime, top-K evidence,
// and full bucket membership detail.
type Result struct {
	AsOf           time.Time
	Horizon        string
	Regime         aggregate.Regime
	Indicators     []model.IndicatorEvidence
	Buckets        []model.Bucket
	FrozenInputsID uuid.UUID
	SnapshotID     uuid.UUID
}

// Options configures a single ComputeSnapshot call.
type Options struct {
	Horizon  string
	K        int
	Save     bool
	AsOf     *time.Time
	AsOfMode string
	Specs    []model.IndicatorSpec // nil means registry.Default()
}

func (o Options) withDefaults() Options {
	if o.Horizon == "" {
		o.Horizon = "1w"
	}
	if o.K <= 0 {
		o.K = 8
	}
	if o.AsOfMode == "" {
		o.AsOfMode = evaluate.ModeFetched
	}
	if o.Specs == nil {
		o.Specs = registry.Default()
	}
	return o
}

// ComputeSnapshot evaluates every registry indicator, aggregates into
// buckets, derives the weighted regime, and (if opts.Save) persists a
// Snapshot + FrozenInputs + SnapshotIndicator rows — the exact vintages
// used, frozen for reproducibility.
//
// Evaluation proceeds in indicator_id order: bucket representative ties
// and deterministic ordering both depend on it, per the ordering
// guarantee every snapshot computation must uphold.
func ComputeSnapshot(s Store, opts Options) (Result, error) {
	opts = opts.withDefaults()
	specs := sortedSpecs(opts.Specs)
	specsByID := registry.ByID(specs)
	root := func(id string) string { return registry.Root(specs, id) }

	var evidence []model.IndicatorEvidence
	for _, spec := range specs {
		ev, err := evaluate.Evaluate(s, spec, opts.AsOf, opts.AsOfMode)
		if err != nil {
			return Result{}, fmt.Errorf("evaluating %s: %w", spec.IndicatorID, err)
		}
		evidence = append(evidence, ev)
	}

	nonNA := make([]model.IndicatorEvidence, 0, len(evidence))
	for _, e := range evidence {
		if !e.IsNA() {
			nonNA = append(nonNA, e)
		}
	}

	buckets := aggregate.BuildBuckets(nonNA, specsByID, root)
	regime := aggregate.ComputeRegime(buckets)
	reps := aggregate.Representatives(nonNA, buckets)
	if len(reps) > opts.K {
		reps = reps[:opts.K]
	}

	asOf := time.Now().UTC()
	if opts.AsOf != nil {
		asOf = *opts.AsOf
	}

	result := Result{
		AsOf: asOf, Horizon: opts.Horizon, Regime: regime,
		Indicators: reps, Buckets: buckets,
	}

	if opts.Save {
		frozenID := uuid.New()
		snapshotID := uuid.New()

		frozen := model.FrozenInputs{FrozenInputsID: frozenID, Items: frozenItemsFromEvidence(reps)}
		if err := s.PutFrozenInputs(frozen); err != nil {
			return Result{}, fmt.Errorf("persisting frozen inputs: %w", err)
		}

		snap := model.Snapshot{
			SnapshotID: snapshotID, AsOf: asOf, Horizon: opts.Horizon,
			FrozenInputsID: frozenID, RegimeLabel: regime.Label, Tilt: regime.Tilt,
			Score: regime.Score, MaxScore: regime.MaxScore,
		}
		if err := s.DeleteSnapshotsForDay(opts.Horizon, asOf); err != nil {
			return Result{}, fmt.Errorf("clearing existing snapshot for day: %w", err)
		}
		if err := s.PutSnapshot(snap); err != nil {
			return Result{}, fmt.Errorf("persisting snapshot: %w", err)
		}

		rows := make([]model.SnapshotIndicator, 0, len(nonNA))
		for _, e := range nonNA {
			rows = append(rows, model.SnapshotIndicator{
				SnapshotID: snapshotID, IndicatorID: e.IndicatorID, Value: e.Value,
				Window: e.Window, Z20: e.Z20, Status: e.Status,
				FlipTrigger: e.FlipTrigger, Provenance: e.Provenance,
			})
		}
		if err := s.PutSnapshotIndicators(rows); err != nil {
			return Result{}, fmt.Errorf("persisting snapshot indicators: %w", err)
		}

		result.FrozenInputsID = frozenID
		result.SnapshotID = snapshotID
	}

	return result, nil
}

// frozenItemsFromEvidence expands each evidence's provenance into the
// per-(indicator,series) rows the FrozenInputs reproducibility record
// needs — one row per Single ref, or one row per Inputs-map entry for
// composites.
func frozenItemsFromEvidence(evidence []model.IndicatorEvidence) []model.FrozenInputItem {
	var items []model.FrozenInputItem
	for _, e := range evidence {
		switch {
		case len(e.Provenance.Inputs) > 0:
			seriesIDs := make([]string, 0, len(e.Provenance.Inputs))
			for sid := range e.Provenance.Inputs {
				seriesIDs = append(seriesIDs, sid)
			}
			sort.Strings(seriesIDs)
			for _, sid := range seriesIDs {
				ref := e.Provenance.Inputs[sid]
				items = append(items, model.FrozenInputItem{
					IndicatorID: e.IndicatorID, SeriesID: sid,
					VintageID: ref.VintageID, ObservationDate: ref.ObservationDate,
				})
			}
		case e.Provenance.Single != nil:
			for _, sid := range e.Provenance.Series {
				items = append(items, model.FrozenInputItem{
					IndicatorID: e.IndicatorID, SeriesID: sid,
					VintageID: e.Provenance.Single.VintageID, ObservationDate: e.Provenance.Single.ObservationDate,
				})
			}
		}
	}
	return items
}

// RouterPick is one top-K relevance result from ComputeRouter.
type RouterPick struct {
	IndicatorID string
	Why         string
	Trigger     string
	NextUpdate  *time.Time
}

// ComputeRouter is the lightweight sibling of ComputeSnapshot: per
// indicator, read up to 40 latest points of the primary series, compute
// z20, skip indicators with no data, rank by |z|, return the top-K picks.
// NextUpdate is always nil, left unset pending a scheduling-aware router.
func ComputeRouter(r evaluate.Reader, specs []model.IndicatorSpec, k int) ([]RouterPick, error) {
	if specs == nil {
		specs = registry.Default()
	}
	specs = sortedSpecs(specs)
	if k <= 0 {
		k = 8
	}

	type scored struct {
		spec model.IndicatorSpec
		absZ float64
	}
	var rows []scored
	for _, spec := range specs {
		if len(spec.Series) == 0 {
			continue
		}
		points, err := r.RecentPoints(spec.Series[0], 40)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", spec.Series[0], err)
		}
		if len(points) == 0 {
			continue
		}
		values := make([]float64, len(points))
		for i, p := range points {
			values[i] = p.ScaledValue()
		}
		z, ok := stats.Z(values, stats.DefaultWindow)
		absZ := 0.0
		if ok {
			absZ = z
			if absZ < 0 {
				absZ = -absZ
			}
		}
		rows = append(rows, scored{spec: spec, absZ: absZ})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].absZ > rows[j].absZ })
	if len(rows) > k {
		rows = rows[:k]
	}

	picks := make([]RouterPick, 0, len(rows))
	for _, row := range rows {
		why := row.spec.Notes
		if why == "" {
			why = row.spec.Name
		}
		picks = append(picks, RouterPick{
			IndicatorID: row.spec.IndicatorID, Why: why,
			Trigger: row.spec.TriggerDefault, NextUpdate: nil,
		})
	}
	return picks, nil
}

func sortedSpecs(specs []model.IndicatorSpec) []model.IndicatorSpec {
	out := append([]model.IndicatorSpec(nil), specs...)
	sort.Slice(out, func(i, j int) bool { return out[i].IndicatorID < out[j].IndicatorID })
	return out
}
