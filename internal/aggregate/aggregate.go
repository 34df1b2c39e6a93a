// Package aggregate implements the bucket/regime aggregator: it collapses
// conceptually duplicate indicators into buckets, applies category weights,
// and derives the weighted regime label and tilt.
//
// Representative selection breaks |z20| ties by lexicographic
// indicator_id so two runs over the same store contents always pick the
// same member.
package aggregate

import (
	"sort"

	"github.com/derickschaefer/reserve/internal/model"
)

// Weights gives the category weight applied to a bucket's root category.
// Categories absent from this table contribute zero weight.
var Weights = map[string]float64{
	model.CategoryCorePlumbing: 0.50,
	model.CategoryFloor:        0.30,
	model.CategorySupply:       0.20,
}

// RootFunc resolves an indicator_id to its bucket root, following
// duplicates_of to a fixed point (registry.Root satisfies this).
type RootFunc func(id string) string

// BuildBuckets partitions evaluated (non-n/a) evidence into buckets keyed
// by root(id). Each bucket's Aggregate is the mean contribution of its
// members; AggregateStatus is sign(Aggregate) mapped to {+1,0,-1};
// Representative is the member with the largest |z20|, ties broken by
// lexicographic indicator_id; Category/Weight are inherited from the root
// indicator's spec.
func BuildBuckets(evidence []model.IndicatorEvidence, specsByID map[string]model.IndicatorSpec, root RootFunc) []model.Bucket {
	membersByRoot := make(map[string][]string)
	evidenceByID := make(map[string]model.IndicatorEvidence, len(evidence))

	for _, e := range evidence {
		if e.IsNA() {
			continue
		}
		evidenceByID[e.IndicatorID] = e
		rid := root(e.IndicatorID)
		membersByRoot[rid] = append(membersByRoot[rid], e.IndicatorID)
	}

	roots := make([]string, 0, len(membersByRoot))
	for rid := range membersByRoot {
		roots = append(roots, rid)
	}
	sort.Strings(roots)

	buckets := make([]model.Bucket, 0, len(roots))
	for _, rid := range roots {
		members := append([]string(nil), membersByRoot[rid]...)
		sort.Strings(members)

		var sum float64
		for _, m := range members {
			sum += float64(evidenceByID[m].Contribution())
		}
		aggregate := sum / float64(len(members))

		status := 0
		switch {
		case aggregate > 0:
			status = 1
		case aggregate < 0:
			status = -1
		}

		representative := members[0]
		bestAbsZ := -1.0
		for _, m := range members {
			z := evidenceByID[m].AbsZ20()
			if z > bestAbsZ || (z == bestAbsZ && m < representative) {
				bestAbsZ = z
				representative = m
			}
		}

		rootSpec, hasRoot := specsByID[rid]
		category := ""
		weight := 0.0
		if hasRoot {
			category = rootSpec.Category
			weight = Weights[category]
		}

		buckets = append(buckets, model.Bucket{
			BucketID:        rid,
			Members:         members,
			Representative:  representative,
			Aggregate:       aggregate,
			AggregateStatus: status,
			Category:        category,
			Weight:          weight,
		})
	}
	return buckets
}

// Regime is the weighted score/label/tilt derived from a set of buckets.
type Regime struct {
	Label     string
	Tilt      string
	Score     int
	MaxScore  int
	ScoreCont float64
}

// ComputeRegime applies category weights to bucket aggregates to form the
// continuous score, then maps it to the discrete label and tilt.
func ComputeRegime(buckets []model.Bucket) Regime {
	var weightedSum, totalWeight float64
	weightedBuckets := 0
	var unweightedSum float64

	for _, b := range buckets {
		unweightedSum += b.Aggregate
		if b.Weight == 0 {
			continue
		}
		weightedSum += b.Weight * b.Aggregate
		totalWeight += b.Weight
		weightedBuckets++
	}

	scoreCont := unweightedSum
	if totalWeight > 0 {
		scoreCont = weightedSum
	}

	score := roundHalfAwayFromZero(scoreCont)
	maxScore := weightedBuckets
	if maxScore < 1 {
		maxScore = 1
	}

	tilt := model.TiltFlat
	switch {
	case scoreCont > 0:
		tilt = model.TiltPositive
	case scoreCont < 0:
		tilt = model.TiltNegative
	}

	label := model.LabelNeutral
	switch {
	case score >= 2:
		label = model.LabelPositive
	case score <= -2:
		label = model.LabelNegative
	}

	return Regime{Label: label, Tilt: tilt, Score: score, MaxScore: maxScore, ScoreCont: scoreCont}
}

func roundHalfAwayFromZero(v float64) int {
	if v >= 0 {
		return int(v + 0.5)
	}
	return -int(-v + 0.5)
}

// Representatives returns each bucket's representative IndicatorEvidence,
// sorted by |z20| descending (z-unknown treated as 0), ties broken by
// indicator_id ascending, for the top-K evidence list.
func Representatives(evidence []model.IndicatorEvidence, buckets []model.Bucket) []model.IndicatorEvidence {
	evidenceByID := make(map[string]model.IndicatorEvidence, len(evidence))
	for _, e := range evidence {
		evidenceByID[e.IndicatorID] = e
	}

	reps := make([]model.IndicatorEvidence, 0, len(buckets))
	for _, b := range buckets {
		if e, ok := evidenceByID[b.Representative]; ok {
			reps = append(reps, e)
		}
	}

	sort.SliceStable(reps, func(i, j int) bool {
		zi, zj := reps[i].AbsZ20(), reps[j].AbsZ20()
		if zi != zj {
			return zi > zj
		}
		return reps[i].IndicatorID < reps[j].IndicatorID
	})
	return reps
}
