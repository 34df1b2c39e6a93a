// Package evaluate implements the indicator evaluator: per-indicator
// dispatch on scoring rule and indicator identity, producing
// model.IndicatorEvidence.
//
// A handful of indicators need bespoke composite logic (net_liq,
// ust_net_w, qt_pace, sofr_iorb, bill_share, ofr_liq_idx) on top of the
// generic z and threshold paths. Rather than one large if/else chain on
// indicator identity, variantFor maps each indicator to a tagged variant
// — each variant is a small function with its own composite logic, and
// the registry's indicator_id is the only thing that selects one.
package evaluate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/stats"
)

// As-of modes.
const (
	ModeFetched = "fetched"
	ModePub     = "pub"
	ModeObs     = "obs"
)

// Reader is the subset of the bitemporal store the evaluator needs.
type Reader interface {
	LatestForSeries(seriesIDs []string) (map[string]model.SeriesPoint, error)
	RecentPoints(seriesID string, limit int) ([]model.SeriesPoint, error)
	AsOfFetched(seriesID string, asOf time.Time, limit int) ([]model.SeriesPoint, error)
	AsOfPublication(seriesID string, asOf time.Time, limit int) ([]model.SeriesPoint, error)
	UpToObservationDate(seriesID string, asOf time.Time, limit int) ([]model.SeriesPoint, error)
	LatestQTCap(asOf time.Time) (model.QTCap, bool, error)
}

// windowPoints resolves the read path per as_of_mode; asOf==nil means
// latest-by-best-known with no as-of filter.
func windowPoints(r Reader, seriesID string, asOf *time.Time, mode string, limit int) ([]model.SeriesPoint, error) {
	if asOf == nil {
		return r.RecentPoints(seriesID, limit)
	}
	switch mode {
	case ModePub:
		return r.AsOfPublication(seriesID, *asOf, limit)
	case ModeObs:
		return r.UpToObservationDate(seriesID, *asOf, limit)
	default:
		return r.AsOfFetched(seriesID, *asOf, limit)
	}
}

// ─── Tagged variants ───────────────────────────────────────────────────────────

type variant string

const (
	variantZ                   variant = "Z"
	variantThreshold           variant = "Threshold"
	variantPercentileThreshold variant = "PercentileThreshold"
	variantCapComparison       variant = "CapComparison"
	variantSpreadThreshold     variant = "SpreadThreshold"
	variantCompositeZ          variant = "CompositeZ"
	variantDerivedZ            variant = "DerivedZ"
	variantBillShareThreshold  variant = "BillShareThreshold"
)

// variantFor selects the tagged variant for spec. This identity lookup is
// the only place indicator_id drives behavior; everything downstream
// operates on the variant alone.
func variantFor(spec model.IndicatorSpec) variant {
	switch spec.IndicatorID {
	case "net_liq":
		return variantCompositeZ
	case "ust_net_w":
		return variantDerivedZ
	case "qt_pace":
		return variantCapComparison
	case "sofr_iorb":
		return variantSpreadThreshold
	case "bill_share":
		return variantBillShareThreshold
	case "ofr_liq_idx":
		return variantPercentileThreshold
	default:
		if spec.Scoring == model.ScoringThreshold {
			return variantThreshold
		}
		return variantZ
	}
}

// Evaluate dispatches spec to its variant and returns the evaluator's
// output. It never returns an error for missing data — that is the
// n/a status — only for genuine read failures against the store.
func Evaluate(r Reader, spec model.IndicatorSpec, asOf *time.Time, asOfMode string) (model.IndicatorEvidence, error) {
	if len(spec.Series) == 0 {
		return naEvidence(spec), nil
	}

	switch variantFor(spec) {
	case variantCompositeZ:
		return evalNetLiq(r, spec, asOf, asOfMode)
	case variantDerivedZ, variantZ:
		return evalZ(r, spec, asOf, asOfMode)
	case variantCapComparison:
		return evalQTPace(r, spec, asOf, asOfMode)
	case variantSpreadThreshold:
		return evalSOFRIORB(r, spec, asOf, asOfMode)
	case variantBillShareThreshold:
		return evalBillShare(r, spec, asOf, asOfMode)
	case variantPercentileThreshold:
		return evalPercentileThreshold(r, spec, asOf, asOfMode)
	default:
		return evalThreshold(r, spec, asOf, asOfMode)
	}
}

func naEvidence(spec model.IndicatorSpec) model.IndicatorEvidence {
	return model.IndicatorEvidence{
		IndicatorID: spec.IndicatorID,
		Status:      model.StatusNA,
		Provenance:  model.Provenance{Series: spec.Series},
	}
}

// ─── Shared scored-series machinery ────────────────────────────────────────────

// scoredPoint is one date's resolved value plus the provenance ref(s) that
// produced it, shared by every variant so the persistence/threshold logic
// is written once.
type scoredPoint struct {
	date  time.Time
	value float64
	ref   model.SeriesRef
	refs  map[string]model.SeriesRef // composites: per-series refs
}

func sortedByDate(points []scoredPoint) []scoredPoint {
	out := append([]scoredPoint(nil), points...)
	sort.Slice(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out
}

func seriesRefFromPoint(p model.SeriesPoint) model.SeriesRef {
	return model.SeriesRef{
		ObservationDate: p.ObservationDate,
		VintageID:       p.VintageID,
		FetchedAt:       p.FetchedAt,
		PublicationDate: p.PublicationDate,
		VintageDate:     p.VintageDate,
		Source:          p.Source,
	}
}

// measurementWindow derives the evidence window tag from trigger_default,
// anchored to the two forms the registry actually uses — a leading slash
// ("/4w") or a literal "over" ("over 20d") — falling back to cadence.
var (
	slashWindowPattern = regexp.MustCompile(`/([0-9]*)([dw])`)
	overWindowPattern  = regexp.MustCompile(`(?i)over\s+([0-9]+)([dw])`)
)

func measurementWindow(spec model.IndicatorSpec) string {
	if m := slashWindowPattern.FindStringSubmatch(spec.TriggerDefault); m != nil {
		n, unit := m[1], m[2]
		if n == "" {
			return unit
		}
		return n + unit
	}
	if m := overWindowPattern.FindStringSubmatch(spec.TriggerDefault); m != nil {
		return m[1] + m[2]
	}
	if spec.Cadence == "weekly" {
		return "w"
	}
	return ""
}

// evalZPersistence applies z-scoring with persistence/hysteresis over an
// ascending-by-date scored series: every one of the last persistence
// suffixes must clear the cutoff with the same directional sign.
func evalZPersistence(spec model.IndicatorSpec, points []scoredPoint) model.IndicatorEvidence {
	if len(points) == 0 {
		return naEvidence(spec)
	}
	points = sortedByDate(points)
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.value
	}

	persistence := spec.Persistence
	if persistence < 1 {
		persistence = 1
	}
	cutoff := spec.ZCutoff
	if cutoff == 0 {
		cutoff = 1.0
	}
	dirSign := float64(model.DirectionalitySign(spec.Directionality))

	z20, z20ok := stats.Z(values, stats.DefaultWindow)

	positiveAll, negativeAll := true, true
	for back := 0; back < persistence; back++ {
		if len(values)-back < 1 {
			positiveAll, negativeAll = false, false
			break
		}
		sub := values[:len(values)-back]
		z, ok := stats.Z(sub, stats.DefaultWindow)
		if !ok {
			positiveAll, negativeAll = false, false
			break
		}
		adjusted := z * dirSign
		if adjusted < cutoff {
			positiveAll = false
		}
		if adjusted > -cutoff {
			negativeAll = false
		}
	}

	status := "0"
	switch {
	case positiveAll:
		status = "1"
	case negativeAll:
		status = "-1"
	}

	last := points[len(points)-1]
	ev := model.IndicatorEvidence{
		IndicatorID: spec.IndicatorID,
		Value:       last.value,
		Window:      measurementWindow(spec),
		Status:      status,
		FlipTrigger: spec.TriggerDefault,
		Provenance:  model.Provenance{Series: spec.Series},
	}
	if z20ok {
		z := z20
		ev.Z20 = &z
	}
	if last.refs != nil {
		ev.Provenance.Inputs = last.refs
	} else {
		ref := last.ref
		ev.Provenance.Single = &ref
	}
	return ev
}

// comparatorPattern parses a leading comparator + numeric operand out of a
// trigger_default string, e.g. ">= 65", "> 0", "<= 5".
var comparatorPattern = regexp.MustCompile(`(>=|<=|>|<)\s*([-+]?[0-9]*\.?[0-9]+)`)

func parseComparator(trigger string) (op string, value float64, ok bool) {
	m := comparatorPattern.FindStringSubmatch(trigger)
	if m == nil {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return "", 0, false
	}
	return m[1], v, true
}

func satisfies(value float64, op string, threshold float64) bool {
	switch op {
	case ">=":
		return value >= threshold
	case ">":
		return value > threshold
	case "<=":
		return value <= threshold
	case "<":
		return value < threshold
	default:
		return false
	}
}

// evalThresholdPersistence applies generic threshold scoring with
// persistence over an ascending-by-date scored series.
func evalThresholdPersistence(spec model.IndicatorSpec, points []scoredPoint, defaultOp string, defaultValue float64) model.IndicatorEvidence {
	if len(points) == 0 {
		return naEvidence(spec)
	}
	points = sortedByDate(points)

	persistence := spec.Persistence
	if persistence < 1 {
		persistence = 1
	}

	op, value, ok := parseComparator(spec.TriggerDefault)
	if !ok {
		op, value = defaultOp, defaultValue
	}

	n := len(points)
	if op == "" {
		// No comparator parsed and no bespoke default: the indicator can
		// never satisfy, but it is still evaluated (status 0, not n/a).
		last := points[n-1]
		ev := model.IndicatorEvidence{
			IndicatorID: spec.IndicatorID,
			Value:       last.value,
			Status:      "0",
			FlipTrigger: spec.TriggerDefault,
			Provenance: model.Provenance{
				Series: spec.Series,
				Streak: &model.Streak{Current: 0, Required: persistence},
			},
		}
		if last.refs != nil {
			ev.Provenance.Inputs = last.refs
		} else {
			ref := last.ref
			ev.Provenance.Single = &ref
		}
		return ev
	}
	required := persistence
	if required > n {
		required = n
	}
	current := 0
	satisfiedAll := required > 0
	for i := 0; i < required; i++ {
		p := points[n-1-i]
		if satisfies(p.value, op, value) {
			current++
		} else {
			satisfiedAll = false
		}
	}

	status := "0"
	if satisfiedAll {
		status = fmt.Sprintf("%d", model.DirectionalitySign(spec.Directionality))
	}

	last := points[n-1]
	ev := model.IndicatorEvidence{
		IndicatorID: spec.IndicatorID,
		Value:       last.value,
		Status:      status,
		FlipTrigger: spec.TriggerDefault,
		Provenance: model.Provenance{
			Series: spec.Series,
			Threshold: &model.Threshold{
				Operator: op, Value: value,
			},
			Streak: &model.Streak{Current: current, Required: persistence},
		},
	}
	if last.refs != nil {
		ev.Provenance.Inputs = last.refs
	} else {
		ref := last.ref
		ev.Provenance.Single = &ref
	}
	return ev
}

// ─── Generic Z (also serves DerivedZ, since the registry already points
// ust_net_w at the derived series by name) ─────────────────────────────────────

func evalZ(r Reader, spec model.IndicatorSpec, asOf *time.Time, asOfMode string) (model.IndicatorEvidence, error) {
	persistence := spec.Persistence
	if persistence < 1 {
		persistence = 1
	}
	// Fetch enough rows that every persistence suffix still sees a full
	// z window after truncation.
	pts, err := windowPoints(r, spec.Series[0], asOf, asOfMode, stats.DefaultWindow+persistence-1)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	if len(pts) == 0 {
		return naEvidence(spec), nil
	}
	scored := make([]scoredPoint, len(pts))
	for i, p := range pts {
		scored[i] = scoredPoint{date: p.ObservationDate, value: p.ScaledValue(), ref: seriesRefFromPoint(p)}
	}
	return evalZPersistence(spec, scored), nil
}

// ─── Generic single-series threshold (serves bill_rrp and any indicator
// whose scoring is "threshold" without a bespoke composite) ────────────────────

func evalThreshold(r Reader, spec model.IndicatorSpec, asOf *time.Time, asOfMode string) (model.IndicatorEvidence, error) {
	pts, err := windowPoints(r, spec.Series[0], asOf, asOfMode, 60)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	if len(pts) == 0 {
		return naEvidence(spec), nil
	}
	scored := make([]scoredPoint, len(pts))
	for i, p := range pts {
		scored[i] = scoredPoint{date: p.ObservationDate, value: p.ScaledValue(), ref: seriesRefFromPoint(p)}
	}
	return evalThresholdPersistence(spec, scored, "", 0), nil
}

// ─── net_liq: WALCL - TGA - RRP composite ──────────────────────────────────────

func evalNetLiq(r Reader, spec model.IndicatorSpec, asOf *time.Time, asOfMode string) (model.IndicatorEvidence, error) {
	if len(spec.Series) < 3 {
		return naEvidence(spec), nil
	}
	walckSeries, tgaSeries, rrpSeries := spec.Series[0], spec.Series[1], spec.Series[2]

	walcl, err := windowPoints(r, walckSeries, asOf, asOfMode, 260)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	tga, err := windowPoints(r, tgaSeries, asOf, asOfMode, 60)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	rrp, err := windowPoints(r, rrpSeries, asOf, asOfMode, 60)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	if len(tga) == 0 || len(rrp) == 0 || len(walcl) == 0 {
		return naEvidence(spec), nil
	}

	walcl = sortPointsByDate(walcl)
	rrpByDate := make(map[string]model.SeriesPoint, len(rrp))
	for _, p := range rrp {
		rrpByDate[dateKey(p.ObservationDate)] = p
	}

	var scored []scoredPoint
	for _, tgaPt := range sortPointsByDate(tga) {
		rrpPt, ok := rrpByDate[dateKey(tgaPt.ObservationDate)]
		if !ok {
			continue
		}
		// Find the most-recent WALCL point with observation_date <= this
		// date; the selected point is carried explicitly into provenance.
		var selectedWALCL model.SeriesPoint
		found := false
		for _, w := range walcl {
			if w.ObservationDate.After(tgaPt.ObservationDate) {
				break
			}
			selectedWALCL = w
			found = true
		}
		if !found {
			continue
		}

		composite := selectedWALCL.ScaledValue() - tgaPt.ScaledValue() - rrpPt.ScaledValue()
		scored = append(scored, scoredPoint{
			date:  tgaPt.ObservationDate,
			value: composite,
			refs: map[string]model.SeriesRef{
				walckSeries: seriesRefFromPoint(selectedWALCL),
				tgaSeries:   seriesRefFromPoint(tgaPt),
				rrpSeries:   seriesRefFromPoint(rrpPt),
			},
		})
	}
	if len(scored) == 0 {
		return naEvidence(spec), nil
	}
	return evalZPersistence(spec, scored), nil
}

func sortPointsByDate(points []model.SeriesPoint) []model.SeriesPoint {
	out := append([]model.SeriesPoint(nil), points...)
	sort.Slice(out, func(i, j int) bool { return out[i].ObservationDate.Before(out[j].ObservationDate) })
	return out
}

func dateKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// ─── qt_pace: CapComparison ─────────────────────────────────────────────────────

func evalQTPace(r Reader, spec model.IndicatorSpec, asOf *time.Time, asOfMode string) (model.IndicatorEvidence, error) {
	if len(spec.Series) < 2 {
		return naEvidence(spec), nil
	}
	ustSeries, mbsSeries := spec.Series[0], spec.Series[1]

	ust, err := windowPoints(r, ustSeries, asOf, asOfMode, 2)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	mbs, err := windowPoints(r, mbsSeries, asOf, asOfMode, 2)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	if len(ust) < 2 || len(mbs) < 2 {
		return naEvidence(spec), nil
	}

	ustRunoff := runoff(ust[len(ust)-2], ust[len(ust)-1])
	mbsRunoff := runoff(mbs[len(mbs)-2], mbs[len(mbs)-1])

	latestObsDate := ust[len(ust)-1].ObservationDate
	if mbs[len(mbs)-1].ObservationDate.After(latestObsDate) {
		latestObsDate = mbs[len(mbs)-1].ObservationDate
	}

	cap, found, err := r.LatestQTCap(latestObsDate)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	if !found {
		return naEvidence(spec), nil
	}

	status := "0"
	if ustRunoff >= cap.USTCapUSDWeek || mbsRunoff >= cap.MBSCapUSDWeek {
		status = fmt.Sprintf("%d", model.DirectionalitySign(spec.Directionality))
	}

	return model.IndicatorEvidence{
		IndicatorID: spec.IndicatorID,
		Value:       ustRunoff + mbsRunoff,
		Status:      status,
		FlipTrigger: spec.TriggerDefault,
		Provenance: model.Provenance{
			Series: spec.Series,
			QTCap:  &cap,
			Inputs: map[string]model.SeriesRef{
				ustSeries: seriesRefFromPoint(ust[len(ust)-1]),
				mbsSeries: seriesRefFromPoint(mbs[len(mbs)-1]),
			},
		},
	}, nil
}

func runoff(prev, latest model.SeriesPoint) float64 {
	delta := latest.ScaledValue() - prev.ScaledValue()
	if -delta > 0 {
		return -delta
	}
	return 0
}

// ─── sofr_iorb: SpreadThreshold ─────────────────────────────────────────────────

func evalSOFRIORB(r Reader, spec model.IndicatorSpec, asOf *time.Time, asOfMode string) (model.IndicatorEvidence, error) {
	if len(spec.Series) < 2 {
		return naEvidence(spec), nil
	}
	sofrSeries, iorbSeries := spec.Series[0], spec.Series[1]

	sofr, err := windowPoints(r, sofrSeries, asOf, asOfMode, 60)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	iorb, err := windowPoints(r, iorbSeries, asOf, asOfMode, 60)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	if len(sofr) == 0 || len(iorb) == 0 {
		return naEvidence(spec), nil
	}

	iorbByDate := make(map[string]model.SeriesPoint, len(iorb))
	for _, p := range iorb {
		iorbByDate[dateKey(p.ObservationDate)] = p
	}

	var scored []scoredPoint
	for _, s := range sortPointsByDate(sofr) {
		i, ok := iorbByDate[dateKey(s.ObservationDate)]
		if !ok {
			continue
		}
		scored = append(scored, scoredPoint{
			date:  s.ObservationDate,
			value: s.ScaledValue() - i.ScaledValue(),
			refs: map[string]model.SeriesRef{
				sofrSeries: seriesRefFromPoint(s),
				iorbSeries: seriesRefFromPoint(i),
			},
		})
	}
	if len(scored) == 0 {
		return naEvidence(spec), nil
	}
	return evalThresholdPersistence(spec, scored, ">", 0), nil
}

// ─── bill_share: BillShareThreshold ─────────────────────────────────────────────

func evalBillShare(r Reader, spec model.IndicatorSpec, asOf *time.Time, asOfMode string) (model.IndicatorEvidence, error) {
	if len(spec.Series) < 2 {
		return naEvidence(spec), nil
	}
	offeringsSeries, billSeries := spec.Series[0], spec.Series[1]

	offerings, err := windowPoints(r, offeringsSeries, asOf, asOfMode, 60)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	bills, err := windowPoints(r, billSeries, asOf, asOfMode, 60)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	if len(offerings) == 0 || len(bills) == 0 {
		return naEvidence(spec), nil
	}

	billsByDate := make(map[string]model.SeriesPoint, len(bills))
	for _, p := range bills {
		billsByDate[dateKey(p.ObservationDate)] = p
	}

	var scored []scoredPoint
	for _, o := range sortPointsByDate(offerings) {
		b, ok := billsByDate[dateKey(o.ObservationDate)]
		if !ok || o.ScaledValue() == 0 {
			continue
		}
		pct := 100 * b.ScaledValue() / o.ScaledValue()
		scored = append(scored, scoredPoint{
			date:  o.ObservationDate,
			value: pct,
			refs: map[string]model.SeriesRef{
				offeringsSeries: seriesRefFromPoint(o),
				billSeries:      seriesRefFromPoint(b),
			},
		})
	}
	if len(scored) == 0 {
		return naEvidence(spec), nil
	}
	return evalThresholdPersistence(spec, scored, ">=", 65), nil
}

// ─── ofr_liq_idx: PercentileThreshold ───────────────────────────────────────────

func evalPercentileThreshold(r Reader, spec model.IndicatorSpec, asOf *time.Time, asOfMode string) (model.IndicatorEvidence, error) {
	pts, err := windowPoints(r, spec.Series[0], asOf, asOfMode, 252)
	if err != nil {
		return model.IndicatorEvidence{}, err
	}
	if len(pts) == 0 {
		return naEvidence(spec), nil
	}
	pts = sortPointsByDate(pts)

	values := make([]float64, len(pts))
	for i, p := range pts {
		values[i] = p.ScaledValue()
	}
	sortedVals := append([]float64(nil), values...)
	sort.Float64s(sortedVals)
	cutoff, ok := stats.PercentileNearestRank(sortedVals, 80)
	if !ok {
		return naEvidence(spec), nil
	}

	persistence := spec.Persistence
	if persistence < 1 {
		persistence = 1
	}
	n := len(pts)
	required := persistence
	if required > n {
		required = n
	}
	current := 0
	satisfiedAll := required > 0
	for i := 0; i < required; i++ {
		if values[n-1-i] > cutoff {
			current++
		} else {
			satisfiedAll = false
		}
	}

	status := "0"
	if satisfiedAll {
		status = fmt.Sprintf("%d", model.DirectionalitySign(spec.Directionality))
	}

	last := pts[n-1]
	return model.IndicatorEvidence{
		IndicatorID: spec.IndicatorID,
		Value:       last.ScaledValue(),
		Status:      status,
		FlipTrigger: spec.TriggerDefault,
		Provenance: model.Provenance{
			Series: spec.Series,
			Single: refPtr(seriesRefFromPoint(last)),
			Threshold: &model.Threshold{
				Type: "percentile", Pct: 80.0, CutoffValue: cutoff,
			},
			Streak: &model.Streak{Current: current, Required: persistence},
		},
	}, nil
}

func refPtr(r model.SeriesRef) *model.SeriesRef { return &r }
