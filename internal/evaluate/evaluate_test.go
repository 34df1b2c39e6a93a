package evaluate_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/derickschaefer/reserve/internal/evaluate"
	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/registry"
	"github.com/derickschaefer/reserve/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, seriesID string, date time.Time, value float64) {
	t.Helper()
	err := s.UpsertPoints([]model.SeriesPoint{{
		SeriesID: seriesID, ObservationDate: date, FetchedAt: date,
		ValueNumeric: value, Units: "pct", Scale: 1.0, Source: "TEST",
	}})
	if err != nil {
		t.Fatalf("seed UpsertPoints: %v", err)
	}
}

func day(offset int) time.Time {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func specFor(id string) model.IndicatorSpec {
	byID := registry.ByID(registry.Default())
	return byID[id]
}

func TestEvaluateEmptySeriesReturnsNA(t *testing.T) {
	s := testStore(t)
	spec := specFor("sofr_iorb")
	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ev.IsNA() {
		t.Fatalf("expected n/a status for empty series, got %v", ev.Status)
	}
}

// TestSOFRIORBPersistenceScenario seeds a spread that crosses positive for
// exactly 3 consecutive trading days and checks the persistence=3 threshold
// fires only once the streak is long enough.
func TestSOFRIORBPersistenceScenario(t *testing.T) {
	s := testStore(t)
	spec := specFor("sofr_iorb")

	iorb := 5.33
	spreads := []float64{-0.02, -0.01, 0.01, 0.02, 0.03}
	for i, spread := range spreads {
		d := day(i)
		seed(t, s, "IORB", d, iorb)
		seed(t, s, "SOFR", d, iorb+spread)

		ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
		if err != nil {
			t.Fatalf("Evaluate at day %d: %v", i, err)
		}
		wantPositive := i >= 4 // first 3 consecutive positive spreads complete at i=4
		if wantPositive && ev.Status != "-1" {
			t.Errorf("day %d: expected status -1 (draining), got %s", i, ev.Status)
		}
		if !wantPositive && ev.Status == "-1" {
			t.Errorf("day %d: did not expect persistence to be satisfied yet, got %s", i, ev.Status)
		}
	}
}

func TestQTPaceNoCapReturnsNA(t *testing.T) {
	s := testStore(t)
	spec := specFor("qt_pace")

	seed(t, s, "WSHOSHO", day(0), 5000)
	seed(t, s, "WSHOSHO", day(7), 4940)
	seed(t, s, "WSHOMCB", day(0), 2500)
	seed(t, s, "WSHOMCB", day(7), 2480)

	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ev.IsNA() {
		t.Fatalf("expected n/a with no applicable QT cap, got %v", ev.Status)
	}
}

func TestQTPaceCapScenario(t *testing.T) {
	s := testStore(t)
	spec := specFor("qt_pace")

	if err := s.PutQTCap(model.QTCap{EffectiveDate: day(0), USTCapUSDWeek: 50, MBSCapUSDWeek: 15}); err != nil {
		t.Fatalf("PutQTCap: %v", err)
	}

	seed(t, s, "WSHOSHO", day(0), 5000)
	seed(t, s, "WSHOSHO", day(7), 4940) // runoff = 60 >= cap 50
	seed(t, s, "WSHOMCB", day(0), 2500)
	seed(t, s, "WSHOMCB", day(7), 2490) // runoff = 10 < cap 15

	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Status != "-1" {
		t.Fatalf("expected draining status -1 when UST runoff meets cap, got %s", ev.Status)
	}
	if ev.Provenance.QTCap == nil {
		t.Fatalf("expected QTCap provenance to be set")
	}
}

func TestQTPaceUnderCapNeutral(t *testing.T) {
	s := testStore(t)
	spec := specFor("qt_pace")

	if err := s.PutQTCap(model.QTCap{EffectiveDate: day(0), USTCapUSDWeek: 50, MBSCapUSDWeek: 15}); err != nil {
		t.Fatalf("PutQTCap: %v", err)
	}

	seed(t, s, "WSHOSHO", day(0), 5000)
	seed(t, s, "WSHOSHO", day(7), 4970) // runoff 30 < cap 50
	seed(t, s, "WSHOMCB", day(0), 2500)
	seed(t, s, "WSHOMCB", day(7), 2490) // runoff 10 < cap 15

	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Status != "0" {
		t.Fatalf("expected neutral status when under both caps, got %s", ev.Status)
	}
}

func TestBillShareThreshold(t *testing.T) {
	s := testStore(t)
	spec := specFor("bill_share")

	seed(t, s, "UST_AUCTION_OFFERINGS", day(0), 100)
	seed(t, s, "UST_BILL_OFFERINGS", day(0), 70) // 70% >= 65 default

	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Status != "-1" {
		t.Fatalf("expected draining status -1 for 70%% bill share, got %s", ev.Status)
	}
	if ev.Value != 70 {
		t.Errorf("expected value 70, got %v", ev.Value)
	}
}

func TestBillShareBelowThresholdNeutral(t *testing.T) {
	s := testStore(t)
	spec := specFor("bill_share")

	seed(t, s, "UST_AUCTION_OFFERINGS", day(0), 100)
	seed(t, s, "UST_BILL_OFFERINGS", day(0), 40)

	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Status != "0" {
		t.Fatalf("expected neutral status for 40%% bill share, got %s", ev.Status)
	}
}

func TestOFRLiqIdxPercentileThreshold(t *testing.T) {
	s := testStore(t)
	spec := specFor("ofr_liq_idx")

	for i := 0; i < 20; i++ {
		seed(t, s, "OFR_LIQ_IDX", day(i), float64(i)) // ascending 0..19
	}
	// last value 19 is the max, well above the 80th percentile cutoff.
	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Status != "-1" {
		t.Fatalf("expected draining status -1 above the 80th percentile, got %s", ev.Status)
	}
	if ev.Provenance.Threshold == nil || ev.Provenance.Threshold.Type != "percentile" {
		t.Fatalf("expected percentile threshold provenance, got %+v", ev.Provenance.Threshold)
	}
}

func TestNetLiqCompositeUsesMostRecentPriorWALCL(t *testing.T) {
	s := testStore(t)
	spec := specFor("net_liq")

	// WALCL only published weekly; TGA/RRP daily. The composite must
	// carry forward the most recent prior WALCL reading.
	seed(t, s, "WALCL", day(0), 8000)
	seed(t, s, "TGA", day(0), 700)
	seed(t, s, "RRPONTSYD", day(0), 400)
	seed(t, s, "TGA", day(3), 650)
	seed(t, s, "RRPONTSYD", day(3), 380)

	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.IsNA() {
		t.Fatalf("expected evaluable composite, got n/a")
	}
	want := 8000.0 - 650.0 - 380.0
	if ev.Value != want {
		t.Errorf("expected composite %v carrying forward WALCL, got %v", want, ev.Value)
	}
	if _, ok := ev.Provenance.Inputs["WALCL"]; !ok {
		t.Errorf("expected WALCL provenance entry")
	}
}

func TestNetLiqMissingTGASuppressesComposite(t *testing.T) {
	s := testStore(t)
	spec := specFor("net_liq")

	seed(t, s, "WALCL", day(0), 8000)
	seed(t, s, "RRPONTSYD", day(0), 400)
	// TGA never seeded.

	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ev.IsNA() {
		t.Fatalf("expected n/a without TGA, got %v", ev.Status)
	}
}

func TestGenericZScoringStatus(t *testing.T) {
	s := testStore(t)
	spec := model.IndicatorSpec{
		IndicatorID: "generic_z", Series: []string{"SOME_SERIES"},
		Directionality: model.DirHigherSupportive, Scoring: model.ScoringZ,
		ZCutoff: 1.0, Persistence: 1, Cadence: "daily",
	}
	// A clear outlier at the end should produce a non-neutral status.
	vals := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 40}
	for i, v := range vals {
		seed(t, s, "SOME_SERIES", day(i), v)
	}
	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Z20 == nil {
		t.Fatalf("expected z20 to be computed")
	}
	if ev.Status != "1" {
		t.Fatalf("expected positive status for supportive high outlier, got %s (z20=%v)", ev.Status, *ev.Z20)
	}
}

func TestGenericZScoringDegenerateSeriesNeutral(t *testing.T) {
	s := testStore(t)
	spec := model.IndicatorSpec{
		IndicatorID: "generic_z_flat", Series: []string{"FLAT_SERIES"},
		Directionality: model.DirHigherSupportive, Scoring: model.ScoringZ,
		ZCutoff: 1.0, Persistence: 1, Cadence: "daily",
	}
	for i := 0; i < 10; i++ {
		seed(t, s, "FLAT_SERIES", day(i), 5.0)
	}
	ev, err := evaluate.Evaluate(s, spec, nil, evaluate.ModeFetched)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Status != "0" {
		t.Fatalf("expected neutral status on degenerate flat series, got %s", ev.Status)
	}
}
