package snapshot_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/registry"
	"github.com/derickschaefer/reserve/internal/snapshot"
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
		ValueNumeric: value, Units: "USD", Scale: 1.0, Source: "TEST",
	}})
	if err != nil {
		t.Fatalf("seed UpsertPoints: %v", err)
	}
}

func day(offset int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestComputeSnapshotEmptyStoreIsNeutral(t *testing.T) {
	s := testStore(t)
	result, err := snapshot.ComputeSnapshot(s, snapshot.Options{})
	if err != nil {
		t.Fatalf("ComputeSnapshot: %v", err)
	}
	if result.Regime.Label != model.LabelNeutral {
		t.Errorf("expected Neutral regime with no data, got %s", result.Regime.Label)
	}
	if result.Regime.MaxScore != 1 {
		t.Errorf("expected max_score floor of 1, got %d", result.Regime.MaxScore)
	}
	if len(result.Buckets) != 0 {
		t.Errorf("expected no buckets with all indicators n/a, got %d", len(result.Buckets))
	}
}

func TestComputeSnapshotSavePersists(t *testing.T) {
	s := testStore(t)

	seed(t, s, "IORB", day(0), 5.33)
	seed(t, s, "SOFR", day(0), 5.36)
	seed(t, s, "IORB", day(1), 5.33)
	seed(t, s, "SOFR", day(1), 5.37)
	seed(t, s, "IORB", day(2), 5.33)
	seed(t, s, "SOFR", day(2), 5.38)

	asOf := day(2)
	result, err := snapshot.ComputeSnapshot(s, snapshot.Options{Save: true, AsOf: &asOf})
	if err != nil {
		t.Fatalf("ComputeSnapshot: %v", err)
	}
	if result.SnapshotID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatalf("expected a non-nil snapshot id when saving")
	}

	got, found, err := s.GetSnapshot(result.SnapshotID)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if !found {
		t.Fatalf("expected persisted snapshot to be retrievable")
	}
	if got.RegimeLabel != result.Regime.Label {
		t.Errorf("persisted regime label %s does not match computed %s", got.RegimeLabel, result.Regime.Label)
	}

	fi, found, err := s.GetFrozenInputs(got.FrozenInputsID)
	if err != nil {
		t.Fatalf("GetFrozenInputs: %v", err)
	}
	if !found {
		t.Fatalf("expected frozen inputs to be persisted")
	}
	if len(fi.Items) == 0 {
		t.Errorf("expected at least one frozen input item for a sofr_iorb-backed snapshot")
	}
}

func TestComputeSnapshotSaveIsUpsertByDay(t *testing.T) {
	s := testStore(t)
	seed(t, s, "IORB", day(0), 5.33)
	seed(t, s, "SOFR", day(0), 5.40)

	asOf := day(0)
	if _, err := snapshot.ComputeSnapshot(s, snapshot.Options{Save: true, AsOf: &asOf, Horizon: "1w"}); err != nil {
		t.Fatalf("first ComputeSnapshot: %v", err)
	}
	if _, err := snapshot.ComputeSnapshot(s, snapshot.Options{Save: true, AsOf: &asOf, Horizon: "1w"}); err != nil {
		t.Fatalf("second ComputeSnapshot: %v", err)
	}

	all, err := s.ListSnapshots("1w")
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 snapshot for the day after recompute, got %d", len(all))
	}
}

func TestComputeRouterNextUpdateAlwaysNil(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 20; i++ {
		seed(t, s, "SOFR", day(i), 5.30)
		seed(t, s, "IORB", day(i), 5.30)
	}
	seed(t, s, "OFR_LIQ_IDX", day(19), 1.0)

	picks, err := snapshot.ComputeRouter(s, registry.Default(), 3)
	if err != nil {
		t.Fatalf("ComputeRouter: %v", err)
	}
	if len(picks) == 0 {
		t.Fatalf("expected at least one pick")
	}
	for _, p := range picks {
		if p.NextUpdate != nil {
			t.Errorf("expected next_update to always be nil, got %v", p.NextUpdate)
		}
	}
}

func TestComputeRouterSkipsIndicatorsWithNoData(t *testing.T) {
	s := testStore(t)
	picks, err := snapshot.ComputeRouter(s, registry.Default(), 8)
	if err != nil {
		t.Fatalf("ComputeRouter: %v", err)
	}
	if len(picks) != 0 {
		t.Fatalf("expected no picks with an empty store, got %d", len(picks))
	}
}
