package derived_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/derickschaefer/reserve/internal/derived"
	"github.com/derickschaefer/reserve/internal/model"
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

func TestWeeklyNetSettlementsRequiresAllThree(t *testing.T) {
	s := testStore(t)
	asOf := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC)

	seed(t, s, "UST_AUCTION_ISSUES", monday, 100)
	seed(t, s, "UST_REDEMPTIONS", monday, 40)
	// UST_INTEREST missing for this week — should be suppressed.

	out, err := derived.ComputeWeeklyNetSettlements(s, asOf, 52)
	if err != nil {
		t.Fatalf("ComputeWeeklyNetSettlements: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected week to be suppressed without all three inputs, got %v", out)
	}

	seed(t, s, "UST_INTEREST", monday, 10)
	out, err = derived.ComputeWeeklyNetSettlements(s, asOf, 52)
	if err != nil {
		t.Fatalf("ComputeWeeklyNetSettlements: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 week emitted, got %d", len(out))
	}
	if out[0].ValueNumeric != 50 {
		t.Errorf("expected net 100-40-10=50, got %v", out[0].ValueNumeric)
	}
}

func TestBillRRPSpreadMissingRRPSuppresses(t *testing.T) {
	s := testStore(t)
	asOf := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	day := time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC)

	seed(t, s, "DTB3", day, 5.1)
	// RRP_RATE missing — date should be suppressed.

	out, err := derived.ComputeBillRRPSpread(s, asOf, 30)
	if err != nil {
		t.Fatalf("ComputeBillRRPSpread: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected date to be suppressed without RRP_RATE, got %v", out)
	}
}

func TestBillRRPSpreadUsesMinOfBills(t *testing.T) {
	s := testStore(t)
	asOf := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	day := time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC)

	seed(t, s, "RRP_RATE", day, 5.0)
	seed(t, s, "DTB3", day, 5.1)
	seed(t, s, "DTB4WK", day, 5.05)

	out, err := derived.ComputeBillRRPSpread(s, asOf, 30)
	if err != nil {
		t.Fatalf("ComputeBillRRPSpread: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 point, got %d", len(out))
	}
	want := (5.05 - 5.0) * 100
	if out[0].ValueNumeric != want {
		t.Errorf("expected spread %v, got %v", want, out[0].ValueNumeric)
	}
}
