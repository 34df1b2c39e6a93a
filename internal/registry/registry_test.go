package registry_test

import (
	"testing"

	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/registry"
)

func TestDefaultSortedByID(t *testing.T) {
	specs := registry.Default()
	for i := 1; i < len(specs); i++ {
		if specs[i-1].IndicatorID >= specs[i].IndicatorID {
			t.Fatalf("Default() not sorted at index %d: %s >= %s", i, specs[i-1].IndicatorID, specs[i].IndicatorID)
		}
	}
}

func TestRootFollowsDuplicatesOf(t *testing.T) {
	specs := []model.IndicatorSpec{
		{IndicatorID: "root_a"},
		{IndicatorID: "a1", DuplicatesOf: "root_a"},
		{IndicatorID: "a2", DuplicatesOf: "root_a"},
	}
	if got := registry.Root(specs, "a1"); got != "root_a" {
		t.Errorf("Root(a1): expected root_a, got %s", got)
	}
	if got := registry.Root(specs, "root_a"); got != "root_a" {
		t.Errorf("Root(root_a): expected root_a, got %s", got)
	}
}

func TestRootCycleDetectionReturnsFirstSeen(t *testing.T) {
	specs := []model.IndicatorSpec{
		{IndicatorID: "a", DuplicatesOf: "b"},
		{IndicatorID: "b", DuplicatesOf: "a"},
	}
	if got := registry.Root(specs, "a"); got != "a" {
		t.Errorf("Root with cycle: expected first-seen id 'a', got %s", got)
	}
}

func TestBucketsGroupsMembers(t *testing.T) {
	specs := []model.IndicatorSpec{
		{IndicatorID: "root_a"},
		{IndicatorID: "a1", DuplicatesOf: "root_a"},
		{IndicatorID: "a2", DuplicatesOf: "root_a"},
		{IndicatorID: "solo"},
	}
	buckets := registry.Buckets(specs)
	if len(buckets["root_a"]) != 3 {
		t.Errorf("expected 3 members in root_a bucket, got %v", buckets["root_a"])
	}
	if len(buckets["solo"]) != 1 {
		t.Errorf("expected 1 member in solo bucket, got %v", buckets["solo"])
	}
}
