// Package registry provides the static IndicatorSpec table and an optional
// YAML override loader.
//
// Default() is the built-in table covering the core plumbing, floor,
// supply, QT, and stress indicators; LoadFile lets an operator override
// the whole table from a registry.yaml without a rebuild.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/derickschaefer/reserve/internal/model"
)

// Default returns the built-in registry, sorted by indicator_id.
func Default() []model.IndicatorSpec {
	specs := []model.IndicatorSpec{
		{
			IndicatorID: "net_liq", Name: "Net Liquidity (WALCL - TGA - RRP)",
			Category: model.CategoryCorePlumbing,
			Series:   []string{"WALCL", "TGA", "RRPONTSYD"},
			Cadence:  "weekly", Directionality: model.DirHigherSupportive,
			Scoring: model.ScoringZ, ZCutoff: 1.0, Persistence: 1,
			TriggerDefault: "|z20| >= 1.0 over 1w",
			Notes:          "Fed balance sheet net of TGA and ON RRP drains.",
		},
		{
			IndicatorID: "ust_net_w", Name: "Weekly UST Net Settlements",
			Category: model.CategorySupply,
			Series:   []string{"UST_NET_SETTLE_W"},
			Cadence:  "weekly", Directionality: model.DirLowerSupportive,
			Scoring: model.ScoringZ, ZCutoff: 1.0, Persistence: 1,
			TriggerDefault: "|z20| >= 1.0 over 1w",
			Notes:          "Net new UST cash extraction from the market.",
		},
		{
			IndicatorID: "qt_pace", Name: "QT Runoff Pace vs. Caps",
			Category: model.CategoryQTQE,
			Series:   []string{"WSHOSHO", "WSHOMCB"},
			Cadence:  "weekly", Directionality: model.DirHigherDraining,
			Scoring: model.ScoringThreshold, ZCutoff: 0, Persistence: 1,
			TriggerDefault: "runoff >= cap @cap",
			Notes:          "Flags when UST or MBS runoff meets or exceeds the prevailing cap.",
		},
		{
			IndicatorID: "sofr_iorb", Name: "SOFR - IORB Spread",
			Category: model.CategoryFloor,
			Series:   []string{"SOFR", "IORB"},
			Cadence:  "daily", Directionality: model.DirHigherDraining,
			Scoring: model.ScoringThreshold, ZCutoff: 0, Persistence: 3,
			TriggerDefault: "> 0",
			Notes:          "Reserve-scarcity signal at the overnight funding floor.",
		},
		{
			IndicatorID: "bill_rrp", Name: "Bill Yield vs. RRP Spread",
			Category: model.CategoryFloor,
			Series:   []string{"BILL_RRP_BPS"},
			Cadence:  "daily", Directionality: model.DirHigherDraining,
			Scoring: model.ScoringThreshold, ZCutoff: 0, Persistence: 1,
			TriggerDefault: ">= 5",
			Notes:          "Bills cheap-to-RRP indicates reserve scarcity pressure.",
		},
		{
			IndicatorID: "bill_share", Name: "Bill Share of UST Offerings",
			Category: model.CategorySupply,
			Series:   []string{"UST_AUCTION_OFFERINGS", "UST_BILL_OFFERINGS"},
			Cadence:  "daily", Directionality: model.DirHigherDraining,
			Scoring: model.ScoringThreshold, ZCutoff: 0, Persistence: 1,
			TriggerDefault: ">= 65",
			Notes:          "Heavier bill issuance drains reserves faster than coupons.",
		},
		{
			IndicatorID: "ofr_liq_idx", Name: "OFR Financial Stress — Liquidity Index",
			Category: model.CategoryStress,
			Series:   []string{"OFR_LIQ_IDX"},
			Cadence:  "daily", Directionality: model.DirHigherDraining,
			Scoring: model.ScoringThreshold, ZCutoff: 0, Persistence: 1,
			TriggerDefault: "percentile>=80",
			Notes:          "Flags when stress sits above its trailing 80th percentile.",
		},
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].IndicatorID < specs[j].IndicatorID })
	return specs
}

// LoadFile parses a YAML registry override from path, in the same field
// shape as Default's IndicatorSpec entries.
func LoadFile(path string) ([]model.IndicatorSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file %s: %w", path, err)
	}
	var specs []model.IndicatorSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parsing registry file %s: %w", path, err)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].IndicatorID < specs[j].IndicatorID })
	return specs, nil
}

// Buckets groups indicator_ids by their resolved bucket root (following
// DuplicatesOf to a fixed point). Matches the /registry/buckets route
// shape: root_id -> [members...].
func Buckets(specs []model.IndicatorSpec) map[string][]string {
	out := make(map[string][]string)
	for _, spec := range specs {
		root := Root(specs, spec.IndicatorID)
		out[root] = append(out[root], spec.IndicatorID)
	}
	for root := range out {
		sort.Strings(out[root])
	}
	return out
}

// Root follows DuplicatesOf to a fixed point, starting from id.
// duplicates_of forms a forest in practice but nothing forbids cycles:
// path length is capped and, on cycle-detection, the first-seen id is
// treated as the root.
func Root(specs []model.IndicatorSpec, id string) string {
	byID := make(map[string]model.IndicatorSpec, len(specs))
	for _, s := range specs {
		byID[s.IndicatorID] = s
	}

	seen := map[string]bool{id: true}
	current := id
	for i := 0; i < len(specs)+1; i++ {
		spec, ok := byID[current]
		if !ok || spec.DuplicatesOf == "" || spec.DuplicatesOf == current {
			return current
		}
		if seen[spec.DuplicatesOf] {
			slog.Warn("duplicates_of cycle detected", "indicator_id", id, "at", spec.DuplicatesOf)
			return id // first-seen id wins
		}
		seen[spec.DuplicatesOf] = true
		current = spec.DuplicatesOf
	}
	return current
}

// ByID indexes specs by indicator_id.
func ByID(specs []model.IndicatorSpec) map[string]model.IndicatorSpec {
	out := make(map[string]model.IndicatorSpec, len(specs))
	for _, s := range specs {
		out[s.IndicatorID] = s
	}
	return out
}
