package agent

import (
	"fmt"
	"math"
	"strings"

	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/snapshot"
)

// IndicatorInfo is the per-indicator summary the brief prompt and the
// verifier both work from.
type IndicatorInfo struct {
	IndicatorID string   `json:"id"`
	Name        string   `json:"name"`
	LatestValue string   `json:"latest_value"`
	Window      string   `json:"window,omitempty"`
	Z20         *float64 `json:"z20,omitempty"`
	Status      string   `json:"status"`
	StatusLabel string   `json:"status_label"`
	ObsDate     string   `json:"obs_date,omitempty"`
	FlipTrigger string   `json:"flip_trigger"`
}

// statusLabel maps an evidence status to the supportive/draining/neutral
// label the brief prompt's bullet format uses.
func statusLabel(status string) string {
	switch status {
	case "1":
		return "supportive"
	case "-1":
		return "draining"
	default:
		return "neutral"
	}
}

// cleanFlipTrigger strips any "=> ..." annotation the registry's trigger
// text may carry, keeping the trigger expression only.
func cleanFlipTrigger(flip string) string {
	if idx := strings.Index(flip, "=>"); idx >= 0 {
		return strings.TrimSpace(flip[:idx])
	}
	return strings.TrimSpace(flip)
}

// formatCompactValue renders a value the way the brief prompt wants it:
// K/M/B/T-suffixed for large magnitudes, three decimals otherwise, with a
// " bps" suffix for IORB-flavored indicators.
func formatCompactValue(indicatorID string, value float64) string {
	abs := math.Abs(value)
	var out string
	switch {
	case abs >= 1e12:
		out = fmt.Sprintf("%.2fT", value/1e12)
	case abs >= 1e9:
		out = fmt.Sprintf("%.2fB", value/1e9)
	case abs >= 1e6:
		out = fmt.Sprintf("%.2fM", value/1e6)
	case abs >= 1e3:
		out = fmt.Sprintf("%.2fK", value/1e3)
	default:
		out = fmt.Sprintf("%.3f", value)
	}
	if strings.Contains(strings.ToLower(indicatorID), "iorb") {
		out += " bps"
	}
	return out
}

// buildIndicatorInfos converts evaluated evidence plus its spec into the
// prompt/verifier-facing summary.
func buildIndicatorInfos(evidence []model.IndicatorEvidence, specsByID map[string]model.IndicatorSpec) []IndicatorInfo {
	infos := make([]IndicatorInfo, 0, len(evidence))
	for _, e := range evidence {
		spec := specsByID[e.IndicatorID]
		name := spec.Name
		if name == "" {
			name = e.IndicatorID
		}
		obsDate := ""
		if e.Provenance.Single != nil {
			obsDate = e.Provenance.Single.ObservationDate.Format("2006-01-02")
		}
		infos = append(infos, IndicatorInfo{
			IndicatorID: e.IndicatorID,
			Name:        name,
			LatestValue: formatCompactValue(e.IndicatorID, e.Value),
			Window:      e.Window,
			Z20:         e.Z20,
			Status:      e.Status,
			StatusLabel: statusLabel(e.Status),
			ObsDate:     obsDate,
			FlipTrigger: cleanFlipTrigger(e.FlipTrigger),
		})
	}
	return infos
}

// BriefContext is the minimal regime/bucket/indicator-id summary handed to
// the prompt builder.
type BriefContext struct {
	Regime       string   `json:"regime"`
	Tilt         string   `json:"tilt"`
	Score        int      `json:"score"`
	MaxScore     int      `json:"max_score"`
	Buckets      []string `json:"buckets"`
	IndicatorIDs []string `json:"indicator_ids"`
}

func buildBriefContext(result snapshot.Result) BriefContext {
	buckets := make([]string, 0, len(result.Buckets))
	for _, b := range result.Buckets {
		buckets = append(buckets, b.BucketID)
	}
	ids := make([]string, 0, len(result.Indicators))
	for _, e := range result.Indicators {
		ids = append(ids, e.IndicatorID)
	}
	return BriefContext{
		Regime: result.Regime.Label, Tilt: result.Regime.Tilt,
		Score: result.Regime.Score, MaxScore: result.Regime.MaxScore,
		Buckets: buckets, IndicatorIDs: ids,
	}
}
