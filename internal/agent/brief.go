package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/derickschaefer/reserve/internal/registry"
	"github.com/derickschaefer/reserve/internal/snapshot"
)

// Brief is the full response of GenerateBrief: the underlying snapshot and
// router context, the generated markdown, a compact JSON summary, and the
// verifier's findings.
type Brief struct {
	Horizon        string                `json:"horizon"`
	AsOf           time.Time             `json:"as_of"`
	FrozenInputsID string                `json:"frozen_inputs_id,omitempty"`
	Snapshot       snapshot.Result       `json:"snapshot"`
	Router         []snapshot.RouterPick `json:"router"`
	Markdown       string                `json:"markdown"`
	JSON           BriefJSON             `json:"json"`
	Verifier       Verification          `json:"verifier"`
}

// BriefJSON is the compact machine-readable summary alongside the
// markdown.
type BriefJSON struct {
	Regime        string   `json:"regime"`
	TopIndicators []string `json:"top_indicators"`
	TopPicks      []string `json:"top_picks"`
}

const briefRequestTimeout = 20 * time.Second

var nilUUID = "00000000-0000-0000-0000-000000000000"

// GenerateBrief computes a non-persisted snapshot ("obs" as-of mode, so a
// historical as_of reads what was observable then), runs the router,
// builds the prompt, and asks the provider for a markdown brief. The brief and its backing snapshot are
// cached for briefTTL, keyed by (horizon, k) and horizon respectively —
// repeated calls within the window skip the provider entirely.
func (a *Agent) GenerateBrief(ctx context.Context, horizon string, asOf *time.Time, k int) (Brief, error) {
	if horizon == "" {
		horizon = "1w"
	}
	if k <= 0 {
		k = 12
	}

	cacheKey := fmt.Sprintf("%s|%d", horizon, k)
	if cached, ok := a.briefCache.get(cacheKey); ok {
		return cached.(Brief), nil
	}

	result, err := a.cachedSnapshot(horizon, asOf, k)
	if err != nil {
		return Brief{}, fmt.Errorf("computing snapshot: %w", err)
	}

	router, err := snapshot.ComputeRouter(a.store, a.specs, k)
	if err != nil {
		return Brief{}, fmt.Errorf("computing router: %w", err)
	}

	specsByID := registry.ByID(a.specs)
	infos := buildIndicatorInfos(result.Indicators, specsByID)

	brCtx := buildBriefContext(result)
	prompt := buildBriefPrompt(brCtx, infos)

	reqCtx, cancel := context.WithTimeout(ctx, briefRequestTimeout)
	defer cancel()
	markdown, err := a.provider.Complete(reqCtx, prompt)
	if err != nil {
		markdown = ""
	}

	verification := verifyBrief(markdown, infos, result.Regime.Score, result.Regime.MaxScore)

	topN := infos
	if len(topN) > 5 {
		topN = topN[:5]
	}
	topIDs := make([]string, 0, len(topN))
	for _, info := range topN {
		topIDs = append(topIDs, info.IndicatorID)
	}
	topPicks := make([]string, 0, len(router))
	for _, p := range router {
		topPicks = append(topPicks, p.IndicatorID)
	}

	brief := Brief{
		Horizon: horizon, AsOf: result.AsOf,
		Snapshot: result, Router: router, Markdown: markdown,
		JSON:     BriefJSON{Regime: result.Regime.Label, TopIndicators: topIDs, TopPicks: topPicks},
		Verifier: verification,
	}
	if result.FrozenInputsID.String() != nilUUID {
		brief.FrozenInputsID = result.FrozenInputsID.String()
	}

	a.briefCache.set(cacheKey, brief)
	return brief, nil
}

// cachedSnapshot returns the unsaved snapshot for horizon, reusing the
// snapshotTTL cache keyed by horizon alone (k only changes how many
// representatives are carried, not the underlying evaluation).
func (a *Agent) cachedSnapshot(horizon string, asOf *time.Time, k int) (snapshot.Result, error) {
	if cached, ok := a.snapshotCache.get(horizon); ok {
		return cached.(snapshot.Result), nil
	}
	result, err := snapshot.ComputeSnapshot(a.store, snapshot.Options{
		Horizon: horizon, K: k, Save: false, AsOf: asOf, AsOfMode: "obs", Specs: a.specs,
	})
	if err != nil {
		return snapshot.Result{}, err
	}
	a.snapshotCache.set(horizon, result)
	return result, nil
}

