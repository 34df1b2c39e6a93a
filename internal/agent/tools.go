package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/derickschaefer/reserve/internal/snapshot"
)

// KnownIDs is the indicator/series ID universe the step prompt's
// typo-correction rule checks against: indicator_ids from the registry,
// series_ids from the registry unioned with the store's distinct vintage
// series.
type KnownIDs struct {
	IndicatorIDs []string
	SeriesIDs    []string
}

func (a *Agent) knownIDs() KnownIDs {
	indSet := make(map[string]struct{})
	seriesSet := make(map[string]struct{})
	for _, spec := range a.specs {
		indSet[spec.IndicatorID] = struct{}{}
		for _, sid := range spec.Series {
			seriesSet[sid] = struct{}{}
		}
	}
	if stored, err := a.store.ListVintageSeriesIDs(); err == nil {
		for _, sid := range stored {
			seriesSet[sid] = struct{}{}
		}
	}
	out := KnownIDs{}
	for id := range indSet {
		out.IndicatorIDs = append(out.IndicatorIDs, id)
	}
	for id := range seriesSet {
		out.SeriesIDs = append(out.SeriesIDs, id)
	}
	sort.Strings(out.IndicatorIDs)
	sort.Strings(out.SeriesIDs)
	return out
}

func (k KnownIDs) describe() string {
	var b strings.Builder
	b.WriteString("Known indicator IDs: ")
	b.WriteString(strings.Join(k.IndicatorIDs, ", "))
	b.WriteString("\nKnown series IDs: ")
	b.WriteString(strings.Join(k.SeriesIDs, ", "))
	return b.String()
}

// toolCall is a single parsed TOOL invocation: name plus raw JSON args.
type toolCall struct {
	Name string
	Args map[string]interface{}
}

func (t toolCall) key() string {
	b, _ := json.Marshal(t.Args)
	return t.Name + "|" + string(b)
}

// executeTool dispatches one tool call against the store/registry. Every
// tool is a pure read; results flow back to the streaming loop, which
// forwards a truncated, redacted JSON copy into the conversation.
func (a *Agent) executeTool(call toolCall) (interface{}, error) {
	switch call.Name {
	case "get_snapshot":
		horizon := stringArg(call.Args, "horizon", "1w")
		k := intArg(call.Args, "k", 8)
		result, err := a.cachedSnapshot(horizon, nil, k)
		if err != nil {
			return nil, err
		}
		return result, nil

	case "get_router":
		horizon := stringArg(call.Args, "horizon", "1w")
		k := intArg(call.Args, "k", 8)
		_ = horizon
		return snapshot.ComputeRouter(a.store, a.specs, k)

	case "get_indicator_history":
		id := stringArg(call.Args, "indicator_id", "")
		if id == "" {
			return nil, fmt.Errorf("get_indicator_history requires indicator_id")
		}
		horizon := stringArg(call.Args, "horizon", "")
		limit := clampLimit(intArg(call.Args, "days", 20), 6, 60)
		cacheKey := fmt.Sprintf("%s|%s|%d", id, horizon, limit)
		if cached, ok := a.historyCache.get(cacheKey); ok {
			return cached, nil
		}
		rows, err := a.store.IndicatorHistory(id, horizon, limit)
		if err != nil {
			return nil, err
		}
		a.historyCache.set(cacheKey, rows)
		return rows, nil

	case "get_series_history":
		id := stringArg(call.Args, "series_id", "")
		if id == "" {
			return nil, fmt.Errorf("get_series_history requires series_id")
		}
		limit := clampLimit(intArg(call.Args, "limit", 20), 6, 60)
		return a.store.RecentPoints(id, limit)

	case "get_indicator_doc":
		id := stringArg(call.Args, "indicator_id", "")
		doc, ok := lookupIndicatorDoc(id)
		if !ok {
			return map[string]string{"answer": "I don't know based on registry docs; no documentation is configured for this indicator."}, nil
		}
		return doc, nil

	case "get_series_doc":
		id := stringArg(call.Args, "series_id", "")
		doc, ok := lookupSeriesDoc(id)
		if !ok {
			return map[string]string{"answer": "I don't know based on registry docs; no documentation is configured for this series."}, nil
		}
		return doc, nil

	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func stringArg(args map[string]interface{}, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func intArg(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}
