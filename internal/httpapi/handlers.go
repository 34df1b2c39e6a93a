package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/derickschaefer/reserve/internal/agent"
	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/registry"
	"github.com/derickschaefer/reserve/internal/snapshot"
	"github.com/derickschaefer/reserve/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseAsOf parses the as_of query parameter. Accepts full RFC3339
// timestamps (a trailing "Z" is handled natively) or a bare YYYY-MM-DD
// date. Per the route table, an invalid as_of is a hard 400 on POST
// endpoints and silently ignored on GET /snapshot.
func parseAsOf(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if d, err := util.ParseDate(raw); err == nil {
		return &d, nil
	}
	return nil, errInvalidAsOf
}

var errInvalidAsOf = &invalidInputError{"invalid as_of timestamp, expected RFC3339 or YYYY-MM-DD"}

type invalidInputError struct{ msg string }

func (e *invalidInputError) Error() string { return e.msg }

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v := strings.ToLower(r.URL.Query().Get(key))
	return v == "1" || v == "true" || v == "yes"
}

func (s *Server) specsOrDefault() []model.IndicatorSpec {
	if s.specs != nil {
		return s.specs
	}
	return registry.Default()
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Registry ───────────────────────────────────────────────────────────────

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	specs := s.specsOrDefault()
	if queryBool(r, "only_available") {
		specs = s.filterAvailable(specs)
	}
	writeJSON(w, http.StatusOK, specs)
}

func (s *Server) handleIndicatorsList(w http.ResponseWriter, r *http.Request) {
	specs := s.specsOrDefault()
	if queryBool(r, "only_available") {
		specs = s.filterAvailable(specs)
	}
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		ids = append(ids, spec.IndicatorID)
	}
	writeJSON(w, http.StatusOK, ids)
}

// filterAvailable keeps only indicators for which at least one of their
// series has a stored point. If the store lookup fails, specs is returned
// unfiltered.
func (s *Server) filterAvailable(specs []model.IndicatorSpec) []model.IndicatorSpec {
	var ids []string
	for _, spec := range specs {
		ids = append(ids, spec.Series...)
	}
	latest, err := s.store.LatestForSeries(ids)
	if err != nil {
		return specs
	}
	out := make([]model.IndicatorSpec, 0, len(specs))
	for _, spec := range specs {
		for _, sid := range spec.Series {
			if _, ok := latest[sid]; ok {
				out = append(out, spec)
				break
			}
		}
	}
	return out
}

func (s *Server) handleRegistryBuckets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, registry.Buckets(s.specsOrDefault()))
}

// ─── Series ─────────────────────────────────────────────────────────────────

func (s *Server) handleSeriesGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 500)

	asOf, err := parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var points []model.SeriesPoint
	if asOf != nil {
		points, err = s.store.AsOfFetched(id, *asOf, limit)
	} else {
		points, err = s.store.RecentPoints(id, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if start := r.URL.Query().Get("start"); start != "" {
		if d, err := util.ParseDate(start); err == nil {
			points = filterFrom(points, d, true)
		}
	}
	if end := r.URL.Query().Get("end"); end != "" {
		if d, err := util.ParseDate(end); err == nil {
			points = filterFrom(points, d, false)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"series_id": id,
		"points":    points,
	})
}

func filterFrom(points []model.SeriesPoint, bound time.Time, keepAfterOrEqual bool) []model.SeriesPoint {
	out := make([]model.SeriesPoint, 0, len(points))
	for _, p := range points {
		if keepAfterOrEqual {
			if !p.ObservationDate.Before(bound) {
				out = append(out, p)
			}
		} else {
			if !p.ObservationDate.After(bound) {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *Server) handleSeriesList(w http.ResponseWriter, r *http.Request) {
	set := make(map[string]struct{})
	for _, spec := range s.specsOrDefault() {
		for _, sid := range spec.Series {
			set[sid] = struct{}{}
		}
	}
	if metas, err := s.store.ListSeriesMeta(); err == nil {
		for _, m := range metas {
			set[m.ID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, ids)
}

// ─── Snapshot / Router ──────────────────────────────────────────────────────

func (s *Server) handleSnapshotGet(w http.ResponseWriter, r *http.Request) {
	horizon := r.URL.Query().Get("horizon")
	k := queryInt(r, "k", 8)
	// GET /snapshot silently ignores an invalid as_of per the route table.
	asOf, _ := parseAsOf(r.URL.Query().Get("as_of"))

	result, err := snapshot.ComputeSnapshot(s.store, snapshot.Options{
		Horizon: horizon, K: k, Save: false, AsOf: asOf, Specs: s.specsOrDefault(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse(result))
}

func (s *Server) handleRouterGet(w http.ResponseWriter, r *http.Request) {
	horizon := r.URL.Query().Get("horizon")
	k := queryInt(r, "k", 8)
	picks, err := snapshot.ComputeRouter(s.store, s.specsOrDefault(), k)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"horizon": horizon, "picks": picks})
}

func snapshotResponse(result snapshot.Result) map[string]interface{} {
	resp := map[string]interface{}{
		"as_of":      result.AsOf,
		"horizon":    result.Horizon,
		"regime":     result.Regime,
		"indicators": result.Indicators,
		"buckets":    result.Buckets,
	}
	if result.SnapshotID.String() != "00000000-0000-0000-0000-000000000000" {
		resp["snapshot_id"] = result.SnapshotID
		resp["frozen_inputs_id"] = result.FrozenInputsID
	}
	return resp
}

// ─── Events ─────────────────────────────────────────────────────────────────

func (s *Server) handleEventsRecompute(w http.ResponseWriter, r *http.Request) {
	started := time.Now().UTC()
	horizon := r.URL.Query().Get("horizon")
	if horizon == "" {
		horizon = "1w"
	}
	k := queryInt(r, "k", 8)
	asOfMode := r.URL.Query().Get("as_of_mode")
	if asOfMode == "" {
		asOfMode = "fetched"
	}
	asOf, err := parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := snapshot.ComputeSnapshot(s.store, snapshot.Options{
		Horizon: horizon, K: k, Save: true, AsOf: asOf, AsOfMode: asOfMode, Specs: s.specsOrDefault(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	finished := time.Now().UTC()
	_ = s.store.AppendEventLog(model.EventsLog{
		EventType: "recompute", StartedAt: started, FinishedAt: &finished, Status: "ok",
		Details: map[string]interface{}{
			"horizon": horizon, "as_of": result.AsOf.Format(time.RFC3339),
			"snapshot_id": result.SnapshotID.String(),
		},
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"as_of":    result.AsOf,
		"snapshot": snapshotResponse(result),
	})
}

func (s *Server) handleEventsBackfillHistory(w http.ResponseWriter, r *http.Request) {
	horizon := r.URL.Query().Get("horizon")
	if horizon == "" {
		horizon = "1w"
	}
	days := queryInt(r, "days", 180)
	k := queryInt(r, "k", 8)
	asOfMode := r.URL.Query().Get("as_of_mode")
	if asOfMode == "" {
		asOfMode = "obs"
	}

	now := time.Now().UTC()
	persisted := 0
	for i := days; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		asOf := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, time.UTC)
		if _, err := snapshot.ComputeSnapshot(s.store, snapshot.Options{
			Horizon: horizon, K: k, Save: true, AsOf: &asOf, AsOfMode: asOfMode, Specs: s.specsOrDefault(),
		}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		persisted++
	}
	finished := time.Now().UTC()
	_ = s.store.AppendEventLog(model.EventsLog{
		EventType: "backfill_history", StartedAt: now, FinishedAt: &finished, Status: "ok",
		Details: map[string]interface{}{"horizon": horizon, "days": days, "persisted": persisted},
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"horizon": horizon, "days": days, "persisted": persisted,
	})
}

// ─── History ────────────────────────────────────────────────────────────────

func (s *Server) handleSnapshotHistory(w http.ResponseWriter, r *http.Request) {
	horizon := r.URL.Query().Get("horizon")
	if horizon == "" {
		horizon = "1w"
	}
	days := queryInt(r, "days", 180)
	slim := true
	if v := r.URL.Query().Get("slim"); v != "" {
		slim = queryBool(r, "slim")
	}

	snaps, err := s.store.ListSnapshots(horizon)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deduped := dedupedByDay(snaps, cutoff)

	if !slim {
		writeJSON(w, http.StatusOK, deduped)
		return
	}
	slimRows := make([]map[string]interface{}, 0, len(deduped))
	for _, snap := range deduped {
		slimRows = append(slimRows, map[string]interface{}{
			"as_of": snap.AsOf, "regime": snap.RegimeLabel, "tilt": snap.Tilt,
			"score": snap.Score, "max_score": snap.MaxScore,
		})
	}
	writeJSON(w, http.StatusOK, slimRows)
}

// dedupedByDay keeps the latest snapshot per calendar day, sorted newest
// first, dropping anything older than cutoff.
func dedupedByDay(snaps []model.Snapshot, cutoff time.Time) []model.Snapshot {
	byDay := make(map[string]model.Snapshot)
	for _, snap := range snaps {
		if snap.AsOf.Before(cutoff) {
			continue
		}
		key := snap.AsOf.Format("2006-01-02")
		if cur, ok := byDay[key]; !ok || snap.AsOf.After(cur.AsOf) {
			byDay[key] = snap
		}
	}
	out := make([]model.Snapshot, 0, len(byDay))
	for _, snap := range byDay {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AsOf.After(out[j].AsOf) })
	return out
}

func (s *Server) handleIndicatorHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	horizon := r.URL.Query().Get("horizon")
	if horizon == "" {
		horizon = "1w"
	}
	days := queryInt(r, "days", 180)

	rows, err := s.store.IndicatorHistory(id, horizon, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ─── LLM ─────────────────────────────────────────────────────────────────────

func (s *Server) handleLLMBrief(w http.ResponseWriter, r *http.Request) {
	horizon := r.URL.Query().Get("horizon")
	if horizon == "" {
		horizon = "1w"
	}
	k := queryInt(r, "k", 12)
	asOf, err := parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	brief, err := s.agent.GenerateBrief(r.Context(), horizon, asOf, k)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": snapshotResponse(brief.Snapshot),
		"router":   brief.Router,
		"markdown": brief.Markdown,
		"json":     brief.JSON,
		"verifier": brief.Verifier,
	})
}

func (s *Server) handleLLMAskStream(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if strings.TrimSpace(question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	horizon := r.URL.Query().Get("horizon")
	asOf, err := parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev := range s.agent.AnswerQuestion(r.Context(), question, horizon, asOf) {
		writeSSE(w, ev)
		flusher.Flush()
	}
}

// writeSSE frames one event per the route table: "event: <name>\ndata:
// <json>\n\n".
func writeSSE(w http.ResponseWriter, ev agent.Event) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		payload = []byte(`null`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
}
