// Package agent implements the brief generator and the streaming
// tool-calling question-answering loop on top of internal/snapshot and
// internal/llmprovider.
//
// The pieces: TTL caches for briefs/snapshots/history, PII redaction on
// the ask loop's question, answer and tool-result summaries, a brief verifier that
// checks structure and numeric parity against the snapshot context, a
// six-tool read-only catalog, and a {thinking, tool-arg-capture,
// answering, done} streaming state machine.
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/derickschaefer/reserve/internal/llmprovider"
	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/snapshot"
	"github.com/derickschaefer/reserve/internal/store"
)

// Store is the persistence surface the agent needs: everything
// internal/snapshot.ComputeSnapshot needs, plus indicator history and the
// durable brief cache.
type Store interface {
	snapshot.Store
	IndicatorHistory(indicatorID, horizon string, limit int) ([]store.IndicatorHistoryPoint, error)
	ListVintageSeriesIDs() ([]string, error)
	GetBriefsCache(snapshotID uuid.UUID) (model.BriefsCache, bool, error)
	PutBriefsCache(bc model.BriefsCache) error
}

// Agent holds everything GenerateBrief and AnswerQuestion need: the store,
// the LLM provider, the indicator registry, and the three TTL caches the
// orchestrator keeps at module scope. A single Agent is meant to live for
// the lifetime of a CLI invocation or an HTTP server process — the caches
// are what make repeated brief/ask calls within the TTL window cheap.
type Agent struct {
	store    Store
	provider llmprovider.Provider
	specs    []model.IndicatorSpec

	briefCache    *ttlCache
	snapshotCache *ttlCache
	historyCache  *ttlCache
}

// New builds an Agent. specs is the effective indicator registry (from
// internal/registry.Default() or a YAML override).
func New(s Store, provider llmprovider.Provider, specs []model.IndicatorSpec) *Agent {
	return &Agent{
		store:    s,
		provider: provider,
		specs:    specs,

		briefCache:    newTTLCache(briefTTL, nil),
		snapshotCache: newTTLCache(snapshotTTL, nil),
		historyCache:  newTTLCache(indicatorHistoryTTL, nil),
	}
}

func clampLimit(limit, lo, hi int) int {
	if limit < lo {
		return lo
	}
	if limit > hi {
		return hi
	}
	return limit
}

func formatAsOf(asOf *time.Time) string {
	if asOf == nil {
		return ""
	}
	return asOf.Format(time.RFC3339)
}
