package model

import (
	"time"

	"github.com/google/uuid"
)

// ─── Bitemporal Series Types ──────────────────────────────────────────────────

// Directionality values for IndicatorSpec.
const (
	DirHigherSupportive = "higher_is_supportive"
	DirLowerSupportive  = "lower_is_supportive"
	DirHigherDraining   = "higher_is_draining"
)

// Scoring rule values for IndicatorSpec.
const (
	ScoringZ         = "z"
	ScoringThreshold = "threshold"
)

// Category values for IndicatorSpec.Category. The aggregator's weight for
// each category is in aggregate.Weights.
const (
	CategoryCorePlumbing = "core_plumbing"
	CategoryFloor        = "floor"
	CategorySupply       = "supply"
	CategoryQTQE         = "qt_qe"
	CategoryStress       = "stress"
	CategoryGlobal       = "global"
)

// Status values produced by the indicator evaluator.
const (
	StatusPositive = 1
	StatusNeutral  = 0
	StatusNegative = -1
)

// StatusNA marks an indicator that could not be evaluated (missing data).
// It is distinct from StatusNeutral: NA indicators are excluded from the
// bucket/regime aggregator entirely rather than contributing a zero.
const StatusNA = "n/a"

// SeriesPoint is a single row in the bitemporal series store.
//
// Stored key: (SeriesID, ObservationDate, VintageDate, PublicationDate,
// FetchedAt). Nulls compare equal within that key. Rows that differ only in
// FetchedAt are kept as separate rows; (SeriesID, ObservationDate,
// VintageDate, PublicationDate) alone is not unique.
type SeriesPoint struct {
	VintageID       uuid.UUID  `json:"vintage_id"`
	SeriesID        string     `json:"series_id"`
	ObservationDate time.Time  `json:"observation_date"`
	VintageDate     *time.Time `json:"vintage_date,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	FetchedAt       time.Time  `json:"fetched_at"`
	ValueNumeric    float64    `json:"value_numeric"`
	Units           string     `json:"units"`
	Scale           float64    `json:"scale"`
	Source          string     `json:"source"`
	SourceURL       string     `json:"source_url,omitempty"`
	SourceVersion   string     `json:"source_version,omitempty"`
}

// ScaledValue returns ValueNumeric * Scale, the unit-adjusted value.
func (p SeriesPoint) ScaledValue() float64 {
	return p.ValueNumeric * p.Scale
}

// RecencyKey is the (COALESCE(vintage_date, date(publication_date),
// date(fetched_at)), fetched_at) tuple used as the single recency
// tie-break across every read path. Greater is more recent.
type RecencyKey struct {
	CoalesceDate time.Time
	FetchedAt    time.Time
}

// Less reports whether k is strictly less recent than other.
func (k RecencyKey) Less(other RecencyKey) bool {
	if !k.CoalesceDate.Equal(other.CoalesceDate) {
		return k.CoalesceDate.Before(other.CoalesceDate)
	}
	return k.FetchedAt.Before(other.FetchedAt)
}

// Recency computes the RecencyKey for a point.
func (p SeriesPoint) Recency() RecencyKey {
	switch {
	case p.VintageDate != nil:
		return RecencyKey{CoalesceDate: dateOnly(*p.VintageDate), FetchedAt: p.FetchedAt}
	case p.PublicationDate != nil:
		return RecencyKey{CoalesceDate: dateOnly(*p.PublicationDate), FetchedAt: p.FetchedAt}
	default:
		return RecencyKey{CoalesceDate: dateOnly(p.FetchedAt), FetchedAt: p.FetchedAt}
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ─── Indicator Registry ───────────────────────────────────────────────────────

// IndicatorSpec is the static, immutable-during-a-snapshot definition of an
// indicator: what series it reads, how it scores, and how it aggregates.
type IndicatorSpec struct {
	IndicatorID    string   `json:"indicator_id" yaml:"indicator_id"`
	Name           string   `json:"name" yaml:"name"`
	Category       string   `json:"category" yaml:"category"`
	Series         []string `json:"series" yaml:"series"`
	Cadence        string   `json:"cadence" yaml:"cadence"`
	Directionality string   `json:"directionality" yaml:"directionality"`
	Scoring        string   `json:"scoring" yaml:"scoring"`
	ZCutoff        float64  `json:"z_cutoff" yaml:"z_cutoff"`
	Persistence    int      `json:"persistence" yaml:"persistence"`
	TriggerDefault string   `json:"trigger_default" yaml:"trigger_default"`
	DuplicatesOf   string   `json:"duplicates_of,omitempty" yaml:"duplicates_of,omitempty"`
	PollWindowET   string   `json:"poll_window_et,omitempty" yaml:"poll_window_et,omitempty"`
	SLOMinutes     int      `json:"slo_minutes,omitempty" yaml:"slo_minutes,omitempty"`
	Notes          string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// DirectionalitySign maps a directionality to +1/-1.
func DirectionalitySign(directionality string) int {
	switch directionality {
	case DirLowerSupportive, DirHigherDraining:
		return -1
	default:
		return 1
	}
}

// QTCap is the most recent effective quantitative-tightening runoff cap.
type QTCap struct {
	EffectiveDate time.Time `json:"effective_date"`
	USTCapUSDWeek float64   `json:"ust_cap_usd_week"`
	MBSCapUSDWeek float64   `json:"mbs_cap_usd_week"`
}

// ─── Evaluator Output ──────────────────────────────────────────────────────────

// SeriesRef is the per-series provenance tuple: enough to re-read the exact
// point that fed an evaluation.
type SeriesRef struct {
	ObservationDate time.Time  `json:"observation_date"`
	VintageID       uuid.UUID  `json:"vintage_id"`
	FetchedAt       time.Time  `json:"fetched_at"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	VintageDate     *time.Time `json:"vintage_date,omitempty"`
	Source          string     `json:"source"`
}

// Threshold records the comparator (or percentile rule) a threshold-scored
// indicator was evaluated against.
type Threshold struct {
	Type        string  `json:"type,omitempty"` // "percentile" when set
	Operator    string  `json:"operator,omitempty"`
	Value       float64 `json:"value,omitempty"`
	Pct         float64 `json:"pct,omitempty"`
	CutoffValue float64 `json:"cutoff_value,omitempty"`
}

// Streak records persistence/hysteresis progress for threshold indicators.
type Streak struct {
	Current  int `json:"current"`
	Required int `json:"required"`
}

// Provenance records exactly which inputs produced an IndicatorEvidence.
type Provenance struct {
	Series    []string             `json:"series"`
	Single    *SeriesRef           `json:"single,omitempty"`
	Inputs    map[string]SeriesRef `json:"inputs,omitempty"`
	Threshold *Threshold           `json:"threshold,omitempty"`
	Streak    *Streak              `json:"streak,omitempty"`
	QTCap     *QTCap               `json:"qt_cap,omitempty"`
}

// IndicatorEvidence is the ephemeral per-indicator evaluator output.
type IndicatorEvidence struct {
	IndicatorID string     `json:"id"`
	Value       float64    `json:"value_numeric"`
	Window      string     `json:"window,omitempty"`
	Z20         *float64   `json:"z20,omitempty"`
	Status      string     `json:"status"` // "1", "0", "-1", or "n/a"
	FlipTrigger string     `json:"flip_trigger"`
	Provenance  Provenance `json:"provenance"`
}

// Contribution maps Status to an integer contribution, 0 for "n/a".
func (e IndicatorEvidence) Contribution() int {
	switch e.Status {
	case "1":
		return 1
	case "-1":
		return -1
	default:
		return 0
	}
}

// IsNA reports whether the indicator could not be evaluated.
func (e IndicatorEvidence) IsNA() bool {
	return e.Status == StatusNA
}

// AbsZ20 returns |z20|, or 0 if z20 is undefined (z-unknown treated as 0
// for representative-selection and evidence-ranking purposes).
func (e IndicatorEvidence) AbsZ20() float64 {
	if e.Z20 == nil {
		return 0
	}
	if *e.Z20 < 0 {
		return -*e.Z20
	}
	return *e.Z20
}

// ─── Bucket / Regime Aggregation ───────────────────────────────────────────────

// Bucket is an equivalence class of indicators reachable via DuplicatesOf.
type Bucket struct {
	BucketID        string   `json:"bucket_id"`
	Members         []string `json:"members"`
	Representative  string   `json:"representative"`
	Aggregate       float64  `json:"aggregate"`
	AggregateStatus int      `json:"aggregate_status"`
	Category        string   `json:"category"`
	Weight          float64  `json:"weight"`
}

// ─── Snapshot / FrozenInputs ───────────────────────────────────────────────────

// Snapshot is a persisted, reproducible regime evaluation.
type Snapshot struct {
	SnapshotID     uuid.UUID `json:"snapshot_id"`
	AsOf           time.Time `json:"as_of"`
	Horizon        string    `json:"horizon"`
	FrozenInputsID uuid.UUID `json:"frozen_inputs_id"`
	RegimeLabel    string    `json:"regime_label"`
	Tilt           string    `json:"tilt"`
	Score          int       `json:"score"`
	MaxScore       int       `json:"max_score"`
}

// Regime label values.
const (
	LabelPositive = "Positive"
	LabelNeutral  = "Neutral"
	LabelNegative = "Negative"
)

// Tilt values.
const (
	TiltPositive = "positive"
	TiltNegative = "negative"
	TiltFlat     = "flat"
)

// FrozenInputItem is one (indicator, series, vintage, observation) tuple.
type FrozenInputItem struct {
	IndicatorID     string    `json:"indicator_id"`
	SeriesID        string    `json:"series_id"`
	VintageID       uuid.UUID `json:"vintage_id"`
	ObservationDate time.Time `json:"observation_date"`
}

// FrozenInputs is the reproducibility record for a persisted Snapshot.
type FrozenInputs struct {
	FrozenInputsID uuid.UUID         `json:"frozen_inputs_id"`
	Items          []FrozenInputItem `json:"inputs_json"`
}

// SnapshotIndicator is one persisted evaluator output row, attached to a
// Snapshot by SnapshotID.
type SnapshotIndicator struct {
	SnapshotID  uuid.UUID  `json:"snapshot_id"`
	IndicatorID string     `json:"indicator_id"`
	Value       float64    `json:"value_numeric"`
	Window      string     `json:"window,omitempty"`
	Z20         *float64   `json:"z20,omitempty"`
	Status      string     `json:"status"`
	FlipTrigger string     `json:"flip_trigger"`
	Provenance  Provenance `json:"provenance_json"`
}

// EventsLog records one events/recompute or events/backfill_history
// invocation, an audit trail alongside the snapshot tables.
type EventsLog struct {
	ID                int64                  `json:"id"`
	EventType         string                 `json:"event_type"`
	SeriesOrIndicator string                 `json:"series_or_indicator,omitempty"`
	ScheduledFor      *time.Time             `json:"scheduled_for,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        *time.Time             `json:"finished_at,omitempty"`
	Status            string                 `json:"status"`
	Details           map[string]interface{} `json:"details,omitempty"`
}

// BriefsCache is a durable cache of the last brief generated for a
// persisted snapshot, keyed by SnapshotID (supplemented feature; see
// DESIGN.md).
type BriefsCache struct {
	SnapshotID      uuid.UUID `json:"snapshot_id"`
	JSONPayload     string    `json:"json_payload"`
	MarkdownPayload string    `json:"markdown_payload"`
	CreatedAt       time.Time `json:"created_at"`
}
