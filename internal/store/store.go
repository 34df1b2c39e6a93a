// Package store provides a thin bbolt wrapper for reserve's local data store.
//
// Design philosophy: the store is an intentional data accumulator, not a
// transparent HTTP cache. Data is written explicitly via fetch commands and
// read by analysis commands. No TTL, no auto-invalidation — you own your data.
//
// Buckets:
//
//	obs                 — accumulated raw FRED-style observations keyed by series+params
//	series_meta         — metadata for fetched series
//	vintages            — bitemporal series_vintages rows, every vintage retained
//	registry            — persisted IndicatorSpec table (seeded from internal/registry)
//	qt_caps             — QT runoff caps by effective_date
//	snapshots           — persisted liquidity regime Snapshot rows
//	frozen_inputs       — reproducibility record for a persisted Snapshot
//	snapshot_indicators — one row per evaluated indicator per persisted Snapshot
//	events_log          — audit trail of recompute/backfill invocations
//	briefs_cache        — durable cache of the last brief per snapshot
//	_meta               — internal: schema version, created_at
//
// Schema v3 adds the bitemporal liquidity-evaluation buckets on top of the
// v2 FRED observation cache; v1→v2 history is unchanged (see migrate).
package store

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/derickschaefer/reserve/internal/model"
)

// Current schema version. Bump when bucket layout or key format changes.
const schemaVersion = 3

// Bucket name constants.
var (
	bucketObs                = []byte("obs")
	bucketSeriesMeta         = []byte("series_meta")
	bucketVintages           = []byte("vintages")
	bucketRegistry           = []byte("registry")
	bucketQTCaps             = []byte("qt_caps")
	bucketSnapshots          = []byte("snapshots")
	bucketFrozenInputs       = []byte("frozen_inputs")
	bucketSnapshotIndicators = []byte("snapshot_indicators")
	bucketEventsLog          = []byte("events_log")
	bucketBriefsCache        = []byte("briefs_cache")
	bucketInternal           = []byte("_meta")
)

var allBucketNames = [][]byte{
	bucketObs, bucketSeriesMeta, bucketVintages, bucketRegistry, bucketQTCaps,
	bucketSnapshots, bucketFrozenInputs, bucketSnapshotIndicators,
	bucketEventsLog, bucketBriefsCache, bucketInternal,
}

// AllBuckets lists every top-level bucket for stats and clear operations.
var AllBuckets = []string{
	"obs", "series_meta", "vintages", "registry", "qt_caps", "snapshots",
	"frozen_inputs", "snapshot_indicators", "events_log", "briefs_cache",
}

// Store wraps a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path.
// Parent directories are created automatically.
// Runs schema migrations on every open.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path of the open database.
func (s *Store) Path() string {
	return s.db.Path()
}

// ─── Migrations ───────────────────────────────────────────────────────────────

// migrate ensures all buckets exist and the schema version is current.
// v1 → v2: realtime fields moved to envelope level; old obs entries are
// dropped (pre-release, no installed user data to preserve).
// v2 → v3: adds the bitemporal liquidity-evaluation buckets. Existing obs /
// series_meta data is untouched.
func (s *Store) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBucketNames {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketInternal)
		raw := meta.Get([]byte("schema_version"))

		if raw == nil {
			if err := meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion))); err != nil {
				return err
			}
			return meta.Put([]byte("created_at"), []byte(time.Now().UTC().Format(time.RFC3339)))
		}

		var existing int
		fmt.Sscanf(string(raw), "%d", &existing)

		if existing < 2 {
			if err := tx.DeleteBucket(bucketObs); err != nil {
				return fmt.Errorf("dropping obs bucket for v2 migration: %w", err)
			}
			if _, err := tx.CreateBucket(bucketObs); err != nil {
				return fmt.Errorf("recreating obs bucket for v2 migration: %w", err)
			}
		}
		if existing < 3 {
			// v3 buckets were already created above via CreateBucketIfNotExists.
		}
		if existing < schemaVersion {
			if err := meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion))); err != nil {
				return err
			}
		}

		return nil
	})
}

// ─── Series Metadata ──────────────────────────────────────────────────────────

// PutSeriesMeta stores metadata for a single series, stamping FetchedAt.
// Prefer PutSeriesMetaBatch when writing multiple series at once.
func (s *Store) PutSeriesMeta(meta model.SeriesMeta) error {
	meta.FetchedAt = time.Now().UTC()
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding series meta: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSeriesMeta).Put([]byte(meta.ID), data)
	})
}

// PutSeriesMetaBatch writes multiple series metadata entries in a single write
// transaction, replacing N fsyncs with one. This is the preferred method for
// batch fetch operations.
func (s *Store) PutSeriesMetaBatch(metas []model.SeriesMeta) error {
	if len(metas) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSeriesMeta)
		for _, meta := range metas {
			meta.FetchedAt = now
			data, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("encoding series meta %s: %w", meta.ID, err)
			}
			if err := bucket.Put([]byte(meta.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSeriesMeta retrieves metadata for a series by ID.
// Returns (meta, true, nil) if found, (zero, false, nil) if not found.
func (s *Store) GetSeriesMeta(id string) (model.SeriesMeta, bool, error) {
	var meta model.SeriesMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSeriesMeta).Get([]byte(id))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &meta)
	})
	if err != nil {
		return meta, false, err
	}
	return meta, meta.ID != "", nil
}

// ListSeriesMeta returns all stored series metadata, sorted by ID.
func (s *Store) ListSeriesMeta() ([]model.SeriesMeta, error) {
	var metas []model.SeriesMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSeriesMeta).ForEach(func(k, v []byte) error {
			var m model.SeriesMeta
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			metas = append(metas, m)
			return nil
		})
	})
	return metas, err
}

// ─── Observations (raw FRED-style cache) ──────────────────────────────────────

// ObsKey builds the canonical key for an observations entry.
// Format: series:<ID>|start:<date>|end:<date>|freq:<f>|units:<u>|agg:<a>
// Empty optional fields are omitted.
func ObsKey(seriesID, start, end, freq, units, agg string) string {
	key := "series:" + seriesID
	if start != "" {
		key += "|start:" + start
	}
	if end != "" {
		key += "|end:" + end
	}
	if freq != "" {
		key += "|freq:" + freq
	}
	if units != "" {
		key += "|units:" + units
	}
	if agg != "" {
		key += "|agg:" + agg
	}
	return key
}

// storedObsRow is the JSON-safe on-disk representation of a single observation.
type storedObsRow struct {
	Date     string   `json:"date"`
	Value    *float64 `json:"value"` // null = missing
	ValueRaw string   `json:"value_raw"`
}

// storedObs is the on-disk envelope for a series observations entry.
type storedObs struct {
	SeriesID      string         `json:"series_id"`
	FetchedAt     time.Time      `json:"fetched_at"`
	RealtimeStart string         `json:"realtime_start,omitempty"`
	RealtimeEnd   string         `json:"realtime_end,omitempty"`
	Obs           []storedObsRow `json:"observations"`
}

func obsToStored(o model.Observation) storedObsRow {
	row := storedObsRow{
		Date:     o.Date.Format("2006-01-02"),
		ValueRaw: o.ValueRaw,
	}
	if !o.IsMissing() {
		v := o.Value
		row.Value = &v
	}
	return row
}

func storedToObs(r storedObsRow, realtimeStart, realtimeEnd string) model.Observation {
	t, _ := time.Parse("2006-01-02", r.Date)
	obs := model.Observation{
		Date:          t,
		ValueRaw:      r.ValueRaw,
		RealtimeStart: realtimeStart,
		RealtimeEnd:   realtimeEnd,
	}
	if r.Value != nil {
		obs.Value = *r.Value
	} else {
		obs.Value = math.NaN()
	}
	return obs
}

func realtimeFieldsFromData(data model.SeriesData) (start, end string) {
	if len(data.Obs) > 0 {
		return data.Obs[0].RealtimeStart, data.Obs[0].RealtimeEnd
	}
	return "", ""
}

// PutObs stores observations under the given key in a single write transaction.
// Prefer PutObsBatch when writing multiple series at once.
func (s *Store) PutObs(key string, data model.SeriesData) error {
	rtStart, rtEnd := realtimeFieldsFromData(data)
	rows := make([]storedObsRow, len(data.Obs))
	for i, o := range data.Obs {
		rows[i] = obsToStored(o)
	}
	envelope := storedObs{
		SeriesID:      data.SeriesID,
		FetchedAt:     time.Now().UTC(),
		RealtimeStart: rtStart,
		RealtimeEnd:   rtEnd,
		Obs:           rows,
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding obs: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObs).Put([]byte(key), b)
	})
}

// PutObsBatch writes multiple series observations entries in a single write
// transaction, replacing N fsyncs with one.
func (s *Store) PutObsBatch(entries map[string]model.SeriesData) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketObs)
		for key, data := range entries {
			rtStart, rtEnd := realtimeFieldsFromData(data)
			rows := make([]storedObsRow, len(data.Obs))
			for i, o := range data.Obs {
				rows[i] = obsToStored(o)
			}
			envelope := storedObs{
				SeriesID:      data.SeriesID,
				FetchedAt:     now,
				RealtimeStart: rtStart,
				RealtimeEnd:   rtEnd,
				Obs:           rows,
			}
			b, err := json.Marshal(envelope)
			if err != nil {
				return fmt.Errorf("encoding obs %s: %w", data.SeriesID, err)
			}
			if err := bucket.Put([]byte(key), b); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetObs retrieves observations by key.
// Returns (data, true, nil) if found, (zero, false, nil) if not found.
func (s *Store) GetObs(key string) (model.SeriesData, bool, error) {
	var envelope storedObs
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketObs).Get([]byte(key))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &envelope)
	})
	if err != nil {
		return model.SeriesData{}, false, err
	}
	if envelope.SeriesID == "" {
		return model.SeriesData{}, false, nil
	}
	obs := make([]model.Observation, len(envelope.Obs))
	for i, r := range envelope.Obs {
		obs[i] = storedToObs(r, envelope.RealtimeStart, envelope.RealtimeEnd)
	}
	return model.SeriesData{SeriesID: envelope.SeriesID, Obs: obs}, true, nil
}

// ListObsKeys returns all keys in the obs bucket for a given series ID.
// The ID is matched exactly: keys for "GDP" do not include "GDPDEF".
// Pass seriesID="" to list all keys.
func (s *Store) ListObsKeys(seriesID string) ([]string, error) {
	prefix := "series:"
	exact := ""
	if seriesID != "" {
		exact = "series:" + seriesID
		prefix = exact
	}
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketObs).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			if exact != "" && string(k) != exact && !strings.HasPrefix(string(k), exact+"|") {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// ─── Bitemporal vintage store ─────────────────────────────────────────────────
//
// Every (series_id, observation_date, vintage_date, publication_date,
// fetched_at) tuple is retained as its own row, addressed by a
// null-byte-separated composite key in the same canonical-key spirit as
// ObsKey above. Because bbolt has no
// DISTINCT ON, the four read shapes below scan a series' key range in Go
// and pick winners by the (COALESCE(vintage_date, date(publication_date),
// date(fetched_at)), fetched_at) DESC recency rule.

const dateFmt = "2006-01-02"

func optDateString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateFmt)
}

// vintageKey builds the composite key for a SeriesPoint's identity tuple.
// fetched_at is part of the physical key so that successive fetches of the
// same observation coexist as distinct vintages (the as-of-fetched read
// paths depend on that); re-ingesting with an identical fetched_at still
// overwrites in place. Null vintage/publication dates encode as empty
// segments, so nulls compare equal within the key.
func vintageKey(seriesID string, obsDate time.Time, vintageDate, pubDate *time.Time, fetchedAt time.Time) []byte {
	parts := []string{
		seriesID,
		obsDate.UTC().Format(dateFmt),
		optDateString(vintageDate),
		optDateString(pubDate),
		fetchedAt.UTC().Format(time.RFC3339Nano),
	}
	return []byte(strings.Join(parts, "\x00"))
}

// seriesPrefix returns the key prefix covering every row for a series.
func seriesPrefix(seriesID string) []byte {
	return []byte(seriesID + "\x00")
}

// UpsertPoints writes rows for seriesID, stamping VintageID when absent.
// Upsert is idempotent: writing an identical row key twice overwrites in
// place rather than creating a duplicate. A re-fetch of the same
// observation with a later fetched_at lands as a new vintage row instead,
// which is what the as-of read paths reconstruct from.
func (s *Store) UpsertPoints(points []model.SeriesPoint) error {
	if len(points) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVintages)
		for _, p := range points {
			if p.VintageID == uuid.Nil {
				p.VintageID = uuid.New()
			}
			key := vintageKey(p.SeriesID, p.ObservationDate, p.VintageDate, p.PublicationDate, p.FetchedAt)
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encoding point %s: %w", p.SeriesID, err)
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// scanSeries returns every vintage row for seriesID, in no particular order.
func (s *Store) scanSeries(tx *bolt.Tx, seriesID string) ([]model.SeriesPoint, error) {
	var points []model.SeriesPoint
	prefix := seriesPrefix(seriesID)
	c := tx.Bucket(bucketVintages).Cursor()
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var p model.SeriesPoint
		if err := json.Unmarshal(v, &p); err != nil {
			return nil, fmt.Errorf("decoding vintage row: %w", err)
		}
		points = append(points, p)
	}
	return points, nil
}

// bestByObservationDate groups points by ObservationDate and keeps, per
// date, only the point passing filter with the greatest Recency(); filter
// may be nil to accept every point.
func bestByObservationDate(points []model.SeriesPoint, filter func(model.SeriesPoint) bool) map[string]model.SeriesPoint {
	best := make(map[string]model.SeriesPoint)
	for _, p := range points {
		if filter != nil && !filter(p) {
			continue
		}
		key := p.ObservationDate.UTC().Format(dateFmt)
		cur, ok := best[key]
		if !ok || cur.Recency().Less(p.Recency()) {
			best[key] = p
		}
	}
	return best
}

func sortedAscending(byDate map[string]model.SeriesPoint) []model.SeriesPoint {
	out := make([]model.SeriesPoint, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ObservationDate.Before(out[j].ObservationDate)
	})
	return out
}

// LatestForSeries returns the latest-by-best-known-recency row for each
// requested series_id. Unknown series_ids are simply absent from the
// result; reads never error on missing data.
func (s *Store) LatestForSeries(seriesIDs []string) (map[string]model.SeriesPoint, error) {
	out := make(map[string]model.SeriesPoint)
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, sid := range seriesIDs {
			points, err := s.scanSeries(tx, sid)
			if err != nil {
				return err
			}
			if len(points) == 0 {
				continue
			}
			by := bestByObservationDate(points, nil)
			asc := sortedAscending(by)
			out[sid] = asc[len(asc)-1]
		}
		return nil
	})
	return out, err
}

// RecentPoints returns at most `limit` most-recent-by-observation rows
// (each the best-known vintage for its observation date), sorted ascending
// by observation_date, with no as-of filter applied.
func (s *Store) RecentPoints(seriesID string, limit int) ([]model.SeriesPoint, error) {
	return s.asOfPoints(seriesID, limit, nil)
}

// AsOfFetched returns, for each observation_date, the best-known row with
// fetched_at <= asOf, sorted ascending by observation_date, truncated to
// the most recent `limit` rows (limit <= 0 means unlimited).
func (s *Store) AsOfFetched(seriesID string, asOf time.Time, limit int) ([]model.SeriesPoint, error) {
	return s.asOfPoints(seriesID, limit, func(p model.SeriesPoint) bool {
		return !p.FetchedAt.After(asOf)
	})
}

// AsOfPublication returns, for each observation_date, the best-known row
// whose COALESCE(vintage_date, publication_date, fetched_at) date is
// <= asOf's date.
func (s *Store) AsOfPublication(seriesID string, asOf time.Time, limit int) ([]model.SeriesPoint, error) {
	cutoff := dateOnlyStore(asOf)
	return s.asOfPoints(seriesID, limit, func(p model.SeriesPoint) bool {
		return !p.Recency().CoalesceDate.After(cutoff)
	})
}

// UpToObservationDate returns, for each observation_date <= asOf's date,
// the best-known vintage for that observation.
func (s *Store) UpToObservationDate(seriesID string, asOf time.Time, limit int) ([]model.SeriesPoint, error) {
	cutoff := dateOnlyStore(asOf)
	return s.asOfPoints(seriesID, limit, func(p model.SeriesPoint) bool {
		return !p.ObservationDate.UTC().After(cutoff)
	})
}

func dateOnlyStore(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ListVintageSeriesIDs returns every distinct series_id present in the
// vintages bucket, sorted ascending.
func (s *Store) ListVintageSeriesIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketVintages).Cursor()
		last := ""
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			sid, _, ok := strings.Cut(string(k), "\x00")
			if !ok || sid == last {
				continue
			}
			ids = append(ids, sid)
			last = sid
		}
		return nil
	})
	return ids, err
}

func (s *Store) asOfPoints(seriesID string, limit int, filter func(model.SeriesPoint) bool) ([]model.SeriesPoint, error) {
	var out []model.SeriesPoint
	err := s.db.View(func(tx *bolt.Tx) error {
		points, err := s.scanSeries(tx, seriesID)
		if err != nil {
			return err
		}
		by := bestByObservationDate(points, filter)
		asc := sortedAscending(by)
		if limit > 0 && len(asc) > limit {
			asc = asc[len(asc)-limit:]
		}
		out = asc
		return nil
	})
	return out, err
}

// ─── Indicator Registry (persisted override) ──────────────────────────────────

// PutRegistry replaces the persisted registry table.
func (s *Store) PutRegistry(specs []model.IndicatorSpec) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRegistry)
		if err := tx.DeleteBucket(bucketRegistry); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketRegistry)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			data, err := json.Marshal(spec)
			if err != nil {
				return fmt.Errorf("encoding indicator spec %s: %w", spec.IndicatorID, err)
			}
			if err := b.Put([]byte(spec.IndicatorID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListRegistry returns the persisted registry, sorted by indicator_id.
func (s *Store) ListRegistry() ([]model.IndicatorSpec, error) {
	var specs []model.IndicatorSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistry).ForEach(func(k, v []byte) error {
			var spec model.IndicatorSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			specs = append(specs, spec)
			return nil
		})
	})
	sort.Slice(specs, func(i, j int) bool { return specs[i].IndicatorID < specs[j].IndicatorID })
	return specs, err
}

// ─── QT Caps ───────────────────────────────────────────────────────────────────

// PutQTCap upserts a single QT cap row keyed by effective_date.
func (s *Store) PutQTCap(cap model.QTCap) error {
	data, err := json.Marshal(cap)
	if err != nil {
		return fmt.Errorf("encoding qt cap: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQTCaps).Put([]byte(cap.EffectiveDate.UTC().Format(dateFmt)), data)
	})
}

// LatestQTCap returns the most recent QTCap with EffectiveDate <= asOf.
func (s *Store) LatestQTCap(asOf time.Time) (model.QTCap, bool, error) {
	var best model.QTCap
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQTCaps).ForEach(func(k, v []byte) error {
			var cap model.QTCap
			if err := json.Unmarshal(v, &cap); err != nil {
				return err
			}
			if cap.EffectiveDate.After(asOf) {
				return nil
			}
			if !found || cap.EffectiveDate.After(best.EffectiveDate) {
				best = cap
				found = true
			}
			return nil
		})
	})
	return best, found, err
}

// ListQTCaps returns every QT cap row, sorted ascending by effective date.
func (s *Store) ListQTCaps() ([]model.QTCap, error) {
	var caps []model.QTCap
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQTCaps).ForEach(func(k, v []byte) error {
			var cap model.QTCap
			if err := json.Unmarshal(v, &cap); err != nil {
				return err
			}
			caps = append(caps, cap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].EffectiveDate.Before(caps[j].EffectiveDate) })
	return caps, nil
}

// ─── Regime Snapshots ──────────────────────────────────────────────────────────

// PutSnapshot persists a regime Snapshot, keyed by snapshot_id.
func (s *Store) PutSnapshot(snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(snap.SnapshotID.String()), data)
	})
}

// GetSnapshot retrieves a persisted Snapshot by ID.
func (s *Store) GetSnapshot(id uuid.UUID) (model.Snapshot, bool, error) {
	var snap model.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get([]byte(id.String()))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &snap)
	})
	if err != nil {
		return snap, false, err
	}
	return snap, snap.SnapshotID != uuid.Nil, nil
}

// ListSnapshots returns every persisted Snapshot, optionally restricted to
// a single horizon (pass "" for all).
func (s *Store) ListSnapshots(horizon string) ([]model.Snapshot, error) {
	var snaps []model.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var snap model.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if horizon == "" || snap.Horizon == horizon {
				snaps = append(snaps, snap)
			}
			return nil
		})
	})
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].AsOf.Before(snaps[j].AsOf) })
	return snaps, err
}

// DeleteSnapshotsForDay deletes every persisted Snapshot matching
// (horizon, date(as_of)) — the day-level upsert-by-delete-then-insert
// semantics used by events/recompute and events/backfill_history.
func (s *Store) DeleteSnapshotsForDay(horizon string, day time.Time) error {
	target := day.UTC().Format(dateFmt)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		var toDelete [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var snap model.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if snap.Horizon == horizon && snap.AsOf.UTC().Format(dateFmt) == target {
				key := append([]byte(nil), k...)
				toDelete = append(toDelete, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── Frozen Inputs ─────────────────────────────────────────────────────────────

// PutFrozenInputs persists a FrozenInputs record.
func (s *Store) PutFrozenInputs(fi model.FrozenInputs) error {
	data, err := json.Marshal(fi)
	if err != nil {
		return fmt.Errorf("encoding frozen inputs: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFrozenInputs).Put([]byte(fi.FrozenInputsID.String()), data)
	})
}

// GetFrozenInputs retrieves a FrozenInputs record by ID.
func (s *Store) GetFrozenInputs(id uuid.UUID) (model.FrozenInputs, bool, error) {
	var fi model.FrozenInputs
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketFrozenInputs).Get([]byte(id.String()))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &fi)
	})
	if err != nil {
		return fi, false, err
	}
	return fi, fi.FrozenInputsID != uuid.Nil, nil
}

// ─── Snapshot Indicators ───────────────────────────────────────────────────────

// PutSnapshotIndicators writes one row per evaluated indicator for a
// snapshot, in a single write transaction.
func (s *Store) PutSnapshotIndicators(rows []model.SnapshotIndicator) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshotIndicators)
		for _, row := range rows {
			key := row.SnapshotID.String() + "\x00" + row.IndicatorID
			data, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encoding snapshot indicator %s: %w", row.IndicatorID, err)
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSnapshotIndicators returns every row for a given snapshot.
func (s *Store) ListSnapshotIndicators(snapshotID uuid.UUID) ([]model.SnapshotIndicator, error) {
	var rows []model.SnapshotIndicator
	prefix := []byte(snapshotID.String() + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshotIndicators).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var row model.SnapshotIndicator
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].IndicatorID < rows[j].IndicatorID })
	return rows, err
}

// IndicatorHistoryPoint is one row of IndicatorHistory's result.
type IndicatorHistoryPoint struct {
	AsOf   time.Time `json:"as_of"`
	Value  float64   `json:"value_numeric"`
	Z20    *float64  `json:"z20,omitempty"`
	Status string    `json:"status"`
}

// IndicatorHistory returns up to limit persisted SnapshotIndicator rows for
// indicatorID across every snapshot at the given horizon, newest first,
// paired with the owning snapshot's as_of timestamp.
func (s *Store) IndicatorHistory(indicatorID, horizon string, limit int) ([]IndicatorHistoryPoint, error) {
	snaps, err := s.ListSnapshots(horizon)
	if err != nil {
		return nil, err
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].AsOf.After(snaps[j].AsOf) })
	var out []IndicatorHistoryPoint
	for _, snap := range snaps {
		rows, err := s.ListSnapshotIndicators(snap.SnapshotID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.IndicatorID != indicatorID {
				continue
			}
			out = append(out, IndicatorHistoryPoint{
				AsOf: snap.AsOf, Value: row.Value, Z20: row.Z20, Status: row.Status,
			})
			break
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ─── Events Log ────────────────────────────────────────────────────────────────

// AppendEventLog appends an EventsLog row, stamping a monotonically
// increasing ID from the bucket's next sequence.
func (s *Store) AppendEventLog(ev model.EventsLog) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEventsLog)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		ev.ID = int64(id)
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding event log row: %w", err)
		}
		return b.Put(itob(id), data)
	})
}

func itob(v uint64) []byte {
	return []byte(fmt.Sprintf("%020d", v))
}

// ListEventsLog returns every EventsLog row in ID order.
func (s *Store) ListEventsLog() ([]model.EventsLog, error) {
	var rows []model.EventsLog
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEventsLog).ForEach(func(k, v []byte) error {
			var ev model.EventsLog
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			rows = append(rows, ev)
			return nil
		})
	})
	return rows, err
}

// ─── Briefs Cache ──────────────────────────────────────────────────────────────

// PutBriefsCache persists the last brief generated for a snapshot.
func (s *Store) PutBriefsCache(bc model.BriefsCache) error {
	data, err := json.Marshal(bc)
	if err != nil {
		return fmt.Errorf("encoding briefs cache: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBriefsCache).Put([]byte(bc.SnapshotID.String()), data)
	})
}

// GetBriefsCache retrieves a cached brief by snapshot_id.
func (s *Store) GetBriefsCache(snapshotID uuid.UUID) (model.BriefsCache, bool, error) {
	var bc model.BriefsCache
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBriefsCache).Get([]byte(snapshotID.String()))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &bc)
	})
	if err != nil {
		return bc, false, err
	}
	return bc, bc.SnapshotID != uuid.Nil, nil
}

// ─── Stats & Maintenance ──────────────────────────────────────────────────────

// BucketStats holds row count and byte size for a single bucket.
type BucketStats struct {
	Name  string
	Count int
	Bytes int64
}

// Stats returns row counts and approximate sizes for all buckets.
func (s *Store) Stats() ([]BucketStats, error) {
	buckets := map[string][]byte{
		"obs":                 bucketObs,
		"series_meta":         bucketSeriesMeta,
		"vintages":            bucketVintages,
		"registry":            bucketRegistry,
		"qt_caps":             bucketQTCaps,
		"snapshots":           bucketSnapshots,
		"frozen_inputs":       bucketFrozenInputs,
		"snapshot_indicators": bucketSnapshotIndicators,
		"events_log":          bucketEventsLog,
		"briefs_cache":        bucketBriefsCache,
	}

	var stats []BucketStats
	err := s.db.View(func(tx *bolt.Tx) error {
		for name, bname := range buckets {
			b := tx.Bucket(bname)
			if b == nil {
				continue
			}
			var count int
			var bytes int64
			b.ForEach(func(k, v []byte) error {
				count++
				bytes += int64(len(k) + len(v))
				return nil
			})
			stats = append(stats, BucketStats{Name: name, Count: count, Bytes: bytes})
		}
		return nil
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats, err
}

// ClearBucket deletes all entries in the named bucket by drop-and-recreate,
// which is more efficient than iterating keys and returns pages to bbolt's
// internal freelist. Note: the database file does not shrink automatically;
// use Compact to reclaim disk space.
func (s *Store) ClearBucket(name string) error {
	bname := []byte(name)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bname); err != nil {
			return fmt.Errorf("clearing bucket %s: %w", name, err)
		}
		_, err := tx.CreateBucket(bname)
		return err
	})
}

// ClearAll deletes all entries from every user-facing bucket.
func (s *Store) ClearAll() error {
	for _, name := range AllBuckets {
		if err := s.ClearBucket(name); err != nil {
			return err
		}
	}
	return nil
}

// Compact rewrites the entire database to a new file, reclaiming disk space
// freed by prior deletions. bbolt does not shrink the file automatically after
// ClearBucket / ClearAll — free pages are reused internally but the file
// footprint does not decrease until compaction.
//
// The operation is safe: all live data is copied to a temporary file first,
// then the original is atomically replaced. The Store remains usable after
// Compact returns.
func (s *Store) Compact() (beforeBytes, afterBytes int64, err error) {
	path := s.db.Path()
	tmpPath := path + ".compact.tmp"

	if fi, err2 := os.Stat(path); err2 == nil {
		beforeBytes = fi.Size()
	}

	dst, err := bolt.Open(tmpPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return beforeBytes, 0, fmt.Errorf("opening temp db for compaction: %w", err)
	}

	if err = bolt.Compact(dst, s.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return beforeBytes, 0, fmt.Errorf("compacting db: %w", err)
	}
	dst.Close()

	if err = s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return beforeBytes, 0, fmt.Errorf("closing db before compaction swap: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		s.db, _ = bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
		return beforeBytes, 0, fmt.Errorf("replacing db with compacted copy: %w", err)
	}

	s.db, err = bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return beforeBytes, 0, fmt.Errorf("reopening compacted db: %w", err)
	}

	if fi, err2 := os.Stat(path); err2 == nil {
		afterBytes = fi.Size()
	}

	return beforeBytes, afterBytes, nil
}

// GCDuplicateVintages finds vintage rows sharing a (series_id,
// observation_date) and the same recency coalesce date (vintage date, else
// publication date, else fetch date) and keeps only the row with the
// greatest fetched_at, deleting the rest. Values are not compared. Returns
// the number of rows removed. Typically these are repeated same-day
// re-fetches of an unchanged observation.
func (s *Store) GCDuplicateVintages() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVintages)
		groups := make(map[string][]struct {
			key []byte
			pt  model.SeriesPoint
		})
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p model.SeriesPoint
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			gk := p.SeriesID + "\x00" + p.ObservationDate.UTC().Format(dateFmt) + "\x00" + p.Recency().CoalesceDate.Format(dateFmt)
			key := append([]byte(nil), k...)
			groups[gk] = append(groups[gk], struct {
				key []byte
				pt  model.SeriesPoint
			}{key, p})
		}
		for _, rows := range groups {
			if len(rows) < 2 {
				continue
			}
			best := rows[0]
			for _, r := range rows[1:] {
				if r.pt.FetchedAt.After(best.pt.FetchedAt) {
					best = r
				}
			}
			for _, r := range rows {
				if string(r.key) == string(best.key) {
					continue
				}
				if err := b.Delete(r.key); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}
