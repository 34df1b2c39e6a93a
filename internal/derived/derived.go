// Package derived implements the two canonical derived-series builders:
// weekly net Treasury settlements and the bill-RRP spread. Both are pure
// functions of the store's latest vintages plus a writer.
//
// Both builders are intersection-restricted: a week or date is only
// emitted when every required input contributed an observation, so a
// partially-ingested window never produces misleading rows.
package derived

import (
	"sort"
	"time"

	"github.com/derickschaefer/reserve/internal/model"
)

// Reader is the subset of the store needed by the derived builders.
type Reader interface {
	LatestForSeries(seriesIDs []string) (map[string]model.SeriesPoint, error)
}

// Writer is the subset of the store needed to persist derived output.
type Writer interface {
	UpsertPoints(points []model.SeriesPoint) error
}

const (
	SeriesUSTNetSettleW = "UST_NET_SETTLE_W"
	SeriesBillRRPBps    = "BILL_RRP_BPS"

	seriesAuctionIssues = "UST_AUCTION_ISSUES"
	seriesRedemptions   = "UST_REDEMPTIONS"
	seriesInterest      = "UST_INTEREST"

	seriesRRPRate = "RRP_RATE"
	seriesDTB3    = "DTB3"
	seriesDTB4WK  = "DTB4WK"
)

// mondayOf returns the Monday of the calendar week containing d.
func mondayOf(d time.Time) time.Time {
	wd := int(d.Weekday()) // Sunday=0 .. Saturday=6
	// Convert to Monday=0 .. Sunday=6.
	offset := (wd + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// allVintagesReader additionally exposes the full per-series history, which
// the builders need (LatestForSeries only returns one row per series).
type allVintagesReader interface {
	Reader
	UpToObservationDate(seriesID string, asOf time.Time, limit int) ([]model.SeriesPoint, error)
}

// ComputeWeeklyNetSettlements reads UST_AUCTION_ISSUES, UST_REDEMPTIONS, and
// UST_INTEREST, buckets by Monday-anchored calendar week, and emits
// issues - redemptions - interest for every week where all three
// contributed at least one observation. Weeks missing any component are
// suppressed.
func ComputeWeeklyNetSettlements(r allVintagesReader, asOf time.Time, lookbackWeeks int) ([]model.SeriesPoint, error) {
	horizon := asOf.AddDate(0, 0, -7*lookbackWeeks)

	issues, err := r.UpToObservationDate(seriesAuctionIssues, asOf, 0)
	if err != nil {
		return nil, err
	}
	redemptions, err := r.UpToObservationDate(seriesRedemptions, asOf, 0)
	if err != nil {
		return nil, err
	}
	interest, err := r.UpToObservationDate(seriesInterest, asOf, 0)
	if err != nil {
		return nil, err
	}

	type weekAgg struct {
		issues, redemptions, interest     float64
		hasIssues, hasRedemptions, hasInt bool
	}
	weeks := make(map[string]*weekAgg)

	add := func(points []model.SeriesPoint, apply func(*weekAgg, float64)) {
		for _, p := range points {
			if p.ObservationDate.Before(horizon) {
				continue
			}
			wk := mondayOf(p.ObservationDate).Format("2006-01-02")
			agg, ok := weeks[wk]
			if !ok {
				agg = &weekAgg{}
				weeks[wk] = agg
			}
			apply(agg, p.ScaledValue())
		}
	}
	add(issues, func(a *weekAgg, v float64) { a.issues += v; a.hasIssues = true })
	add(redemptions, func(a *weekAgg, v float64) { a.redemptions += v; a.hasRedemptions = true })
	add(interest, func(a *weekAgg, v float64) { a.interest += v; a.hasInt = true })

	var weekKeys []string
	for wk := range weeks {
		weekKeys = append(weekKeys, wk)
	}
	sort.Strings(weekKeys)

	var out []model.SeriesPoint
	for _, wk := range weekKeys {
		agg := weeks[wk]
		if !(agg.hasIssues && agg.hasRedemptions && agg.hasInt) {
			continue
		}
		wkDate, _ := time.Parse("2006-01-02", wk)
		net := agg.issues - agg.redemptions - agg.interest
		out = append(out, model.SeriesPoint{
			SeriesID:        SeriesUSTNetSettleW,
			ObservationDate: wkDate,
			FetchedAt:       asOf,
			ValueNumeric:    net,
			Units:           "USD",
			Scale:           1.0,
			Source:          "DERIVED",
		})
	}
	return out, nil
}

// ComputeBillRRPSpread reads RRP_RATE, DTB3, and DTB4WK and emits
// spread_bps = (min(available bills) - rrp) * 100 for every date where
// RRP_RATE and at least one bill series has a point. Missing RRP suppresses
// the date; missing both bills suppresses it.
func ComputeBillRRPSpread(r allVintagesReader, asOf time.Time, lookbackDays int) ([]model.SeriesPoint, error) {
	horizon := asOf.AddDate(0, 0, -lookbackDays)

	rrp, err := r.UpToObservationDate(seriesRRPRate, asOf, 0)
	if err != nil {
		return nil, err
	}
	dtb3, err := r.UpToObservationDate(seriesDTB3, asOf, 0)
	if err != nil {
		return nil, err
	}
	dtb4wk, err := r.UpToObservationDate(seriesDTB4WK, asOf, 0)
	if err != nil {
		return nil, err
	}

	byDate := func(points []model.SeriesPoint) map[string]float64 {
		m := make(map[string]float64)
		for _, p := range points {
			if p.ObservationDate.Before(horizon) {
				continue
			}
			m[p.ObservationDate.Format("2006-01-02")] = p.ScaledValue()
		}
		return m
	}
	rrpByDate := byDate(rrp)
	dtb3ByDate := byDate(dtb3)
	dtb4wkByDate := byDate(dtb4wk)

	var dates []string
	for d := range rrpByDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var out []model.SeriesPoint
	for _, d := range dates {
		rrpVal, ok := rrpByDate[d]
		if !ok {
			continue
		}
		bill3, has3 := dtb3ByDate[d]
		bill4, has4 := dtb4wkByDate[d]
		if !has3 && !has4 {
			continue
		}
		minBill := bill3
		switch {
		case has3 && has4:
			if bill4 < bill3 {
				minBill = bill4
			}
		case has4:
			minBill = bill4
		}
		spreadBps := (minBill - rrpVal) * 100
		obsDate, _ := time.Parse("2006-01-02", d)
		out = append(out, model.SeriesPoint{
			SeriesID:        SeriesBillRRPBps,
			ObservationDate: obsDate,
			FetchedAt:       asOf,
			ValueNumeric:    spreadBps,
			Units:           "bps",
			Scale:           1.0,
			Source:          "DERIVED",
		})
	}
	return out, nil
}

// BuildAndUpsert recomputes both derived series from scratch and upserts
// the result. Both builders are pure functions of store contents; nothing
// is cached between invocations.
func BuildAndUpsert(rw interface {
	allVintagesReader
	Writer
}, asOf time.Time) error {
	net, err := ComputeWeeklyNetSettlements(rw, asOf, 520) // ~10y lookback
	if err != nil {
		return err
	}
	if err := rw.UpsertPoints(net); err != nil {
		return err
	}
	spread, err := ComputeBillRRPSpread(rw, asOf, 3650) // ~10y lookback
	if err != nil {
		return err
	}
	return rw.UpsertPoints(spread)
}
