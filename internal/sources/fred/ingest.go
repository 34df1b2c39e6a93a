// Package fred adapts upstream macro-financial feeds into
// model.SeriesPoint rows for the bitemporal store. The live FRED
// observation fetch reuses internal/fred.Client; the Treasury DTS,
// Treasury auction, and OFR FSI adapters are contracts only — pure
// row-shape parsers, no HTTP client of their own, per the row shapes
// named for each upstream source.
//
// internal/fred/client.go supplies the FRED wire shape and
// retry/rate-limit plumbing; internal/util's ParseObsValue is the shared
// "skip non-numeric" contract every adapter here honors.
package fred

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/derickschaefer/reserve/internal/fred"
	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/util"
)

// FetchSeries pulls observations for one series from FRED and converts
// them into bitemporal SeriesPoint rows ready for store.UpsertPoints.
// Observations whose value is "." or otherwise non-numeric are skipped,
// the same contract FRED's own API client already degrades to via
// util.ParseObsValue.
func FetchSeries(ctx context.Context, client *fred.Client, seriesID string, opts fred.ObsOptions) ([]model.SeriesPoint, error) {
	data, err := client.GetObservations(ctx, seriesID, opts)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", seriesID, err)
	}

	fetchedAt := time.Now().UTC()
	points := make([]model.SeriesPoint, 0, len(data.Obs))
	for _, o := range data.Obs {
		if math.IsNaN(o.Value) {
			continue
		}
		var publication *time.Time
		if o.RealtimeStart != "" {
			if t, err := util.ParseDate(o.RealtimeStart); err == nil {
				publication = &t
			}
		}
		points = append(points, model.SeriesPoint{
			VintageID:       uuid.New(),
			SeriesID:        strings.ToUpper(seriesID),
			ObservationDate: o.Date,
			PublicationDate: publication,
			FetchedAt:       fetchedAt,
			ValueNumeric:    o.Value,
			Units:           "level",
			Scale:           1,
			Source:          "fred",
		})
	}
	return points, nil
}

// ─── Treasury DTS operating cash balance (contract only) ──────────────────

// dtsTGASeriesID is the synthetic series ID this adapter writes to — the
// Treasury General Account balance has no FRED mirror with daily
// granularity, so ingestion writes directly under this ID.
const dtsTGASeriesID = "TGA_DTS"

// ParseDTSRow converts one row of the Daily Treasury Statement's
// "Deposits and Withdrawals of Operating Cash" table into a SeriesPoint.
// Per the adapter contract: only rows whose account_type contains both
// "treasury general" and "account" (case-insensitive) describe the TGA
// balance; the close-of-day balance is preferred, falling back to the
// opening balance when the day's close wasn't yet posted.
func ParseDTSRow(recordDate, accountType, closeTodayBal, openTodayBal string) (model.SeriesPoint, bool, error) {
	lower := strings.ToLower(accountType)
	if !strings.Contains(lower, "treasury general") || !strings.Contains(lower, "account") {
		return model.SeriesPoint{}, false, nil
	}

	date, err := util.ParseDate(recordDate)
	if err != nil {
		return model.SeriesPoint{}, false, fmt.Errorf("parsing record_date %q: %w", recordDate, err)
	}

	raw := closeTodayBal
	if strings.TrimSpace(raw) == "" {
		raw = openTodayBal
	}
	value := util.ParseObsValue(raw)
	if math.IsNaN(value) {
		return model.SeriesPoint{}, false, nil
	}

	return model.SeriesPoint{
		VintageID:       uuid.New(),
		SeriesID:        dtsTGASeriesID,
		ObservationDate: date,
		PublicationDate: &date,
		FetchedAt:       time.Now().UTC(),
		ValueNumeric:    value,
		Units:           "USD_millions",
		Scale:           1,
		Source:          "treasury_dts",
	}, true, nil
}

// ─── Treasury auction results (contract only) ──────────────────────────────

// AuctionClass classifies a Treasury auction row by its security_type
// field, per the adapter contract: "bill" substring matches is_bill,
// note/bond/tips/frn substrings match is_coupon.
type AuctionClass struct {
	IsBill   bool
	IsCoupon bool
}

// ClassifyAuction inspects a security_type string and reports which
// coarse auction class it belongs to. Neither field is set when the
// security type matches neither pattern (e.g. an unrecognized CMB).
func ClassifyAuction(securityType string) AuctionClass {
	lower := strings.ToLower(securityType)
	class := AuctionClass{IsBill: strings.Contains(lower, "bill")}
	for _, substr := range []string{"note", "bond", "tips", "frn"} {
		if strings.Contains(lower, substr) {
			class.IsCoupon = true
			break
		}
	}
	return class
}

// AuctionRow is the shape of one Treasury auction result row this adapter
// contract expects, reduced to the fields the registry's qt_pace/ust_net_w
// indicators actually consume.
type AuctionRow struct {
	CUSIP         string
	SecurityType  string
	IssueDate     time.Time
	HighYield     float64
	TotalAccepted float64
}

// ParseAuctionRow parses one Treasury auction result row. totalAccepted is
// in the auction's native units (USD) and is left unscaled; callers apply
// any series-specific Scale when building a SeriesPoint.
func ParseAuctionRow(cusip, securityType, issueDate, highYield, totalAccepted string) (AuctionRow, error) {
	date, err := util.ParseDate(issueDate)
	if err != nil {
		return AuctionRow{}, fmt.Errorf("parsing issue_date %q: %w", issueDate, err)
	}
	yield, err := strconv.ParseFloat(strings.TrimSpace(highYield), 64)
	if err != nil {
		yield = math.NaN()
	}
	accepted, err := strconv.ParseFloat(strings.TrimSpace(totalAccepted), 64)
	if err != nil {
		accepted = math.NaN()
	}
	return AuctionRow{
		CUSIP: cusip, SecurityType: securityType, IssueDate: date,
		HighYield: yield, TotalAccepted: accepted,
	}, nil
}

// ─── OFR Financial Stress Index CSV (contract only) ────────────────────────

const ofrFSISeriesID = "OFR_FSI"

// ParseOFRFSIRow converts one row of the OFR Financial Stress Index CSV
// export into a SeriesPoint. The contract requires a Date column and an
// "OFR FSI" column exactly — header names are matched case-sensitively,
// per the upstream file's own header row.
func ParseOFRFSIRow(header []string, row []string) (model.SeriesPoint, bool, error) {
	dateIdx, fsiIdx := -1, -1
	for i, h := range header {
		switch h {
		case "Date":
			dateIdx = i
		case "OFR FSI":
			fsiIdx = i
		}
	}
	if dateIdx == -1 || fsiIdx == -1 {
		return model.SeriesPoint{}, false, fmt.Errorf("OFR FSI CSV missing required Date/\"OFR FSI\" columns")
	}
	if dateIdx >= len(row) || fsiIdx >= len(row) {
		return model.SeriesPoint{}, false, fmt.Errorf("OFR FSI CSV row shorter than header")
	}

	date, err := util.ParseDate(row[dateIdx])
	if err != nil {
		return model.SeriesPoint{}, false, fmt.Errorf("parsing Date %q: %w", row[dateIdx], err)
	}
	value := util.ParseObsValue(row[fsiIdx])
	if math.IsNaN(value) {
		return model.SeriesPoint{}, false, nil
	}

	return model.SeriesPoint{
		VintageID:       uuid.New(),
		SeriesID:        ofrFSISeriesID,
		ObservationDate: date,
		PublicationDate: &date,
		FetchedAt:       time.Now().UTC(),
		ValueNumeric:    value,
		Units:           "index",
		Scale:           1,
		Source:          "ofr_fsi",
	}, true, nil
}
