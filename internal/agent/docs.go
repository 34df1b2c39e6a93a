package agent

// Indicator/series reference documentation. No docs are bundled with this
// build; get_indicator_doc/get_series_doc degrade gracefully to "no
// documentation configured" rather than erroring, and the step prompt
// instructs the model how to answer from an empty doc response.
//
// A later iteration can populate these maps, or load them from a
// configured markdown file, without touching the tool dispatch in
// tools.go.
var (
	indicatorDocs = map[string]IndicatorDoc{}
	seriesDocs    = map[string]SeriesDoc{}
)

// IndicatorDoc is the reference documentation block for one indicator.
type IndicatorDoc struct {
	IndicatorID string `json:"indicator_id"`
	Markdown    string `json:"markdown"`
}

// SeriesDoc is the reference documentation block for one series.
type SeriesDoc struct {
	SeriesID       string `json:"series_id"`
	Title          string `json:"title"`
	What           string `json:"what"`
	Impact         string `json:"impact"`
	Interpretation string `json:"interpretation"`
}

func lookupIndicatorDoc(id string) (IndicatorDoc, bool) {
	doc, ok := indicatorDocs[id]
	return doc, ok
}

func lookupSeriesDoc(id string) (SeriesDoc, bool) {
	doc, ok := seriesDocs[id]
	return doc, ok
}
