package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/derickschaefer/reserve/internal/llmprovider"
	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/registry"
	"github.com/derickschaefer/reserve/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// scriptedProvider replays a fixed token sequence per Stream call, one
// sequence per step, and a fixed Complete response.
type scriptedProvider struct {
	complete      string
	completeCalls int
	steps         [][]string
	call          int
}

func (p *scriptedProvider) Complete(_ context.Context, _ string) (string, error) {
	p.completeCalls++
	return p.complete, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, _ string) (<-chan string, error) {
	out := make(chan string)
	tokens := p.steps[len(p.steps)-1]
	if p.call < len(p.steps) {
		tokens = p.steps[p.call]
	}
	p.call++
	go func() {
		defer close(out)
		for _, tok := range tokens {
			select {
			case <-ctx.Done():
				return
			case out <- tok:
			}
		}
	}()
	return out, nil
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out draining event channel; got %d events", len(events))
		}
	}
}

func eventsOfType(events []Event, typ string) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// ─── Verifier ─────────────────────────────────────────────────────────────────

func parityInfo() []IndicatorInfo {
	z := 1.7
	return []IndicatorInfo{{
		IndicatorID: "tga_level", Name: "TGA Level",
		LatestValue: "$239.9B", Z20: &z, Status: "1",
		StatusLabel: "supportive", FlipTrigger: ">= 25",
	}}
}

func TestVerifyBriefNumericParityOK(t *testing.T) {
	markdown := "Regime: Neutral score 2/5\n" +
		"Evidence:\n" +
		"- TGA Level: 239.9 (z 1.7) -> supportive | Flip: >= 25\n" +
		"- second supporting point with no new figures\n" +
		"- third supporting point with no new figures\n" +
		"Interpretation: liquidity looks balanced.\n"
	v := verifyBrief(markdown, parityInfo(), 2, 5)
	if !v.OK {
		t.Fatalf("expected OK verification, got issues %v", v.Issues)
	}
}

func TestVerifyBriefNumericParityFlagsUnknownNumber(t *testing.T) {
	markdown := "Regime: Neutral score 2/5\n" +
		"Evidence:\n" +
		"- TGA Level: 137.2 (z 1.7) -> supportive | Flip: >= 25\n" +
		"- second supporting point with no new figures\n" +
		"- third supporting point with no new figures\n" +
		"Interpretation: liquidity looks balanced.\n"
	v := verifyBrief(markdown, parityInfo(), 2, 5)
	if v.OK {
		t.Fatalf("expected verification failure")
	}
	want := "number not in snapshot context: 137.2"
	found := false
	for _, issue := range v.Issues {
		if issue == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected issue %q, got %v", want, v.Issues)
	}
}

func TestVerifyBriefMissingSections(t *testing.T) {
	v := verifyBrief("", parityInfo(), 0, 1)
	wants := []string{"missing Regime line", "missing Evidence section", "missing Interpretation section"}
	for _, want := range wants {
		found := false
		for _, issue := range v.Issues {
			if issue == want {
				found = true
			}
		}
		if !found {
			t.Errorf("expected issue %q, got %v", want, v.Issues)
		}
	}
}

func TestVerifyBriefWordLimit(t *testing.T) {
	long := "Regime: Neutral score 2/5\nEvidence:\n- TGA Level: 239.9 (z 1.7) -> supportive | Flip: >= 25\n- more\n- more\nInterpretation: " +
		strings.Repeat("padding ", 330)
	v := verifyBrief(long, parityInfo(), 2, 5)
	if v.OK {
		t.Fatalf("expected word-limit failure")
	}
	found := false
	for _, issue := range v.Issues {
		if strings.HasPrefix(issue, "too long:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected word-limit issue, got %v", v.Issues)
	}
}

func TestNormalizeNumericTokensStripsSeparators(t *testing.T) {
	toks := normalizeNumericTokens("TGA at $1,234.5B, z –1.2")
	want := map[string]bool{"1234.5": false, "-1.2": false}
	for _, tok := range toks {
		if _, ok := want[tok]; ok {
			want[tok] = true
		}
	}
	for tok, seen := range want {
		if !seen {
			t.Errorf("expected token %q in %v", tok, toks)
		}
	}
}

// ─── Redaction ────────────────────────────────────────────────────────────────

func TestRedactPII(t *testing.T) {
	in := "contact ops@example.com or +1 (212) 555-0100 today"
	out := redactPII(in)
	if strings.Contains(out, "example.com") {
		t.Errorf("email not redacted: %q", out)
	}
	if !strings.Contains(out, "[redacted_email]") {
		t.Errorf("expected [redacted_email] marker in %q", out)
	}
	if !strings.Contains(out, "[redacted_phone]") {
		t.Errorf("expected [redacted_phone] marker in %q", out)
	}
}

func TestRedactPIILeavesPlainTextAlone(t *testing.T) {
	in := "net liquidity fell 12.5 this week"
	if out := redactPII(in); out != in {
		t.Errorf("expected passthrough, got %q", out)
	}
}

// ─── TTL cache ────────────────────────────────────────────────────────────────

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := newTTLCache(60*time.Second, clock)

	c.set("k", "v")
	if got, ok := c.get("k"); !ok || got != "v" {
		t.Fatalf("expected cache hit, got %v %v", got, ok)
	}

	now = now.Add(61 * time.Second)
	if _, ok := c.get("k"); ok {
		t.Fatalf("expected expiry after TTL")
	}
}

// ─── Streaming loop ───────────────────────────────────────────────────────────

func TestAnswerQuestionFinalPath(t *testing.T) {
	s := testStore(t)
	provider := &scriptedProvider{steps: [][]string{
		{"Let me think. ", "FINAL ", "The regime ", "is Neutral."},
	}}
	a := New(s, provider, registry.Default())

	events := collectEvents(t, a.AnswerQuestion(context.Background(), "what regime?", "1w", nil))

	if len(eventsOfType(events, "start")) != 1 {
		t.Fatalf("expected exactly one start event")
	}
	decisions := eventsOfType(events, "decision")
	if len(decisions) == 0 {
		t.Fatalf("expected a decision event")
	}
	finals := eventsOfType(events, "final")
	if len(finals) != 1 {
		t.Fatalf("expected exactly one final event, got %d", len(finals))
	}
	answer := finals[0].Data.(map[string]interface{})["answer"].(string)
	if !strings.Contains(answer, "Neutral") {
		t.Errorf("expected answer to carry the FINAL text, got %q", answer)
	}
	for _, ev := range eventsOfType(events, "thinking_token") {
		if strings.Contains(ev.Data.(string), "FINAL") {
			t.Errorf("FINAL marker leaked as thinking token: %q", ev.Data)
		}
	}
}

func TestAnswerQuestionToolThenFinal(t *testing.T) {
	s := testStore(t)
	provider := &scriptedProvider{steps: [][]string{
		{"TOOL get_router ", `{"horizon":`, `"1w","k":3}`},
		{"FINAL ", "no strong movers right now."},
	}}
	a := New(s, provider, registry.Default())

	events := collectEvents(t, a.AnswerQuestion(context.Background(), "top movers?", "1w", nil))

	calls := eventsOfType(events, "tool_call")
	if len(calls) != 1 {
		t.Fatalf("expected one tool_call event, got %d", len(calls))
	}
	name := calls[0].Data.(map[string]interface{})["name"].(string)
	if name != "get_router" {
		t.Errorf("expected get_router call, got %q", name)
	}
	if len(eventsOfType(events, "tool_result")) != 1 {
		t.Fatalf("expected one tool_result event")
	}
	finals := eventsOfType(events, "final")
	if len(finals) != 1 {
		t.Fatalf("expected one final event")
	}
}

func TestAnswerQuestionDuplicateToolCallNudged(t *testing.T) {
	s := testStore(t)
	// Every step asks for the identical call; only the first may execute.
	provider := &scriptedProvider{steps: [][]string{
		{"TOOL get_router ", `{"horizon":"1w"}`},
		{"TOOL get_router ", `{"horizon":"1w"}`},
		{"TOOL get_router ", `{"horizon":"1w"}`},
		{"TOOL get_router ", `{"horizon":"1w"}`},
	}}
	a := New(s, provider, registry.Default())

	events := collectEvents(t, a.AnswerQuestion(context.Background(), "top movers?", "1w", nil))

	if got := len(eventsOfType(events, "tool_call")); got != 1 {
		t.Fatalf("expected duplicate calls to be nudged away, got %d tool_call events", got)
	}
	if len(eventsOfType(events, "final")) != 1 {
		t.Fatalf("expected a final event even without an explicit FINAL")
	}
}

func TestAnswerQuestionUnknownToolReturnsStructuredError(t *testing.T) {
	s := testStore(t)
	provider := &scriptedProvider{steps: [][]string{
		{"TOOL does_not_exist ", `{}`},
		{"FINAL ", "giving up."},
	}}
	a := New(s, provider, registry.Default())

	events := collectEvents(t, a.AnswerQuestion(context.Background(), "?", "1w", nil))

	results := eventsOfType(events, "tool_result")
	if len(results) != 1 {
		t.Fatalf("expected the unknown tool to produce a tool_result, got %d", len(results))
	}
	summary := results[0].Data.(map[string]interface{})["summary"].(string)
	if !strings.Contains(summary, "error") {
		t.Errorf("expected structured error in tool result, got %q", summary)
	}
	if len(eventsOfType(events, "error")) != 0 {
		t.Errorf("unknown tool must not terminate the stream with an error event")
	}
}

// ─── Tools ────────────────────────────────────────────────────────────────────

func TestKnownIDsIncludeStoreSeries(t *testing.T) {
	s := testStore(t)
	err := s.UpsertPoints([]model.SeriesPoint{{
		SeriesID: "CUSTOM_SERIES", ObservationDate: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		FetchedAt: time.Now().UTC(), ValueNumeric: 1, Scale: 1, Source: "TEST",
	}})
	if err != nil {
		t.Fatalf("UpsertPoints: %v", err)
	}
	a := New(s, llmprovider.Mock{}, registry.Default())
	known := a.knownIDs()

	found := false
	for _, sid := range known.SeriesIDs {
		if sid == "CUSTOM_SERIES" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected store-distinct series in KnownIDs, got %v", known.SeriesIDs)
	}
	if len(known.IndicatorIDs) == 0 {
		t.Fatalf("expected registry indicator ids")
	}
}

func TestGenerateBriefCachesWithinTTL(t *testing.T) {
	s := testStore(t)
	provider := &scriptedProvider{complete: "Regime: Neutral\nEvidence:\nInterpretation: flat."}
	a := New(s, provider, registry.Default())

	ctx := context.Background()
	first, err := a.GenerateBrief(ctx, "1w", nil, 8)
	if err != nil {
		t.Fatalf("GenerateBrief: %v", err)
	}
	second, err := a.GenerateBrief(ctx, "1w", nil, 8)
	if err != nil {
		t.Fatalf("GenerateBrief (cached): %v", err)
	}
	if first.Markdown != second.Markdown {
		t.Errorf("expected cached brief to be identical")
	}
	if provider.completeCalls != 1 {
		t.Errorf("expected the second call to be served from cache, provider saw %d calls", provider.completeCalls)
	}
}
