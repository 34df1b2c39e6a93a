package agent

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Verification is the result of checking a generated brief against the
// snapshot context it was supposed to describe.
type Verification struct {
	OK     bool     `json:"ok"`
	Issues []string `json:"issues"`
}

var numericTokenPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// normalizeNumericTokens strips thousands separators and normalizes en/em
// dashes to a plain hyphen before scanning for numeric tokens.
func normalizeNumericTokens(text string) []string {
	text = strings.ReplaceAll(text, ",", "")
	text = strings.ReplaceAll(text, "–", "-")
	text = strings.ReplaceAll(text, "—", "-")
	return numericTokenPattern.FindAllString(text, -1)
}

// verifyBrief checks a generated markdown brief against the indicators and
// regime that fed it:
//   - "regime:" and "evidence:" section markers must be present
//   - "interpretation" must appear somewhere
//   - word count must not exceed 320
//   - the Evidence section must have at least max(3, min(expected, 12)) bullets
//   - every number in the markdown must be within 1e-6 of some number drawn
//     from the snapshot context (score, max_score, each indicator's latest
//     value, z20, and flip-trigger numbers); at most 5 mismatches are
//     reported to keep the issue list readable
func verifyBrief(markdown string, indicators []IndicatorInfo, score, maxScore int) Verification {
	var issues []string
	lower := strings.ToLower(markdown)

	if !strings.Contains(lower, "regime:") {
		issues = append(issues, "missing Regime line")
	}
	if !strings.Contains(lower, "evidence:") {
		issues = append(issues, "missing Evidence section")
	}
	if !strings.Contains(lower, "interpretation") {
		issues = append(issues, "missing Interpretation section")
	}

	words := strings.Fields(markdown)
	if len(words) > 320 {
		issues = append(issues, fmt.Sprintf("too long: %d words > 320", len(words)))
	}

	expected := len(indicators)
	if expected > 12 {
		expected = 12
	}
	if expected > 0 {
		minBullets := 3
		if expected > minBullets {
			minBullets = expected
		}
		bulletCount := 0
		if idx := strings.Index(markdown, "Evidence:"); idx >= 0 {
			after := markdown[idx+len("Evidence:"):]
			for _, line := range strings.Split(after, "\n") {
				if strings.HasPrefix(strings.TrimSpace(line), "-") {
					bulletCount++
				}
			}
		}
		if bulletCount < minBullets {
			issues = append(issues, fmt.Sprintf("too few evidence bullets: %d < %d", bulletCount, minBullets))
		}
	}

	allowed := allowedNumbers(indicators, score, maxScore)
	found := normalizeNumericTokens(markdown)
	mismatches := 0
	for _, tok := range found {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		if !containsWithinTolerance(allowed, v, 1e-6) {
			mismatches++
			if mismatches <= 5 {
				issues = append(issues, fmt.Sprintf("number not in snapshot context: %s", tok))
			}
		}
	}

	return Verification{OK: len(issues) == 0, Issues: issues}
}

func allowedNumbers(indicators []IndicatorInfo, score, maxScore int) []float64 {
	allowed := []float64{float64(score), float64(maxScore)}
	for _, ind := range indicators {
		for _, tok := range normalizeNumericTokens(ind.LatestValue) {
			if v, err := strconv.ParseFloat(tok, 64); err == nil {
				allowed = append(allowed, v)
			}
		}
		if ind.Z20 != nil {
			allowed = append(allowed, *ind.Z20)
		}
		for _, tok := range normalizeNumericTokens(ind.FlipTrigger) {
			if v, err := strconv.ParseFloat(tok, 64); err == nil {
				allowed = append(allowed, v)
			}
		}
	}
	return allowed
}

func containsWithinTolerance(allowed []float64, v, tol float64) bool {
	for _, a := range allowed {
		if math.Abs(a-v) <= tol {
			return true
		}
	}
	return false
}
