package agent

import (
	"fmt"
	"strings"
)

// buildBriefPrompt assembles the single-shot prompt the provider sees for
// GenerateBrief. The three-part output contract (Regime line, Evidence
// bullets, Interpretation paragraph) is what verifyBrief checks against,
// so the prompt spells it out exactly.
func buildBriefPrompt(ctx BriefContext, indicators []IndicatorInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing a short liquidity regime brief from the data below. Do not invent any numbers — use only the values given.\n\n")
	fmt.Fprintf(&b, "Regime: %s (tilt %s, score %d/%d)\n", ctx.Regime, ctx.Tilt, ctx.Score, ctx.MaxScore)
	fmt.Fprintf(&b, "Buckets: %s\n\n", strings.Join(ctx.Buckets, ", "))
	fmt.Fprintf(&b, "Evidence (one bullet per line, in this order, using exactly this format):\n")
	fmt.Fprintf(&b, "<name or id>: <latest_value>[/<window>] (z <z20>) -> <status_label> | Flip: <flip_trigger>\n\n")
	for _, ind := range indicators {
		z := "n/a"
		if ind.Z20 != nil {
			z = fmt.Sprintf("%.2f", *ind.Z20)
		}
		window := ""
		if ind.Window != "" {
			window = "/" + ind.Window
		}
		fmt.Fprintf(&b, "- %s: %s%s (z %s) -> %s | Flip: %s\n",
			ind.Name, ind.LatestValue, window, z, ind.StatusLabel, ind.FlipTrigger)
	}
	fmt.Fprintf(&b, "\nWrite exactly three parts, in order: a \"Regime:\" line restating the regime and score, "+
		"an \"Evidence:\" section with exactly %d bullets matching the indicators above in the same order, "+
		"and an \"Interpretation:\" paragraph of no more than a few sentences. "+
		"Keep the whole brief under 320 words.\n", len(indicators))
	return b.String()
}

// toolCatalogDescription documents the tools AnswerQuestion can dispatch,
// in the format the model is asked to emit a call in.
func toolCatalogDescription() string {
	return `Available tools (call at most one per step, and never call the same tool with the same arguments twice):

  get_snapshot(horizon, k)               current regime, buckets, and top-k evidence
  get_router(horizon, k)                 top-k indicators ranked by |z20| right now
  get_indicator_history(indicator_id, horizon, days)   persisted evaluation history for one indicator
  get_series_history(series_id, limit)   raw recent points for one series
  get_indicator_doc(indicator_id)        reference documentation for one indicator, if configured
  get_series_doc(series_id)              reference documentation for one series, if configured

To call a tool, respond with exactly:
  TOOL <tool_name> <json_args>

To answer directly, respond with exactly:
  FINAL <answer text>

JSON args must be a single JSON object, e.g. {"indicator_id": "net_liq", "horizon": "1w"}.`
}

// buildAgentSystemPrompt assembles the system prompt for the streaming
// question-answering loop: known IDs, the tool catalog, and the brief
// context the model should stay consistent with.
func buildAgentSystemPrompt(knownIDsText, briefContextText string) string {
	var b strings.Builder
	b.WriteString("You answer questions about the current liquidity regime using only the tools below. ")
	b.WriteString("Never invent a number; every number in your answer must come from a tool result you actually called this turn or from the brief context below.\n\n")
	b.WriteString(knownIDsText)
	b.WriteString("\n\n")
	b.WriteString(toolCatalogDescription())
	b.WriteString("\n\nCurrent brief context:\n")
	b.WriteString(briefContextText)
	return b.String()
}

// buildAgentStepPrompt is the fixed decision prompt re-sent on every step
// of the tool-calling loop. alignWithBrief adds a consistency reminder and
// is always on for question answering.
func buildAgentStepPrompt(alignWithBrief bool) string {
	prompt := "Decide your next action. If you already have enough information in this conversation " +
		"(including any brief context or prior tool results) to answer precisely, respond with FINAL. " +
		"Otherwise call exactly one tool with TOOL. " +
		"If the question names a series id or indicator id, check the Known IDs list first — correct obvious " +
		"typos once, normalizing to lowercase and hyphens to underscores, rather than asking the user to clarify."
	if alignWithBrief {
		prompt += " Keep your answer consistent with the regime and tilt already given in the brief context."
	}
	return prompt
}
