package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/reserve/internal/agent"
	"github.com/derickschaefer/reserve/internal/render"
)

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Generate liquidity briefs and answer questions via the agent orchestrator",
	Long: `llm drives internal/agent's two LLM-facing surfaces over the evaluation
core: a verified markdown brief generator, and a streaming tool-calling
question-answering loop.

  reserve llm brief --horizon 1w
  reserve llm ask "why is net liquidity falling?"`,
}

// ─── llm brief ─────────────────────────────────────────────────────────────────

var (
	llmBriefHorizon string
	llmBriefK       int
	llmBriefAsOf    string
)

var llmBriefCmd = &cobra.Command{
	Use:   "brief",
	Short: "Generate a verified markdown liquidity brief",
	Example: `  reserve llm brief
  reserve llm brief --horizon 1w --k 12
  reserve llm brief --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		specs, err := deps.Registry()
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}

		var asOf *time.Time
		if llmBriefAsOf != "" {
			t, err := time.Parse(time.RFC3339, llmBriefAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of %q: expected RFC3339 timestamp: %w", llmBriefAsOf, err)
			}
			asOf = &t
		}

		a := agent.New(deps.Store, deps.Provider, specs)
		ctx, cancel := context.WithTimeout(cmd.Context(), 25*time.Second)
		defer cancel()

		brief, err := a.GenerateBrief(ctx, orDefault(llmBriefHorizon, deps.Config.DefaultHorizon), asOf, orDefaultInt(llmBriefK, deps.Config.DefaultK))
		if err != nil {
			return fmt.Errorf("generating brief: %w", err)
		}

		if resolveFormat(deps.Config.Format) == render.FormatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(brief)
		}

		fmt.Fprintln(cmd.OutOrStdout(), brief.Markdown)
		if !brief.Verifier.OK {
			fmt.Fprintln(cmd.OutOrStdout(), "\n--- verifier issues ---")
			for _, issue := range brief.Verifier.Issues {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", issue)
			}
		}
		return nil
	},
}

// ─── llm ask ───────────────────────────────────────────────────────────────────

var (
	llmAskHorizon string
	llmAskAsOf    string
)

var llmAskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question via the streaming tool-calling agent",
	Long: `ask drives internal/agent.AnswerQuestion, the same decision-per-step
loop the HTTP /llm/ask_stream route exposes over SSE. Tool calls, tool
results and answer tokens are printed as they arrive; thinking tokens are
not printed. The final answer is printed last.`,
	Example: `  reserve llm ask "why is net liquidity falling?"
  reserve llm ask "what's the current regime" --horizon 2w`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		specs, err := deps.Registry()
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}

		var asOf *time.Time
		if llmAskAsOf != "" {
			t, err := time.Parse(time.RFC3339, llmAskAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of %q: expected RFC3339 timestamp: %w", llmAskAsOf, err)
			}
			asOf = &t
		}

		a := agent.New(deps.Store, deps.Provider, specs)
		horizon := orDefault(llmAskHorizon, deps.Config.DefaultHorizon)

		jsonOut := resolveFormat(deps.Config.Format) == render.FormatJSON
		var events []agent.Event

		for ev := range a.AnswerQuestion(cmd.Context(), args[0], horizon, asOf) {
			if jsonOut {
				events = append(events, ev)
				continue
			}
			switch ev.Type {
			case "tool_call":
				fmt.Fprintf(cmd.OutOrStdout(), "\n[tool_call] %v\n", ev.Data)
			case "tool_result":
				fmt.Fprintf(cmd.OutOrStdout(), "[tool_result] %v\n", ev.Data)
			case "answer_token":
				fmt.Fprint(cmd.OutOrStdout(), ev.Data)
			case "final":
				fmt.Fprintln(cmd.OutOrStdout())
			case "error":
				fmt.Fprintf(cmd.OutOrStdout(), "\n[error] %v\n", ev.Data)
			}
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}
		return nil
	},
}

// ─── llm eval ──────────────────────────────────────────────────────────────────

var (
	llmEvalHorizon string
	llmEvalK       int
	llmEvalDays    int
	llmEvalStep    int
)

var llmEvalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run the brief generator over trailing historical dates and report verifier results",
	Long: `eval generates one brief per historical as-of date over the trailing
--days window (one every --step days) and reports the verifier verdict
for each, a cheap regression check that prompt or registry changes
haven't broken numeric parity or the brief's section contract.`,
	Example: `  reserve llm eval
  reserve llm eval --days 28 --step 7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		if err := deps.RequireStore(); err != nil {
			return err
		}
		defer deps.Close()

		specs, err := deps.Registry()
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}

		days := llmEvalDays
		if days <= 0 {
			days = 28
		}
		step := llmEvalStep
		if step <= 0 {
			step = 7
		}
		horizon := orDefault(llmEvalHorizon, deps.Config.DefaultHorizon)
		k := orDefaultInt(llmEvalK, deps.Config.DefaultK)

		type evalRow struct {
			AsOf   string   `json:"as_of"`
			OK     bool     `json:"ok"`
			Issues []string `json:"issues,omitempty"`
		}
		var rows []evalRow
		passed := 0
		now := time.Now().UTC()
		for back := step; back <= days; back += step {
			asOf := now.AddDate(0, 0, -back)
			// A fresh Agent per date: the brief cache keys on (horizon, k),
			// which would otherwise serve the first date's brief for all.
			a := agent.New(deps.Store, deps.Provider, specs)
			brief, err := a.GenerateBrief(cmd.Context(), horizon, &asOf, k)
			if err != nil {
				return fmt.Errorf("generating brief as of %s: %w", asOf.Format("2006-01-02"), err)
			}
			if brief.Verifier.OK {
				passed++
			}
			rows = append(rows, evalRow{
				AsOf: asOf.Format("2006-01-02"), OK: brief.Verifier.OK, Issues: brief.Verifier.Issues,
			})
		}

		if resolveFormat(deps.Config.Format) == render.FormatJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"horizon": horizon, "k": k, "passed": passed, "total": len(rows), "runs": rows,
			})
		}

		for _, row := range rows {
			verdict := "PASS"
			if !row.OK {
				verdict = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s", row.AsOf, verdict)
			if len(row.Issues) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  (%d issue(s): %s)", len(row.Issues), row.Issues[0])
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d briefs verified clean\n", passed, len(rows))
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(llmCmd)
	llmCmd.AddCommand(llmBriefCmd)
	llmCmd.AddCommand(llmAskCmd)
	llmCmd.AddCommand(llmEvalCmd)

	llmBriefCmd.Flags().StringVar(&llmBriefHorizon, "horizon", "", "horizon label, e.g. 1w (default from config)")
	llmBriefCmd.Flags().IntVar(&llmBriefK, "k", 0, "number of top indicators to surface (default from config)")
	llmBriefCmd.Flags().StringVar(&llmBriefAsOf, "as-of", "", "evaluate as of this RFC3339 timestamp instead of now")

	llmAskCmd.Flags().StringVar(&llmAskHorizon, "horizon", "", "horizon label for the brief context, e.g. 1w (default from config)")
	llmAskCmd.Flags().StringVar(&llmAskAsOf, "as-of", "", "evaluate as of this RFC3339 timestamp instead of now")

	llmEvalCmd.Flags().StringVar(&llmEvalHorizon, "horizon", "", "horizon label, e.g. 1w (default from config)")
	llmEvalCmd.Flags().IntVar(&llmEvalK, "k", 0, "number of top indicators per brief (default from config)")
	llmEvalCmd.Flags().IntVar(&llmEvalDays, "days", 28, "trailing window of historical as-of dates to evaluate")
	llmEvalCmd.Flags().IntVar(&llmEvalStep, "step", 7, "spacing in days between evaluated as-of dates")
}
