package cmd

import "testing"

func TestLLMCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range llmCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"brief", "ask", "eval"} {
		if !names[want] {
			t.Fatalf("llm command tree missing %q subcommand", want)
		}
	}
}

func TestLLMAskRequiresQuestionArg(t *testing.T) {
	if err := llmAskCmd.Args(llmAskCmd, nil); err == nil {
		t.Fatalf("expected error when ask is called with no arguments")
	}
	if err := llmAskCmd.Args(llmAskCmd, []string{"why is liquidity tightening?"}); err != nil {
		t.Fatalf("expected single-arg question to satisfy Args, got %v", err)
	}
}
