package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is one SSE-shaped message in the AnswerQuestion stream: start,
// thinking_token, decision, tool_call, tool_result, answer_token, ping,
// final, error.
type Event struct {
	Type string      `json:"event"`
	Data interface{} `json:"data"`
}

const (
	maxAgentSteps  = 4
	pingInterval   = 15 * time.Second
	toolResultCap  = 800
	messageHistory = 6
)

type agentState int

const (
	stateThinking agentState = iota
	stateToolArgCapture
	stateAnswering
	stateDone
)

type toolTraceEntry struct {
	Name   string      `json:"name"`
	Args   interface{} `json:"args"`
	Result interface{} `json:"result,omitempty"`
}

// AnswerQuestion runs the streaming tool-calling loop and returns a channel
// of Events, closed when the loop finishes. Up to maxAgentSteps decision
// rounds, each one token-streamed from the provider, watching for a
// "TOOL name {json}" or "FINAL text" marker; a repeated identical tool
// call is nudged rather than re-executed.
func (a *Agent) AnswerQuestion(ctx context.Context, question, horizon string, asOf *time.Time) <-chan Event {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		a.runAnswerLoop(ctx, out, question, horizon, asOf)
	}()
	return out
}

func (a *Agent) runAnswerLoop(ctx context.Context, out chan<- Event, question, horizon string, asOf *time.Time) {
	if horizon == "" {
		horizon = "1w"
	}
	brief, err := a.GenerateBrief(ctx, horizon, asOf, 6)
	if err != nil {
		out <- Event{Type: "error", Data: fmt.Sprintf("could not build brief context: %v", err)}
		return
	}

	out <- Event{Type: "start", Data: map[string]interface{}{
		"horizon": horizon, "as_of": formatAsOf(asOf), "regime": brief.Snapshot.Regime.Label,
	}}

	known := a.knownIDs()
	system := buildAgentSystemPrompt(known.describe(), briefContextSummary(brief))

	messages := []string{system, "User: " + redactPII(question)}
	var trace []toolTraceEntry
	var answer string
	decided := false

	for step := 0; step < maxAgentSteps && !decided; step++ {
		stepPrompt := buildAgentStepPrompt(true)
		modelInput := strings.Join(lastN(messages, messageHistory), "\n\n") + "\n\n" + stepPrompt

		tokenCh, err := a.provider.Stream(ctx, modelInput)
		if err != nil {
			out <- Event{Type: "error", Data: fmt.Sprintf("provider error: %v", err)}
			return
		}

		state := stateThinking
		var thinkingBuf strings.Builder
		var toolName string
		var toolJSONBuf strings.Builder
		var answerBuf strings.Builder
		lastPing := time.Now()
		var call *toolCall

	tokenLoop:
		for tok := range tokenCh {
			if time.Since(lastPing) >= pingInterval {
				out <- Event{Type: "ping", Data: nil}
				lastPing = time.Now()
			}

			switch state {
			case stateThinking:
				// Buffer first so a marker completed by this token is never
				// echoed back as a user-visible thinking token.
				thinkingBuf.WriteString(tok)
				buf := thinkingBuf.String()

				if idx := strings.Index(buf, "FINAL "); idx >= 0 {
					rest := buf[idx+len("FINAL "):]
					state = stateAnswering
					out <- Event{Type: "decision", Data: map[string]string{"type": "final"}}
					if rest != "" {
						answerBuf.WriteString(rest)
						out <- Event{Type: "answer_token", Data: redactPII(rest)}
					}
					continue
				}
				if idx := strings.Index(buf, "TOOL "); idx >= 0 {
					after := buf[idx+len("TOOL "):]
					parts := strings.SplitN(after, " ", 2)
					if len(parts) == 2 {
						toolName = strings.TrimSpace(parts[0])
						toolJSONBuf.WriteString(strings.TrimSpace(parts[1]))
						state = stateToolArgCapture
						out <- Event{Type: "decision", Data: map[string]string{"type": "tool", "name": toolName}}
						var args map[string]interface{}
						candidate := strings.TrimSpace(toolJSONBuf.String())
						if candidate != "" && json.Unmarshal([]byte(candidate), &args) == nil {
							call = &toolCall{Name: toolName, Args: args}
							break tokenLoop
						}
						continue
					}
				}
				out <- Event{Type: "thinking_token", Data: tok}

			case stateToolArgCapture:
				toolJSONBuf.WriteString(tok)
				var args map[string]interface{}
				candidate := strings.TrimSpace(toolJSONBuf.String())
				if candidate != "" && json.Unmarshal([]byte(candidate), &args) == nil {
					call = &toolCall{Name: toolName, Args: args}
					break tokenLoop
				}

			case stateAnswering:
				answerBuf.WriteString(tok)
				out <- Event{Type: "answer_token", Data: redactPII(tok)}
			}
		}

		switch state {
		case stateAnswering:
			answer = answerBuf.String()
			decided = true

		case stateToolArgCapture:
			if call == nil {
				// Stream ended mid-argument capture with no valid JSON;
				// fall back to whatever thinking text we had.
				answer = thinkingBuf.String()
				decided = true
				break
			}
			if duplicateCall(trace, *call) {
				messages = append(messages, fmt.Sprintf(
					"System: You already have the requested data from a prior %s call with the same arguments; use it instead of calling again.", call.Name))
				continue
			}
			out <- Event{Type: "tool_call", Data: map[string]interface{}{"name": call.Name, "args": call.Args}}
			result, err := a.executeTool(*call)
			if err != nil {
				result = map[string]string{"error": err.Error()}
			}
			trace = append(trace, toolTraceEntry{Name: call.Name, Args: call.Args, Result: result})

			resultJSON, _ := json.Marshal(result)
			summary := truncate(redactPII(string(resultJSON)), toolResultCap)
			out <- Event{Type: "tool_result", Data: map[string]interface{}{"name": call.Name, "summary": summary}}

			messages = append(messages, fmt.Sprintf("ToolResult(%s): %s", call.Name, summary))
			messages = append(messages, "System: You now have the requested data; use it to answer if possible.")

		default:
			// Thinking exhausted without a decision; finalize with what we have.
			answer = thinkingBuf.String()
			decided = true
			out <- Event{Type: "decision", Data: map[string]string{"type": "final"}}
		}
	}

	if !decided {
		answer = "I don't know based on the available tools."
	}
	if strings.TrimSpace(answer) == "" {
		answer = "I don't know based on the available tools."
	}

	out <- Event{Type: "final", Data: map[string]interface{}{
		"answer": redactPII(answer), "tool_trace": trace,
	}}
}

func duplicateCall(trace []toolTraceEntry, call toolCall) bool {
	if len(trace) == 0 {
		return false
	}
	last := trace[len(trace)-1]
	if last.Name != call.Name {
		return false
	}
	lastArgs, _ := json.Marshal(last.Args)
	curArgs, _ := json.Marshal(call.Args)
	return string(lastArgs) == string(curArgs)
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func briefContextSummary(b Brief) string {
	return fmt.Sprintf("Regime: %s (tilt %s, score %d/%d). Top indicators: %s.",
		b.Snapshot.Regime.Label, b.Snapshot.Regime.Tilt, b.Snapshot.Regime.Score, b.Snapshot.Regime.MaxScore,
		strings.Join(b.JSON.TopIndicators, ", "))
}
