package agent

import "regexp"

// PII redaction regexes.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\b(\+?\d[\d\-\s()]{9,}\d)\b`)
)

// redactPII replaces emails and phone-number-shaped substrings. The ask
// loop applies it to the user's question, answer tokens, tool-result
// summaries and the final answer; brief markdown and the final event's
// tool_trace are not redacted.
func redactPII(text string) string {
	text = emailPattern.ReplaceAllString(text, "[redacted_email]")
	text = phonePattern.ReplaceAllString(text, "[redacted_phone]")
	return text
}
