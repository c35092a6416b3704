// Package dialect implements the free-form-text tool-call recovery and
// streaming-safety rules the LLM Adapter applies on top of whatever
// structured tool-calling a backend offers. Small local models frequently
// emit tool-call JSON inline in their text content instead of (or in
// addition to) the provider's structured tool_calls field, and can loop on
// a short stock phrase when they lose track of the conversation. These
// functions are pure and backend-agnostic so any provider's streaming loop
// can apply them identically.
package dialect

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ToolCallCandidate is a tool invocation recovered from free-form text
// output.
type ToolCallCandidate struct {
	Name      string
	Arguments map[string]any
}

var (
	bracedArgsPattern = regexp.MustCompile(`\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"(?:arguments|parameters)"\s*:\s*(\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\})\s*\}`)
	looseNamePattern  = regexp.MustCompile(`\{[^{}]*"name"[^{}]*\}`)
	codeFencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{[^`]+\\})\\s*```")
)

// ExtractToolCalls recovers tool-call candidates from free-form model
// output, trying progressively looser patterns and returning the first
// pattern that yields at least one match.
func ExtractToolCalls(text string) []ToolCallCandidate {
	if calls := extractBraced(text); len(calls) > 0 {
		return calls
	}
	if calls := extractLoose(text); len(calls) > 0 {
		return calls
	}
	if calls := extractCodeFence(text); len(calls) > 0 {
		return calls
	}
	if call, ok := extractBalanced(text); ok {
		return []ToolCallCandidate{call}
	}
	return nil
}

func extractBraced(text string) []ToolCallCandidate {
	var out []ToolCallCandidate
	for _, m := range bracedArgsPattern.FindAllStringSubmatch(text, -1) {
		var args map[string]any
		if err := json.Unmarshal([]byte(m[2]), &args); err != nil {
			continue
		}
		out = append(out, ToolCallCandidate{Name: m[1], Arguments: args})
	}
	return out
}

func extractLoose(text string) []ToolCallCandidate {
	var out []ToolCallCandidate
	for _, m := range looseNamePattern.FindAllString(text, -1) {
		if call, ok := parseNameArgsObject(m); ok {
			out = append(out, call)
		}
	}
	return out
}

func extractCodeFence(text string) []ToolCallCandidate {
	var out []ToolCallCandidate
	for _, m := range codeFencePattern.FindAllStringSubmatch(text, -1) {
		if call, ok := parseNameArgsObject(m[1]); ok {
			out = append(out, call)
		}
	}
	return out
}

// extractBalanced locates the first brace-balanced JSON object in text and
// parses it as a last resort, for tool-call JSON that arrived concatenated
// from fragmented streaming deltas with no recognisable wrapper pattern.
func extractBalanced(text string) (ToolCallCandidate, bool) {
	if !strings.Contains(text, `"name"`) {
		return ToolCallCandidate{}, false
	}
	if !strings.Contains(text, `"arguments"`) && !strings.Contains(text, `"parameters"`) {
		return ToolCallCandidate{}, false
	}
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ToolCallCandidate{}, false
	}
	depth := 0
	end := -1
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
		if end > 0 {
			break
		}
	}
	if end <= start {
		return ToolCallCandidate{}, false
	}
	return parseNameArgsObject(text[start:end])
}

func parseNameArgsObject(s string) (ToolCallCandidate, bool) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return ToolCallCandidate{}, false
	}
	name, _ := parsed["name"].(string)
	if name == "" {
		return ToolCallCandidate{}, false
	}
	args, _ := parsed["arguments"].(map[string]any)
	if args == nil {
		args, _ = parsed["parameters"].(map[string]any)
	}
	return ToolCallCandidate{Name: name, Arguments: args}, true
}

var (
	trailingIncompleteField = regexp.MustCompile(`,\s*"[^"]+"\s*:\s*\}$`)
	trailingIncompleteKey   = regexp.MustCompile(`,\s*"[^"]+"\s*:\s*$`)
)

// ReconstructFragments concatenates tool-call argument fragments as they
// arrived split across streamed deltas and attempts to parse the result.
// If the naive join fails to parse, it trims a trailing incomplete
// key/value pair and closes any unbalanced braces before retrying.
func ReconstructFragments(parts []string) (map[string]any, error) {
	joined := strings.Join(parts, "")

	var args map[string]any
	if err := json.Unmarshal([]byte(joined), &args); err == nil {
		return args, nil
	}

	fixed := trailingIncompleteField.ReplaceAllString(joined, "}")
	fixed = trailingIncompleteKey.ReplaceAllString(fixed, "")
	if open := strings.Count(fixed, "{") - strings.Count(fixed, "}"); open > 0 {
		fixed = strings.TrimRight(fixed, " \t\n") + strings.Repeat("}", open)
	}

	if err := json.Unmarshal([]byte(fixed), &args); err != nil {
		return nil, err
	}
	return args, nil
}

var (
	artifactPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?s)\{"name"\s*:\s*"[^"]+"\s*,\s*"(?:arguments|parameters)"\s*:\s*\{[^}]*\}\s*\}`),
		regexp.MustCompile(`(?s)\[\s*\{"name"[^]]*\}\s*\]`),
		regexp.MustCompile(`(?s)\{\s*"name"\s*:\s*"[^"]*"[^}]*\}`),
		regexp.MustCompile("(?s)```(?:json)?\\s*\\{[^`]*\\}\\s*```"),
	}
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// CleanArtifacts strips leftover tool-call JSON fragments a small model
// emitted inline with its narration. Applied only once no valid tool call
// could be recovered from the text, so the text shown to the user doesn't
// contain stray JSON.
func CleanArtifacts(text string) string {
	if text == "" {
		return text
	}
	cleaned := text
	for _, pattern := range artifactPatterns {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	return strings.TrimSpace(multiNewline.ReplaceAllString(cleaned, "\n\n"))
}

const (
	// repetitionWindow bounds how much trailing text the guard inspects.
	repetitionWindow = 200
	// repetitionThreshold is how many times a phrase may repeat before truncation.
	repetitionThreshold = 4
	// maxAccumulatedChars truncates runaway generations regardless of repetition.
	maxAccumulatedChars = 2000
)

// repetitionPhrases are short stock phrases a stuck small model tends to
// loop on when it loses track of the conversation.
var repetitionPhrases = []string{"i'm ready", "i am ready", "ready.", "...", "i'm here"}

// RepetitionGuard inspects accumulated text for a model stuck repeating a
// stock phrase, or for runaway generation length, and returns a truncated
// version plus whether truncation occurred. Callers should stop
// accumulating further deltas once triggered is true and treat the
// returned text as final.
func RepetitionGuard(accumulated string) (truncated string, triggered bool) {
	window := accumulated
	if len(window) > repetitionWindow {
		window = window[len(window)-repetitionWindow:]
	}
	window = strings.ToLower(window)
	for _, phrase := range repetitionPhrases {
		if strings.Count(window, phrase) >= repetitionThreshold {
			if idx := strings.Index(strings.ToLower(accumulated), phrase); idx > 0 {
				return strings.TrimSpace(accumulated[:idx]), true
			}
			return "I apologize, I had trouble responding. Could you please rephrase your question?", true
		}
	}
	if len(accumulated) > maxAccumulatedChars {
		return accumulated[:1500] + "...", true
	}
	return accumulated, false
}
