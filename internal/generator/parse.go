package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/dayplan/internal/domain"
)

var (
	// jsonBlockPattern matches an object inside a markdown fence.
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// jsonObjectPattern is the greedy fallback for unfenced output.
	jsonObjectPattern    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

var errNoJSON = errors.New("no JSON object in response")

// ExtractJSON pulls the plan object out of a model response, tolerating
// markdown fences, line comments and trailing commas.
func ExtractJSON(content string) string {
	var raw string
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	} else {
		raw = jsonObjectPattern.FindString(content)
	}
	if raw == "" {
		return ""
	}
	return cleanJSON(raw)
}

func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment drops a // comment that sits outside a string literal.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// ParsePlan decodes a model response into a plan. Any failure is a
// *ParseError; no partial plan is returned.
func ParsePlan(text string) (domain.Plan, error) {
	raw := ExtractJSON(text)
	if raw == "" {
		return domain.Plan{}, &ParseError{Raw: text, Err: errNoJSON}
	}

	var plan domain.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return domain.Plan{}, &ParseError{Raw: text, Err: err}
	}
	for i, a := range plan.Actions {
		if a.Type != domain.ActionMove && a.Type != domain.ActionCreate {
			return domain.Plan{}, &ParseError{Raw: text, Err: fmt.Errorf("action %d: unknown type %q", i, a.Type)}
		}
	}
	if plan.Actions == nil {
		plan.Actions = []domain.ScheduleAction{}
	}
	return plan, nil
}
