// Package preferences validates the user's scheduling window and turns
// free-text scheduling rules into a structured prompt section.
package preferences

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength bounds the free-text rules in characters.
const MaxTextLength = 2000

var (
	// ErrInvalidDayWindow is returned for out-of-range or empty day windows.
	ErrInvalidDayWindow = errors.New("invalid day window")
	// ErrTextTooLong is returned when the rules exceed MaxTextLength.
	ErrTextTooLong = fmt.Errorf("preferences must be at most %d characters", MaxTextLength)
	// ErrInvalidTimezone is returned for names the tz database does not know.
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// ValidateDayWindow checks 0 <= start <= 23, 0 <= end <= 24 and start != end.
// 0-24 means no constraint.
func ValidateDayWindow(start, end int) error {
	if start < 0 || start > 23 {
		return fmt.Errorf("%w: day_start_hour must be between 0 and 23", ErrInvalidDayWindow)
	}
	if end < 0 || end > 24 {
		return fmt.Errorf("%w: day_end_hour must be between 0 and 24", ErrInvalidDayWindow)
	}
	if start == end {
		return fmt.Errorf("%w: start and end hours cannot be the same", ErrInvalidDayWindow)
	}
	return nil
}

// ValidateTimezone checks an IANA zone name. Empty means UTC.
func ValidateTimezone(name string) error {
	if name == "" {
		return nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return nil
}

// ValidateText checks the free-text rules length.
func ValidateText(text string) error {
	if utf8.RuneCountInString(text) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}

// RuleType classifies one line of the free-text rules.
type RuleType string

const (
	RuleGeneral    RuleType = "general"
	RuleTime       RuleType = "time_preference"
	RuleWorkType   RuleType = "work_type_preference"
	RuleAvoid      RuleType = "avoid_rule"
	RulePreference RuleType = "preference_rule"
	RuleBreak      RuleType = "break_rule"
)

// TimeConstraint is a before/after/at phrase found in a time rule.
type TimeConstraint struct {
	Type string `json:"type"`
	Time string `json:"time"`
}

// Rule is one parsed line.
type Rule struct {
	Text           string          `json:"text"`
	Type           RuleType        `json:"type"`
	TimeConstraint *TimeConstraint `json:"time_constraint,omitempty"`
	WorkType       string          `json:"work_type,omitempty"`
}

func wordsPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Detectors run in order; a later match overrides the type set by an earlier one.
var (
	timeWords       = wordsPattern("morning", "afternoon", "evening", "night", "am", "pm", "before", "after")
	workWords       = wordsPattern("deep work", "focus", "meetings", "meeting", "calls", "call", "exercise", "gym")
	avoidWords      = wordsPattern("avoid", "no", "don't", "not", "never")
	preferenceWords = wordsPattern("prefer", "like", "love")
	breakWords      = wordsPattern("break", "breaks", "rest", "lunch", "downtime")

	timePatterns = []struct {
		re   *regexp.Regexp
		kind string
	}{
		{regexp.MustCompile(`before\s+(\d{1,2}(?::\d{2})?)\s*(am|pm)?`), "before"},
		{regexp.MustCompile(`after\s+(\d{1,2}(?::\d{2})?)\s*(am|pm)?`), "after"},
		{regexp.MustCompile(`(\d{1,2}(?::\d{2})?)\s*(am|pm)`), "at"},
	}
)

// Parse splits text into non-blank lines and classifies each.
func Parse(text string) []Rule {
	rules := []Rule{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rules = append(rules, parseLine(line))
	}
	return rules
}

func parseLine(line string) Rule {
	rule := Rule{Text: line, Type: RuleGeneral}
	lower := strings.ToLower(line)

	if timeWords.MatchString(lower) || timePatterns[2].re.MatchString(lower) {
		rule.Type = RuleTime
		for _, p := range timePatterns {
			if m := p.re.FindString(lower); m != "" {
				rule.TimeConstraint = &TimeConstraint{Type: p.kind, Time: m}
				break
			}
		}
	}

	if workWords.MatchString(lower) {
		rule.Type = RuleWorkType
		switch {
		case strings.Contains(lower, "deep work"), strings.Contains(lower, "focus"):
			rule.WorkType = "deep_work"
		case strings.Contains(lower, "meeting"), strings.Contains(lower, "call"):
			rule.WorkType = "meetings"
		case strings.Contains(lower, "exercise"), strings.Contains(lower, "gym"):
			rule.WorkType = "exercise"
		}
	}

	if avoidWords.MatchString(lower) {
		rule.Type = RuleAvoid
	}
	if preferenceWords.MatchString(lower) {
		rule.Type = RulePreference
	}
	if breakWords.MatchString(lower) {
		rule.Type = RuleBreak
	}
	return rule
}

// BuildPrompt renders the rules as a prompt section, or "" when there are none.
func BuildPrompt(text string) string {
	rules := Parse(text)
	if len(rules) == 0 {
		return ""
	}
	lines := make([]string, 0, len(rules)+3)
	lines = append(lines, "USER PREFERENCES (MUST RESPECT):")
	for _, r := range rules {
		lines = append(lines, "- "+r.Text)
	}
	lines = append(lines, "", "CRITICAL: These preferences are NON-NEGOTIABLE. Violating them will reduce user trust.")
	return strings.Join(lines, "\n")
}
