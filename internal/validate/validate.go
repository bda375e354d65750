// Package validate checks generated schedule actions against common-sense
// time-of-day rules. Errors block a plan; warnings are advisory.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/dayplan/internal/classify"
	"github.com/ashureev/dayplan/internal/domain"
)

// WarningUnusualTime tags actions placed at a legal but odd hour.
const WarningUnusualTime = "unusual_time"

type mealRule struct {
	keywords []string
	name     string
	window   classify.Window
}

// Meal groups in match order; the first group found in a title is the only
// one checked.
var mealRules = []mealRule{
	{keywords: []string{"breakfast"}, name: "breakfast", window: classify.Window{Start: 5, End: 11}},
	{keywords: []string{"brunch"}, name: "brunch", window: classify.Window{Start: 9, End: 14}},
	{keywords: []string{"lunch"}, name: "lunch", window: classify.Window{Start: 11, End: 15}},
	{keywords: []string{"dinner", "supper"}, name: "dinner", window: classify.Window{Start: 16, End: 22}},
}

var (
	genericMealWords = []string{"eat", "food", "meal"}
	exerciseWords    = []string{"gym", "workout", "exercise", "yoga", "run", "training",
		"jog", "swim", "cycling", "bike", "walk", "hiking"}
	exerciseWindows = []classify.Window{{Start: 5, End: 10}, {Start: 16, End: 22}}
	meetingWords    = []string{"meeting", "call", "sync", "standup", "interview"}
	meetingWindow   = classify.Window{Start: 7, End: 21}
	overnightWords  = []string{"overnight", "night shift", "red-eye"}
)

// Warning is a non-blocking finding.
type Warning struct {
	Category string                `json:"type"`
	Message  string                `json:"message"`
	Action   domain.ScheduleAction `json:"action"`
}

// Result is the outcome of one validation pass.
type Result struct {
	Valid    bool      `json:"valid"`
	Errors   []string  `json:"errors"`
	Warnings []Warning `json:"warnings"`
}

// Validator checks schedule actions. The zero value reads the hour in each
// timestamp's own offset; set Location to read every hour in one zone.
type Validator struct {
	Location *time.Location
}

// New returns a validator that reads hours in loc.
func New(loc *time.Location) *Validator {
	return &Validator{Location: loc}
}

// Validate runs every rule against each create action. Moves are not
// hour-checked, and actions with a missing or unparseable start are skipped.
func (v *Validator) Validate(actions []domain.ScheduleAction) Result {
	res := Result{Errors: []string{}, Warnings: []Warning{}}

	for _, a := range actions {
		if a.Type != domain.ActionCreate {
			continue
		}
		start, ok := domain.ParseTimestamp(a.Start)
		if !ok {
			continue
		}
		if v != nil && v.Location != nil {
			start = start.In(v.Location)
		}
		v.check(a, start.Hour(), &res)
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) check(a domain.ScheduleAction, hour int, res *Result) {
	title := strings.ToLower(a.Title)

	for _, rule := range mealRules {
		if !containsAny(title, rule.keywords) {
			continue
		}
		if !rule.window.Contains(hour) {
			res.Errors = append(res.Errors, fmt.Sprintf("'%s' scheduled at %d:00 - %s should be between %s",
				a.Title, hour, rule.name, rule.window))
		}
		break
	}

	if containsAny(title, genericMealWords) && (hour < 6 || hour >= 23) {
		res.Errors = append(res.Errors, fmt.Sprintf("'%s' scheduled at %d:00 - meal at this time is unrealistic",
			a.Title, hour))
	}

	if containsAny(title, exerciseWords) && !anyContains(exerciseWindows, hour) {
		res.Warnings = append(res.Warnings, Warning{
			Category: WarningUnusualTime,
			Message:  fmt.Sprintf("'%s' at %d:00 - exercise typically scheduled morning or evening", a.Title, hour),
			Action:   a,
		})
	}

	if containsAny(title, meetingWords) && !meetingWindow.Contains(hour) {
		res.Errors = append(res.Errors, fmt.Sprintf("'%s' scheduled at %d:00 - meetings should be during reasonable hours",
			a.Title, hour))
	}

	if (hour >= 23 || hour < 5) && !containsAny(title, overnightWords) {
		res.Errors = append(res.Errors, fmt.Sprintf("'%s' at %d:00 - scheduling during sleep hours (11 PM-5 AM) is unrealistic",
			a.Title, hour))
	}
}

// Validate checks actions reading each hour in its timestamp's own offset.
func Validate(actions []domain.ScheduleAction) Result {
	var v Validator
	return v.Validate(actions)
}

// Report renders a result for logs and the CLI.
func Report(res Result) string {
	var b strings.Builder
	if len(res.Errors) > 0 {
		b.WriteString("SCHEDULE VALIDATION FAILED\n")
		b.WriteString("The following issues were detected:\n")
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	if len(res.Warnings) > 0 {
		if len(res.Errors) == 0 {
			b.WriteString("SCHEDULE WARNINGS\n")
		} else {
			b.WriteString("\nAdditional warnings:\n")
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "  %s\n", w.Message)
		}
	}
	if len(res.Errors) == 0 && len(res.Warnings) == 0 {
		b.WriteString("Schedule validated successfully")
	}
	return b.String()
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func anyContains(windows []classify.Window, hour int) bool {
	for _, w := range windows {
		if w.Contains(hour) {
			return true
		}
	}
	return false
}
