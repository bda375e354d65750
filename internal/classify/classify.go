// Package classify maps free-text task titles to a scheduling category with a
// duration estimate and the hours of the day the task belongs in.
package classify

import (
	"fmt"
	"strings"
)

// Category is a semantic task category.
type Category uint8

// Categories in match-priority order. General is the fallback and has no keywords.
const (
	Meal Category = iota
	Meeting
	Exercise
	DeepWork
	Errand
	Personal
	Commute
	General

	numCategories
)

var categoryNames = [numCategories]string{
	Meal:     "meal",
	Meeting:  "meeting",
	Exercise: "exercise",
	DeepWork: "deep_work",
	Errand:   "errand",
	Personal: "personal",
	Commute:  "commute",
	General:  "general",
}

func (c Category) String() string {
	if c >= numCategories {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseCategory resolves a category name.
func ParseCategory(s string) (Category, bool) {
	for c, name := range categoryNames {
		if name == s {
			return Category(c), true
		}
	}
	return General, false
}

// Strength says how hard the planner must respect a classification's windows.
type Strength string

const (
	Strict   Strength = "strict"
	Flexible Strength = "flexible"
)

// Window is a half-open hour range [Start, End).
type Window struct {
	Start int `json:"start_hour"`
	End   int `json:"end_hour"`
}

// Contains reports whether hour falls inside the window.
func (w Window) Contains(hour int) bool {
	return w.Start <= hour && hour < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%d:00-%d:00", w.Start, w.End)
}

// Classification is the derived scheduling metadata for a task title.
type Classification struct {
	Category        Category `json:"category"`
	Subtype         string   `json:"subtype,omitempty"`
	DurationMinutes int      `json:"duration_minutes"`
	Windows         []Window `json:"windows,omitempty"`
	Strength        Strength `json:"constraint_strength"`
}

// Primary returns the first allowed window, if any.
func (c Classification) Primary() (Window, bool) {
	if len(c.Windows) == 0 {
		return Window{}, false
	}
	return c.Windows[0], true
}

type subtype struct {
	name     string
	keywords []string
	duration int
	window   Window
}

type categoryConfig struct {
	keywords []string
	duration int
	windows  []Window
	subtypes []subtype
}

// registry is indexed by Category; adding a category without a config entry
// fails the registry completeness test.
var registry = [numCategories]categoryConfig{
	Meal: {
		keywords: []string{"breakfast", "lunch", "dinner", "brunch", "snack", "eat", "food", "meal"},
		duration: 45,
		subtypes: []subtype{
			{name: "breakfast", keywords: []string{"breakfast"}, duration: 30, window: Window{6, 10}},
			{name: "brunch", keywords: []string{"brunch"}, duration: 60, window: Window{10, 13}},
			{name: "lunch", keywords: []string{"lunch"}, duration: 45, window: Window{11, 14}},
			{name: "dinner", keywords: []string{"dinner", "supper"}, duration: 60, window: Window{17, 21}},
			{name: "snack", keywords: []string{"snack", "tea", "coffee break"}, duration: 15, window: Window{9, 20}},
		},
	},
	Meeting: {
		keywords: []string{"meeting", "call", "standup", "sync", "1:1", "one-on-one",
			"interview", "review", "discussion", "catchup", "catch-up", "huddle"},
		duration: 30,
		windows:  []Window{{9, 18}},
		subtypes: []subtype{
			{name: "standup", keywords: []string{"standup", "stand-up", "daily"}, duration: 15, window: Window{9, 11}},
			{name: "interview", keywords: []string{"interview"}, duration: 60, window: Window{10, 17}},
		},
	},
	Exercise: {
		keywords: []string{"gym", "workout", "exercise", "run", "running", "yoga", "fitness",
			"training", "jog", "swim", "cycling", "bike", "walk", "hiking"},
		duration: 60,
		windows:  []Window{{6, 9}, {17, 21}},
	},
	DeepWork: {
		keywords: []string{"code", "coding", "write", "writing", "design", "plan", "planning",
			"focus", "prep", "prepare", "research", "study", "analyze", "review",
			"develop", "build", "create", "documentation", "strategy"},
		duration: 90,
		windows:  []Window{{9, 17}},
	},
	Errand: {
		keywords: []string{"errand", "shopping", "grocery", "bank", "post office", "pharmacy",
			"doctor", "dentist", "appointment", "pickup", "drop off", "return"},
		duration: 45,
		windows:  []Window{{10, 18}},
	},
	Personal: {
		keywords: []string{"family", "friends", "relax", "rest", "hobby", "read", "game",
			"movie", "show", "netflix", "leisure", "break"},
		duration: 60,
		windows:  []Window{{18, 22}},
	},
	Commute: {
		keywords: []string{"commute", "travel", "drive", "transit"},
		duration: 30,
		windows:  []Window{{7, 10}, {16, 19}},
	},
	General: {
		duration: 30,
		windows:  []Window{{9, 18}},
	},
}

// Classify returns the classification for a task title. It never fails:
// a title matching no keyword is General.
func Classify(title string) Classification {
	lower := strings.ToLower(strings.TrimSpace(title))

	for c := Meal; c < General; c++ {
		cfg := &registry[c]
		if !containsAny(lower, cfg.keywords) {
			continue
		}
		out := Classification{
			Category:        c,
			DurationMinutes: cfg.duration,
			Windows:         append([]Window(nil), cfg.windows...),
			Strength:        strengthOf(c),
		}
		for _, sub := range cfg.subtypes {
			if containsAny(lower, sub.keywords) {
				out.Subtype = sub.name
				out.DurationMinutes = sub.duration
				out.Windows = []Window{sub.window}
				break
			}
		}
		return out
	}

	return Classification{
		Category:        General,
		DurationMinutes: registry[General].duration,
		Windows:         append([]Window(nil), registry[General].windows...),
		Strength:        Flexible,
	}
}

func strengthOf(c Category) Strength {
	if c == Meal {
		return Strict
	}
	return Flexible
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
