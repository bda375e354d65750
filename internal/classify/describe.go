package classify

import (
	"fmt"
	"strings"

	"github.com/ashureev/dayplan/internal/domain"
)

// DescribeConstraint renders a short scheduling hint for a generation request.
func DescribeConstraint(c Classification) string {
	primary, hasWindow := c.Primary()

	switch c.Category {
	case Meal:
		name := c.Subtype
		if name == "" {
			name = "meal"
		}
		if !hasWindow {
			return "[Schedule at appropriate meal time]"
		}
		return fmt.Sprintf("[MUST schedule between %s - this is a %s!]", primary, name)
	case Exercise:
		if len(c.Windows) == 0 {
			return "[Schedule morning or evening]"
		}
		parts := make([]string, len(c.Windows))
		for i, w := range c.Windows {
			parts[i] = w.String()
		}
		return fmt.Sprintf("[Best times: %s - avoid middle of workday]", strings.Join(parts, " OR "))
	case Meeting:
		return fmt.Sprintf("[Business hours %s]", primary)
	case DeepWork:
		return "[Focus time: morning or mid-afternoon preferred]"
	}
	if hasWindow {
		return fmt.Sprintf("[Suggested time: %s]", primary)
	}
	return ""
}

// EnrichedTask is a task annotated for a generation request.
type EnrichedTask struct {
	domain.Task
	Classification Classification `json:"classification"`
	Constraint     string         `json:"constraint_text"`
}

// Enrich classifies every task.
func Enrich(tasks []domain.Task) []EnrichedTask {
	out := make([]EnrichedTask, 0, len(tasks))
	for _, t := range tasks {
		c := Classify(t.Title)
		out = append(out, EnrichedTask{
			Task:           t,
			Classification: c,
			Constraint:     DescribeConstraint(c),
		})
	}
	return out
}
