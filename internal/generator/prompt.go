package generator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/dayplan/internal/classify"
	"github.com/ashureev/dayplan/internal/domain"
)

// Request is everything a backend is told about one planning attempt.
type Request struct {
	Date         string
	Now          time.Time
	Events       []domain.CalendarEvent
	Tasks        []classify.EnrichedTask
	DayStartHour int
	DayEndHour   int
	// Preferences is the rendered user-rules section, possibly empty.
	Preferences string
	// Repair is set on the single follow-up attempt after a failed validation.
	Repair *Repair
}

// Repair carries the validation errors of the previous attempt.
type Repair struct {
	Errors []string
}

// Prompt is the text sent to a backend.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt renders a request into a system and user prompt.
func BuildPrompt(req Request) Prompt {
	system := systemPrompt(req.DayStartHour, req.DayEndHour)
	if req.Preferences != "" {
		system += "\n\n" + req.Preferences
	}

	user := userPrompt(req)
	if req.Repair != nil {
		user = repairPrompt(req.Repair.Errors, user)
	}
	return Prompt{System: system, User: user}
}

func dayWindowRule(start, end int) string {
	if start == 0 && end == 24 {
		return "- User has no time constraints; anything may be scheduled at any hour"
	}
	endText := fmt.Sprintf("%02d:00", end)
	if end >= 24 {
		endText = "23:59"
	}
	return fmt.Sprintf("- Only schedule between %02d:00 and %s", start, endText)
}

func systemPrompt(dayStart, dayEnd int) string {
	return `You are a scheduling assistant with common-sense understanding of human activities.

CRITICAL SEMANTIC RULES. NEVER VIOLATE THESE.

1. MEALS (strict)
| Meal      | Valid hours   | Duration  |
|-----------|---------------|-----------|
| Breakfast | 06:00 - 10:00 | 30-45 min |
| Brunch    | 10:00 - 13:00 | 45-60 min |
| Lunch     | 11:00 - 14:00 | 30-60 min |
| Dinner    | 17:00 - 21:00 | 45-90 min |
| Snack     | 09:00 - 20:00 | 15-20 min |
Never schedule lunch at 19:00 or breakfast at 14:00.

2. WORK AND MEETINGS
- Business meetings: 09:00 - 18:00
- Standups: 09:00 - 11:00
- Interviews: 10:00 - 17:00
- Focus blocks: 09:00 - 12:00 or 14:00 - 17:00

3. EXERCISE
- Preferred 06:00 - 09:00 or 17:00 - 20:00; avoid the middle of the workday

4. PERSONAL AND ERRANDS
- Errands: 10:00 - 18:00
- Family time: 18:00 - 22:00

5. PRIORITIES
- Urgent tasks first, even if existing events must move
- High priority tasks in prime slots; medium and low fill the gaps

6. GENERAL
- Leave a 15 minute buffer between back-to-back events
- Never schedule anything between 23:00 and 05:00 unless explicitly requested
` + dayWindowRule(dayStart, dayEnd) + `

RESPONSE FORMAT (JSON only, no markdown):
{
  "actions": [
    {
      "type": "move_event",
      "event_id": "id",
      "event_title": "name",
      "original_start": "RFC 3339 with offset",
      "original_end": "RFC 3339 with offset",
      "new_start": "RFC 3339 with offset",
      "new_end": "RFC 3339 with offset",
      "reason": "brief explanation"
    },
    {
      "type": "create_event",
      "title": "event name",
      "start": "RFC 3339 with offset",
      "end": "RFC 3339 with offset",
      "reason": "brief explanation"
    }
  ],
  "summary": "one-line overview of the changes"
}

If the schedule is already optimal: {"actions": [], "summary": "Your schedule is already optimized."}`
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", req.Date)
	fmt.Fprintf(&b, "Current UTC time: %s\n\n", req.Now.UTC().Format(time.RFC3339))

	b.WriteString("EXISTING CALENDAR EVENTS:")
	if len(req.Events) == 0 {
		b.WriteString(" No events scheduled.")
	}
	for _, e := range req.Events {
		title := e.Title
		if title == "" {
			title = "No Title"
		}
		fmt.Fprintf(&b, "\n- ID: %s | %s | Start: %s | End: %s", e.ID, title, e.Start, e.End)
	}

	b.WriteString("\n\nTASKS TO SCHEDULE:")
	if len(req.Tasks) == 0 {
		b.WriteString(" No tasks to schedule.")
	}
	for _, t := range req.Tasks {
		fmt.Fprintf(&b, "\n- %s | Priority: %s | Type: %s | Suggested duration: %dmin %s",
			t.Title, t.Priority, t.Classification.Category, t.Classification.DurationMinutes, t.Constraint)
	}

	b.WriteString(`

CRITICAL INSTRUCTIONS:
1. LUNCH must be between 11:00 and 14:00, never at 19:00
2. BREAKFAST must be between 06:00 and 10:00
3. DINNER must be between 17:00 and 21:00
4. EXERCISE should be 06:00-09:00 or 17:00-20:00
5. If a window has already passed today, use the next available slot today or tomorrow
6. Use the same UTC offset as the existing events

Analyze and optimize. Return valid JSON only.`)
	return b.String()
}

func repairPrompt(errs []string, original string) string {
	return fmt.Sprintf(`Your previous schedule was INVALID:
%s

FIX THIS NOW. You MUST schedule:
- LUNCH between 11:00 and 14:00, never 19:00
- BREAKFAST between 06:00 and 10:00
- DINNER between 17:00 and 21:00
- Nothing between 23:00 and 05:00

If the time window has passed for today, schedule for tomorrow.

Original request:
%s

Return corrected JSON only.`, strings.Join(errs, "\n"), original)
}
