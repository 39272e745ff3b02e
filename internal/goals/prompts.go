package goals

import (
	"fmt"
	"strings"

	"github.com/antoniostano/unhabit/internal/model"
)

const plannerSystem = "You help people recovering from behavioral habits turn what they learned about " +
	"themselves into small, concrete steps for the coming day."

func planPrompt(s model.ReflectionSummary) string {
	insights := "None identified"
	if len(s.Insights) > 0 {
		insights = strings.Join(s.Insights, ", ")
	}
	return fmt.Sprintf(`From the reflection below, propose between 2 and 4 achievable goals for today.

Summary: %s
Emotional tone: %s
Key themes: %s
Insights: %s

Good goals respond to the themes and the emotional state, are specific about what, when and how,
interrupt an unhelpful pattern or build a replacement habit, and fit comfortably in one day.

Reply with a JSON array only. Each element has:
  "title": a short action-oriented name
  "description": what to do, when, and how
  "priority": "high", "medium" or "low"
  "duration_minutes": an integer between 5 and 60
  "recurrence": "daily", "weekly" or null for a one-off

Example:
[{"title": "Phone-free breakfast", "description": "Leave the phone in another room until breakfast is done", "priority": "high", "duration_minutes": 20, "recurrence": "daily"},
 {"title": "Set an app limit", "description": "Cap Instagram at 20 minutes today using screen time settings", "priority": "medium", "duration_minutes": 5, "recurrence": null}]`,
		s.Summary, s.EmotionalTone, strings.Join(s.KeyThemes, ", "), insights)
}
