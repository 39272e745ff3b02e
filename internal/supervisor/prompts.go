package supervisor

import (
	"fmt"
	"strings"
)

const analystSystem = "You assess how a person is progressing in recovery from behavioral habits. " +
	"You write clinically but kindly, and every observation should be something a coach could act on."

func digestReflections(items []pendingReflection) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		themes := it.Summary.KeyThemes
		if len(themes) > 2 {
			themes = themes[:2]
		}
		lines = append(lines, fmt.Sprintf("- %s (tone: %s, themes: %s)",
			it.Summary.Summary, it.Summary.EmotionalTone, strings.Join(themes, ", ")))
	}
	return orNone(lines)
}

func digestGoals(items []pendingGoals) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		titles := make([]string, 0, 3)
		for i, g := range it.Payload.Goals {
			if i == 3 {
				break
			}
			titles = append(titles, g.Title)
		}
		lines = append(lines, fmt.Sprintf("- %d goals created: %s", len(it.Payload.Goals), strings.Join(titles, ", ")))
	}
	return orNone(lines)
}

func digestFeedback(items []pendingFeedback) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("- %s reaction to support recommendation", it.Feedback.Reaction))
	}
	return orNone(lines)
}

func orNone(lines []string) string {
	if len(lines) == 0 {
		return "None"
	}
	return strings.Join(lines, "\n")
}

type digests struct {
	reflections string
	goals       string
	feedback    string
}

func buildDigests(p Pending) digests {
	return digests{
		reflections: digestReflections(p.Reflections),
		goals:       digestGoals(p.Goals),
		feedback:    digestFeedback(p.Feedback),
	}
}

func analysisPrompt(d digests) string {
	return fmt.Sprintf(`Write an updated picture of this person's recovery from what happened recently.

REFLECTIONS:
%s

GOALS CREATED:
%s

SUPPORT ENGAGEMENT:
%s

TIME PERIOD: Last current session

In two or three paragraphs cover their present mental and emotional state, the behavioral
patterns you can see (triggers, avoidance, engagement, consistency), how they are progressing
including setbacks and strengths, and how future conversations should adapt to support them.`,
		d.reflections, d.goals, d.feedback)
}

// fallbackAnalysis is stored when the model could not be reached.
func fallbackAnalysis(d digests) string {
	return fmt.Sprintf("Recent session digest.\n\nReflections:\n%s\n\nGoals:\n%s\n\nSupport engagement:\n%s",
		d.reflections, d.goals, d.feedback)
}
