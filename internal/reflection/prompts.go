package reflection

import (
	"fmt"
	"strings"

	"github.com/antoniostano/unhabit/internal/memory"
	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/session"
)

const companionSystem = "You are a warm, patient companion for people working their way out of behavioral " +
	"habits such as compulsive social media use, procrastination, overeating or skipping meals. " +
	"You listen more than you advise."

const noContext = "No prior context available."

func openingPrompt(context, message string) string {
	return fmt.Sprintf(`What you already know about this person:
%s

They say: %s

Answer with empathy in two to four sentences. Ask a reflective question that helps them look at
their feelings and patterns. Aim to understand, not to prescribe.`, context, message)
}

func continuePrompt(history []session.Message, message string) string {
	return fmt.Sprintf(`Keep this supportive conversation going:

%s

USER: %s

Reply briefly and conversationally. Help them notice patterns and any progress they have made.`,
		renderTranscript(history), message)
}

func summarizePrompt(conversation []session.Message) string {
	return fmt.Sprintf(`Read this reflection conversation and summarize it:

%s

Return a single JSON object with these keys:
  "summary": two or three sentences on the emotional arc of the conversation
  "emotional_tone": a short phrase such as "anxious", "hopeful" or "frustrated but self-aware"
  "key_themes": an array of two to four topics or concerns that came up
  "insights": an array of one to three realizations the person reached

Example:
{"summary": "They noticed late-night scrolling rises before work deadlines and felt drained afterwards.", "emotional_tone": "frustrated but self-aware", "key_themes": ["social media dependency", "work avoidance"], "insights": ["Scrolling spikes when deadlines approach"]}`,
		renderTranscript(conversation))
}

// renderTranscript writes one "ROLE: content" line per message.
func renderTranscript(msgs []session.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(m.Role)), m.Content))
	}
	return strings.Join(lines, "\n")
}

// buildContext renders up to two past reflections and the current state snippet.
func buildContext(past memory.QueryResult, state memory.Record, hasState bool) string {
	var parts []string
	if len(past.Documents) > 0 {
		parts = append(parts, "Recent reflections:")
		for i, doc := range past.Documents {
			if i == 2 {
				break
			}
			parts = append(parts, "- "+model.Truncate(doc, 150)+"...")
		}
	}
	if hasState && state.Text != "" {
		parts = append(parts, "\nCurrent state: "+model.Truncate(state.Text, 200)+"...")
	}
	if len(parts) == 0 {
		return noContext
	}
	return strings.Join(parts, "\n")
}
