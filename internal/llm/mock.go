package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider returns deterministic replies when no model is configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	switch req.Format {
	case FormatJSONObject:
		return `{"summary": "The user reflected on recent habits and how they felt about them.", "emotional_tone": "reflective", "key_themes": ["self-reflection"], "insights": []}`, nil
	case FormatJSONArray:
		return `[{"title": "Evening wind-down", "description": "Put the phone away 30 minutes before bed", "priority": "medium", "duration_minutes": 30, "recurrence": "daily"}]`, nil
	}
	return buildMockReply(req.Prompt), nil
}

// buildMockReply echoes the user's latest words, taken from a "USER:" or "They say:" line
// when the prompt has one.
func buildMockReply(prompt string) string {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		s := strings.TrimSpace(lines[i])
		if s == "" {
			continue
		}
		if last == "" {
			last = s
		}
		if said, ok := userLine(s); ok {
			last = said
			break
		}
	}
	if last == "" {
		return "I am listening. What is on your mind?"
	}
	return fmt.Sprintf("I hear you: %s. What feels most important about that right now?", strings.TrimSuffix(last, "."))
}

func userLine(s string) (string, bool) {
	for _, prefix := range []string{"USER:", "They say:"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}
