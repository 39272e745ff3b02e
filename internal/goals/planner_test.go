package goals

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/unhabit/internal/llm"
	"github.com/antoniostano/unhabit/internal/model"
)

func fixedReply(text string) llm.Invoker {
	return llm.InvokerFunc(func(context.Context, llm.Request) string { return text })
}

func testSummary() model.ReflectionSummary {
	return model.ReflectionSummary{
		UserID:        "u1",
		Summary:       "Scrolls late at night when stressed.",
		EmotionalTone: "tired",
		KeyThemes:     []string{"sleep", "social media"},
		Timestamp:     time.Now(),
	}
}

func TestPlanParsesGoalsAndSkipsInvalid(t *testing.T) {
	reply := `Sure! [
	  {"title": "Phone outside bedroom", "description": "Charge it in the kitchen", "priority": "High", "duration_minutes": 5, "recurrence": "daily"},
	  {"title": "Broken", "description": "missing priority", "duration_minutes": 10},
	  {"title": "Walk", "description": "Ten minute walk after lunch", "priority": "low", "duration_minutes": 10.0, "recurrence": null},
	  {"title": "Zero", "description": "no time", "priority": "low", "duration_minutes": 0}
	]`
	p := NewPlanner(Config{LLM: fixedReply(reply)})

	got := p.Plan(context.Background(), testSummary())
	if len(got.Goals) != 2 {
		t.Fatalf("goals = %+v, want 2 valid goals", got.Goals)
	}
	if got.Goals[0].Priority != model.PriorityHigh || got.Goals[0].Recurrence != "daily" {
		t.Fatalf("first goal = %+v", got.Goals[0])
	}
	if got.Goals[1].DurationMinutes != 10 || got.Goals[1].Recurrence != "" {
		t.Fatalf("second goal = %+v", got.Goals[1])
	}
	if got.UserID != "u1" || got.SourceSummary != "Scrolls late at night when stressed." {
		t.Fatalf("payload = %+v", got)
	}
}

func TestPlanFallsBackToSingleGoal(t *testing.T) {
	for _, reply := range []string{"", "no json here", "[]", `[{"title": ""}]`, `{"title": "object not array"}`} {
		p := NewPlanner(Config{LLM: fixedReply(reply)})
		got := p.Plan(context.Background(), testSummary())
		if len(got.Goals) != 1 || got.Goals[0] != FallbackGoal() {
			t.Fatalf("Plan(%q) goals = %+v, want fallback", reply, got.Goals)
		}
	}
}

func TestPlanAcceptsSingleGoalObject(t *testing.T) {
	reply := `Here is one: {"title": "Screen-free hour", "description": "No phone from 9 to 10pm", "priority": "medium", "duration_minutes": 60, "recurrence": "daily"}`
	p := NewPlanner(Config{LLM: fixedReply(reply)})

	got := p.Plan(context.Background(), testSummary())
	if len(got.Goals) != 1 || got.Goals[0].Title != "Screen-free hour" || got.Goals[0].DurationMinutes != 60 {
		t.Fatalf("goals = %+v, want the single goal", got.Goals)
	}
}

func TestPlanPromptListsInsights(t *testing.T) {
	var prompts []string
	inv := llm.InvokerFunc(func(_ context.Context, req llm.Request) string {
		prompts = append(prompts, req.Prompt)
		return "[]"
	})
	p := NewPlanner(Config{LLM: inv})

	s := testSummary()
	p.Plan(context.Background(), s)
	s.Insights = []string{"stress drives it", "mornings are fine"}
	p.Plan(context.Background(), s)

	if !strings.Contains(prompts[0], "Insights: None identified") {
		t.Fatalf("prompt without insights = %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "Insights: stress drives it, mornings are fine") {
		t.Fatalf("prompt with insights = %q", prompts[1])
	}
	if !strings.Contains(prompts[1], "Key themes: sleep, social media") {
		t.Fatalf("prompt missing themes = %q", prompts[1])
	}
}

func TestPlanOverwritesPending(t *testing.T) {
	p := NewPlanner(Config{LLM: fixedReply("garbage")})
	if _, ok := p.Pending("u1"); ok {
		t.Fatalf("Pending() before Plan should miss")
	}

	first := p.Plan(context.Background(), testSummary())
	s := testSummary()
	s.Summary = "second session"
	second := p.Plan(context.Background(), s)

	got, ok := p.Pending("u1")
	if !ok {
		t.Fatalf("Pending() missed after Plan")
	}
	if got.SourceSummary != second.SourceSummary || got.SourceSummary == first.SourceSummary {
		t.Fatalf("pending = %q, want last write", got.SourceSummary)
	}
}

func TestSyncExternalPostsTasks(t *testing.T) {
	var (
		mu       sync.Mutex
		received webhookPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(body, &received)
		mu.Unlock()
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created": 2}`))
	}))
	defer srv.Close()

	p := NewPlanner(Config{LLM: fixedReply(""), Webhook: NewWebhook(srv.URL, time.Second)})
	payload := model.TaskPayload{
		UserID: "u1",
		Goals: []model.Goal{
			FallbackGoal(),
			{Title: "Walk", Description: "After lunch", Priority: model.PriorityLow, DurationMinutes: 15},
		},
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	status := p.SyncExternal(context.Background(), payload)
	if status.Status != StatusSuccess || status.Count != 2 {
		t.Fatalf("SyncExternal() = %+v", status)
	}
	if string(status.Data) != `{"created": 2}` {
		t.Fatalf("data = %s", status.Data)
	}

	mu.Lock()
	defer mu.Unlock()
	if received.Source != "goal_planner" || received.UserID != "u1" || received.Timestamp != "2025-01-02T03:04:05Z" {
		t.Fatalf("payload = %+v", received)
	}
	if len(received.Tasks) != 2 || received.Tasks[0].Summary != "Daily Reflection Check-in" || received.Tasks[0].Duration != 10 {
		t.Fatalf("tasks = %+v", received.Tasks)
	}
	if received.Tasks[0].Recurrence == nil || *received.Tasks[0].Recurrence != "daily" || received.Tasks[1].Recurrence != nil {
		t.Fatalf("recurrence not encoded as string or null: %+v", received.Tasks)
	}
}

func TestSyncExternalReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPlanner(Config{LLM: fixedReply(""), Webhook: NewWebhook(srv.URL, time.Second)})
	status := p.SyncExternal(context.Background(), model.TaskPayload{UserID: "u1", Goals: []model.Goal{FallbackGoal()}})
	if status.Status != StatusError || status.Count != 0 || !strings.Contains(status.Message, "502") {
		t.Fatalf("SyncExternal() = %+v", status)
	}
}

func TestSyncExternalUnconfigured(t *testing.T) {
	p := NewPlanner(Config{LLM: fixedReply("")})
	if p.WebhookConfigured() {
		t.Fatalf("WebhookConfigured() = true, want false")
	}
	status := p.SyncExternal(context.Background(), model.TaskPayload{UserID: "u1"})
	if status.Status != StatusError || status.Message != "webhook URL not configured" {
		t.Fatalf("SyncExternal() = %+v", status)
	}
}
