package goals

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	"github.com/antoniostano/unhabit/internal/keyed"
	"github.com/antoniostano/unhabit/internal/llm"
	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/observability"
)

// FallbackGoal is planned when the model produces no usable goal.
func FallbackGoal() model.Goal {
	return model.Goal{
		Title:           "Daily Reflection Check-in",
		Description:     "Take 10 minutes to reflect on today's progress and emotions",
		Priority:        model.PriorityMedium,
		DurationMinutes: 10,
		Recurrence:      "daily",
	}
}

// Planner turns reflection summaries into goals and delivers them to the calendar webhook.
// It has no access to memory.
type Planner struct {
	llm     llm.Invoker
	retries int
	pending *keyed.Map[model.TaskPayload]
	webhook *Webhook
	metrics *observability.Metrics
}

type Config struct {
	LLM          llm.Invoker
	ParseRetries int
	// PendingTTL bounds how long an unsynced payload stays cached. Zero keeps it until replaced.
	PendingTTL time.Duration
	Webhook    *Webhook
	Metrics    *observability.Metrics
}

func NewPlanner(cfg Config) *Planner {
	webhook := cfg.Webhook
	if webhook == nil {
		webhook = NewWebhook("", 0)
	}
	return &Planner{
		llm:     cfg.LLM,
		retries: cfg.ParseRetries,
		pending: keyed.New[model.TaskPayload](cfg.PendingTTL),
		webhook: webhook,
		metrics: cfg.Metrics,
	}
}

type goalReply struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Priority        string          `json:"priority"`
	DurationMinutes json.Number     `json:"duration_minutes"`
	Recurrence      json.RawMessage `json:"recurrence"`
}

// Plan asks the model for goals matching summary and caches the resulting payload as
// the user's pending payload. It never fails; unusable output yields FallbackGoal.
func (p *Planner) Plan(ctx context.Context, summary model.ReflectionSummary) model.TaskPayload {
	started := time.Now()
	defer func() { p.metrics.ObserveStage(observability.StagePlan, time.Since(started)) }()

	var goals []model.Goal
	_, err := llm.Decode(ctx, p.llm, llm.Request{
		System: plannerSystem,
		Prompt: planPrompt(summary),
		Format: llm.FormatJSONArray,
	}, p.retries, func(fragment string) error {
		parsed, err := parseGoals(fragment)
		if err != nil {
			return err
		}
		goals = parsed
		return nil
	})
	if err != nil {
		log.Printf("goal plan for %s fell back: %v", summary.UserID, err)
		p.metrics.ObserveIndicator("goal_fallback")
		goals = []model.Goal{FallbackGoal()}
	}

	payload := model.TaskPayload{
		UserID:        summary.UserID,
		Goals:         goals,
		SourceSummary: summary.Summary,
		Timestamp:     time.Now().UTC(),
	}
	p.pending.Do(summary.UserID, func(v *model.TaskPayload, _ bool) bool {
		*v = payload
		return true
	})
	return payload
}

var errNoValidGoals = errors.New("no valid goals in reply")

// parseGoals keeps the well-formed elements of a JSON goal array.
func parseGoals(fragment string) ([]model.Goal, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(fragment), &elems); err != nil {
		return nil, err
	}
	goals := make([]model.Goal, 0, len(elems))
	for _, raw := range elems {
		g, ok := parseGoal(raw)
		if !ok {
			continue
		}
		goals = append(goals, g)
	}
	if len(goals) == 0 {
		return nil, errNoValidGoals
	}
	return goals, nil
}

func parseGoal(raw json.RawMessage) (model.Goal, bool) {
	var r goalReply
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return model.Goal{}, false
	}
	title := strings.TrimSpace(r.Title)
	desc := strings.TrimSpace(r.Description)
	if title == "" || desc == "" {
		return model.Goal{}, false
	}
	priority, ok := model.ParsePriority(r.Priority)
	if !ok {
		return model.Goal{}, false
	}
	minutes, err := r.DurationMinutes.Float64()
	if err != nil || minutes <= 0 {
		return model.Goal{}, false
	}
	recurrence, ok := parseRecurrence(r.Recurrence)
	if !ok {
		return model.Goal{}, false
	}
	return model.Goal{
		Title:           title,
		Description:     desc,
		Priority:        priority,
		DurationMinutes: int(math.Max(1, math.Round(minutes))),
		Recurrence:      recurrence,
	}, true
}

// parseRecurrence accepts a string or null.
func parseRecurrence(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "none" || s == "once" {
		s = ""
	}
	return s, true
}

// Pending returns the most recently planned payload for userID.
func (p *Planner) Pending(userID string) (model.TaskPayload, bool) {
	return p.pending.Load(userID)
}

func (p *Planner) ClearPending(userID string) bool {
	return p.pending.Delete(userID)
}

func (p *Planner) PendingCount() int {
	return p.pending.Len()
}

// SyncExternal delivers payload to the calendar webhook. Failures are reported in the
// returned status, never as an error.
func (p *Planner) SyncExternal(ctx context.Context, payload model.TaskPayload) SyncStatus {
	started := time.Now()
	status := p.webhook.Send(ctx, payload)
	p.metrics.ObserveWebhook(status.Status, time.Since(started))
	if status.Status != StatusSuccess {
		log.Printf("goal sync for %s failed: %s", payload.UserID, status.Message)
	}
	return status
}

func (p *Planner) WebhookConfigured() bool {
	return p.webhook.Configured()
}
