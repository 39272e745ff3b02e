package goals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/unhabit/internal/model"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	webhookSource         = "goal_planner"
	defaultWebhookTimeout = 15 * time.Second
	maxWebhookBody        = 1 << 20
)

// SyncStatus reports the outcome of a webhook delivery.
type SyncStatus struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Count   int             `json:"count"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type webhookTask struct {
	Summary     string  `json:"summary"`
	Description string  `json:"description"`
	Duration    int     `json:"duration"`
	Priority    string  `json:"priority"`
	Recurrence  *string `json:"recurrence"`
}

type webhookPayload struct {
	UserID    string        `json:"user_id"`
	Timestamp string        `json:"timestamp"`
	Source    string        `json:"source"`
	Tasks     []webhookTask `json:"tasks"`
}

// Webhook posts goal payloads to an external automation endpoint that books calendar events.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Webhook{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Configured() bool { return w.url != "" }

func (w *Webhook) Send(ctx context.Context, payload model.TaskPayload) SyncStatus {
	if !w.Configured() {
		return SyncStatus{Status: StatusError, Message: "webhook URL not configured"}
	}

	body, err := json.Marshal(buildWebhookPayload(payload))
	if err != nil {
		return SyncStatus{Status: StatusError, Message: fmt.Sprintf("encode payload: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return SyncStatus{Status: StatusError, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return SyncStatus{Status: StatusError, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SyncStatus{
			Status:  StatusError,
			Message: fmt.Sprintf("webhook returned status %d", resp.StatusCode),
		}
	}

	out := SyncStatus{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("synced %d tasks", len(payload.Goals)),
		Count:   len(payload.Goals),
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && json.Valid(trimmed) {
		out.Data = json.RawMessage(trimmed)
	}
	return out
}

func buildWebhookPayload(p model.TaskPayload) webhookPayload {
	tasks := make([]webhookTask, 0, len(p.Goals))
	for _, g := range p.Goals {
		var recurrence *string
		if g.Recurrence != "" {
			r := g.Recurrence
			recurrence = &r
		}
		tasks = append(tasks, webhookTask{
			Summary:     g.Title,
			Description: g.Description,
			Duration:    g.DurationMinutes,
			Priority:    string(g.Priority),
			Recurrence:  recurrence,
		})
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return webhookPayload{
		UserID:    p.UserID,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Source:    webhookSource,
		Tasks:     tasks,
	}
}
