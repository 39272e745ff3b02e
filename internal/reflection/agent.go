package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/unhabit/internal/llm"
	"github.com/antoniostano/unhabit/internal/memory"
	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/observability"
	"github.com/antoniostano/unhabit/internal/session"
)

var (
	ErrNoActiveSession = session.ErrNoActiveSession
	ErrSessionActive   = session.ErrSessionActive
	ErrEmptyMessage    = errors.New("message is required")
	ErrUserRequired    = errors.New("user_id is required")
)

const (
	contextReflections = 3
	historyWindow      = 6
	fallbackSummaryLen = 300

	defaultSummarizeTimeout = 2 * time.Minute
)

// Agent holds reflective conversations and turns each finished one into a summary.
// It reads memory but never writes it.
type Agent struct {
	llm      llm.Invoker
	memory   memory.Reader
	sessions *session.Manager
	retries  int
	metrics  *observability.Metrics

	summarizeTimeout time.Duration
}

type Config struct {
	LLM      llm.Invoker
	Memory   memory.Reader
	Sessions *session.Manager
	// ParseRetries is how many times a malformed summary is re-requested.
	ParseRetries int
	// SummarizeTimeout bounds the summary of an ended session, which runs detached
	// from the caller's context.
	SummarizeTimeout time.Duration
	Metrics          *observability.Metrics
}

func NewAgent(cfg Config) *Agent {
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewManager(0)
	}
	timeout := cfg.SummarizeTimeout
	if timeout <= 0 {
		timeout = defaultSummarizeTimeout
	}
	return &Agent{
		llm:              cfg.LLM,
		memory:           cfg.Memory,
		sessions:         sessions,
		retries:          cfg.ParseRetries,
		metrics:          cfg.Metrics,
		summarizeTimeout: timeout,
	}
}

func (a *Agent) Sessions() *session.Manager { return a.sessions }

// Start opens a session for userID and answers the opening message using past
// reflections and the latest state as context.
func (a *Agent) Start(ctx context.Context, userID, message string) (string, error) {
	if err := validate(userID, message); err != nil {
		return "", err
	}
	if _, err := a.sessions.Get(userID); err == nil {
		return "", ErrSessionActive
	}
	started := time.Now()

	past := a.memory.Read(ctx, memory.CollectionReflections, userID, message, contextReflections)
	state, hasState := a.memory.LatestState(ctx, userID)
	prompt := openingPrompt(buildContext(past, state, hasState), message)

	reply := a.llm.Invoke(ctx, llm.Request{System: companionSystem, Prompt: prompt})
	now := time.Now().UTC()
	if _, err := a.sessions.Open(userID,
		session.Message{Role: session.RoleUser, Content: message, Timestamp: now},
		session.Message{Role: session.RoleAssistant, Content: reply, Timestamp: now},
	); err != nil {
		return "", err
	}
	a.metrics.ObserveSessionEvent("started")
	a.metrics.SetActiveSessions(a.sessions.ActiveCount())
	a.metrics.ObserveStage(observability.StageTurn, time.Since(started))
	return reply, nil
}

// Continue answers message within the active session, prompting with only the most
// recent exchanges. Without a session it behaves like Start.
func (a *Agent) Continue(ctx context.Context, userID, message string) (string, error) {
	if err := validate(userID, message); err != nil {
		return "", err
	}
	history, err := a.sessions.Window(userID, historyWindow)
	if errors.Is(err, session.ErrNoActiveSession) {
		return a.Start(ctx, userID, message)
	}
	if err != nil {
		return "", err
	}
	started := time.Now()

	reply := a.llm.Invoke(ctx, llm.Request{System: companionSystem, Prompt: continuePrompt(history, message)})
	now := time.Now().UTC()
	if _, err := a.sessions.Append(userID,
		session.Message{Role: session.RoleUser, Content: message, Timestamp: now},
		session.Message{Role: session.RoleAssistant, Content: reply, Timestamp: now},
	); err != nil {
		return "", fmt.Errorf("session ended during turn: %w", err)
	}
	a.metrics.ObserveSessionEvent("continued")
	a.metrics.ObserveStage(observability.StageTurn, time.Since(started))
	return reply, nil
}

type summaryReply struct {
	Summary       string   `json:"summary"`
	EmotionalTone string   `json:"emotional_tone"`
	KeyThemes     []string `json:"key_themes"`
	Insights      []string `json:"insights"`
}

// End closes the session and summarizes the whole conversation. The buffer is gone
// once End returns, whether or not the model produced a usable summary. Once the
// session is closed the summary no longer depends on ctx staying alive.
func (a *Agent) End(ctx context.Context, userID string) (model.ReflectionSummary, error) {
	s, err := a.sessions.Close(userID)
	if err != nil {
		return model.ReflectionSummary{}, err
	}
	a.metrics.ObserveSessionEvent("ended")
	a.metrics.SetActiveSessions(a.sessions.ActiveCount())

	sumCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.summarizeTimeout)
	defer cancel()
	return a.Summarize(sumCtx, userID, s.Messages), nil
}

// Summarize builds a ReflectionSummary from a finished conversation. It never fails;
// unusable model output degrades to a reflective fallback.
func (a *Agent) Summarize(ctx context.Context, userID string, conversation []session.Message) model.ReflectionSummary {
	started := time.Now()
	defer func() { a.metrics.ObserveStage(observability.StageSummarize, time.Since(started)) }()

	var parsed summaryReply
	raw, err := llm.Decode(ctx, a.llm, llm.Request{
		System: companionSystem,
		Prompt: summarizePrompt(conversation),
		Format: llm.FormatJSONObject,
	}, a.retries, func(fragment string) error {
		parsed = summaryReply{}
		return json.Unmarshal([]byte(fragment), &parsed)
	})

	out := model.ReflectionSummary{UserID: userID, Timestamp: time.Now().UTC()}
	if err != nil {
		log.Printf("reflection summary for %s fell back: %v", userID, err)
		a.metrics.ObserveIndicator("summary_fallback")
		out.Summary = model.Truncate(raw, fallbackSummaryLen)
		out.EmotionalTone = "reflective"
		out.KeyThemes = []string{"self-reflection"}
		out.Insights = []string{}
		return out
	}

	out.Summary = parsed.Summary
	out.EmotionalTone = strings.TrimSpace(parsed.EmotionalTone)
	if out.EmotionalTone == "" {
		out.EmotionalTone = "neutral"
	}
	out.KeyThemes = nonNil(parsed.KeyThemes)
	out.Insights = nonNil(parsed.Insights)
	return out
}

// Clear discards the session of userID without summarizing it.
func (a *Agent) Clear(userID string) bool {
	ok := a.sessions.Clear(userID)
	a.metrics.SetActiveSessions(a.sessions.ActiveCount())
	return ok
}

func validate(userID, message string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserRequired
	}
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
