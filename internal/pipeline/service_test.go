package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/unhabit/internal/goals"
	"github.com/antoniostano/unhabit/internal/llm"
	"github.com/antoniostano/unhabit/internal/memory"
	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/reflection"
	"github.com/antoniostano/unhabit/internal/session"
	"github.com/antoniostano/unhabit/internal/support"
	"github.com/antoniostano/unhabit/internal/supervisor"
)

type failingStore struct {
	*memory.VectorStore

	mu        sync.Mutex
	remaining int
}

func (f *failingStore) Write(ctx context.Context, c memory.Collection, userID, text string, meta map[string]any, docID string) bool {
	f.mu.Lock()
	if c == memory.CollectionReflections && f.remaining > 0 {
		f.remaining--
		f.mu.Unlock()
		return false
	}
	f.mu.Unlock()
	return f.VectorStore.Write(ctx, c, userID, text, meta, docID)
}

func mockInvoker() llm.Invoker {
	provider := llm.NewMockProvider()
	return llm.InvokerFunc(func(ctx context.Context, req llm.Request) string {
		text, err := provider.Complete(ctx, req)
		if err != nil {
			return llm.Apology
		}
		return text
	})
}

func newTestService(t *testing.T, failReflections int, cfg Config) (*Service, memory.Reader) {
	t.Helper()
	vs, err := memory.NewVectorStore(context.Background(), memory.StoreConfig{Embedder: memory.NewHashEmbedder(64)})
	if err != nil {
		t.Fatalf("NewVectorStore() error = %v", err)
	}
	store := &failingStore{VectorStore: vs, remaining: failReflections}
	gateway := memory.NewGateway(store, true)
	inv := mockInvoker()

	sup := supervisor.New(supervisor.Config{Gateway: gateway, LLM: inv, RetainFailed: true})
	agent := reflection.NewAgent(reflection.Config{LLM: inv, Memory: gateway.Reader(), Sessions: session.NewManager(time.Minute)})
	planner := goals.NewPlanner(goals.Config{LLM: inv})
	sa := support.NewAgent(support.Config{})
	svc := New(cfg, agent, planner, sa, sup, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc, gateway.Reader()
}

func TestEndReflectionSurvivesCanceledCaller(t *testing.T) {
	var posts atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	// Replies like a model would, but only while the call's context is alive.
	inv := llm.InvokerFunc(func(ctx context.Context, req llm.Request) string {
		if ctx.Err() != nil {
			return llm.Apology
		}
		switch req.Format {
		case llm.FormatJSONObject:
			return `{"summary": "Talked through the late-night scrolling.", "emotional_tone": "hopeful", "key_themes": ["sleep"]}`
		case llm.FormatJSONArray:
			return `[{"title": "Charge phone outside", "description": "Leave it in the kitchen", "priority": "high", "duration_minutes": 5}]`
		}
		return "Noted."
	})
	vs, err := memory.NewVectorStore(context.Background(), memory.StoreConfig{Embedder: memory.NewHashEmbedder(64)})
	if err != nil {
		t.Fatalf("NewVectorStore() error = %v", err)
	}
	agent := reflection.NewAgent(reflection.Config{LLM: inv, Memory: memory.ReadOnly(vs), Sessions: session.NewManager(time.Minute)})
	planner := goals.NewPlanner(goals.Config{LLM: inv, Webhook: goals.NewWebhook(hook.URL, time.Second)})
	sup := supervisor.New(supervisor.Config{Gateway: memory.NewGateway(vs, false), LLM: inv, RetainFailed: true})
	svc := New(Config{}, agent, planner, support.NewAgent(support.Config{}), sup, nil)
	defer func() { _ = svc.Close(context.Background()) }()

	if _, err := svc.Reflection().Sessions().Open("u1"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := svc.Reflection().Sessions().Append("u1", session.Message{Role: session.RoleUser, Content: "I scrolled until 2am"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := svc.EndReflection(ctx, "u1")
	if err != nil {
		t.Fatalf("EndReflection() error = %v", err)
	}
	if got.Summary.Summary != "Talked through the late-night scrolling." {
		t.Fatalf("summary = %+v", got.Summary)
	}
	if len(got.Goals) != 1 || got.Goals[0].Title != "Charge phone outside" {
		t.Fatalf("goals = %+v", got.Goals)
	}
	if got.CalendarSync.Status != goals.StatusSuccess || posts.Load() != 1 {
		t.Fatalf("calendar sync = %+v, posts = %d", got.CalendarSync, posts.Load())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEndReflectionRunsPipeline(t *testing.T) {
	svc, reader := newTestService(t, 0, Config{})
	ctx := context.Background()

	if _, err := svc.Reflection().Start(ctx, "u1", "I stayed up scrolling again"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := svc.Support().RecordFeedback(model.UserFeedback{
		UserID: "u1", RecommendationID: "https://www.reddit.com/r/nosurf", Reaction: model.ReactionInterested,
	}); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}

	got, err := svc.EndReflection(ctx, "u1")
	if err != nil {
		t.Fatalf("EndReflection() error = %v", err)
	}
	if got.Summary.UserID != "u1" || got.Summary.EmotionalTone != "reflective" {
		t.Fatalf("summary = %+v", got.Summary)
	}
	if len(got.Goals) == 0 {
		t.Fatalf("goals empty")
	}
	if got.CalendarSync.Status != goals.StatusError || got.CalendarSync.Message != "webhook URL not configured" {
		t.Fatalf("calendar sync = %+v", got.CalendarSync)
	}
	if got.AssessmentResults.Status != AssessmentInBackground {
		t.Fatalf("assessment = %+v", got.AssessmentResults)
	}
	if _, ok := svc.Planner().Pending("u1"); !ok {
		t.Fatalf("planned goals should stay pending for resync")
	}

	waitFor(t, "background flush", func() bool {
		_, ok := reader.LatestState(ctx, "u1")
		return ok && svc.RunningFlushes() == 0
	})
	if n := reader.Count(ctx, memory.CollectionReflections, "u1"); n != 1 {
		t.Fatalf("reflections = %d, want 1", n)
	}
	if n := reader.Count(ctx, memory.CollectionGoals, "u1"); n != 1 {
		t.Fatalf("goal records = %d, want 1", n)
	}
	if n := reader.Count(ctx, memory.CollectionInteractions, "u1"); n != 1 {
		t.Fatalf("interactions = %d, want 1", n)
	}
	if svc.Support().PendingFeedback("u1") != 0 {
		t.Fatalf("feedback should be drained")
	}
}

func TestEndReflectionWithoutSession(t *testing.T) {
	svc, _ := newTestService(t, 0, Config{})
	if _, err := svc.EndReflection(context.Background(), "ghost"); !errors.Is(err, reflection.ErrNoActiveSession) {
		t.Fatalf("EndReflection() error = %v, want ErrNoActiveSession", err)
	}
	if svc.RunningFlushes() != 0 {
		t.Fatalf("no flush should be scheduled")
	}
}

func TestBackgroundFlushRetriesRetainedItems(t *testing.T) {
	svc, reader := newTestService(t, 2, Config{FlushMaxRetries: 3, FlushRetryBase: 10 * time.Millisecond})
	ctx := context.Background()

	if _, err := svc.Reflection().Start(ctx, "u1", "hello"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := svc.EndReflection(ctx, "u1"); err != nil {
		t.Fatalf("EndReflection() error = %v", err)
	}

	waitFor(t, "retried reflection upload", func() bool {
		return reader.Count(ctx, memory.CollectionReflections, "u1") == 1 && svc.RunningFlushes() == 0
	})
	if c := svc.Supervisor().PendingCounts("u1"); c != (supervisor.PendingCounts{}) {
		t.Fatalf("pending after retries = %+v", c)
	}
}

func TestProcessNowDrainsFeedback(t *testing.T) {
	svc, reader := newTestService(t, 0, Config{})
	ctx := context.Background()

	if got := svc.ProcessNow(ctx, "u1"); got.Status != supervisor.StatusNoData {
		t.Fatalf("ProcessNow() on empty = %+v", got)
	}
	_ = svc.Support().RecordFeedback(model.UserFeedback{UserID: "u1", RecommendationID: "https://x", Reaction: model.ReactionRejected})

	got := svc.ProcessNow(ctx, "u1")
	if got.FeedbackProcessed != 1 || !got.StateUpdated {
		t.Fatalf("ProcessNow() = %+v", got)
	}
	if n := reader.Count(ctx, memory.CollectionInteractions, "u1"); n != 1 {
		t.Fatalf("interactions = %d, want 1", n)
	}
}

func TestClearUserDropsBuffers(t *testing.T) {
	svc, _ := newTestService(t, 0, Config{})
	ctx := context.Background()
	_, _ = svc.Reflection().Start(ctx, "u1", "hello")
	_ = svc.Support().RecordFeedback(model.UserFeedback{UserID: "u1", RecommendationID: "https://x", Reaction: model.ReactionAccepted})
	svc.Supervisor().CollectReflection(model.ReflectionSummary{UserID: "u1", Summary: "s"})

	got := svc.ClearUser("u1")
	if !got["session"] || !got["feedback"] || !got["supervisor_queue"] || got["pending_goals"] {
		t.Fatalf("ClearUser() = %v", got)
	}
	if _, err := svc.Reflection().Sessions().Get("u1"); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("session survived ClearUser")
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	svc, _ := newTestService(t, 0, Config{})
	ctx := context.Background()
	_, _ = svc.Reflection().Start(ctx, "u1", "hello")

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := svc.EndReflection(ctx, "u1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("EndReflection() after Close error = %v, want ErrClosed", err)
	}
}

func TestSchedulerSweepFlushesIdleUsers(t *testing.T) {
	svc, reader := newTestService(t, 0, Config{})
	svc.Supervisor().CollectReflection(model.ReflectionSummary{UserID: "u1", Summary: "left behind", EmotionalTone: "calm"})

	sched, err := NewScheduler(svc, SchedulerConfig{SweepInterval: 20 * time.Millisecond, IdleAfter: time.Nanosecond})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	sched.Start()
	defer func() { _ = sched.Stop() }()

	waitFor(t, "idle sweep flush", func() bool {
		return reader.Count(context.Background(), memory.CollectionReflections, "u1") == 1
	})
}

func TestNewSchedulerRejectsBadCron(t *testing.T) {
	svc, _ := newTestService(t, 0, Config{})
	if _, err := NewScheduler(svc, SchedulerConfig{RetentionSchedule: "not a cron", RetentionDays: 30}); err == nil {
		t.Fatalf("NewScheduler() expected error for invalid cron")
	}
}
