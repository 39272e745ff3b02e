package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/antoniostano/unhabit/internal/keyed"
	"github.com/antoniostano/unhabit/internal/llm"
	"github.com/antoniostano/unhabit/internal/memory"
	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/observability"
)

const (
	StatusNoData    = "no_data"
	StatusProcessed = "processed"

	noDataMessage = "No pending data to process"

	// maxUploadAttempts bounds how many flushes a retained item takes part in.
	maxUploadAttempts = 5
)

type pendingReflection struct {
	DocID    string
	Attempts int
	Summary  model.ReflectionSummary
}

type pendingGoals struct {
	DocID    string
	Attempts int
	Payload  model.TaskPayload
}

type pendingFeedback struct {
	DocID    string
	Attempts int
	Feedback model.UserFeedback
}

// Pending is the per-user accumulator of data awaiting a flush. Document ids are fixed
// when an item is collected.
type Pending struct {
	Reflections []pendingReflection
	Goals       []pendingGoals
	Feedback    []pendingFeedback
	UpdatedAt   time.Time
}

func (p Pending) Empty() bool {
	return len(p.Reflections) == 0 && len(p.Goals) == 0 && len(p.Feedback) == 0
}

// PendingCounts is the size of a user's accumulator.
type PendingCounts struct {
	Reflections int `json:"reflections"`
	Goals       int `json:"goals"`
	Feedback    int `json:"feedback"`
}

// FlushResult reports one flush. A no_data result carries only status and message.
type FlushResult struct {
	Status               string `json:"status"`
	Message              string `json:"message,omitempty"`
	ReflectionsProcessed int    `json:"reflections_processed"`
	GoalsProcessed       int    `json:"goals_processed"`
	FeedbackProcessed    int    `json:"feedback_processed"`
	StateUpdated         bool   `json:"state_updated"`
	StateID              string `json:"state_id,omitempty"`
	Retained             int    `json:"retained,omitempty"`
	Dropped              int    `json:"dropped,omitempty"`
}

func (r FlushResult) MarshalJSON() ([]byte, error) {
	if r.Status == StatusNoData {
		return json.Marshal(struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}{r.Status, r.Message})
	}
	type plain FlushResult
	return json.Marshal(plain(r))
}

// Supervisor is the only agent holding the memory Gateway. It accumulates what the other
// agents produce and turns it into durable records plus a fresh state analysis.
type Supervisor struct {
	gateway      *memory.Gateway
	llm          llm.Invoker
	pending      *keyed.Map[Pending]
	retainFailed bool
	metrics      *observability.Metrics
	now          func() time.Time
}

type Config struct {
	Gateway *memory.Gateway
	LLM     llm.Invoker
	// RetainFailed keeps items whose upload failed for the next flush.
	RetainFailed bool
	// PendingTTL drops accumulators left untouched for longer. Zero keeps them.
	PendingTTL time.Duration
	Metrics    *observability.Metrics
}

func New(cfg Config) *Supervisor {
	s := &Supervisor{
		gateway:      cfg.Gateway,
		llm:          cfg.LLM,
		pending:      keyed.New[Pending](cfg.PendingTTL),
		retainFailed: cfg.RetainFailed,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
	s.pending.OnEvict(func(userID string, p Pending) {
		log.Printf("[supervisor] dropped idle pending data for %s (%d reflections, %d goal sets, %d feedback)",
			userID, len(p.Reflections), len(p.Goals), len(p.Feedback))
		s.reportPending()
	})
	return s
}

// Reader exposes the memory store read-only.
func (s *Supervisor) Reader() memory.Reader { return s.gateway.Reader() }

func (s *Supervisor) CollectReflection(summary model.ReflectionSummary) {
	item := pendingReflection{DocID: memory.NewDocumentID(summary.UserID, "reflection"), Summary: summary}
	s.collect(summary.UserID, func(p *Pending) { p.Reflections = append(p.Reflections, item) })
}

func (s *Supervisor) CollectGoals(payload model.TaskPayload) {
	item := pendingGoals{DocID: memory.NewDocumentID(payload.UserID, "goals"), Payload: payload}
	s.collect(payload.UserID, func(p *Pending) { p.Goals = append(p.Goals, item) })
}

// CollectFeedback buffers feedback items, keyed by each item's own user.
func (s *Supervisor) CollectFeedback(items []model.UserFeedback) {
	for _, fb := range items {
		item := pendingFeedback{DocID: memory.NewDocumentID(fb.UserID, "interaction"), Feedback: fb}
		s.collect(fb.UserID, func(p *Pending) { p.Feedback = append(p.Feedback, item) })
	}
}

func (s *Supervisor) collect(userID string, add func(*Pending)) {
	if userID == "" {
		return
	}
	s.pending.Do(userID, func(p *Pending, _ bool) bool {
		add(p)
		p.UpdatedAt = s.now()
		return true
	})
	s.reportPending()
}

// Flush writes everything collected for userID and records a new state analysis. The
// accumulator is swapped out up front, so collectors never wait on model or store I/O.
func (s *Supervisor) Flush(ctx context.Context, userID string) FlushResult {
	started := time.Now()
	var snap Pending
	s.pending.Do(userID, func(p *Pending, exists bool) bool {
		if exists {
			snap = *p
		}
		return false
	})
	if snap.Empty() {
		s.reportPending()
		s.metrics.ObserveFlush(StatusNoData, time.Since(started))
		return FlushResult{Status: StatusNoData, Message: noDataMessage}
	}

	res := FlushResult{Status: StatusProcessed}
	var retained Pending
	for _, it := range snap.Reflections {
		err := s.gateway.UploadReflection(ctx, it.Summary, it.DocID)
		if err == nil {
			res.ReflectionsProcessed++
			continue
		}
		it.Attempts++
		if s.shouldRetain(userID, it.DocID, it.Attempts, err) {
			retained.Reflections = append(retained.Reflections, it)
		} else {
			res.Dropped++
		}
	}
	for _, it := range snap.Goals {
		err := s.gateway.UploadGoals(ctx, it.Payload, it.DocID)
		if err == nil {
			res.GoalsProcessed++
			continue
		}
		it.Attempts++
		if s.shouldRetain(userID, it.DocID, it.Attempts, err) {
			retained.Goals = append(retained.Goals, it)
		} else {
			res.Dropped++
		}
	}
	for _, it := range snap.Feedback {
		err := s.gateway.UploadInteraction(ctx, it.Feedback, it.DocID)
		if err == nil {
			res.FeedbackProcessed++
			continue
		}
		it.Attempts++
		if s.shouldRetain(userID, it.DocID, it.Attempts, err) {
			retained.Feedback = append(retained.Feedback, it)
		} else {
			res.Dropped++
		}
	}

	d := buildDigests(snap)
	analysis := s.llm.Invoke(ctx, llm.Request{System: analystSystem, Prompt: analysisPrompt(d)})
	if analysis == llm.Apology || analysis == "" {
		analysis = fallbackAnalysis(d)
	}
	goalCount := 0
	for _, it := range snap.Goals {
		goalCount += len(it.Payload.Goals)
	}
	stateID, err := s.gateway.UploadState(ctx, userID, analysis, memory.StateCounts{
		Reflections:  len(snap.Reflections),
		Goals:        goalCount,
		Interactions: len(snap.Feedback),
	})
	if err != nil {
		log.Printf("[supervisor] state record for %s not written: %v", userID, err)
	} else {
		res.StateID, res.StateUpdated = stateID, true
	}

	if !retained.Empty() {
		res.Retained = len(retained.Reflections) + len(retained.Goals) + len(retained.Feedback)
		s.requeue(userID, retained)
	}
	if failed := res.Retained + res.Dropped; failed > 0 {
		log.Printf("[supervisor] flush for %s: %d items failed to upload (retained=%d dropped=%d)",
			userID, failed, res.Retained, res.Dropped)
	}
	s.reportPending()

	status := "success"
	if res.Retained+res.Dropped > 0 || !res.StateUpdated {
		status = "partial"
	}
	s.metrics.ObserveFlush(status, time.Since(started))
	return res
}

// shouldRetain decides whether a failed item goes back into the accumulator. Records the
// store rejects outright are dropped, as are items that already used up their attempts.
func (s *Supervisor) shouldRetain(userID, docID string, attempts int, err error) bool {
	switch {
	case errors.Is(err, memory.ErrInvalidRecord):
		log.Printf("[supervisor] dropping %s for %s: %v", docID, userID, err)
		return false
	case !s.retainFailed:
		return false
	case attempts >= maxUploadAttempts:
		log.Printf("[supervisor] giving up on %s for %s after %d attempts: %v", docID, userID, attempts, err)
		return false
	}
	return true
}

// requeue puts retained items ahead of anything collected while the flush ran. The
// accumulator counts as touched, so the idle sweep waits a full interval before retrying.
func (s *Supervisor) requeue(userID string, retained Pending) {
	s.pending.Do(userID, func(p *Pending, _ bool) bool {
		p.Reflections = append(retained.Reflections, p.Reflections...)
		p.Goals = append(retained.Goals, p.Goals...)
		p.Feedback = append(retained.Feedback, p.Feedback...)
		p.UpdatedAt = s.now()
		return true
	})
}

// PendingCounts reports the accumulator size of userID.
func (s *Supervisor) PendingCounts(userID string) PendingCounts {
	p, _ := s.pending.Load(userID)
	return PendingCounts{
		Reflections: len(p.Reflections),
		Goals:       len(p.Goals),
		Feedback:    len(p.Feedback),
	}
}

// PendingUsers lists users with unflushed data in sorted order.
func (s *Supervisor) PendingUsers() []string {
	users := s.pending.Keys()
	sort.Strings(users)
	return users
}

// IdleUsers lists users whose accumulator has not changed for at least idle.
func (s *Supervisor) IdleUsers(idle time.Duration) []string {
	cutoff := s.now().Add(-idle)
	var out []string
	for _, u := range s.PendingUsers() {
		p, ok := s.pending.Load(u)
		if ok && !p.Empty() && !p.UpdatedAt.After(cutoff) {
			out = append(out, u)
		}
	}
	return out
}

// Clear drops the accumulator of userID without writing it.
func (s *Supervisor) Clear(userID string) bool {
	ok := s.pending.Delete(userID)
	s.reportPending()
	return ok
}

// PurgeOlderThan removes reflections, goals and interactions of userID older than days.
func (s *Supervisor) PurgeOlderThan(ctx context.Context, userID string, days int) map[memory.Collection]int {
	return s.gateway.PurgeOlderThan(ctx, userID, days)
}

// PurgeAll applies the retention window to every user in the store.
func (s *Supervisor) PurgeAll(ctx context.Context, days int) map[memory.Collection]int {
	total := make(map[memory.Collection]int)
	for _, u := range s.gateway.Users() {
		if ctx.Err() != nil {
			break
		}
		for c, n := range s.PurgeOlderThan(ctx, u, days) {
			total[c] += n
		}
	}
	return total
}

func (s *Supervisor) reportPending() {
	s.metrics.SetPendingUsers(s.pending.Len())
}
