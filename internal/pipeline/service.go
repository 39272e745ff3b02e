package pipeline

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/unhabit/internal/goals"
	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/observability"
	"github.com/antoniostano/unhabit/internal/reflection"
	"github.com/antoniostano/unhabit/internal/reliability"
	"github.com/antoniostano/unhabit/internal/support"
	"github.com/antoniostano/unhabit/internal/supervisor"
)

const AssessmentInBackground = "processing_in_background"

var ErrClosed = errors.New("pipeline is shut down")

type Config struct {
	// EndTimeout bounds planning and sync after a session ends. That work is detached
	// from the caller, so a dropped connection does not lose the session.
	EndTimeout      time.Duration
	FlushTimeout    time.Duration
	FlushMaxRetries int
	FlushRetryBase  time.Duration
	FlushRetryCap   time.Duration
}

type AssessmentStatus struct {
	Status string `json:"status"`
}

// EndResult is what ending a reflection returns immediately. Memory is updated afterwards.
type EndResult struct {
	Summary           model.ReflectionSummary `json:"summary"`
	Goals             []model.Goal            `json:"goals"`
	CalendarSync      goals.SyncStatus        `json:"calendar_sync"`
	AssessmentResults AssessmentStatus        `json:"assessment_results"`
}

type flushJob struct {
	cancel context.CancelFunc
	again  bool
}

// Service wires the four agents into the end-of-session pipeline:
// summarize, plan, sync, collect, then flush in the background.
type Service struct {
	reflection *reflection.Agent
	planner    *goals.Planner
	support    *support.Agent
	supervisor *supervisor.Supervisor
	metrics    *observability.Metrics
	cfg        Config

	mu      sync.Mutex
	running map[string]*flushJob
	closed  bool
	wg      sync.WaitGroup
}

func New(cfg Config, r *reflection.Agent, p *goals.Planner, s *support.Agent, sup *supervisor.Supervisor, metrics *observability.Metrics) *Service {
	if cfg.EndTimeout <= 0 {
		cfg.EndTimeout = 3 * time.Minute
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 2 * time.Minute
	}
	if cfg.FlushMaxRetries < 0 {
		cfg.FlushMaxRetries = 0
	}
	if cfg.FlushRetryBase <= 0 {
		cfg.FlushRetryBase = 2 * time.Second
	}
	if cfg.FlushRetryCap <= 0 {
		cfg.FlushRetryCap = time.Minute
	}
	return &Service{
		reflection: r,
		planner:    p,
		support:    s,
		supervisor: sup,
		metrics:    metrics,
		cfg:        cfg,
		running:    make(map[string]*flushJob),
	}
}

func (s *Service) Reflection() *reflection.Agent { return s.reflection }
func (s *Service) Planner() *goals.Planner { return s.planner }
func (s *Service) Support() *support.Agent { return s.support }
func (s *Service) Supervisor() *supervisor.Supervisor { return s.supervisor }

// EndReflection closes the user's session and runs the pipeline up to the point where
// everything is collected. The supervisor flush continues in the background.
func (s *Service) EndReflection(ctx context.Context, userID string) (EndResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return EndResult{}, reflection.ErrUserRequired
	}
	if s.isClosed() {
		return EndResult{}, ErrClosed
	}

	summary, err := s.reflection.End(ctx, userID)
	if err != nil {
		return EndResult{}, err
	}
	s.supervisor.CollectReflection(summary)

	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EndTimeout)
	defer cancel()
	payload := s.planner.Plan(work, summary)
	synced := s.planner.SyncExternal(work, payload)
	s.supervisor.CollectGoals(payload)

	if fb := s.support.DrainFeedback(userID); len(fb) > 0 {
		s.supervisor.CollectFeedback(fb)
	}

	s.ScheduleFlush(userID)

	return EndResult{
		Summary:           summary,
		Goals:             payload.Goals,
		CalendarSync:      synced,
		AssessmentResults: AssessmentStatus{Status: AssessmentInBackground},
	}, nil
}

// ProcessNow flushes userID synchronously, pulling in any buffered support feedback first.
func (s *Service) ProcessNow(ctx context.Context, userID string) supervisor.FlushResult {
	if fb := s.support.DrainFeedback(userID); len(fb) > 0 {
		s.supervisor.CollectFeedback(fb)
	}
	return s.supervisor.Flush(ctx, userID)
}

// ScheduleFlush runs a background flush for userID. When one is already running it is
// asked to go around once more instead of starting a second one.
func (s *Service) ScheduleFlush(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if job, ok := s.running[userID]; ok {
		job.again = true
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &flushJob{cancel: cancel}
	s.running[userID] = job
	s.wg.Add(1)
	go s.runFlush(ctx, userID, job)
}

func (s *Service) runFlush(ctx context.Context, userID string, job *flushJob) {
	defer s.wg.Done()
	defer job.cancel()

	for {
		s.flushWithRetry(ctx, userID)

		s.mu.Lock()
		if job.again && ctx.Err() == nil {
			job.again = false
			s.mu.Unlock()
			continue
		}
		delete(s.running, userID)
		s.mu.Unlock()
		return
	}
}

// flushWithRetry repeats the flush with capped exponential backoff while items remain
// retained after failed uploads.
func (s *Service) flushWithRetry(ctx context.Context, userID string) {
	for attempt := 0; ; attempt++ {
		flushCtx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
		res := s.supervisor.Flush(flushCtx, userID)
		cancel()

		if res.Status == supervisor.StatusNoData || res.Retained == 0 {
			return
		}
		if attempt >= s.cfg.FlushMaxRetries {
			log.Printf("[pipeline] flush for %s still has %d retained items after %d retries", userID, res.Retained, attempt)
			s.metrics.ObserveIndicator("flush_retries_exhausted")
			return
		}
		delay := reliability.ExponentialBackoff(attempt, s.cfg.FlushRetryBase, s.cfg.FlushRetryCap)
		if err := reliability.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// FlushIdle schedules a flush for every user whose accumulator has been idle for at least idle.
func (s *Service) FlushIdle(idle time.Duration) int {
	users := s.supervisor.IdleUsers(idle)
	for _, u := range users {
		s.ScheduleFlush(u)
	}
	return len(users)
}

// RunningFlushes reports how many background flushes are in flight.
func (s *Service) RunningFlushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// ClearUser drops every per-user buffer held by the agents.
func (s *Service) ClearUser(userID string) map[string]bool {
	return map[string]bool{
		"session":          s.reflection.Clear(userID),
		"pending_goals":    s.planner.ClearPending(userID),
		"feedback":         len(s.support.DrainFeedback(userID)) > 0,
		"supervisor_queue": s.supervisor.Clear(userID),
	}
}

// Close stops accepting work and waits for background flushes, cancelling them when ctx ends.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for _, job := range s.running {
			job.cancel()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
