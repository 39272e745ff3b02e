package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type SchedulerConfig struct {
	// RetentionSchedule is a five-field cron expression. Empty disables the retention job.
	RetentionSchedule string
	RetentionDays     int
	// SweepInterval is how often idle accumulators are checked. Zero disables the sweep.
	SweepInterval time.Duration
	IdleAfter     time.Duration
}

// Scheduler runs the periodic maintenance jobs: the retention purge and the
// deferred flush of idle accumulators.
type Scheduler struct {
	scheduler gocron.Scheduler
	svc       *Service
	cfg       SchedulerConfig
	retention gocron.Job
	sweep     gocron.Job
}

func NewScheduler(svc *Service, cfg SchedulerConfig) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &Scheduler{scheduler: scheduler, svc: svc, cfg: cfg}

	if expr := strings.TrimSpace(cfg.RetentionSchedule); expr != "" && cfg.RetentionDays > 0 {
		s.retention, err = scheduler.NewJob(
			gocron.CronJob(expr, false),
			gocron.NewTask(s.runRetention),
			gocron.WithName("memory_retention"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = scheduler.Shutdown()
			return nil, fmt.Errorf("failed to create retention job: %w", err)
		}
	}

	if cfg.SweepInterval > 0 {
		if s.cfg.IdleAfter <= 0 {
			s.cfg.IdleAfter = cfg.SweepInterval
		}
		s.sweep, err = scheduler.NewJob(
			gocron.DurationJob(cfg.SweepInterval),
			gocron.NewTask(s.runSweep),
			gocron.WithName("idle_flush_sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = scheduler.Shutdown()
			return nil, fmt.Errorf("failed to create flush sweep job: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	if s.retention != nil {
		if next, err := s.retention.NextRun(); err == nil {
			log.Printf("[scheduler] retention purge (%d days) next runs at %s", s.cfg.RetentionDays, next.Format(time.RFC3339))
		}
	}
	if s.sweep != nil {
		log.Printf("[scheduler] idle flush sweep every %s (idle after %s)", s.cfg.SweepInterval, s.cfg.IdleAfter)
	}
}

func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	removed := s.svc.Supervisor().PurgeAll(ctx, s.cfg.RetentionDays)
	total := 0
	for _, n := range removed {
		total += n
	}
	log.Printf("[scheduler] retention purge removed %d records older than %d days", total, s.cfg.RetentionDays)
}

func (s *Scheduler) runSweep() {
	if n := s.svc.FlushIdle(s.cfg.IdleAfter); n > 0 {
		log.Printf("[scheduler] scheduled %d idle flushes", n)
	}
}
