package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/unhabit/internal/config"
	"github.com/antoniostano/unhabit/internal/goals"
	"github.com/antoniostano/unhabit/internal/httpapi"
	"github.com/antoniostano/unhabit/internal/llm"
	"github.com/antoniostano/unhabit/internal/memory"
	"github.com/antoniostano/unhabit/internal/observability"
	"github.com/antoniostano/unhabit/internal/pipeline"
	"github.com/antoniostano/unhabit/internal/reflection"
	"github.com/antoniostano/unhabit/internal/search"
	"github.com/antoniostano/unhabit/internal/session"
	"github.com/antoniostano/unhabit/internal/support"
	"github.com/antoniostano/unhabit/internal/supervisor"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Pipeline  *pipeline.Service
	Scheduler *pipeline.Scheduler
	Metrics   *observability.Metrics
	Info      httpapi.RuntimeInfo

	// Cleanup should be called on shutdown, after the HTTP server has stopped.
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	provider, err := llm.NewProvider(llm.Config{
		Mode:            cfg.LLMProvider,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
		FallbackURL:     cfg.LLMFallbackURL,
		FallbackAPIKey:  cfg.LLMFallbackAPIKey,
		FallbackModel:   cfg.LLMFallbackModel,
		Timeout:         cfg.LLMTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider init failed: %w", err)
	}
	client := llm.NewClient(provider, cfg.LLMTimeout, cfg.LLMMaxTokens, metrics.ObserveLLM)
	log.Printf("llm provider: %s", client.ProviderName())

	parseRetries := 0
	if cfg.RepromptOnParseError {
		parseRetries = 1
	}

	pointers, err := memory.NewPointerStore(ctx, cfg.DatabaseURL, cfg.StatePointerSQLitePath)
	if err != nil {
		return nil, fmt.Errorf("state pointer store init failed: %w", err)
	}
	embed, err := memory.NewEmbedder(cfg.MemoryEmbedder, cfg.MemoryEmbeddingDim, cfg.OllamaURL, cfg.OllamaEmbedModel)
	if err != nil {
		_ = pointers.Close()
		return nil, fmt.Errorf("embedder init failed: %w", err)
	}
	store, err := memory.NewVectorStore(ctx, memory.StoreConfig{
		PersistDir: cfg.MemoryPersistDir,
		Compress:   cfg.MemoryCompress,
		Embedder:   embed,
		Pointers:   pointers,
		OnWrite: func(c memory.Collection, outcome string) {
			metrics.ObserveMemoryWrite(string(c), outcome)
		},
	})
	if err != nil {
		_ = pointers.Close()
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	gateway := memory.NewGateway(store, cfg.MemoryRedactPII)

	searchClient, err := search.NewClient(search.Config{
		APIKey:     cfg.SerperAPIKey,
		URL:        cfg.SerperURL,
		Timeout:    cfg.SearchTimeout,
		RatePerSec: cfg.SearchRatePerSec,
		CacheTTL:   cfg.SearchCacheTTL,
		MaxRetries: cfg.SearchMaxRetries,
		Observe:    metrics.ObserveSearch,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("search client init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionIdleTTL)
	sessions.SetExpireHook(func(s *session.Session) {
		log.Printf("reflection session for %s expired after inactivity", s.UserID)
		metrics.ObserveSessionEvent("expired")
		metrics.SetActiveSessions(sessions.ActiveCount())
	})

	reflectionAgent := reflection.NewAgent(reflection.Config{
		LLM:              client,
		Memory:           gateway.Reader(),
		Sessions:         sessions,
		ParseRetries:     parseRetries,
		SummarizeTimeout: cfg.EndTimeout,
		Metrics:          metrics,
	})
	planner := goals.NewPlanner(goals.Config{
		LLM:          client,
		ParseRetries: parseRetries,
		PendingTTL:   cfg.BufferTTL,
		Webhook:      goals.NewWebhook(cfg.GoalWebhookURL, cfg.WebhookTimeout),
		Metrics:      metrics,
	})
	supportAgent := support.NewAgent(support.Config{
		Searcher:    searchClient,
		LLM:         client,
		Vet:         cfg.SupportLLMVetting,
		FeedbackTTL: cfg.BufferTTL,
		Metrics:     metrics,
	})
	sup := supervisor.New(supervisor.Config{
		Gateway:      gateway,
		LLM:          client,
		RetainFailed: cfg.SupervisorRetainFailed,
		Metrics:      metrics,
	})

	svc := pipeline.New(pipeline.Config{
		EndTimeout:      cfg.EndTimeout,
		FlushTimeout:    cfg.FlushTimeout,
		FlushMaxRetries: cfg.FlushMaxRetries,
	}, reflectionAgent, planner, supportAgent, sup, metrics)

	scheduler, err := pipeline.NewScheduler(svc, pipeline.SchedulerConfig{
		RetentionSchedule: cfg.RetentionSchedule,
		RetentionDays:     cfg.RetentionDays,
		SweepInterval:     cfg.FlushSweepInterval,
		IdleAfter:         cfg.FlushIdleAfter,
	})
	if err != nil {
		searchClient.Close()
		_ = store.Close()
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	info := httpapi.RuntimeInfo{
		LLMProvider:      client.ProviderName(),
		SearchConfigured: searchClient.Configured(),
		PointerStore:     pointerStoreMode(cfg),
	}
	api := httpapi.New(cfg, svc, metrics, info)

	cleanup := func(ctx context.Context) error {
		var errs []string
		if err := scheduler.Stop(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := svc.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("pipeline: %v", err))
		}
		searchClient.Close()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Pipeline:  svc,
		Scheduler: scheduler,
		Metrics:   metrics,
		Info:      info,
		Cleanup:   cleanup,
	}, nil
}

func pointerStoreMode(cfg config.Config) string {
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(cfg.StatePointerSQLitePath) != "":
		return "sqlite"
	default:
		return "in-memory"
	}
}

// ShutdownContext bounds cleanup by the configured shutdown timeout.
func ShutdownContext(cfg config.Config) (context.Context, context.CancelFunc) {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
