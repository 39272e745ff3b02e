package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config contains all runtime settings for the unhabit service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	DebugEndpoints   bool

	SessionIdleTTL time.Duration
	// BufferTTL bounds how long pending goals and unclaimed feedback are kept.
	BufferTTL time.Duration

	LLMProvider          string
	AnthropicAPIKey      string
	AnthropicModel       string
	LLMMaxTokens         int
	LLMTimeout           time.Duration
	LLMFallbackURL       string
	LLMFallbackAPIKey    string
	LLMFallbackModel     string
	RepromptOnParseError bool

	MemoryPersistDir       string
	MemoryCompress         bool
	MemoryEmbedder         string
	MemoryEmbeddingDim     int
	MemoryRedactPII        bool
	OllamaURL              string
	OllamaEmbedModel       string
	DatabaseURL            string
	StatePointerSQLitePath string

	SerperAPIKey      string
	SerperURL         string
	SearchTimeout     time.Duration
	SearchRatePerSec  float64
	SearchCacheTTL    time.Duration
	SearchMaxRetries  int
	SupportLLMVetting bool

	GoalWebhookURL string
	WebhookTimeout time.Duration

	SupervisorRetainFailed bool
	EndTimeout             time.Duration
	FlushTimeout           time.Duration
	FlushMaxRetries        int
	FlushSweepInterval     time.Duration
	FlushIdleAfter         time.Duration

	RetentionSchedule string
	RetentionDays     int
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "unhabit"),
		LLMProvider:            strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		AnthropicAPIKey:        stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:         stringsTrimSpace("ANTHROPIC_MODEL"),
		LLMFallbackURL:         stringsTrimSpace("LLM_FALLBACK_URL"),
		LLMFallbackAPIKey:      stringsTrimSpace("LLM_FALLBACK_API_KEY"),
		LLMFallbackModel:       stringsTrimSpace("LLM_FALLBACK_MODEL"),
		MemoryPersistDir:       envOrDefault("MEMORY_PERSIST_DIR", ".data/memory"),
		MemoryEmbedder:         strings.ToLower(envOrDefault("MEMORY_EMBEDDER", "hash")),
		OllamaURL:              stringsTrimSpace("OLLAMA_URL"),
		OllamaEmbedModel:       envOrDefault("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		DatabaseURL:            stringsTrimSpace("DATABASE_URL"),
		StatePointerSQLitePath: stringsTrimSpace("STATE_POINTER_SQLITE_PATH"),
		SerperAPIKey:           stringsTrimSpace("SERPER_API_KEY"),
		SerperURL:              envOrDefault("SERPER_URL", "https://google.serper.dev/search"),
		GoalWebhookURL:         stringsTrimSpace("GOAL_WEBHOOK_URL"),
		RetentionSchedule:      envOrDefault("RETENTION_SCHEDULE", "0 3 * * *"),

		ShutdownTimeout:        15 * time.Second,
		SessionIdleTTL:         30 * time.Minute,
		BufferTTL:              24 * time.Hour,
		LLMMaxTokens:           1024,
		LLMTimeout:             60 * time.Second,
		RepromptOnParseError:   true,
		MemoryEmbeddingDim:     384,
		MemoryRedactPII:        true,
		SearchTimeout:          10 * time.Second,
		SearchRatePerSec:       5,
		SearchCacheTTL:         10 * time.Minute,
		SearchMaxRetries:       2,
		WebhookTimeout:         15 * time.Second,
		SupervisorRetainFailed: true,
		EndTimeout:             3 * time.Minute,
		FlushTimeout:           2 * time.Minute,
		FlushMaxRetries:        3,
		FlushSweepInterval:     5 * time.Minute,
		FlushIdleAfter:         15 * time.Minute,
		RetentionDays:          90,
	}
	if cfg.GoalWebhookURL == "" {
		cfg.GoalWebhookURL = stringsTrimSpace("N8N_WEBHOOK_URL")
	}
	// "none" keeps memory in process only.
	if strings.EqualFold(strings.TrimSpace(cfg.MemoryPersistDir), "none") {
		cfg.MemoryPersistDir = ""
	}
	if strings.EqualFold(strings.TrimSpace(cfg.RetentionSchedule), "off") {
		cfg.RetentionSchedule = ""
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"SESSION_IDLE_TTL", &cfg.SessionIdleTTL},
		{"BUFFER_TTL", &cfg.BufferTTL},
		{"LLM_TIMEOUT", &cfg.LLMTimeout},
		{"SEARCH_TIMEOUT", &cfg.SearchTimeout},
		{"SEARCH_CACHE_TTL", &cfg.SearchCacheTTL},
		{"WEBHOOK_TIMEOUT", &cfg.WebhookTimeout},
		{"PIPELINE_END_TIMEOUT", &cfg.EndTimeout},
		{"FLUSH_TIMEOUT", &cfg.FlushTimeout},
		{"FLUSH_SWEEP_INTERVAL", &cfg.FlushSweepInterval},
		{"FLUSH_IDLE_AFTER", &cfg.FlushIdleAfter},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"LLM_MAX_TOKENS", &cfg.LLMMaxTokens},
		{"MEMORY_EMBEDDING_DIM", &cfg.MemoryEmbeddingDim},
		{"SEARCH_MAX_RETRIES", &cfg.SearchMaxRetries},
		{"FLUSH_MAX_RETRIES", &cfg.FlushMaxRetries},
		{"RETENTION_DAYS", &cfg.RetentionDays},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"APP_ALLOW_ANY_ORIGIN", &cfg.AllowAnyOrigin},
		{"APP_DEBUG_ENDPOINTS", &cfg.DebugEndpoints},
		{"LLM_REPROMPT_ON_PARSE_FAILURE", &cfg.RepromptOnParseError},
		{"MEMORY_COMPRESS", &cfg.MemoryCompress},
		{"MEMORY_REDACT_PII", &cfg.MemoryRedactPII},
		{"SUPPORT_LLM_VETTING", &cfg.SupportLLMVetting},
		{"SUPERVISOR_RETAIN_FAILED", &cfg.SupervisorRetainFailed},
	}
	for _, b := range bools {
		if *b.dst, err = boolFromEnv(b.key, *b.dst); err != nil {
			return Config{}, err
		}
	}

	cfg.SearchRatePerSec, err = floatFromEnv("SEARCH_RATE_PER_SEC", cfg.SearchRatePerSec)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionIdleTTL < 5*time.Second {
		return fmt.Errorf("SESSION_IDLE_TTL must be at least 5s")
	}
	switch c.LLMProvider {
	case "auto", "anthropic", "http", "mock":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of auto, anthropic, http, mock")
	}
	if c.LLMProvider == "anthropic" && c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
	}
	if c.LLMProvider == "http" && c.LLMFallbackURL == "" {
		return fmt.Errorf("LLM_FALLBACK_URL is required when LLM_PROVIDER=http")
	}
	if c.LLMMaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	switch c.MemoryEmbedder {
	case "hash", "ollama":
	default:
		return fmt.Errorf("MEMORY_EMBEDDER must be hash or ollama")
	}
	if c.MemoryEmbeddingDim <= 0 {
		return fmt.Errorf("MEMORY_EMBEDDING_DIM must be positive")
	}
	if c.SearchRatePerSec <= 0 {
		return fmt.Errorf("SEARCH_RATE_PER_SEC must be positive")
	}
	if c.SearchMaxRetries < 0 {
		return fmt.Errorf("SEARCH_MAX_RETRIES must be >= 0")
	}
	if c.FlushMaxRetries < 0 {
		return fmt.Errorf("FLUSH_MAX_RETRIES must be >= 0")
	}
	if c.FlushSweepInterval < 0 || c.FlushIdleAfter < 0 {
		return fmt.Errorf("FLUSH_SWEEP_INTERVAL and FLUSH_IDLE_AFTER must be >= 0")
	}
	if c.RetentionSchedule != "" {
		if _, err := cronParser.Parse(c.RetentionSchedule); err != nil {
			return fmt.Errorf("RETENTION_SCHEDULE parse error: %w", err)
		}
		if c.RetentionDays <= 0 {
			return fmt.Errorf("RETENTION_DAYS must be positive")
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
