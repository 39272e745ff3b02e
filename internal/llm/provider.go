package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format tells a provider what shape of reply the prompt asks for. Real models ignore it;
// the mock provider uses it to return parseable output.
type Format int

const (
	FormatText Format = iota
	FormatJSONObject
	FormatJSONArray
)

// Request is one single-turn completion.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
	Format    Format
}

// Provider produces a completion for a prompt.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Config controls provider construction.
type Config struct {
	Mode            string
	AnthropicAPIKey string
	AnthropicModel  string
	FallbackURL     string
	FallbackAPIKey  string
	FallbackModel   string
	Timeout         time.Duration
}

func NewProvider(cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoProvider(cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("anthropic api key is required for anthropic mode")
		}
		primary := NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		if strings.TrimSpace(cfg.FallbackURL) != "" {
			return NewFallbackProvider(primary, NewHTTPProvider(cfg.FallbackURL, cfg.FallbackAPIKey, cfg.FallbackModel, cfg.Timeout)), nil
		}
		return primary, nil
	case "http":
		if strings.TrimSpace(cfg.FallbackURL) == "" {
			return nil, errors.New("llm fallback url is required for http mode")
		}
		return NewHTTPProvider(cfg.FallbackURL, cfg.FallbackAPIKey, cfg.FallbackModel, cfg.Timeout), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider mode %q", cfg.Mode)
	}
}

func newAutoProvider(cfg Config) Provider {
	var primary, secondary Provider
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		primary = NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}
	if strings.TrimSpace(cfg.FallbackURL) != "" {
		secondary = NewHTTPProvider(cfg.FallbackURL, cfg.FallbackAPIKey, cfg.FallbackModel, cfg.Timeout)
	}

	switch {
	case primary != nil && secondary != nil:
		return NewFallbackProvider(primary, secondary)
	case primary != nil:
		return primary
	case secondary != nil:
		return secondary
	default:
		return NewMockProvider()
	}
}
