package llm

import (
	"context"
	"fmt"
	"time"
)

// FallbackProvider attempts a primary provider first and falls back on error.
type FallbackProvider struct {
	primary  Provider
	fallback Provider

	// attemptTimeout bounds each provider separately so that a hung primary still
	// leaves the fallback its own budget. Zero leaves the caller's deadline in charge.
	attemptTimeout time.Duration
}

func NewFallbackProvider(primary, fallback Provider) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback}
}

// WithAttemptTimeout sets the per-provider deadline.
func (p *FallbackProvider) WithAttemptTimeout(d time.Duration) *FallbackProvider {
	p.attemptTimeout = d
	return p
}

func (p *FallbackProvider) Name() string {
	return p.primary.Name() + "+" + p.fallback.Name()
}

func (p *FallbackProvider) Primary() Provider   { return p.primary }
func (p *FallbackProvider) Secondary() Provider { return p.fallback }

// Complete falls back on any primary failure, including the primary running out of its
// own time. Only a caller that has gone away skips the fallback.
func (p *FallbackProvider) Complete(ctx context.Context, req Request) (string, error) {
	text, err := p.attempt(ctx, p.primary, req)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	fallbackText, fallbackErr := p.attempt(ctx, p.fallback, req)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary provider error: %w; fallback provider error: %v", err, fallbackErr)
	}
	return fallbackText, nil
}

func (p *FallbackProvider) attempt(ctx context.Context, provider Provider, req Request) (string, error) {
	if p.attemptTimeout <= 0 {
		return provider.Complete(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()
	return provider.Complete(callCtx, req)
}
