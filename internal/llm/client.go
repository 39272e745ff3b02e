package llm

import (
	"context"
	"log"
	"time"
)

// Apology is the reply returned when no provider could answer.
const Apology = "I'm having trouble processing your request. Please try again."

// Invoker is the model surface the agents depend on. Invoke never fails; a provider
// fault yields Apology.
type Invoker interface {
	Invoke(ctx context.Context, req Request) string
}

type InvokerFunc func(ctx context.Context, req Request) string

func (f InvokerFunc) Invoke(ctx context.Context, req Request) string { return f(ctx, req) }

// Observer receives the outcome of each provider call.
type Observer func(provider, outcome string, elapsed time.Duration)

// Client wraps a Provider with a per-call timeout and default token budget. With a
// FallbackProvider the timeout applies to each attempt, so a call may take up to twice it.
type Client struct {
	provider  Provider
	timeout   time.Duration
	maxTokens int
	observe   Observer
}

func NewClient(provider Provider, timeout time.Duration, maxTokens int, observe Observer) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if fp, ok := provider.(*FallbackProvider); ok && fp.attemptTimeout <= 0 {
		fp.WithAttemptTimeout(timeout)
	}
	return &Client{
		provider:  provider,
		timeout:   timeout,
		maxTokens: maxTokens,
		observe:   observe,
	}
}

func (c *Client) ProviderName() string { return c.provider.Name() }

func (c *Client) Invoke(ctx context.Context, req Request) string {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.maxTokens
	}
	callCtx, cancel := context.WithTimeout(ctx, c.budget())
	defer cancel()

	started := time.Now()
	text, err := c.provider.Complete(callCtx, req)
	outcome := "success"
	if err != nil {
		outcome = "error"
		log.Printf("llm %s completion failed: %v", c.provider.Name(), err)
		text = Apology
	}
	if c.observe != nil {
		c.observe(c.provider.Name(), outcome, time.Since(started))
	}
	return text
}

func (c *Client) budget() time.Duration {
	if _, ok := c.provider.(*FallbackProvider); ok {
		return 2 * c.timeout
	}
	return c.timeout
}
