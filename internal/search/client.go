package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/time/rate"

	"github.com/antoniostano/unhabit/internal/reliability"
)

const DefaultURL = "https://google.serper.dev/search"

var ErrNotConfigured = errors.New("search api key not configured")

// Result is one organic web search hit. Position is 1-based.
type Result struct {
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Link     string `json:"link"`
	Position int    `json:"position"`
}

type Config struct {
	APIKey     string
	URL        string
	Timeout    time.Duration
	RatePerSec float64
	CacheTTL   time.Duration
	MaxRetries int
	// Observe receives each search outcome: "success", "cached", "error" or "unconfigured".
	Observe func(outcome string, elapsed time.Duration)
}

// Client queries a Serper-compatible web search API with rate limiting, retries on
// transient faults and a short-lived response cache.
type Client struct {
	apiKey     string
	url        string
	http       *http.Client
	limiter    *rate.Limiter
	cache      *ristretto.Cache
	cacheTTL   time.Duration
	maxRetries int
	observe    func(outcome string, elapsed time.Duration)
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	c := &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		url:        strings.TrimSpace(cfg.URL),
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(cfg.RatePerSec*2)+1),
		cacheTTL:   cfg.CacheTTL,
		maxRetries: cfg.MaxRetries,
		observe:    cfg.Observe,
	}
	if cfg.CacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 10_000,
			MaxCost:     1_000,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create search cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

func (c *Client) Configured() bool { return c.apiKey != "" }

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type searchResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"organic"`
}

// Search returns up to num organic results for query.
func (c *Client) Search(ctx context.Context, query string, num int) ([]Result, error) {
	started := time.Now()
	if !c.Configured() {
		c.report("unconfigured", started)
		return nil, ErrNotConfigured
	}
	if num <= 0 {
		num = 10
	}

	key := fmt.Sprintf("%d|%s", num, strings.ToLower(strings.TrimSpace(query)))
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			if results, ok := v.([]Result); ok {
				c.report("cached", started)
				return append([]Result(nil), results...), nil
			}
		}
	}

	var (
		results []Result
		err     error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if sleepErr := reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt-1, 250*time.Millisecond, 2*time.Second)); sleepErr != nil {
				err = sleepErr
				break
			}
		}
		if waitErr := c.limiter.Wait(ctx); waitErr != nil {
			err = fmt.Errorf("search rate limit: %w", waitErr)
			break
		}
		results, err = c.do(ctx, query, num)
		if err == nil || !retryable(err) {
			break
		}
		log.Printf("search attempt %d failed: %v", attempt+1, err)
	}
	if err != nil {
		c.report("error", started)
		return nil, err
	}

	if c.cache != nil {
		c.cache.SetWithTTL(key, results, 1, c.cacheTTL)
	}
	c.report("success", started)
	return results, nil
}

func (c *Client) do(ctx context.Context, query string, num int) ([]Result, error) {
	payload, err := json.Marshal(searchRequest{Q: query, Num: num})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &StatusError{StatusCode: res.StatusCode, Body: string(body)}
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Organic))
	for i, item := range parsed.Organic {
		results = append(results, Result{
			Title:    item.Title,
			Snippet:  item.Snippet,
			Link:     item.Link,
			Position: i + 1,
		})
	}
	return results, nil
}

// StatusError reports a non-2xx search response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search http status %d: %s", e.StatusCode, e.Body)
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.StatusCode)
	}
	return reliability.IsRetryableError(err)
}

func (c *Client) report(outcome string, started time.Time) {
	if c.observe != nil {
		c.observe(outcome, time.Since(started))
	}
}

func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// BuildCommunityQuery expands a topic into a query biased toward peer-support communities.
func BuildCommunityQuery(topic, category, location string) string {
	parts := []string{strings.TrimSpace(topic)}
	if s := strings.TrimSpace(category); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, "support group", "online community", "recovery", "forum")
	if s := strings.TrimSpace(location); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
