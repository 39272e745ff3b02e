package support

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/unhabit/internal/keyed"
	"github.com/antoniostano/unhabit/internal/llm"
	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/observability"
	"github.com/antoniostano/unhabit/internal/search"
)

var ErrInvalidFeedback = errors.New("invalid feedback")

const (
	searchResults      = 15
	maxRecommendations = 5
	vetRejectThreshold = 0.5
)

// Searcher is the web search surface the agent needs; *search.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, num int) ([]search.Result, error)
}

type Filters struct {
	ExcludedKeywords []string `json:"excluded_keywords,omitempty"`
	Location         string   `json:"location,omitempty"`
}

// Agent finds peer-support communities and buffers the user's reactions to them until the
// supervisor collects them. It has no access to memory.
type Agent struct {
	searcher Searcher
	llm      llm.Invoker
	vet      bool
	feedback *keyed.Map[[]model.UserFeedback]
	metrics  *observability.Metrics
}

type Config struct {
	Searcher Searcher
	// LLM is only consulted when Vet is set.
	LLM         llm.Invoker
	Vet         bool
	FeedbackTTL time.Duration
	Metrics     *observability.Metrics
}

func NewAgent(cfg Config) *Agent {
	return &Agent{
		searcher: cfg.Searcher,
		llm:      cfg.LLM,
		vet:      cfg.Vet && cfg.LLM != nil,
		feedback: keyed.New[[]model.UserFeedback](cfg.FeedbackTTL),
		metrics:  cfg.Metrics,
	}
}

// Search returns up to five ranked community recommendations for query. A failed search
// yields an empty list.
func (a *Agent) Search(ctx context.Context, userID, query, category string, filters Filters) []model.SupportRecommendation {
	query = strings.TrimSpace(query)
	if query == "" || a.searcher == nil {
		return []model.SupportRecommendation{}
	}

	results, err := a.searcher.Search(ctx, search.BuildCommunityQuery(query, category, filters.Location), searchResults)
	if err != nil {
		log.Printf("support search for %s failed: %v", userID, err)
		return []model.SupportRecommendation{}
	}

	ranked := rank(results, query, filters.ExcludedKeywords)
	out := make([]model.SupportRecommendation, 0, maxRecommendations)
	for _, rec := range ranked {
		if len(out) == maxRecommendations {
			break
		}
		if a.vet && !a.relevant(ctx, rec, query) {
			a.metrics.ObserveIndicator("support_vetted_out")
			continue
		}
		out = append(out, rec)
	}
	return out
}

type vetReply struct {
	IsRelevant bool    `json:"is_relevant"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// relevant asks the model whether rec is a genuine, safe support community. Only a
// confident rejection drops the candidate.
func (a *Agent) relevant(ctx context.Context, rec model.SupportRecommendation, query string) bool {
	raw := a.llm.Invoke(ctx, llm.Request{
		Prompt:    vetPrompt(rec, query),
		Format:    llm.FormatJSONObject,
		MaxTokens: 200,
	})
	fragment, ok := llm.ExtractObject(raw)
	if !ok {
		return true
	}
	var v vetReply
	if err := json.Unmarshal([]byte(fragment), &v); err != nil {
		return true
	}
	if !v.IsRelevant && v.Confidence >= vetRejectThreshold {
		log.Printf("support vetting dropped %s: %s", rec.URL, v.Reason)
		return false
	}
	return true
}

func vetPrompt(rec model.SupportRecommendation, query string) string {
	return fmt.Sprintf(`Judge whether this search result is a genuine support community.

Title: %s
Description: %s
URL: %s

Consider whether it is a real peer support or recovery community, whether it appears safe and
moderated, and whether it fits what the person asked for: %s

Reply with JSON only: {"is_relevant": true or false, "confidence": a number from 0 to 1, "reason": "one short sentence"}`,
		rec.Title, rec.Description, rec.URL, query)
}

// RecordFeedback buffers a reaction for the supervisor.
func (a *Agent) RecordFeedback(fb model.UserFeedback) error {
	fb.UserID = strings.TrimSpace(fb.UserID)
	if fb.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidFeedback)
	}
	if strings.TrimSpace(fb.RecommendationID) == "" {
		return fmt.Errorf("%w: recommendation_id is required", ErrInvalidFeedback)
	}
	reaction, ok := model.ParseReaction(string(fb.Reaction))
	if !ok {
		return fmt.Errorf("%w: reaction must be accepted, rejected or interested", ErrInvalidFeedback)
	}
	fb.Reaction = reaction
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now().UTC()
	}
	a.feedback.Do(fb.UserID, func(buf *[]model.UserFeedback, _ bool) bool {
		*buf = append(*buf, fb)
		return true
	})
	return nil
}

// DrainFeedback returns and clears the buffered feedback of userID. A second call
// returns an empty list.
func (a *Agent) DrainFeedback(userID string) []model.UserFeedback {
	var out []model.UserFeedback
	a.feedback.Do(userID, func(buf *[]model.UserFeedback, _ bool) bool {
		out = *buf
		return false
	})
	if out == nil {
		return []model.UserFeedback{}
	}
	return out
}

func (a *Agent) PendingFeedback(userID string) int {
	buf, _ := a.feedback.Load(userID)
	return len(buf)
}

func (a *Agent) FeedbackUsers() int {
	return a.feedback.Len()
}
