package support

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/unhabit/internal/llm"
	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/search"
)

type fakeSearcher struct {
	results []search.Result
	err     error
	query   string
	num     int
}

func (f *fakeSearcher) Search(_ context.Context, query string, num int) ([]search.Result, error) {
	f.query = query
	f.num = num
	return f.results, f.err
}

func scenarioResults() []search.Result {
	return []search.Result{
		{
			Title:    "Buy followers fast!!",
			Snippet:  "Grow your social media with our online support team.",
			Link:     "https://spam.example/followers",
			Position: 1,
		},
		{
			Title:    "r/nosurf - quit social media",
			Snippet:  "A reddit community for peer support and recovery from social media addiction. Join the forum to get help.",
			Link:     "https://www.reddit.com/r/nosurf",
			Position: 2,
		},
		{
			Title:    "Digital wellbeing tips",
			Snippet:  "Ten tips to reduce screen time.",
			Link:     "https://blog.example/tips",
			Position: 3,
		},
		{
			Title:    "Internet and Tech Addiction Anonymous",
			Snippet:  "Weekly 12 step meeting group.",
			Link:     "https://itaa.example",
			Position: 4,
		},
	}
}

func TestSearchSocialMediaScenario(t *testing.T) {
	s := &fakeSearcher{results: scenarioResults()}
	a := NewAgent(Config{Searcher: s})

	got := a.Search(context.Background(), "u1", "social media addiction support", "", Filters{})
	if s.num != 15 {
		t.Fatalf("requested %d results, want 15", s.num)
	}
	if s.query != "social media addiction support support group online community recovery forum" {
		t.Fatalf("query = %q", s.query)
	}
	if len(got) != 2 {
		t.Fatalf("recommendations = %+v, want 2", got)
	}
	for _, rec := range got {
		if strings.Contains(rec.URL, "spam.example") {
			t.Fatalf("commercial result should be dropped: %+v", rec)
		}
	}

	top := got[0]
	if top.URL != "https://www.reddit.com/r/nosurf" || top.CommunityType != "reddit" {
		t.Fatalf("top = %+v, want the reddit result", top)
	}
	// support, community, forum, recovery, addiction, help, peer, reddit, boosted by the title match
	if want := 8.0 / 15.0 * 1.5; math.Abs(top.RelevanceScore-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", top.RelevanceScore, want)
	}
	if top.SourcePosition != 2 {
		t.Fatalf("source position = %d, want 2", top.SourcePosition)
	}
	if got[1].CommunityType != "12_step_program" {
		t.Fatalf("second type = %q, want 12_step_program", got[1].CommunityType)
	}
}

func TestSearchCategoryAndExclusions(t *testing.T) {
	s := &fakeSearcher{results: scenarioResults()}
	a := NewAgent(Config{Searcher: s})

	got := a.Search(context.Background(), "u1", "social media", "phone addiction", Filters{ExcludedKeywords: []string{"Reddit"}})
	if !strings.HasPrefix(s.query, "social media phone addiction support group") {
		t.Fatalf("query = %q", s.query)
	}
	if len(got) != 1 || got[0].URL != "https://itaa.example" {
		t.Fatalf("recommendations = %+v", got)
	}
}

func TestSearchCapsScoreTruncatesAndLimits(t *testing.T) {
	var results []search.Result
	rich := "support community group forum recovery addiction help peer online reddit discord therapy counseling anonymous meeting "
	for i := 0; i < 8; i++ {
		results = append(results, search.Result{
			Title:    fmt.Sprintf("Recovery forum %d", i),
			Snippet:  rich + strings.Repeat("x", 300),
			Link:     fmt.Sprintf("https://forum.example/%d", i),
			Position: i + 1,
		})
	}
	a := NewAgent(Config{Searcher: &fakeSearcher{results: results}})

	got := a.Search(context.Background(), "u1", "recovery", "", Filters{})
	if len(got) != 5 {
		t.Fatalf("recommendations = %d, want 5", len(got))
	}
	for i, rec := range got {
		if rec.RelevanceScore != 1 {
			t.Fatalf("score = %v, want capped 1", rec.RelevanceScore)
		}
		if len([]rune(rec.Description)) != 250 {
			t.Fatalf("description length = %d, want 250", len([]rune(rec.Description)))
		}
		if rec.SourcePosition != i+1 {
			t.Fatalf("ties should keep search order, got position %d at %d", rec.SourcePosition, i)
		}
	}
}

func TestSearchFaultYieldsEmptyList(t *testing.T) {
	a := NewAgent(Config{Searcher: &fakeSearcher{err: search.ErrNotConfigured}})
	got := a.Search(context.Background(), "u1", "help", "", Filters{})
	if got == nil || len(got) != 0 {
		t.Fatalf("Search() = %#v, want empty non-nil list", got)
	}
}

func TestClassifyOrder(t *testing.T) {
	cases := map[string]string{
		"reddit and discord forum":  "reddit",
		"discord forum":             "discord",
		"a forum on facebook":       "forum",
		"facebook support":          "facebook_group",
		"local meetup":              "meetup",
		"the 12 step way":           "12_step_program",
		"12 people":                 "online_community",
		"a quiet place to talk":     "online_community",
	}
	for text, want := range cases {
		if got := classify(text); got != want {
			t.Fatalf("classify(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestSearchVettingDropsConfidentRejections(t *testing.T) {
	inv := llm.InvokerFunc(func(_ context.Context, req llm.Request) string {
		switch {
		case strings.Contains(req.Prompt, "itaa.example"):
			return `{"is_relevant": false, "confidence": 0.9, "reason": "not moderated"}`
		default:
			return "cannot tell"
		}
	})
	a := NewAgent(Config{Searcher: &fakeSearcher{results: scenarioResults()}, LLM: inv, Vet: true})

	got := a.Search(context.Background(), "u1", "social media addiction support", "", Filters{})
	if len(got) != 1 || got[0].CommunityType != "reddit" {
		t.Fatalf("recommendations = %+v, want only the reddit result", got)
	}
}

func TestSearchVettingKeepsLowConfidenceRejections(t *testing.T) {
	inv := llm.InvokerFunc(func(context.Context, llm.Request) string {
		return `{"is_relevant": false, "confidence": 0.2, "reason": "unsure"}`
	})
	a := NewAgent(Config{Searcher: &fakeSearcher{results: scenarioResults()}, LLM: inv, Vet: true})

	if got := a.Search(context.Background(), "u1", "social media addiction support", "", Filters{}); len(got) != 2 {
		t.Fatalf("recommendations = %d, want 2", len(got))
	}
}

func TestRecordFeedbackValidates(t *testing.T) {
	a := NewAgent(Config{})
	cases := []model.UserFeedback{
		{RecommendationID: "https://x", Reaction: model.ReactionAccepted},
		{UserID: "u1", Reaction: model.ReactionAccepted},
		{UserID: "u1", RecommendationID: "https://x", Reaction: "loved"},
	}
	for _, fb := range cases {
		if err := a.RecordFeedback(fb); !errors.Is(err, ErrInvalidFeedback) {
			t.Fatalf("RecordFeedback(%+v) error = %v, want ErrInvalidFeedback", fb, err)
		}
	}
	if a.PendingFeedback("u1") != 0 {
		t.Fatalf("invalid feedback should not be buffered")
	}
}

func TestDrainFeedbackIsReadOnce(t *testing.T) {
	a := NewAgent(Config{FeedbackTTL: time.Minute})
	for _, r := range []model.Reaction{"Accepted", model.ReactionInterested} {
		if err := a.RecordFeedback(model.UserFeedback{UserID: "u1", RecommendationID: "https://x", Reaction: r}); err != nil {
			t.Fatalf("RecordFeedback() error = %v", err)
		}
	}
	if a.PendingFeedback("u1") != 2 || a.FeedbackUsers() != 1 {
		t.Fatalf("pending = %d users = %d", a.PendingFeedback("u1"), a.FeedbackUsers())
	}

	first := a.DrainFeedback("u1")
	if len(first) != 2 || first[0].Reaction != model.ReactionAccepted || first[0].Timestamp.IsZero() {
		t.Fatalf("first drain = %+v", first)
	}
	second := a.DrainFeedback("u1")
	if second == nil || len(second) != 0 {
		t.Fatalf("second drain = %#v, want empty list", second)
	}
}
