package support

import (
	"sort"
	"strings"

	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/search"
)

var communityKeywords = []string{
	"support", "community", "group", "forum", "recovery",
	"addiction", "help", "peer", "online", "reddit", "discord",
	"therapy", "counseling", "anonymous", "meeting",
}

var commercialKeywords = []string{
	"buy", "purchase", "sale", "shop", "product", "advertisement", "sponsored",
}

const (
	minRelevance      = 0.1
	titleBoost        = 1.5
	maxDescriptionLen = 250
)

// rank scores results by community keyword density, drops commercial and weak hits,
// and orders the rest by score. Ties keep search order.
func rank(results []search.Result, query string, excluded []string) []model.SupportRecommendation {
	blocked := make([]string, 0, len(excluded)+len(commercialKeywords))
	for _, kw := range excluded {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			blocked = append(blocked, kw)
		}
	}
	blocked = append(blocked, commercialKeywords...)
	terms := strings.Fields(strings.ToLower(query))

	out := make([]model.SupportRecommendation, 0, len(results))
	for _, r := range results {
		title := strings.ToLower(r.Title)
		text := title + " " + strings.ToLower(r.Snippet)
		if containsAny(text, blocked) {
			continue
		}

		matches := 0
		for _, kw := range communityKeywords {
			if strings.Contains(text, kw) {
				matches++
			}
		}
		score := float64(matches) / float64(len(communityKeywords))
		if containsAny(title, terms) {
			score *= titleBoost
		}
		if score <= minRelevance {
			continue
		}
		if score > 1 {
			score = 1
		}

		out = append(out, model.SupportRecommendation{
			Title:          r.Title,
			Description:    model.Truncate(r.Snippet, maxDescriptionLen),
			URL:            r.Link,
			RelevanceScore: score,
			CommunityType:  classify(text),
			SourcePosition: r.Position,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	return out
}

func classify(text string) string {
	switch {
	case strings.Contains(text, "reddit"):
		return "reddit"
	case strings.Contains(text, "discord"):
		return "discord"
	case strings.Contains(text, "forum"):
		return "forum"
	case strings.Contains(text, "facebook"):
		return "facebook_group"
	case strings.Contains(text, "meetup"):
		return "meetup"
	case strings.Contains(text, "12") && strings.Contains(text, "step"):
		return "12_step_program"
	default:
		return "online_community"
	}
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
