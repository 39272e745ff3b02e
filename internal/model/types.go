package model

import (
	"strings"
	"time"
)

// Priority ranks a goal.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func ParsePriority(v string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(v))) {
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	default:
		return "", false
	}
}

// Reaction is a user's response to a support recommendation.
type Reaction string

const (
	ReactionAccepted   Reaction = "accepted"
	ReactionRejected   Reaction = "rejected"
	ReactionInterested Reaction = "interested"
)

func ParseReaction(v string) (Reaction, bool) {
	switch Reaction(strings.ToLower(strings.TrimSpace(v))) {
	case ReactionAccepted:
		return ReactionAccepted, true
	case ReactionRejected:
		return ReactionRejected, true
	case ReactionInterested:
		return ReactionInterested, true
	default:
		return "", false
	}
}

// ReflectionSummary is produced once per closed conversation session.
type ReflectionSummary struct {
	UserID        string    `json:"user_id"`
	Summary       string    `json:"summary"`
	EmotionalTone string    `json:"emotional_tone"`
	KeyThemes     []string  `json:"key_themes"`
	Insights      []string  `json:"insights"`
	Timestamp     time.Time `json:"timestamp"`
}

// Goal is one actionable recommendation.
type Goal struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Priority        Priority `json:"priority"`
	DurationMinutes int      `json:"duration_minutes"`
	Recurrence      string   `json:"recurrence,omitempty"`
}

// TaskPayload is the batch of goals from one planning pass.
type TaskPayload struct {
	UserID        string    `json:"user_id"`
	Goals         []Goal    `json:"goals"`
	SourceSummary string    `json:"source_summary"`
	Timestamp     time.Time `json:"timestamp"`
}

// SupportRecommendation is one discovered external resource. URL doubles as its identifier.
type SupportRecommendation struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	URL            string  `json:"url"`
	RelevanceScore float64 `json:"relevance_score"`
	CommunityType  string  `json:"community_type"`
	SourcePosition int     `json:"source_position"`
}

// UserFeedback records a reaction to a recommendation.
type UserFeedback struct {
	UserID           string    `json:"user_id"`
	RecommendationID string    `json:"recommendation_id"`
	Reaction         Reaction  `json:"reaction"`
	Notes            string    `json:"notes,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
