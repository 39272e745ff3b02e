package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/policy"
)

var (
	// ErrInvalidRecord marks a record the store will never accept. Retrying it is pointless.
	ErrInvalidRecord = errors.New("memory record rejected")
	// ErrWriteFailed marks a store fault; the same record may succeed later.
	ErrWriteFailed = errors.New("memory write failed")
)

// NewDocumentID returns "{user}_{kind}_{uuid}". Ids are assigned before upload so a
// retried upload overwrites instead of duplicating.
func NewDocumentID(userID, kind string) string {
	return fmt.Sprintf("%s_%s_%s", userID, kind, uuid.NewString())
}

// StateCounts summarizes what a state record was derived from.
type StateCounts struct {
	Reflections  int
	Goals        int
	Interactions int
}

// Gateway is the only component that creates memory records.
type Gateway struct {
	w         Writer
	redactPII bool
}

func NewGateway(w Writer, redactPII bool) *Gateway {
	return &Gateway{w: w, redactPII: redactPII}
}

// Reader returns a read-only view of the underlying store.
func (g *Gateway) Reader() Reader { return ReadOnly(g.w) }

func (g *Gateway) UploadReflection(ctx context.Context, s model.ReflectionSummary, docID string) error {
	if docID == "" {
		docID = NewDocumentID(s.UserID, "reflection")
	}
	meta := map[string]any{
		"emotional_tone": s.EmotionalTone,
		"key_themes":     jsonString(s.KeyThemes),
		"insights":       jsonString(s.Insights),
		"type":           "reflection_summary",
	}
	return g.write(ctx, CollectionReflections, s.UserID, reflectionText(s), meta, docID)
}

// reflectionText is the stored document for a reflection. A summary the model left
// empty is replaced by its tone and themes so the record still has content.
func reflectionText(s model.ReflectionSummary) string {
	if text := strings.TrimSpace(s.Summary); text != "" {
		return s.Summary
	}
	tone := s.EmotionalTone
	if tone == "" {
		tone = "unknown"
	}
	themes := "none"
	if len(s.KeyThemes) > 0 {
		themes = strings.Join(s.KeyThemes, ", ")
	}
	return fmt.Sprintf("Reflection without summary (tone: %s, themes: %s)", tone, themes)
}

func (g *Gateway) UploadGoals(ctx context.Context, p model.TaskPayload, docID string) error {
	if docID == "" {
		docID = NewDocumentID(p.UserID, "goals")
	}
	meta := map[string]any{
		"goal_count": len(p.Goals),
		"goals_json": jsonString(p.Goals),
		"type":       "goal_summary",
	}
	return g.write(ctx, CollectionGoals, p.UserID, GoalsText(p), meta, docID)
}

// GoalsText renders a goal payload as the document text stored for it.
func GoalsText(p model.TaskPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goals created from reflection: %s\n\nGoals:\n", p.SourceSummary)
	for i, goal := range p.Goals {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, goal.Title, goal.Description)
	}
	return b.String()
}

func (g *Gateway) UploadInteraction(ctx context.Context, fb model.UserFeedback, docID string) error {
	if docID == "" {
		docID = NewDocumentID(fb.UserID, "interaction")
	}
	notes := strings.TrimSpace(fb.Notes)
	if notes == "" {
		notes = "No notes"
	}
	meta := map[string]any{
		"interaction_type":  "support_recommendation",
		"recommendation_id": fb.RecommendationID,
		"reaction":          string(fb.Reaction),
		"type":              "support_interaction",
	}
	return g.write(ctx, CollectionInteractions, fb.UserID, fmt.Sprintf("%s: %s", fb.Reaction, notes), meta, docID)
}

// UploadState writes a new state record and returns its id.
func (g *Gateway) UploadState(ctx context.Context, userID, text string, counts StateCounts) (string, error) {
	docID := fmt.Sprintf("%s_state_%s", userID, FormatTimestamp(time.Now()))
	meta := map[string]any{
		"reflection_count":  counts.Reflections,
		"goal_count":        counts.Goals,
		"interaction_count": counts.Interactions,
		"analysis_period":   "recent_session",
		"type":              "user_state",
	}
	if err := g.write(ctx, CollectionStates, userID, text, meta, docID); err != nil {
		return "", err
	}
	return docID, nil
}

// PurgeOlderThan applies the retention policy to one user.
func (g *Gateway) PurgeOlderThan(ctx context.Context, userID string, days int) map[Collection]int {
	return g.w.DeleteOlderThan(ctx, userID, days)
}

// Users lists users with stored records.
func (g *Gateway) Users() []string { return g.w.Users() }

func (g *Gateway) write(ctx context.Context, c Collection, userID, text string, meta map[string]any, docID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s record needs a user id and text", ErrInvalidRecord, c)
	}
	if g.redactPII {
		r := policy.Redact(text)
		text = r.Text
		meta["pii_redacted"] = r.Changed()
		if r.Changed() {
			meta["pii_kinds"] = r.Kinds
		}
	}
	if !g.w.Write(ctx, c, userID, text, meta, docID) {
		return fmt.Errorf("%w: %s/%s", ErrWriteFailed, c, docID)
	}
	return nil
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if string(b) == "null" {
		return "[]"
	}
	return string(b)
}
