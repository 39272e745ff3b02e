package supervisor

import (
	"context"
	"time"

	"github.com/antoniostano/unhabit/internal/memory"
)

type Statistics struct {
	UserID            string    `json:"user_id"`
	TotalReflections  int       `json:"total_reflections"`
	TotalGoals        int       `json:"total_goals"`
	TotalInteractions int       `json:"total_interactions"`
	CurrentState      *string   `json:"current_state"`
	Timestamp         time.Time `json:"timestamp"`
}

// Statistics summarizes what memory holds for userID. Counts are best effort and an
// unknown user yields zeros.
func (s *Supervisor) Statistics(ctx context.Context, userID string) Statistics {
	r := s.gateway.Reader()
	stats := Statistics{
		UserID:            userID,
		TotalReflections:  r.Count(ctx, memory.CollectionReflections, userID),
		TotalGoals:        r.Count(ctx, memory.CollectionGoals, userID),
		TotalInteractions: r.Count(ctx, memory.CollectionInteractions, userID),
		Timestamp:         s.now().UTC(),
	}
	if rec, ok := r.LatestState(ctx, userID); ok {
		text := rec.Text
		stats.CurrentState = &text
	}
	return stats
}
