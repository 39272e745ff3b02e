package memory

import (
	"context"
	"time"
)

// Collection names one of the four memory partitions.
type Collection string

const (
	CollectionReflections  Collection = "reflections"
	CollectionGoals        Collection = "goals"
	CollectionStates       Collection = "states"
	CollectionInteractions Collection = "interactions"
)

// Collections lists every collection in a stable order.
func Collections() []Collection {
	return []Collection{CollectionReflections, CollectionGoals, CollectionStates, CollectionInteractions}
}

// StateQuery is the canonical similarity query for a user's current state record.
const StateQuery = "current mental state and behavioral patterns"

// TimestampLayout is fixed-width UTC so that lexicographic order is time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// QueryResult holds parallel slices, one entry per matched record.
type QueryResult struct {
	Documents []string            `json:"documents"`
	Metadata  []map[string]string `json:"metadata"`
	IDs       []string            `json:"ids"`
	Scores    []float64           `json:"scores"`
}

func EmptyResult() QueryResult {
	return QueryResult{
		Documents: []string{},
		Metadata:  []map[string]string{},
		IDs:       []string{},
		Scores:    []float64{},
	}
}

func (r QueryResult) Len() int { return len(r.IDs) }

// Record is a single stored document.
type Record struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Reader is the read-only view of memory handed to agents.
type Reader interface {
	Read(ctx context.Context, c Collection, userID, query string, k int) QueryResult
	LatestState(ctx context.Context, userID string) (Record, bool)
	Count(ctx context.Context, c Collection, userID string) int
}

// Writer creates and deletes records. Only the Gateway holds one.
type Writer interface {
	Reader
	Write(ctx context.Context, c Collection, userID, text string, metadata map[string]any, docID string) bool
	DeleteOlderThan(ctx context.Context, userID string, days int) map[Collection]int
	Users() []string
}

type readOnly struct{ r Reader }

// ReadOnly hides any write capability of r behind the Reader interface.
func ReadOnly(r Reader) Reader { return readOnly{r: r} }

func (v readOnly) Read(ctx context.Context, c Collection, userID, query string, k int) QueryResult {
	return v.r.Read(ctx, c, userID, query, k)
}

func (v readOnly) LatestState(ctx context.Context, userID string) (Record, bool) {
	return v.r.LatestState(ctx, userID)
}

func (v readOnly) Count(ctx context.Context, c Collection, userID string) int {
	return v.r.Count(ctx, c, userID)
}

// StatePointer tracks the newest state record of a user.
type StatePointer struct {
	UserID    string    `json:"user_id"`
	DocID     string    `json:"doc_id"`
	Timestamp string    `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PointerStore persists latest-state pointers. SetLatest never moves a pointer back in time.
type PointerStore interface {
	SetLatest(ctx context.Context, p StatePointer) error
	Latest(ctx context.Context, userID string) (StatePointer, bool, error)
	Close() error
}
