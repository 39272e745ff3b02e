package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *VectorStore {
	t.Helper()
	s, err := NewVectorStore(context.Background(), StoreConfig{Embedder: NewHashEmbedder(64)})
	if err != nil {
		t.Fatalf("NewVectorStore() error = %v", err)
	}
	return s
}

func TestVectorStoreMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok := s.Write(ctx, CollectionReflections, "u1", "felt calmer after a walk", map[string]any{
		"missing": nil,
		"themes":  []string{"walking", "calm"},
		"extra":   map[string]any{"note": nil},
		"user_id": "spoofed",
	}, "u1_reflection_fixed")
	if !ok {
		t.Fatalf("Write() = false, want true")
	}

	res := s.Read(ctx, CollectionReflections, "u1", "walk", 5)
	if res.Len() != 1 {
		t.Fatalf("Read() returned %d results, want 1", res.Len())
	}
	meta := res.Metadata[0]
	if meta["missing"] != "" || meta["themes"] != "walking, calm" || meta["extra"] != `{"note":""}` {
		t.Fatalf("unexpected metadata: %#v", meta)
	}
	if meta["user_id"] != "u1" || meta["id"] != "u1_reflection_fixed" || meta["timestamp"] == "" {
		t.Fatalf("base metadata missing or overridden: %#v", meta)
	}
	if res.Documents[0] != "felt calmer after a walk" {
		t.Fatalf("Documents[0] = %q", res.Documents[0])
	}
}

func TestVectorStoreReadIsUserScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Write(ctx, CollectionGoals, "u1", "goal text for u1", nil, "")
	}
	s.Write(ctx, CollectionGoals, "u2", "goal text for u2", nil, "")

	res := s.Read(ctx, CollectionGoals, "u2", "goal", 10)
	if res.Len() != 1 {
		t.Fatalf("Read() returned %d results, want 1", res.Len())
	}
	if res.Metadata[0]["user_id"] != "u2" {
		t.Fatalf("leaked record of %q", res.Metadata[0]["user_id"])
	}
	if got := s.Count(ctx, CollectionGoals, "u1"); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}
	if got := s.Read(ctx, CollectionGoals, "nobody", "goal", 5); got.Len() != 0 || got.IDs == nil {
		t.Fatalf("Read() for unknown user = %+v, want empty non-nil slices", got)
	}
}

func TestVectorStoreSameIDOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Write(ctx, CollectionInteractions, "u1", "first", nil, "u1_interaction_1")
	s.Write(ctx, CollectionInteractions, "u1", "second", nil, "u1_interaction_1")

	if got := s.Count(ctx, CollectionInteractions, "u1"); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
	res := s.Read(ctx, CollectionInteractions, "u1", "anything", 1)
	if res.Len() != 1 || res.Documents[0] != "second" {
		t.Fatalf("Read() = %+v, want the overwritten document", res)
	}
}

func TestVectorStoreStateIDAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if !s.Write(ctx, CollectionStates, "u1", "older state", nil, "") {
		t.Fatalf("Write() = false, want true")
	}
	s.now = func() time.Time { return base.Add(time.Hour) }
	if !s.Write(ctx, CollectionStates, "u1", "newer state", nil, "") {
		t.Fatalf("Write() = false, want true")
	}

	rec, ok := s.LatestState(ctx, "u1")
	if !ok {
		t.Fatalf("LatestState() found nothing")
	}
	if rec.Text != "newer state" {
		t.Fatalf("LatestState().Text = %q, want newer state", rec.Text)
	}
	if !strings.HasPrefix(rec.ID, "u1_state_2026-03-01T10:00:00") {
		t.Fatalf("state id = %q, want timestamp based id", rec.ID)
	}
	if _, ok := s.LatestState(ctx, "u2"); ok {
		t.Fatalf("LatestState() for u2 should be empty")
	}
}

func TestVectorStoreDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.AddDate(0, 0, -40) }
	s.Write(ctx, CollectionReflections, "u1", "old reflection", nil, "")
	s.Write(ctx, CollectionStates, "u1", "old state", nil, "")
	s.Write(ctx, CollectionReflections, "u2", "someone else", nil, "")

	s.now = func() time.Time { return now }
	s.Write(ctx, CollectionReflections, "u1", "new reflection", nil, "")

	deleted := s.DeleteOlderThan(ctx, "u1", 30)
	if deleted[CollectionReflections] != 1 {
		t.Fatalf("deleted reflections = %d, want 1", deleted[CollectionReflections])
	}
	if _, ok := deleted[CollectionStates]; ok {
		t.Fatalf("states must not be subject to retention")
	}
	if got := s.Count(ctx, CollectionReflections, "u1"); got != 1 {
		t.Fatalf("remaining reflections = %d, want 1", got)
	}
	if got := s.Count(ctx, CollectionStates, "u1"); got != 1 {
		t.Fatalf("remaining states = %d, want 1", got)
	}
	if got := s.Count(ctx, CollectionReflections, "u2"); got != 1 {
		t.Fatalf("other user reflections = %d, want 1", got)
	}
}

func TestVectorStoreRejectsInvalidWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var outcomes []string
	s.onWrite = func(_ Collection, outcome string) { outcomes = append(outcomes, outcome) }

	if s.Write(ctx, Collection("unknown"), "u1", "x", nil, "") {
		t.Fatalf("Write() to unknown collection = true")
	}
	if s.Write(ctx, CollectionGoals, "", "x", nil, "") {
		t.Fatalf("Write() without user = true")
	}
	if len(outcomes) != 2 || outcomes[0] != "error" {
		t.Fatalf("outcomes = %v, want two errors", outcomes)
	}
}

func TestVectorStorePersistenceRebuildsIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vectors")
	ctx := context.Background()

	first, err := NewVectorStore(ctx, StoreConfig{PersistDir: dir, Embedder: NewHashEmbedder(32)})
	if err != nil {
		t.Fatalf("NewVectorStore() error = %v", err)
	}
	first.Write(ctx, CollectionReflections, "u1", "persisted reflection", nil, "")
	first.Write(ctx, CollectionStates, "u1", "persisted state", nil, "")

	second, err := NewVectorStore(ctx, StoreConfig{PersistDir: dir, Embedder: NewHashEmbedder(32)})
	if err != nil {
		t.Fatalf("NewVectorStore() reopen error = %v", err)
	}
	if got := second.Count(ctx, CollectionReflections, "u1"); got != 1 {
		t.Fatalf("Count() after reopen = %d, want 1", got)
	}
	if rec, ok := second.LatestState(ctx, "u1"); !ok || rec.Text != "persisted state" {
		t.Fatalf("LatestState() after reopen = %+v, %v", rec, ok)
	}
	if users := second.Users(); len(users) != 1 || users[0] != "u1" {
		t.Fatalf("Users() = %v, want [u1]", users)
	}
}

func TestSQLitePointerStoreNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	p, err := NewSQLitePointerStore(ctx, filepath.Join(t.TempDir(), "pointers.db"))
	if err != nil {
		t.Fatalf("NewSQLitePointerStore() error = %v", err)
	}
	defer p.Close()

	if err := p.SetLatest(ctx, StatePointer{UserID: "u1", DocID: "new", Timestamp: "2026-01-02T00:00:00.000000Z"}); err != nil {
		t.Fatalf("SetLatest() error = %v", err)
	}
	if err := p.SetLatest(ctx, StatePointer{UserID: "u1", DocID: "old", Timestamp: "2026-01-01T00:00:00.000000Z"}); err != nil {
		t.Fatalf("SetLatest() error = %v", err)
	}
	got, ok, err := p.Latest(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Latest() = %+v, %v, %v", got, ok, err)
	}
	if got.DocID != "new" {
		t.Fatalf("DocID = %q, want new", got.DocID)
	}
	if _, ok, _ := p.Latest(ctx, "u2"); ok {
		t.Fatalf("Latest() for unknown user should miss")
	}
}

func TestInMemoryPointerStoreNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	p := NewInMemoryPointerStore()
	_ = p.SetLatest(ctx, StatePointer{UserID: "u1", DocID: "new", Timestamp: "b"})
	_ = p.SetLatest(ctx, StatePointer{UserID: "u1", DocID: "old", Timestamp: "a"})
	got, _, _ := p.Latest(ctx, "u1")
	if got.DocID != "new" {
		t.Fatalf("DocID = %q, want new", got.DocID)
	}
}
