package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// StoreConfig controls VectorStore construction.
type StoreConfig struct {
	// PersistDir enables on-disk persistence when set.
	PersistDir string
	Compress   bool
	Embedder   chromem.EmbeddingFunc
	Pointers   PointerStore
	// OnWrite observes every write attempt with outcome "success" or "error".
	OnWrite func(c Collection, outcome string)
}

type indexEntry struct {
	userID    string
	timestamp string
}

// VectorStore is the chromem-backed memory store. Every document carries user_id,
// timestamp and id metadata; an in-process index of those fields backs counting,
// retention and user listing.
type VectorStore struct {
	db       *chromem.DB
	pointers PointerStore
	onWrite  func(c Collection, outcome string)
	now      func() time.Time

	mu    sync.RWMutex
	cols  map[Collection]*chromem.Collection
	index map[Collection]map[string]indexEntry
}

func NewVectorStore(ctx context.Context, cfg StoreConfig) (*VectorStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir := strings.TrimSpace(cfg.PersistDir); dir != "" {
		db, err = chromem.NewPersistentDB(dir, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open persistent vector db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := cfg.Embedder
	if embed == nil {
		embed = NewHashEmbedder(DefaultEmbeddingDim)
	}
	pointers := cfg.Pointers
	if pointers == nil {
		pointers = NewInMemoryPointerStore()
	}

	s := &VectorStore{
		db:       db,
		pointers: pointers,
		onWrite:  cfg.OnWrite,
		now:      time.Now,
		cols:     make(map[Collection]*chromem.Collection),
		index:    make(map[Collection]map[string]indexEntry),
	}

	for _, c := range Collections() {
		col, err := db.GetOrCreateCollection(string(c), nil, embed)
		if err != nil {
			return nil, fmt.Errorf("open collection %s: %w", c, err)
		}
		s.cols[c] = col
		s.index[c] = make(map[string]indexEntry)
		if err := s.rebuildIndex(ctx, c, col, embed); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *VectorStore) rebuildIndex(ctx context.Context, c Collection, col *chromem.Collection, embed chromem.EmbeddingFunc) error {
	n := col.Count()
	if n == 0 {
		return nil
	}
	sample, err := embed(ctx, string(c))
	if err != nil {
		return fmt.Errorf("embed index sample: %w", err)
	}
	results, err := col.QueryEmbedding(ctx, sample, n, nil, nil)
	if err != nil {
		return fmt.Errorf("scan collection %s: %w", c, err)
	}
	for _, r := range results {
		s.index[c][r.ID] = indexEntry{userID: r.Metadata["user_id"], timestamp: r.Metadata["timestamp"]}
	}
	log.Printf("[memory] loaded %d %s records", len(results), c)
	return nil
}

func (s *VectorStore) collection(c Collection) (*chromem.Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.cols[c]
	return col, ok
}

// Write stores text under docID, or a generated id when docID is empty. The same id
// overwrites the previous document.
func (s *VectorStore) Write(ctx context.Context, c Collection, userID, text string, metadata map[string]any, docID string) bool {
	ok := s.write(ctx, c, userID, text, metadata, docID)
	if s.onWrite != nil {
		outcome := "success"
		if !ok {
			outcome = "error"
		}
		s.onWrite(c, outcome)
	}
	return ok
}

func (s *VectorStore) write(ctx context.Context, c Collection, userID, text string, metadata map[string]any, docID string) bool {
	col, ok := s.collection(c)
	if !ok {
		log.Printf("[memory] write to unknown collection %q", c)
		return false
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(text) == "" {
		log.Printf("[memory] write to %s rejected: user id and text are required", c)
		return false
	}

	ts := FormatTimestamp(s.now())
	if docID == "" {
		if c == CollectionStates {
			docID = fmt.Sprintf("%s_state_%s", userID, ts)
		} else {
			docID = NewDocumentID(userID, kindFor(c))
		}
	}

	meta := Stringify(metadata)
	meta["user_id"] = userID
	meta["timestamp"] = ts
	meta["id"] = docID

	if err := col.AddDocument(ctx, chromem.Document{ID: docID, Content: text, Metadata: meta}); err != nil {
		log.Printf("[memory] write %s/%s failed: %v", c, docID, err)
		return false
	}

	s.mu.Lock()
	s.index[c][docID] = indexEntry{userID: userID, timestamp: ts}
	s.mu.Unlock()

	if c == CollectionStates {
		if err := s.pointers.SetLatest(ctx, StatePointer{UserID: userID, DocID: docID, Timestamp: ts}); err != nil {
			log.Printf("[memory] advance state pointer for %s failed: %v", userID, err)
		}
	}
	return true
}

func kindFor(c Collection) string {
	switch c {
	case CollectionReflections:
		return "reflection"
	case CollectionInteractions:
		return "interaction"
	case CollectionStates:
		return "state"
	default:
		return string(c)
	}
}

// Read returns up to k records of userID ranked by similarity to query. Faults yield an
// empty result.
func (s *VectorStore) Read(ctx context.Context, c Collection, userID, query string, k int) QueryResult {
	col, ok := s.collection(c)
	if !ok || k <= 0 {
		return EmptyResult()
	}
	n := s.Count(ctx, c, userID)
	if n == 0 {
		return EmptyResult()
	}
	if k < n {
		n = k
	}
	if strings.TrimSpace(query) == "" {
		query = string(c)
	}

	results, err := col.Query(ctx, query, n, map[string]string{"user_id": userID}, nil)
	if err != nil {
		log.Printf("[memory] read %s for %s failed: %v", c, userID, err)
		return EmptyResult()
	}

	out := EmptyResult()
	for _, r := range results {
		out.Documents = append(out.Documents, r.Content)
		out.Metadata = append(out.Metadata, r.Metadata)
		out.IDs = append(out.IDs, r.ID)
		out.Scores = append(out.Scores, float64(r.Similarity))
	}
	return out
}

// LatestState returns the newest state record of userID. The pointer store is consulted
// first, then the local index, then the canonical similarity query.
func (s *VectorStore) LatestState(ctx context.Context, userID string) (Record, bool) {
	col, ok := s.collection(CollectionStates)
	if !ok {
		return Record{}, false
	}

	if p, found, err := s.pointers.Latest(ctx, userID); err != nil {
		log.Printf("[memory] read state pointer for %s failed: %v", userID, err)
	} else if found {
		if rec, ok := s.getByID(ctx, col, p.DocID); ok {
			return rec, true
		}
	}

	if id := s.newestID(CollectionStates, userID); id != "" {
		if rec, ok := s.getByID(ctx, col, id); ok {
			return rec, true
		}
	}

	res := s.Read(ctx, CollectionStates, userID, StateQuery, 1)
	if res.Len() == 0 {
		return Record{}, false
	}
	return Record{ID: res.IDs[0], Text: res.Documents[0], Metadata: res.Metadata[0]}, true
}

func (s *VectorStore) getByID(ctx context.Context, col *chromem.Collection, id string) (Record, bool) {
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return Record{}, false
	}
	return Record{ID: doc.ID, Text: doc.Content, Metadata: doc.Metadata}, true
}

func (s *VectorStore) newestID(c Collection, userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var id, ts string
	for docID, e := range s.index[c] {
		if e.userID == userID && e.timestamp >= ts {
			id, ts = docID, e.timestamp
		}
	}
	return id
}

func (s *VectorStore) Count(_ context.Context, c Collection, userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.index[c] {
		if e.userID == userID {
			n++
		}
	}
	return n
}

// Users lists every user with at least one stored record.
func (s *VectorStore) Users() []string {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for _, entries := range s.index {
		for _, e := range entries {
			seen[e.userID] = struct{}{}
		}
	}
	s.mu.RUnlock()

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// DeleteOlderThan removes reflections, goals and interactions of userID older than the
// given number of days. State records are kept.
func (s *VectorStore) DeleteOlderThan(ctx context.Context, userID string, days int) map[Collection]int {
	cutoff := FormatTimestamp(s.now().AddDate(0, 0, -days))
	deleted := map[Collection]int{
		CollectionReflections:  0,
		CollectionGoals:        0,
		CollectionInteractions: 0,
	}

	for c := range deleted {
		col, ok := s.collection(c)
		if !ok {
			continue
		}

		s.mu.RLock()
		var ids []string
		for id, e := range s.index[c] {
			if e.userID == userID && e.timestamp < cutoff {
				ids = append(ids, id)
			}
		}
		s.mu.RUnlock()
		if len(ids) == 0 {
			continue
		}

		if err := col.Delete(ctx, nil, nil, ids...); err != nil {
			log.Printf("[memory] delete old %s for %s failed: %v", c, userID, err)
			continue
		}
		s.mu.Lock()
		for _, id := range ids {
			delete(s.index[c], id)
		}
		s.mu.Unlock()
		deleted[c] = len(ids)
	}
	return deleted
}

func (s *VectorStore) Close() error {
	return s.pointers.Close()
}
