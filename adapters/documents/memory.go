// Package documents provides an in-memory DocumentStore used for demos and
// tests. The production store lives in the surrounding SaaS and is an
// external collaborator.
package documents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lumenkb/voicebridge/domain/repositories"
)

// MemoryStore is a threadsafe in-memory document store with naive
// substring search.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*repositories.Document
}

var _ repositories.DocumentStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with the given documents.
func NewMemoryStore(docs ...repositories.Document) *MemoryStore {
	store := &MemoryStore{docs: make(map[string]*repositories.Document)}
	for i := range docs {
		doc := docs[i]
		if doc.Flags == nil {
			doc.Flags = make(map[string]bool)
		}
		store.docs[doc.ID] = &doc
	}
	return store
}

// Search matches the query case-insensitively against titles and content.
func (s *MemoryStore) Search(ctx context.Context, query string, limit int) ([]repositories.SearchHit, error) {
	if limit <= 0 {
		limit = 5
	}
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []repositories.SearchHit
	for _, doc := range s.docs {
		title := strings.ToLower(doc.Title)
		content := strings.ToLower(doc.Content)
		if !strings.Contains(title, needle) && !strings.Contains(content, needle) {
			continue
		}
		hits = append(hits, repositories.SearchHit{
			ID:      doc.ID,
			Title:   doc.Title,
			Snippet: snippet(doc.Content, needle),
		})
	}

	// Map iteration order is random; keep results stable.
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Get returns a copy of a document.
func (s *MemoryStore) Get(ctx context.Context, id string) (*repositories.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	copied := *doc
	copied.Flags = make(map[string]bool, len(doc.Flags))
	for k, v := range doc.Flags {
		copied.Flags[k] = v
	}
	return &copied, nil
}

// SetFlag sets or clears a named flag on a document.
func (s *MemoryStore) SetFlag(ctx context.Context, id, flag string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	doc.Flags[flag] = value
	return nil
}

// snippet returns a short window of content around the first match.
func snippet(content, needle string) string {
	const window = 80
	idx := strings.Index(strings.ToLower(content), needle)
	if idx < 0 {
		idx = 0
	}
	start := idx - window/4
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}
