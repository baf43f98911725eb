package documents

import (
	"context"
	"strings"
	"testing"

	"github.com/lumenkb/voicebridge/domain/repositories"
)

func newTestStore() *MemoryStore {
	return NewMemoryStore(
		repositories.Document{ID: "doc-1", Title: "Q3 Report", Content: "Revenue grew 12% in the third quarter."},
		repositories.Document{ID: "doc-2", Title: "Q4 Report", Content: "Revenue was flat in the fourth quarter."},
		repositories.Document{ID: "doc-3", Title: "Style Guide", Content: "Write short sentences."},
	)
}

func TestSearch_MatchesTitleAndContent(t *testing.T) {
	store := newTestStore()

	hits, err := store.Search(context.Background(), "report", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	// Results sort by ID for stability.
	if hits[0].ID != "doc-1" || hits[1].ID != "doc-2" {
		t.Errorf("hit order = %s, %s", hits[0].ID, hits[1].ID)
	}

	hits, err = store.Search(context.Background(), "REVENUE GREW", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "doc-1" {
		t.Fatalf("case-insensitive content search failed: %+v", hits)
	}
	if !strings.Contains(strings.ToLower(hits[0].Snippet), "revenue grew") {
		t.Errorf("snippet %q does not include the match", hits[0].Snippet)
	}
}

func TestSearch_Limit(t *testing.T) {
	store := newTestStore()

	hits, err := store.Search(context.Background(), "report", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("len(hits) = %d, want 1", len(hits))
	}
}

func TestGet_ReturnsIsolatedCopy(t *testing.T) {
	store := newTestStore()

	doc, err := store.Get(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	doc.Flags["stale"] = true

	again, err := store.Get(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Flags["stale"] {
		t.Error("mutation of a returned copy leaked into the store")
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore()

	if _, err := store.Get(context.Background(), "doc-404"); err == nil {
		t.Error("expected error for missing document")
	}
}

func TestSetFlag(t *testing.T) {
	store := newTestStore()

	if err := store.SetFlag(context.Background(), "doc-3", "needs_review", true); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}

	doc, err := store.Get(context.Background(), "doc-3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !doc.Flags["needs_review"] {
		t.Error("flag not persisted")
	}

	if err := store.SetFlag(context.Background(), "doc-404", "x", true); err == nil {
		t.Error("expected error for missing document")
	}
}
