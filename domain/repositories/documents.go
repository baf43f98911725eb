package repositories

import "context"

// Document is a knowledge-base document as seen by the voice tools. The
// document store itself (indexing, CRUD, permissions) is an external
// collaborator; the bridge only consumes this read/flag surface.
type Document struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Content string          `json:"content"`
	Flags   map[string]bool `json:"flags,omitempty"`
}

// SearchHit is one search result with a content snippet.
type SearchHit struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// DocumentStore defines the document access surface consumed by the
// built-in voice tools.
type DocumentStore interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	Get(ctx context.Context, id string) (*Document, error)
	SetFlag(ctx context.Context, id, flag string, value bool) error
}
