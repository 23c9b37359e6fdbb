// Package vectorstore provides dense-vector indexing of chunks behind one
// contract. The default backend is an in-memory brute-force cosine store;
// a sqlite-vec backend offers persistence with the same filter semantics
// and top-K ordering.
package vectorstore

import (
	"context"
	"fmt"
)

// Record is a stored chunk vector. Metadata carries at least filename,
// chunkIndex, heading, hierarchy, and startPage.
type Record struct {
	ID         string
	DocumentID string
	Content    string
	Embedding  []float32
	Metadata   map[string]any
}

// SearchResult is a scored hit, sorted descending by cosine similarity.
type SearchResult struct {
	ID         string
	DocumentID string
	Content    string
	Score      float64
	Metadata   map[string]any
}

// Filter restricts a search. An empty filter matches everything.
type Filter struct {
	// DocumentIDs restricts results to these documents: one entry is an
	// exact match, several are set membership.
	DocumentIDs []string
	// Hierarchy restricts results to records whose hierarchy metadata
	// starts with this path.
	Hierarchy string
}

// matchesDocument reports whether docID passes the document filter.
func (f Filter) matchesDocument(docID string) bool {
	if len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == docID {
			return true
		}
	}
	return false
}

// matchesHierarchy reports whether a record hierarchy passes the prefix
// filter.
func (f Filter) matchesHierarchy(hierarchy string) bool {
	if f.Hierarchy == "" {
		return true
	}
	return len(hierarchy) >= len(f.Hierarchy) && hierarchy[:len(f.Hierarchy)] == f.Hierarchy
}

// Store is the vector index contract.
type Store interface {
	// Insert adds or replaces records by id.
	Insert(ctx context.Context, records []Record) error

	// Search returns the topK records most similar to queryVec that pass
	// the filter, sorted descending by score (ties: insertion order).
	Search(ctx context.Context, queryVec []float32, topK int, filter Filter) ([]SearchResult, error)

	// DeleteByDocument removes all records of a document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Count returns the number of records stored for a document.
	Count(ctx context.Context, documentID string) (int, error)

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type      string // "memory" (default) or "sqlitevec"
	Path      string // sqlitevec database path
	Dimension int    // sqlitevec vector dimension
}

// New builds a vector store from configuration.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemory(), nil
	case "sqlitevec":
		return NewSQLiteVec(cfg.Path, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown vector store type: %s", cfg.Type)
	}
}

// metaString reads a string metadata value, tolerating missing keys.
func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
