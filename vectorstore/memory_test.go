package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id, docID, hierarchy string, embedding []float32) Record {
	return Record{
		ID:         id,
		DocumentID: docID,
		Content:    "content of " + id,
		Embedding:  embedding,
		Metadata: map[string]any{
			"filename":  "test.md",
			"hierarchy": hierarchy,
		},
	}
}

func TestMemorySearchOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Insert(ctx, []Record{
		rec("far", "d1", "", []float32{0, 1, 0}),
		rec("close", "d1", "", []float32{1, 0.1, 0}),
		rec("exact", "d1", "", []float32{1, 0, 0}),
	}))

	results, err := m.Search(ctx, []float32{1, 0, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "exact", results[0].ID)
	assert.Equal(t, "close", results[1].ID)
	assert.Equal(t, "far", results[2].ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestMemorySearchTieBreakInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Insert(ctx, []Record{
		rec("first", "d1", "", []float32{1, 0}),
		rec("second", "d1", "", []float32{1, 0}),
	}))

	results, err := m.Search(ctx, []float32{1, 0}, 2, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].ID)
	assert.Equal(t, "second", results[1].ID)
}

func TestMemoryDocumentFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Insert(ctx, []Record{
		rec("a", "d1", "", []float32{1, 0}),
		rec("b", "d2", "", []float32{1, 0}),
		rec("c", "d3", "", []float32{1, 0}),
	}))

	// Single id: exact match.
	results, err := m.Search(ctx, []float32{1, 0}, 10, Filter{DocumentIDs: []string{"d2"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)

	// Several ids: membership.
	results, err = m.Search(ctx, []float32{1, 0}, 10, Filter{DocumentIDs: []string{"d1", "d3"}})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestMemoryHierarchyPrefixFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Insert(ctx, []Record{
		rec("a", "d1", "1. Basics", []float32{1, 0}),
		rec("b", "d1", "1. Basics > 1.2 Volume", []float32{0.9, 0.1}),
		rec("c", "d1", "2. Advanced", []float32{1, 0}),
	}))

	results, err := m.Search(ctx, []float32{1, 0}, 10, Filter{Hierarchy: "1. Basics"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		hierarchy, _ := r.Metadata["hierarchy"].(string)
		assert.True(t, len(hierarchy) >= len("1. Basics") && hierarchy[:len("1. Basics")] == "1. Basics")
	}
}

func TestMemoryTopKTruncation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Insert(ctx, []Record{
		rec("a", "d1", "", []float32{1, 0}),
		rec("b", "d1", "", []float32{0.9, 0.1}),
		rec("c", "d1", "", []float32{0.8, 0.2}),
	}))

	results, err := m.Search(ctx, []float32{1, 0}, 2, Filter{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestMemoryDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Insert(ctx, []Record{
		rec("a", "d1", "", []float32{1, 0}),
		rec("b", "d1", "", []float32{0, 1}),
		rec("c", "d2", "", []float32{1, 0}),
	}))

	require.NoError(t, m.DeleteByDocument(ctx, "d1"))

	n, err := m.Count(ctx, "d1")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.Count(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := m.Search(ctx, []float32{1, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].ID)
}

func TestMemoryInsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Insert(ctx, []Record{rec("a", "d1", "", []float32{1, 0})}))
	require.NoError(t, m.Insert(ctx, []Record{rec("a", "d1", "", []float32{0, 1})}))

	n, err := m.Count(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := m.Search(ctx, []float32{0, 1}, 1, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	// Mismatched or empty vectors score zero.
	assert.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{0, 0}))
}
