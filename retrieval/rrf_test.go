package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/askdoc/bm25"
	"github.com/brunobiangulo/askdoc/vectorstore"
)

func denseHits(ids ...string) []vectorstore.SearchResult {
	out := make([]vectorstore.SearchResult, len(ids))
	for i, id := range ids {
		out[i] = vectorstore.SearchResult{
			ID:         id,
			DocumentID: "doc",
			Content:    "content " + id,
			Metadata:   map[string]any{"filename": "f.md"},
		}
	}
	return out
}

func lexicalHits(ids ...string) []bm25.Result {
	out := make([]bm25.Result, len(ids))
	for i, id := range ids {
		out[i] = bm25.Result{
			ID:         id,
			DocumentID: "doc",
			Content:    "content " + id,
		}
	}
	return out
}

func TestFuseRRFMerge(t *testing.T) {
	// Dense ranks [A, B, C], BM25 ranks [C, A, D]:
	//   A = 1/61 + 1/62, C = 1/63 + 1/61, B = 1/62, D = 1/63
	// Expected order A, C, B, D.
	fused := fuseRRF(denseHits("A", "B", "C"), lexicalHits("C", "A", "D"), 4)
	require.Len(t, fused, 4)

	assert.Equal(t, "A", fused[0].ID)
	assert.Equal(t, "C", fused[1].ID)
	assert.Equal(t, "B", fused[2].ID)
	assert.Equal(t, "D", fused[3].ID)

	assert.InDelta(t, 1.0/61+1.0/62, fused[0].Score, 1e-12)
	assert.InDelta(t, 1.0/63+1.0/61, fused[1].Score, 1e-12)
	assert.InDelta(t, 1.0/62, fused[2].Score, 1e-12)
	assert.InDelta(t, 1.0/63, fused[3].Score, 1e-12)
}

func TestFuseRRFEmptyLexicalIsIdentity(t *testing.T) {
	fused := fuseRRF(denseHits("A", "B", "C"), nil, 10)
	require.Len(t, fused, 3)
	assert.Equal(t, "A", fused[0].ID)
	assert.Equal(t, "B", fused[1].ID)
	assert.Equal(t, "C", fused[2].ID)
}

func TestFuseRRFCommutative(t *testing.T) {
	// The same rankings presented through either list produce the same
	// ordering: only ranks matter.
	left := fuseRRF(denseHits("A", "B"), lexicalHits("B", "C"), 10)
	right := fuseRRF(denseHits("B", "C"), lexicalHits("A", "B"), 10)

	require.Len(t, left, 3)
	require.Len(t, right, 3)
	for i := range left {
		assert.Equal(t, left[i].ID, right[i].ID)
		assert.InDelta(t, left[i].Score, right[i].Score, 1e-12)
	}
}

func TestFuseRRFPreservesDenseMetadata(t *testing.T) {
	dense := denseHits("A")
	dense[0].Metadata = map[string]any{"filename": "source.pdf", "startPage": 3}

	fused := fuseRRF(dense, lexicalHits("A", "B"), 10)
	require.Len(t, fused, 2)
	assert.Equal(t, "A", fused[0].ID)
	assert.Equal(t, "source.pdf", fused[0].Metadata["filename"])

	// The BM25-only chunk is wrapped with its fused score.
	assert.Equal(t, "B", fused[1].ID)
	assert.InDelta(t, 1.0/62, fused[1].Score, 1e-12)
}

func TestFuseRRFTruncates(t *testing.T) {
	fused := fuseRRF(denseHits("A", "B", "C", "D"), nil, 2)
	assert.Len(t, fused, 2)
}
