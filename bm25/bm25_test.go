package bm25

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"english", "Hello, World!", []string{"hello", "world"}},
		{"digits join letters", "iso9001 rev2", []string{"iso9001", "rev2"}},
		{"cjk per character", "音量调节", []string{"音", "量", "调", "节"}},
		{"mixed", "调节volume大小", []string{"调", "节", "volume", "大", "小"}},
		{"empty", "", nil},
		{"punctuation only", "!!! --- ...", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func testChunks() []ChunkData {
	return []ChunkData{
		{ID: "c1", Content: "the quick brown fox jumps over the lazy dog"},
		{ID: "c2", Content: "the quick brown fox sleeps all day long today"},
		{ID: "c3", Content: "a zebra grazes quietly in the field at dawn"},
	}
}

func TestSearchRarestWordRanksFirst(t *testing.T) {
	x := NewIndex()
	x.IndexChunks("doc", testChunks())

	// "zebra" occurs only in c3.
	results := x.Search(context.Background(), "zebra", "doc", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "c3", results[0].ID)
	assert.Equal(t, "doc", results[0].DocumentID)
	assert.Positive(t, results[0].Score)
}

func TestSearchDiscardsNonMatching(t *testing.T) {
	x := NewIndex()
	x.IndexChunks("doc", testChunks())

	results := x.Search(context.Background(), "zebra", "doc", 10)
	// Only the chunk containing the term scores above zero.
	require.Len(t, results, 1)
}

func TestSearchOrdering(t *testing.T) {
	x := NewIndex()
	x.IndexChunks("doc", testChunks())

	results := x.Search(context.Background(), "quick fox dawn", "doc", 10)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchUnknownDocument(t *testing.T) {
	x := NewIndex()
	assert.Empty(t, x.Search(context.Background(), "anything", "missing", 5))
}

func TestSearchEmptyQuery(t *testing.T) {
	x := NewIndex()
	x.IndexChunks("doc", testChunks())
	assert.Empty(t, x.Search(context.Background(), "!!!", "doc", 5))
}

func TestSearchTopK(t *testing.T) {
	x := NewIndex()
	x.IndexChunks("doc", testChunks())

	results := x.Search(context.Background(), "the quick brown fox", "doc", 1)
	assert.Len(t, results, 1)
}

func TestSearchMulti(t *testing.T) {
	x := NewIndex()
	x.IndexChunks("d1", []ChunkData{
		{ID: "a1", Content: "kubernetes cluster networking guide"},
		{ID: "a2", Content: "storage volumes and persistent claims"},
	})
	x.IndexChunks("d2", []ChunkData{
		{ID: "b1", Content: "kubernetes pod scheduling internals"},
		{ID: "b2", Content: "unrelated cooking recipes collection"},
	})

	results := x.SearchMulti(context.Background(), "kubernetes", []string{"d1", "d2"}, 10)
	require.Len(t, results, 2)
	ids := []string{results[0].ID, results[1].ID}
	assert.Contains(t, ids, "a1")
	assert.Contains(t, ids, "b1")

	// Truncation applies after the merge.
	assert.Len(t, x.SearchMulti(context.Background(), "kubernetes", []string{"d1", "d2"}, 1), 1)
	assert.Empty(t, x.SearchMulti(context.Background(), "kubernetes", nil, 5))
}

func TestChunkCountAndDelete(t *testing.T) {
	x := NewIndex()
	x.IndexChunks("doc", testChunks())
	assert.Equal(t, 3, x.ChunkCount("doc"))

	x.DeleteByDocument("doc")
	assert.Equal(t, 0, x.ChunkCount("doc"))
	assert.Empty(t, x.Search(context.Background(), "fox", "doc", 5))
}

func TestCJKSearch(t *testing.T) {
	x := NewIndex()
	x.IndexChunks("doc", []ChunkData{
		{ID: "z1", Content: "如何调节音量大小"},
		{ID: "z2", Content: "如何连接网络设备"},
	})

	results := x.Search(context.Background(), "音量", "doc", 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "z1", results[0].ID)
}

func TestReindexReplacesDocument(t *testing.T) {
	x := NewIndex()
	x.IndexChunks("doc", testChunks())
	x.IndexChunks("doc", []ChunkData{{ID: "new", Content: "completely new content"}})

	assert.Equal(t, 1, x.ChunkCount("doc"))
	assert.Empty(t, x.Search(context.Background(), "fox", "doc", 5))
}
