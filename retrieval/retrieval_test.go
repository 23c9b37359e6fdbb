package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/askdoc/bm25"
	"github.com/brunobiangulo/askdoc/embed"
	"github.com/brunobiangulo/askdoc/llm"
	"github.com/brunobiangulo/askdoc/store"
	"github.com/brunobiangulo/askdoc/vectorstore"
)

type fixture struct {
	store    *store.Store
	vectors  *vectorstore.Memory
	lexical  *bm25.Index
	embedder *embed.MockEmbedder
	mock     *llm.MockClient
	engine   *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:    s,
		vectors:  vectorstore.NewMemory(),
		lexical:  bm25.NewIndex(),
		embedder: embed.NewMockEmbedder(32),
		mock:     llm.NewMockClient("mock-model"),
	}
	f.engine = New(s, f.embedder, f.vectors, f.lexical, llm.NewRouter(f.mock, nil), cfg)
	return f
}

// addChunk persists a chunk row and indexes it in both secondary indices.
func (f *fixture) addChunk(t *testing.T, c store.Chunk, filename string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.InsertChunks(ctx, []store.Chunk{c}))

	vecs, err := f.embedder.Embed(ctx, []string{c.Content})
	require.NoError(t, err)

	meta := map[string]any{
		"filename":  filename,
		"heading":   c.Heading,
		"hierarchy": c.Hierarchy,
	}
	require.NoError(t, f.vectors.Insert(ctx, []vectorstore.Record{{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Content:    c.Content,
		Embedding:  vecs[0],
		Metadata:   meta,
	}}))
}

func (f *fixture) indexBM25(docID string, chunks ...store.Chunk) {
	data := make([]bm25.ChunkData, len(chunks))
	for i, c := range chunks {
		data[i] = bm25.ChunkData{ID: c.ID, Content: c.Content,
			Metadata: map[string]any{"filename": "doc.md", "hierarchy": c.Hierarchy}}
	}
	f.lexical.IndexChunks(docID, data)
}

func TestRetrieveEmptyDocumentList(t *testing.T) {
	f := newFixture(t, Config{TopK: 5})
	result, err := f.engine.Retrieve(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Context)
	assert.Empty(t, result.Citations)
}

func TestSmallDocumentShortcut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{TopK: 5, SmallDocumentThreshold: 10})

	fullText := "# Guide\n\n" + strings.Repeat("Short document body. ", 30)
	require.NoError(t, f.store.CreateDocument(ctx, store.Document{
		ID: "small-doc", Filename: "guide.md", FileType: "md", Status: store.StatusProcessing,
	}))
	require.NoError(t, f.store.SetDocumentReady(ctx, "small-doc", 3, fullText))

	result, err := f.engine.Retrieve(ctx, "any question at all", []string{"small-doc"})
	require.NoError(t, err)

	assert.Equal(t, fullText, result.Context)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "full-document", result.Citations[0].ChunkID)
	assert.Equal(t, "small-doc", result.Citations[0].DocumentID)
	assert.Equal(t, "guide.md", result.Citations[0].DocumentName)
	assert.LessOrEqual(t, len([]rune(result.Citations[0].Excerpt)), 200+3)
}

func TestShortcutSkippedAboveThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{TopK: 5, SmallDocumentThreshold: 2})

	require.NoError(t, f.store.CreateDocument(ctx, store.Document{
		ID: "big-doc", Filename: "big.md", FileType: "md", Status: store.StatusProcessing,
	}))
	require.NoError(t, f.store.SetDocumentReady(ctx, "big-doc", 8, "full text"))

	chunk := store.Chunk{ID: "c1", DocumentID: "big-doc", ChunkIndex: 0,
		Content: "kubernetes networking configuration guide"}
	f.addChunk(t, chunk, "big.md")
	f.indexBM25("big-doc", chunk)

	result, err := f.engine.Retrieve(ctx, "kubernetes networking", []string{"big-doc"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Citations)
	assert.NotEqual(t, "full-document", result.Citations[0].ChunkID)
}

func TestHierarchyFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{TopK: 5, SimilarityThreshold: 0.7, SmallDocumentThreshold: 2})

	// The router replies "1.1"; the fuzzy match resolves that to the first
	// candidate it contains, "1". The "1 > 1.1" chunk is not in the vector
	// index, so results must come from the other chunks whether or not the
	// engine falls back to a global search.
	f.mock.Reply = func(req llm.Request) (string, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		if strings.Contains(prompt, "query router") {
			return "1.1", nil
		}
		return "related synonyms", nil
	}

	require.NoError(t, f.store.CreateDocument(ctx, store.Document{
		ID: "doc", Filename: "doc.md", FileType: "md", Status: store.StatusProcessing,
	}))
	require.NoError(t, f.store.SetDocumentReady(ctx, "doc", 3, ""))

	chunks := []store.Chunk{
		{ID: "h1", DocumentID: "doc", ChunkIndex: 0, Hierarchy: "1",
			Content: "introduction to the system architecture"},
		{ID: "h2", DocumentID: "doc", ChunkIndex: 1, Hierarchy: "1 > 1.1",
			Content: "installation prerequisites and setup"},
		{ID: "h3", DocumentID: "doc", ChunkIndex: 2, Hierarchy: "1 > 1.2",
			Content: "network configuration and firewall rules"},
	}
	// Chunk rows carry all hierarchies (the router sees them as
	// candidates), but only chunks outside the predicted branch are in
	// the vector index.
	require.NoError(t, f.store.InsertChunks(ctx, chunks))
	for _, c := range []store.Chunk{chunks[0], chunks[2]} {
		vecs, err := f.embedder.Embed(ctx, []string{c.Content})
		require.NoError(t, err)
		require.NoError(t, f.vectors.Insert(ctx, []vectorstore.Record{{
			ID: c.ID, DocumentID: c.DocumentID, Content: c.Content, Embedding: vecs[0],
			Metadata: map[string]any{"filename": "doc.md", "hierarchy": c.Hierarchy},
		}}))
	}
	f.indexBM25("doc", chunks[0], chunks[2])

	result, err := f.engine.Retrieve(ctx, "network firewall rules", []string{"doc"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Citations, "global fallback should produce results")
	for _, c := range result.Citations {
		assert.NotEqual(t, "h2", c.ChunkID)
	}
}

func TestRetrieveMultiDocumentPrefix(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{TopK: 5, SmallDocumentThreshold: 1})

	for _, doc := range []struct{ id, filename, content string }{
		{"d1", "alpha.md", "postgres replication and failover"},
		{"d2", "beta.md", "postgres indexing strategies overview"},
	} {
		require.NoError(t, f.store.CreateDocument(ctx, store.Document{
			ID: doc.id, Filename: doc.filename, FileType: "md", Status: store.StatusProcessing,
		}))
		require.NoError(t, f.store.SetDocumentReady(ctx, doc.id, 5, ""))

		chunk := store.Chunk{ID: doc.id + "-c0", DocumentID: doc.id, ChunkIndex: 0, Content: doc.content}
		f.addChunk(t, chunk, doc.filename)
		f.indexBM25(doc.id, chunk)
	}

	result, err := f.engine.Retrieve(ctx, "postgres", []string{"d1", "d2"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Citations)
	assert.Contains(t, result.Context, "【文档：")
	assert.Regexp(t, `\[1\]`, result.Context)
}

func TestRetrieveCitationCapAndExcerpt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{TopK: 10, SmallDocumentThreshold: 1})

	require.NoError(t, f.store.CreateDocument(ctx, store.Document{
		ID: "doc", Filename: "doc.md", FileType: "md", Status: store.StatusProcessing,
	}))
	require.NoError(t, f.store.SetDocumentReady(ctx, "doc", 9, ""))

	long := strings.Repeat("database tuning advice. ", 40)
	var chunks []store.Chunk
	for i := 0; i < 8; i++ {
		c := store.Chunk{
			ID: string(rune('a'+i)) + "-chunk", DocumentID: "doc", ChunkIndex: i,
			Content: long,
		}
		chunks = append(chunks, c)
		f.addChunk(t, c, "doc.md")
	}
	f.indexBM25("doc", chunks...)

	result, err := f.engine.Retrieve(ctx, "database tuning", []string{"doc"})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Citations), 5)
	for _, c := range result.Citations {
		assert.LessOrEqual(t, len([]rune(c.Excerpt)), 300+3)
	}
}

func TestQueryExpansionFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{TopK: 5, SmallDocumentThreshold: 1})
	f.mock.Reply = func(req llm.Request) (string, error) {
		return "", &llm.Error{Kind: llm.KindService, Message: "provider down"}
	}

	require.NoError(t, f.store.CreateDocument(ctx, store.Document{
		ID: "doc", Filename: "doc.md", FileType: "md", Status: store.StatusProcessing,
	}))
	require.NoError(t, f.store.SetDocumentReady(ctx, "doc", 4, ""))

	chunk := store.Chunk{ID: "c1", DocumentID: "doc", ChunkIndex: 0,
		Content: "short answer lives here in this chunk"}
	f.addChunk(t, chunk, "doc.md")
	f.indexBM25("doc", chunk)

	result, err := f.engine.Retrieve(ctx, "short answer", []string{"doc"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Citations)
}
