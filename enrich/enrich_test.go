package enrich

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brunobiangulo/askdoc/llm"
	"github.com/brunobiangulo/askdoc/store"
)

func TestEnrichChunksSetsPrefixes(t *testing.T) {
	mock := llm.NewMockClient("")
	mock.Reply = func(req llm.Request) (string, error) {
		return "  本段位于安装章节，介绍网络配置。  ", nil
	}
	e := New(llm.NewRouter(mock, nil))

	chunks := []store.Chunk{
		{ID: "c0", ChunkIndex: 0, Content: "first chunk body"},
		{ID: "c1", ChunkIndex: 1, Content: "second chunk body"},
	}
	enriched := e.EnrichChunks(context.Background(), "full document text", chunks)

	assert.Equal(t, 2, enriched)
	for _, c := range chunks {
		assert.Equal(t, "本段位于安装章节，介绍网络配置。", c.ContextPrefix, "prefix is trimmed")
	}
}

func TestEnrichChunksFailureIsNonFatal(t *testing.T) {
	calls := 0
	mock := llm.NewMockClient("")
	mock.Reply = func(req llm.Request) (string, error) {
		calls++
		if calls == 1 {
			return "", &llm.Error{Kind: llm.KindRateLimit, Message: "slow down"}
		}
		return "locator", nil
	}
	e := New(llm.NewRouter(mock, nil))

	chunks := []store.Chunk{
		{ID: "c0", ChunkIndex: 0, Content: "first"},
		{ID: "c1", ChunkIndex: 1, Content: "second"},
	}
	enriched := e.EnrichChunks(context.Background(), "doc", chunks)

	assert.Equal(t, 1, enriched)
	assert.Empty(t, chunks[0].ContextPrefix, "failed chunk keeps a null prefix")
	assert.Equal(t, "locator", chunks[1].ContextPrefix)
}

func TestEnrichPromptEmbedsDocumentAndChunk(t *testing.T) {
	var prompt string
	mock := llm.NewMockClient("")
	mock.Reply = func(req llm.Request) (string, error) {
		prompt = req.Messages[0].Content
		return "p", nil
	}
	e := New(llm.NewRouter(mock, nil))

	e.EnrichChunks(context.Background(), "the entire document",
		[]store.Chunk{{ID: "c0", Content: "the chunk body"}})

	assert.Contains(t, prompt, "<document>\nthe entire document\n</document>")
	assert.Contains(t, prompt, "<chunk>\nthe chunk body\n</chunk>")
}

func TestTruncateDocumentWindow(t *testing.T) {
	head := strings.Repeat("h", 5000)
	tail := strings.Repeat("t", 5000)
	doc := head + tail

	got := truncateDocument(doc, 6000)
	assert.Contains(t, got, "[... 中间内容已省略 ...]")
	// Head keeps two thirds of the window.
	assert.True(t, strings.HasPrefix(got, strings.Repeat("h", 4000)))
	assert.True(t, strings.HasSuffix(got, strings.Repeat("t", 1980)))

	short := "short document"
	assert.Equal(t, short, truncateDocument(short, 6000))
}
