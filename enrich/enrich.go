// Package enrich implements contextual retrieval: each chunk gets a short
// LLM-generated locator sentence describing where it sits in the document.
// The prefix is prepended for indexing only; display uses the raw content.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/askdoc/llm"
	"github.com/brunobiangulo/askdoc/store"
)

const (
	// documentWindow bounds the document text embedded in each prompt.
	documentWindow = 6000

	// pacingDelay spaces out per-chunk LLM calls to stay under provider
	// rate limits.
	pacingDelay = 100 * time.Millisecond
)

const contextSystemPrompt = "你是一个专业的文档分析助手。你的任务是为文档片段生成简短的上下文说明，" +
	"帮助理解该片段在整个文档中的位置和背景。"

const contextUserPromptTemplate = "<document>\n%s\n</document>\n\n" +
	"以下是需要定位上下文的文档片段：\n" +
	"<chunk>\n%s\n</chunk>\n\n" +
	"请为这个片段生成一句简短的上下文说明（不超过50字），说明它在文档中的位置和主题。" +
	"只输出上下文说明，不要输出其他内容。"

// Enricher generates locator prefixes via the LLM router.
type Enricher struct {
	router *llm.Router
}

// New returns an enricher using the given router.
func New(router *llm.Router) *Enricher {
	return &Enricher{router: router}
}

// EnrichChunks fills ContextPrefix for each chunk in place. A failed call
// leaves that chunk's prefix empty; enrichment is never fatal. Returns the
// number of chunks enriched.
func (e *Enricher) EnrichChunks(ctx context.Context, fullText string, chunks []store.Chunk) int {
	truncated := truncateDocument(fullText, documentWindow)
	enriched := 0

	for i := range chunks {
		if err := ctx.Err(); err != nil {
			slog.Warn("enrich: interrupted", "enriched", enriched, "total", len(chunks))
			return enriched
		}

		prefix, err := e.enrichOne(ctx, truncated, chunks[i].Content)
		if err != nil {
			slog.Warn("enrich: context generation failed",
				"chunk_index", chunks[i].ChunkIndex, "error", err)
		} else if prefix != "" {
			chunks[i].ContextPrefix = prefix
			enriched++
		}

		// Pace calls between chunks, not after the last one.
		if i < len(chunks)-1 {
			select {
			case <-time.After(pacingDelay):
			case <-ctx.Done():
			}
		}
	}

	slog.Info("enrich: contextual enrichment complete",
		"enriched", enriched, "total", len(chunks))
	return enriched
}

func (e *Enricher) enrichOne(ctx context.Context, truncatedDoc, chunkContent string) (string, error) {
	client := e.router.GetClient("")
	reply, err := client.Chat(ctx, llm.Request{
		SystemPrompt: contextSystemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(contextUserPromptTemplate, truncatedDoc, chunkContent),
		}},
		MaxTokens:   100,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// truncateDocument keeps the head two thirds and the tail of a document
// that exceeds maxChars, with an ellipsis marker between them.
func truncateDocument(document string, maxChars int) string {
	runes := []rune(document)
	if len(runes) <= maxChars {
		return document
	}
	headSize := maxChars * 2 / 3
	tailSize := maxChars - headSize - 20
	return string(runes[:headSize]) +
		"\n\n[... 中间内容已省略 ...]\n\n" +
		string(runes[len(runes)-tailSize:])
}
