// Package retrieval implements the hybrid search core: routed dense search
// with hierarchy fallback, BM25 lexical search, and Reciprocal Rank Fusion
// of the two rankings, plus the small-document shortcut that skips
// retrieval entirely.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/askdoc/bm25"
	"github.com/brunobiangulo/askdoc/embed"
	"github.com/brunobiangulo/askdoc/llm"
	"github.com/brunobiangulo/askdoc/store"
	"github.com/brunobiangulo/askdoc/vectorstore"
)

const (
	// maxCitations bounds the citation list attached to an answer.
	maxCitations = 5

	// citationExcerptLen is the citation excerpt length in characters.
	citationExcerptLen = 300

	// shortcutExcerptLen is the synthetic full-document citation excerpt
	// length.
	shortcutExcerptLen = 200

	// expansionQueryLimit is the maximum original-query length (in
	// characters) that still triggers expansion.
	expansionQueryLimit = 50

	// fullDocumentChunkID marks the synthetic small-document citation.
	fullDocumentChunkID = "full-document"
)

const expansionPromptTemplate = "请将以下查询改写为一个更完整的查询，补充同义词和相关表述，便于在文档中检索。" +
	"只输出改写后的查询，不要输出其他内容。\n\n查询：%s"

// Config holds retrieval tuning parameters.
type Config struct {
	TopK                int
	SimilarityThreshold float64
	// SmallDocumentThreshold is the chunk count at or below which a single
	// document's full text replaces retrieval.
	SmallDocumentThreshold int
}

// Citation points an answer at its source chunk.
type Citation struct {
	ChunkID      string  `json:"chunkId"`
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	PageNumber   *int    `json:"pageNumber,omitempty"`
	Excerpt      string  `json:"excerpt"`
	Score        float64 `json:"score"`
}

// Result is the assembled retrieval output.
type Result struct {
	Context   string
	Citations []Citation
}

// Engine performs hybrid retrieval over the vector store and BM25 index.
type Engine struct {
	store    *store.Store
	embedder embed.Embedder
	vectors  vectorstore.Store
	lexical  *bm25.Index
	router   *llm.Router
	cfg      Config
}

// New creates a retrieval engine. Zero-value config fields get defaults.
func New(s *store.Store, embedder embed.Embedder, vectors vectorstore.Store, lexical *bm25.Index, router *llm.Router, cfg Config) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.SmallDocumentThreshold <= 0 {
		cfg.SmallDocumentThreshold = 10
	}
	return &Engine{
		store:    s,
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
		router:   router,
		cfg:      cfg,
	}
}

// Retrieve runs the full hybrid pipeline for the query against the given
// documents. An empty documentIDs slice yields an empty result.
func (e *Engine) Retrieve(ctx context.Context, query string, documentIDs []string) (*Result, error) {
	if len(documentIDs) == 0 {
		return &Result{}, nil
	}

	start := time.Now()
	multiDoc := len(documentIDs) > 1

	// Small-document shortcut: below the chunk threshold the whole text is
	// cheaper and more faithful than any retrieval.
	if !multiDoc {
		if result, ok := e.smallDocumentShortcut(ctx, documentIDs[0]); ok {
			return result, nil
		}
	}

	// Query expansion broadens short single-document queries. The expanded
	// text is concatenated, never substituted, so exact-keyword recall
	// survives; BM25 below always sees the original query.
	searchQuery := query
	if !multiDoc && runeLen(query) <= expansionQueryLimit {
		searchQuery = e.expandQuery(ctx, query)
	}

	dense := e.denseSearch(ctx, query, searchQuery, documentIDs)

	var lexical []bm25.Result
	if multiDoc {
		lexical = e.lexical.SearchMulti(ctx, query, documentIDs, e.cfg.TopK)
	} else {
		lexical = e.lexical.Search(ctx, query, documentIDs[0], e.cfg.TopK)
	}

	fused := fuseRRF(dense, lexical, e.cfg.TopK)
	slog.Info("retrieval: hybrid search complete",
		"documents", len(documentIDs), "dense", len(dense), "bm25", len(lexical),
		"fused", len(fused), "elapsed", time.Since(start).Round(time.Millisecond))

	return e.assemble(ctx, fused, multiDoc), nil
}

// smallDocumentShortcut returns the document's full text as the sole
// context when it is small enough. The second return reports whether the
// shortcut applied.
func (e *Engine) smallDocumentShortcut(ctx context.Context, documentID string) (*Result, bool) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, false
	}
	if doc.ChunkCount > e.cfg.SmallDocumentThreshold || doc.FullText == "" {
		return nil, false
	}

	slog.Info("retrieval: small-document shortcut",
		"document_id", documentID, "chunks", doc.ChunkCount)
	return &Result{
		Context: doc.FullText,
		Citations: []Citation{{
			ChunkID:      fullDocumentChunkID,
			DocumentID:   doc.ID,
			DocumentName: doc.Filename,
			Excerpt:      truncateRunes(doc.FullText, shortcutExcerptLen),
			Score:        1.0,
		}},
	}, true
}

// expandQuery asks the LLM to rephrase the query with synonyms and returns
// the original concatenated with the expansion. Failure leaves the query
// unchanged.
func (e *Engine) expandQuery(ctx context.Context, query string) string {
	expansion, err := e.router.Primary().Chat(ctx, llm.Request{
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(expansionPromptTemplate, query),
		}},
		MaxTokens:   100,
		Temperature: 0.3,
	})
	if err != nil {
		slog.Warn("retrieval: query expansion failed", "error", err)
		return query
	}
	expansion = strings.TrimSpace(expansion)
	if expansion == "" {
		return query
	}
	slog.Debug("retrieval: query expanded", "original", query, "expansion", expansion)
	return query + " " + expansion
}

// denseSearch embeds the search query and runs the routed vector search.
// For a single document the router predicts a hierarchy prefilter; weak
// filtered results fall back to a document-wide search. Dense failures are
// non-fatal: the lexical branch may still produce results.
func (e *Engine) denseSearch(ctx context.Context, query, searchQuery string, documentIDs []string) []vectorstore.SearchResult {
	embeddings, err := e.embedder.Embed(ctx, []string{searchQuery})
	if err != nil || len(embeddings) == 0 || len(embeddings[0]) == 0 {
		slog.Warn("retrieval: query embedding failed", "error", err)
		return nil
	}
	queryVec := embeddings[0]

	filter := vectorstore.Filter{DocumentIDs: documentIDs}
	if len(documentIDs) == 1 {
		hierarchies, herr := e.store.DistinctHierarchies(ctx, documentIDs[0])
		if herr != nil {
			slog.Warn("retrieval: loading hierarchies failed", "error", herr)
		}
		filter.Hierarchy = e.router.PredictHierarchy(ctx, query, hierarchies)
		if filter.Hierarchy != "" {
			slog.Info("retrieval: hierarchy predicted", "hierarchy", filter.Hierarchy)
		}
	}

	results, err := e.vectors.Search(ctx, queryVec, e.cfg.TopK, filter)
	if err != nil {
		slog.Warn("retrieval: dense search failed", "error", err)
		return nil
	}

	if filter.Hierarchy != "" && e.needsFallback(results) {
		slog.Info("retrieval: hierarchy search weak, falling back to global",
			"hierarchy", filter.Hierarchy, "results", len(results))
		filter.Hierarchy = ""
		results, err = e.vectors.Search(ctx, queryVec, e.cfg.TopK, filter)
		if err != nil {
			slog.Warn("retrieval: fallback dense search failed", "error", err)
			return nil
		}
	}
	return results
}

// needsFallback decides whether a hierarchy-filtered result set is too weak
// to trust: empty, thin, or a top score below 1.2x the similarity
// threshold.
func (e *Engine) needsFallback(results []vectorstore.SearchResult) bool {
	if len(results) == 0 {
		return true
	}
	minResults := e.cfg.TopK / 2
	if minResults < 2 {
		minResults = 2
	}
	if len(results) < minResults {
		return true
	}
	return results[0].Score < e.cfg.SimilarityThreshold*1.2
}

// assemble builds the numbered context block and the citation list. In
// multi-document mode each context entry is prefixed with its source
// filename. No score threshold applies after fusion: RRF scores live in
// the 0.01-0.03 range and the ordering carries the signal.
func (e *Engine) assemble(ctx context.Context, hits []fusedHit, multiDoc bool) *Result {
	var sb strings.Builder
	citations := make([]Citation, 0, minInt(len(hits), maxCitations))

	for i, hit := range hits {
		documentName := metaString(hit.Metadata, "filename")
		if documentName == "" {
			documentName = "未知文档"
		}

		if multiDoc {
			fmt.Fprintf(&sb, "[%d] 【文档：%s】 %s\n\n", i+1, documentName, hit.Content)
		} else {
			fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, hit.Content)
		}

		if len(citations) < maxCitations {
			citations = append(citations, Citation{
				ChunkID:      hit.ID,
				DocumentID:   hit.DocumentID,
				DocumentName: documentName,
				PageNumber:   metaPage(hit.Metadata, "startPage"),
				Excerpt:      truncateRunes(hit.Content, citationExcerptLen),
				Score:        hit.Score,
			})
		}
	}

	return &Result{Context: sb.String(), Citations: citations}
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// metaPage reads a positive page number from metadata, tolerating the
// numeric widening JSON round-trips introduce.
func metaPage(m map[string]any, key string) *int {
	if m == nil {
		return nil
	}
	var page int
	switch v := m[key].(type) {
	case int:
		page = v
	case int64:
		page = int(v)
	case float64:
		page = int(v)
	default:
		return nil
	}
	if page <= 0 {
		return nil
	}
	return &page
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func runeLen(s string) int { return len([]rune(s)) }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
