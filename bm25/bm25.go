// Package bm25 implements per-document BM25 lexical indexing, the keyword
// half of hybrid retrieval. Chinese text tokenises per character, runs of
// letters and digits form single tokens, everything else delimits.
package bm25

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"unicode"
)

// BM25 ranking constants: K1 saturates term frequency, b controls length
// normalisation.
const (
	k1 = 1.2
	b  = 0.75
)

// ChunkData is the indexing input for one chunk.
type ChunkData struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Result is a scored lexical hit.
type Result struct {
	ID         string
	DocumentID string
	Content    string
	Metadata   map[string]any
	Score      float64
}

// chunkIndex holds the inverted state for one chunk.
type chunkIndex struct {
	id       string
	content  string
	metadata map[string]any
	termFreq map[string]int
	length   int
}

// documentIndex is the per-document table plus its average chunk length.
type documentIndex struct {
	chunks       map[string]*chunkIndex
	avgDocLength float64
}

// Index maintains per-document inverted tables. Searches take a read lock;
// per-document mutations replace the whole document entry so the average
// length always matches the chunk table it was computed from.
type Index struct {
	mu   sync.RWMutex
	docs map[string]*documentIndex
}

// NewIndex returns an empty BM25 index.
func NewIndex() *Index {
	return &Index{docs: make(map[string]*documentIndex)}
}

// IndexChunks (re)builds the inverted table for a document.
func (x *Index) IndexChunks(documentID string, chunks []ChunkData) {
	if len(chunks) == 0 {
		return
	}

	doc := &documentIndex{chunks: make(map[string]*chunkIndex, len(chunks))}
	totalLength := 0
	for _, c := range chunks {
		tokens := Tokenize(c.Content)
		termFreq := make(map[string]int)
		for _, t := range tokens {
			termFreq[t]++
		}
		doc.chunks[c.ID] = &chunkIndex{
			id:       c.ID,
			content:  c.Content,
			metadata: c.Metadata,
			termFreq: termFreq,
			length:   len(tokens),
		}
		totalLength += len(tokens)
	}
	doc.avgDocLength = float64(totalLength) / float64(len(chunks))

	x.mu.Lock()
	x.docs[documentID] = doc
	x.mu.Unlock()

	slog.Info("bm25: indexed document", "document_id", documentID, "chunks", len(chunks))
}

// Search scores a single document's chunks against the query and returns
// the topK positive-scoring chunks, best first.
func (x *Index) Search(ctx context.Context, query, documentID string, topK int) []Result {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.searchLocked(query, documentID, topK)
}

// SearchMulti runs a per-document search over several documents, then
// merges, dedupes by chunk id, and truncates to topK.
func (x *Index) SearchMulti(ctx context.Context, query string, documentIDs []string, topK int) []Result {
	if len(documentIDs) == 0 {
		return nil
	}

	// Widen the per-document window so one document cannot monopolise the
	// merged result.
	perDocTopK := topK
	if perDocTopK < 5 {
		perDocTopK = 5
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]bool)
	var all []Result
	for _, docID := range documentIDs {
		for _, r := range x.searchLocked(query, docID, perDocTopK) {
			if !seen[r.ID] {
				seen[r.ID] = true
				all = append(all, r)
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > topK {
		all = all[:topK]
	}
	return all
}

func (x *Index) searchLocked(query, documentID string, topK int) []Result {
	doc, ok := x.docs[documentID]
	if !ok || len(doc.chunks) == 0 {
		return nil
	}

	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	n := len(doc.chunks)
	idf := make(map[string]float64, len(queryTokens))
	for _, term := range queryTokens {
		if _, ok := idf[term]; ok {
			continue
		}
		df := 0
		for _, c := range doc.chunks {
			if c.termFreq[term] > 0 {
				df++
			}
		}
		idf[term] = math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
	}

	var results []Result
	for _, c := range doc.chunks {
		score := 0.0
		for _, term := range queryTokens {
			tf := c.termFreq[term]
			if tf == 0 {
				continue
			}
			numerator := float64(tf) * (k1 + 1)
			denominator := float64(tf) + k1*(1-b+b*float64(c.length)/doc.avgDocLength)
			score += idf[term] * (numerator / denominator)
		}
		if score > 0 {
			results = append(results, Result{
				ID:         c.id,
				DocumentID: documentID,
				Content:    c.content,
				Metadata:   c.metadata,
				Score:      score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// ChunkCount returns the number of indexed chunks for a document.
func (x *Index) ChunkCount(documentID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	doc, ok := x.docs[documentID]
	if !ok {
		return 0
	}
	return len(doc.chunks)
}

// DeleteByDocument drops a document's inverted table.
func (x *Index) DeleteByDocument(documentID string) {
	x.mu.Lock()
	delete(x.docs, documentID)
	x.mu.Unlock()
	slog.Info("bm25: deleted document index", "document_id", documentID)
}

// Tokenize lowercases text, emitting each CJK codepoint as its own token
// and runs of letters/digits as single tokens; all other characters
// delimit.
func Tokenize(text string) []string {
	var tokens []string
	var word []rune

	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}

	for _, r := range text {
		r = unicode.ToLower(r)
		switch {
		case r >= 0x4E00 && r <= 0x9FA5:
			flushWord()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
		default:
			flushWord()
		}
	}
	flushWord()
	return tokens
}
