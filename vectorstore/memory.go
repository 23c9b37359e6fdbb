package vectorstore

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
)

// Memory is the in-memory brute-force cosine store. A linear scan over
// O(10^4) chunks is well within budget, and concurrent searches share a
// read lock.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*memoryEntry
	nextSeq int64
}

type memoryEntry struct {
	record Record
	seq    int64 // insertion order, breaks score ties
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*memoryEntry)}
}

func (m *Memory) Insert(ctx context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if e, ok := m.records[r.ID]; ok {
			e.record = r
			continue
		}
		m.records[r.ID] = &memoryEntry{record: r, seq: m.nextSeq}
		m.nextSeq++
	}
	slog.Debug("vectorstore: inserted records", "count", len(records), "total", len(m.records))
	return nil
}

func (m *Memory) Search(ctx context.Context, queryVec []float32, topK int, filter Filter) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		entry *memoryEntry
		score float64
	}
	candidates := make([]scored, 0, len(m.records))
	for _, e := range m.records {
		if !filter.matchesDocument(e.record.DocumentID) {
			continue
		}
		if !filter.matchesHierarchy(metaString(e.record.Metadata, "hierarchy")) {
			continue
		}
		candidates = append(candidates, scored{e, cosineSimilarity(queryVec, e.record.Embedding)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.seq < candidates[j].entry.seq
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = SearchResult{
			ID:         c.entry.record.ID,
			DocumentID: c.entry.record.DocumentID,
			Content:    c.entry.record.Content,
			Score:      c.score,
			Metadata:   c.entry.record.Metadata,
		}
	}
	return results, nil
}

func (m *Memory) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.records {
		if e.record.DocumentID == documentID {
			delete(m.records, id)
			removed++
		}
	}
	slog.Debug("vectorstore: deleted document records", "document_id", documentID, "count", removed)
	return nil
}

func (m *Memory) Count(ctx context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.records {
		if e.record.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is empty or the dimensions differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
