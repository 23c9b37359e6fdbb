package retrieval

import (
	"sort"

	"github.com/brunobiangulo/askdoc/bm25"
	"github.com/brunobiangulo/askdoc/vectorstore"
)

// rrfK is the standard Reciprocal Rank Fusion constant from the literature.
const rrfK = 60

// fusedHit is a chunk after rank fusion. Metadata comes from the dense hit
// when present, else from the lexical hit.
type fusedHit struct {
	ID         string
	DocumentID string
	Content    string
	Metadata   map[string]any
	Score      float64
}

// fuseRRF combines the dense and lexical rankings: each hit at 1-based
// rank i contributes 1/(rrfK+i) to its chunk's fused score. Chunks are
// merged by id, sorted descending, and truncated to maxResults. The fused
// ordering depends only on ranks, so fusing the lists in either argument
// order yields the same result.
func fuseRRF(dense []vectorstore.SearchResult, lexical []bm25.Result, maxResults int) []fusedHit {
	fused := make(map[string]*fusedHit)
	var order []string

	add := func(id string, score float64, hit fusedHit) {
		entry, ok := fused[id]
		if !ok {
			entry = &hit
			fused[id] = entry
			order = append(order, id)
		}
		entry.Score += score
	}

	for rank, r := range dense {
		add(r.ID, 1.0/float64(rrfK+rank+1), fusedHit{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Metadata:   r.Metadata,
		})
	}
	for rank, r := range lexical {
		add(r.ID, 1.0/float64(rrfK+rank+1), fusedHit{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Metadata:   r.Metadata,
		})
	}

	hits := make([]fusedHit, 0, len(order))
	for _, id := range order {
		hits = append(hits, *fused[id])
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		// Equal scores order by id so swapping the lists cannot reorder them.
		return hits[i].ID < hits[j].ID
	})

	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits
}
