package askdoc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/askdoc/bm25"
	"github.com/brunobiangulo/askdoc/store"
	"github.com/brunobiangulo/askdoc/vectorstore"
)

// UploadDocument validates and stores an upload, creates the PROCESSING
// document record, and kicks off asynchronous ingestion. The returned
// document reflects the pre-ingest state.
func (s *Service) UploadDocument(ctx context.Context, filename string, size int64, r io.Reader, skipEnrichment bool) (store.Document, error) {
	if size <= 0 {
		return store.Document{}, ErrEmptyFile
	}
	if size > s.cfg.Document.MaxFileSize {
		return store.Document{}, fmt.Errorf("%w: %d bytes (limit %d)",
			ErrFileTooLarge, size, s.cfg.Document.MaxFileSize)
	}

	filename = filepath.Base(filename)
	fileType := fileType(filename)
	if !s.cfg.Document.AllowedTypeSet()[fileType] {
		return store.Document{}, fmt.Errorf("%w: %q (allowed: %s)",
			ErrUnsupportedType, fileType, s.cfg.Document.AllowedTypes)
	}

	doc := store.Document{
		ID:       uuid.New().String(),
		Filename: filename,
		FileType: fileType,
		FileSize: size,
		Status:   store.StatusProcessing,
	}

	path, err := s.saveFile(doc.ID, filename, r)
	if err != nil {
		return store.Document{}, fmt.Errorf("%w: saving upload: %v", ErrDocumentProcess, err)
	}
	doc.FilePath = path

	if err := s.store.CreateDocument(ctx, doc); err != nil {
		os.Remove(path)
		return store.Document{}, fmt.Errorf("creating document record: %w", err)
	}

	// Ingestion continues after the upload response; it owns its own
	// lifetime rather than the request's.
	go s.processDocument(context.Background(), doc, skipEnrichment)

	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return doc, nil
	}
	return created, nil
}

func (s *Service) saveFile(documentID, filename string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.cfg.Document.StoragePath, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory: %w", err)
	}
	path := filepath.Join(s.cfg.Document.StoragePath, documentID+"_"+filename)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	return path, dst.Close()
}

// processDocument runs the ingest pipeline: parse -> chunk -> enrich ->
// embed -> index. Any failure marks the document FAILED exactly once.
func (s *Service) processDocument(ctx context.Context, doc store.Document, skipEnrichment bool) {
	start := time.Now()
	slog.Info("ingest: processing document",
		"doc_id", doc.ID, "file", doc.Filename, "type", doc.FileType)

	if err := s.ingest(ctx, doc, skipEnrichment); err != nil {
		slog.Error("ingest: document failed", "doc_id", doc.ID, "file", doc.Filename, "error", err)
		if serr := s.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusFailed); serr != nil {
			slog.Error("ingest: marking document failed", "doc_id", doc.ID, "error", serr)
		}
		return
	}

	slog.Info("ingest: document ready",
		"doc_id", doc.ID, "file", doc.Filename,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

func (s *Service) ingest(ctx context.Context, doc store.Document, skipEnrichment bool) error {
	p, err := s.parsers.Get(doc.FileType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	text, err := p.Extract(ctx, doc.FilePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentProcess, err)
	}
	slog.Info("ingest: parsing complete", "doc_id", doc.ID, "chars", len(text))

	chunks := s.chunker.Chunk(text, doc.ID)
	slog.Info("ingest: chunking complete", "doc_id", doc.ID, "chunks", len(chunks))

	if s.cfg.RAG.ContextualRetrievalEnabled && !skipEnrichment {
		s.enricher.EnrichChunks(ctx, text, chunks)
	}

	for i := range chunks {
		chunks[i].VectorID = chunks[i].ID
	}
	if err := s.store.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}

	if err := s.indexChunks(ctx, doc, chunks); err != nil {
		return err
	}

	if err := s.store.SetDocumentReady(ctx, doc.ID, len(chunks), text); err != nil {
		return fmt.Errorf("marking document ready: %w", err)
	}
	return nil
}

// indexChunks builds both secondary indices from the chunk set. Embeddings
// and BM25 terms come from the enriched content. Vector records keep the raw
// content for display; BM25 entries store the enriched content, so a hit
// found only by BM25 is shown and cited with its locator prefix.
func (s *Service) indexChunks(ctx context.Context, doc store.Document, chunks []store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.EnrichedContent()
	}

	embeddings, err := s.embedChunks(ctx, doc.ID, contents)
	if err != nil {
		return err
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			Embedding:  embeddings[i],
			Metadata:   chunkMetadata(doc.Filename, c),
		}
	}
	if err := s.vectors.Insert(ctx, records); err != nil {
		return fmt.Errorf("inserting vectors: %w", err)
	}

	lexical := make([]bm25.ChunkData, len(chunks))
	for i, c := range chunks {
		lexical[i] = bm25.ChunkData{
			ID:       c.ID,
			Content:  contents[i],
			Metadata: chunkMetadata(doc.Filename, c),
		}
	}
	s.lexical.IndexChunks(doc.ID, lexical)
	return nil
}

// embedChunks embeds contents in provider-sized batches; on a batch
// failure each text retries individually so one bad input surfaces alone.
// A chunk that still fails aborts ingestion: the three indices must stay
// aligned.
func (s *Service) embedChunks(ctx context.Context, documentID string, contents []string) ([][]float32, error) {
	start := time.Now()
	embeddings, err := s.embedder.Embed(ctx, contents)
	if err == nil {
		slog.Info("ingest: embeddings complete", "doc_id", documentID,
			"chunks", len(contents), "elapsed", time.Since(start).Round(time.Millisecond))
		return embeddings, nil
	}

	slog.Warn("ingest: batch embedding failed, retrying individually",
		"doc_id", documentID, "error", err)
	embeddings = make([][]float32, len(contents))
	for i, text := range contents {
		single, serr := s.embedder.Embed(ctx, []string{text})
		if serr != nil || len(single) == 0 || len(single[0]) == 0 {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrEmbeddingFailed, i, serr)
		}
		embeddings[i] = single[0]
	}
	return embeddings, nil
}

func chunkMetadata(filename string, c store.Chunk) map[string]any {
	startPage := 0
	if c.StartPage != nil {
		startPage = *c.StartPage
	}
	return map[string]any{
		"filename":   filename,
		"chunkIndex": c.ChunkIndex,
		"heading":    c.Heading,
		"hierarchy":  c.Hierarchy,
		"startPage":  startPage,
	}
}

// --- document accessors ---

// Document returns a document by id.
func (s *Service) Document(ctx context.Context, id string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return doc, ErrDocumentNotFound
	}
	return doc, nil
}

// Documents lists all documents, newest first.
func (s *Service) Documents(ctx context.Context) ([]store.Document, error) {
	return s.store.ListDocuments(ctx)
}

// DocumentContent returns a document's canonical full text.
func (s *Service) DocumentContent(ctx context.Context, id string) (string, error) {
	doc, err := s.Document(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.FullText, nil
}

// DocumentChunks returns a document's chunks in index order.
func (s *Service) DocumentChunks(ctx context.Context, id string) ([]store.Chunk, error) {
	if _, err := s.Document(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListChunks(ctx, id)
}

// DeleteDocument removes a document and cascades to its chunks, vector
// records, BM25 entries, and stored file.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.Document(ctx, id)
	if err != nil {
		return err
	}

	if err := s.vectors.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	s.lexical.DeleteByDocument(id)

	if err := s.store.DeleteChunksByDocument(ctx, id); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("delete: removing stored file failed", "path", doc.FilePath, "error", err)
		}
	}

	slog.Info("delete: document removed", "doc_id", id)
	return nil
}

// Reindex rebuilds both secondary indices of a READY document from its
// persisted chunks. Inconsistent indices are never repaired in place.
func (s *Service) Reindex(ctx context.Context, id string) error {
	doc, err := s.Document(ctx, id)
	if err != nil {
		return err
	}
	chunks, err := s.store.ListChunks(ctx, id)
	if err != nil {
		return fmt.Errorf("loading chunks: %w", err)
	}

	if err := s.vectors.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("clearing vectors: %w", err)
	}
	s.lexical.DeleteByDocument(id)

	if err := s.indexChunks(ctx, doc, chunks); err != nil {
		return err
	}
	slog.Info("reindex: document reindexed", "doc_id", id, "chunks", len(chunks))
	return nil
}

func fileType(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}
