// Package store wraps the SQLite database holding documents, chunks, chat
// sessions, and messages. The vector store and BM25 index are secondary
// indices over the chunks table; they are rebuilt from it, never repaired.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Document status values. READY is terminal for success, FAILED for failure.
const (
	StatusUploading  = "UPLOADING"
	StatusProcessing = "PROCESSING"
	StatusReady      = "READY"
	StatusFailed     = "FAILED"
)

// Message roles.
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
	RoleSystem    = "SYSTEM"
)

// Document represents a row in the documents table.
type Document struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	FileType   string `json:"fileType"`
	FileSize   int64  `json:"fileSize"`
	FilePath   string `json:"-"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunkCount"`
	FullText   string `json:"fullText,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

// Chunk represents a row in the chunks table. StartPage and EndPage are
// optional page bounds; the chunker does not set them, so they stay nil for
// the chunks it produces.
type Chunk struct {
	ID            string `json:"id"`
	DocumentID    string `json:"documentId"`
	ChunkIndex    int    `json:"chunkIndex"`
	Content       string `json:"content"`
	Heading       string `json:"heading,omitempty"`
	Hierarchy     string `json:"hierarchy,omitempty"`
	StartPage     *int   `json:"startPage,omitempty"`
	EndPage       *int   `json:"endPage,omitempty"`
	TokenCount    int    `json:"tokenCount"`
	ContextPrefix string `json:"contextPrefix,omitempty"`
	VectorID      string `json:"-"`
}

// EnrichedContent returns the text used for embedding and BM25 indexing:
// the locator prefix plus the body when a prefix exists, else the body.
// Vector records keep the raw content for display; BM25 entries store this
// enriched text.
func (c Chunk) EnrichedContent() string {
	if c.ContextPrefix != "" {
		return c.ContextPrefix + "\n" + c.Content
	}
	return c.Content
}

// Session represents a chat session. DocumentIDs is a comma-joined list.
type Session struct {
	ID           string `json:"id"`
	DocumentIDs  string `json:"documentIds"`
	Summary      string `json:"summary,omitempty"`
	MessageCount int    `json:"messageCount"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// Message represents a chat message. Citations holds the serialised
// citation list for assistant turns.
type Message struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionId"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	TokenCount int    `json:"tokenCount"`
	Citations  string `json:"citations,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// Store wraps the SQLite database for all askdoc persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Document operations ---

// CreateDocument inserts a new document record.
func (s *Store) CreateDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, file_type, file_size, file_path, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.FileType, doc.FileSize, doc.FilePath, doc.Status)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// GetDocument returns the document with the given id.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_type, file_size, file_path, status, chunk_count, full_text, created_at, updated_at
		FROM documents WHERE id = ?`, id).Scan(
		&d.ID, &d.Filename, &d.FileType, &d.FileSize, &d.FilePath, &d.Status,
		&d.ChunkCount, &d.FullText, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("querying document: %w", err)
	}
	return d, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, file_type, file_size, file_path, status, chunk_count, full_text, created_at, updated_at
		FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.FileType, &d.FileSize, &d.FilePath,
			&d.Status, &d.ChunkCount, &d.FullText, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the document status. Ingest uses this for the
// PROCESSING -> FAILED transition; success goes through SetDocumentReady.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		status, id)
	return err
}

// SetDocumentReady marks ingestion complete, recording the canonical full
// text and the final chunk count in the same write as the READY status.
func (s *Store) SetDocumentReady(ctx context.Context, id string, chunkCount int, fullText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, chunk_count = ?, full_text = ?, updated_at = datetime('now')
		WHERE id = ?`,
		StatusReady, chunkCount, fullText, id)
	return err
}

// DeleteDocument removes a document and, via cascade, its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Chunk operations ---

// InsertChunks stores chunks in a single transaction.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, content, heading, hierarchy,
			start_page, end_page, token_count, context_prefix, vector_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.ChunkIndex, c.Content,
			nullable(c.Heading), nullable(c.Hierarchy), c.StartPage, c.EndPage,
			c.TokenCount, nullable(c.ContextPrefix), nullable(c.VectorID)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

// ListChunks returns a document's chunks ordered by chunk index.
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, heading, hierarchy,
			start_page, end_page, token_count, context_prefix, vector_id
		FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var heading, hierarchy, prefix, vectorID sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content,
			&heading, &hierarchy, &c.StartPage, &c.EndPage,
			&c.TokenCount, &prefix, &vectorID); err != nil {
			return nil, err
		}
		c.Heading = heading.String
		c.Hierarchy = hierarchy.String
		c.ContextPrefix = prefix.String
		c.VectorID = vectorID.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of stored chunks for a document.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&n)
	return n, err
}

// DistinctHierarchies returns the distinct non-empty hierarchy paths of a
// document's chunks, in first-appearance order.
func (s *Store) DistinctHierarchies(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hierarchy FROM chunks
		WHERE document_id = ? AND hierarchy IS NOT NULL AND hierarchy != ''
		GROUP BY hierarchy ORDER BY MIN(chunk_index)`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying hierarchies: %w", err)
	}
	defer rows.Close()

	var hierarchies []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hierarchies = append(hierarchies, h)
	}
	return hierarchies, rows.Err()
}

// DeleteChunksByDocument removes all chunks of a document (re-ingest path).
func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	return err
}

// nullable maps "" to NULL so optional text columns stay NULL rather than
// empty string.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
