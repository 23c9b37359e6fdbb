package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteVec is the persistent vector backend built on the sqlite-vec vec0
// virtual table. It satisfies the same contract as the in-memory store:
// cosine ordering, document and hierarchy-prefix filters, insertion-order
// tie-break (rowid).
type SQLiteVec struct {
	db        *sql.DB
	dimension int
}

const vecSchema = `
CREATE TABLE IF NOT EXISTS vec_meta (
    rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    document_id TEXT NOT NULL,
    content     TEXT NOT NULL,
    metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_vec_meta_document ON vec_meta(document_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_records USING vec0(
    embedding float[%d] distance_metric=cosine
);
`

// NewSQLiteVec opens (or creates) the vector database at path.
func NewSQLiteVec(path string, dimension int) (*SQLiteVec, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating vector db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(vecSchema, dimension)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vector schema: %w", err)
	}
	return &SQLiteVec{db: db, dimension: dimension}, nil
}

func (s *SQLiteVec) Close() error { return s.db.Close() }

func (s *SQLiteVec) Insert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return fmt.Errorf("record %s: embedding dimension %d, want %d",
				r.ID, len(r.Embedding), s.dimension)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("record %s: encoding metadata: %w", r.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vec_meta (id, document_id, content, metadata)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				document_id = excluded.document_id,
				content = excluded.content,
				metadata = excluded.metadata`,
			r.ID, r.DocumentID, r.Content, string(meta)); err != nil {
			return fmt.Errorf("record %s: inserting metadata: %w", r.ID, err)
		}

		// LastInsertId is unreliable across upserts; resolve explicitly.
		var rowid int64
		if err := tx.QueryRowContext(ctx,
			`SELECT rowid FROM vec_meta WHERE id = ?`, r.ID).Scan(&rowid); err != nil {
			return fmt.Errorf("record %s: resolving rowid: %w", r.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_records WHERE rowid = ?`, rowid); err != nil {
			return fmt.Errorf("record %s: clearing vector: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_records (rowid, embedding) VALUES (?, ?)`,
			rowid, serializeFloat32(r.Embedding)); err != nil {
			return fmt.Errorf("record %s: inserting vector: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteVec) Search(ctx context.Context, queryVec []float32, topK int, filter Filter) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(queryVec) != s.dimension {
		return nil, fmt.Errorf("query dimension %d, want %d", len(queryVec), s.dimension)
	}

	// KNN first, metadata filters after the join: oversample so filtered
	// rows still leave topK survivors.
	k := topK * 8
	if k < 64 {
		k = 64
	}

	query := `
		SELECT m.id, m.document_id, m.content, m.metadata, v.distance
		FROM vec_records v
		JOIN vec_meta m ON m.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ?`
	args := []any{serializeFloat32(queryVec), k}

	if len(filter.DocumentIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.DocumentIDs)), ",")
		query += fmt.Sprintf(" AND m.document_id IN (%s)", placeholders)
		for _, id := range filter.DocumentIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY v.distance, v.rowid LIMIT ?"
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var metaJSON string
		var distance float64
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Content, &metaJSON, &distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			r.Metadata = map[string]any{}
		}
		if !filter.matchesHierarchy(metaString(r.Metadata, "hierarchy")) {
			continue
		}
		r.Score = 1.0 - distance
		results = append(results, r)
		if len(results) == topK {
			break
		}
	}
	return results, rows.Err()
}

func (s *SQLiteVec) DeleteByDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_records WHERE rowid IN (
			SELECT rowid FROM vec_meta WHERE document_id = ?
		)`, documentID); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vec_meta WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting vector metadata: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteVec) Count(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vec_meta WHERE document_id = ?`, documentID).Scan(&n)
	return n, err
}

// serializeFloat32 encodes a vector in the little-endian layout sqlite-vec
// expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
