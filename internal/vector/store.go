// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package vector

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
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

const dbFile = "vectors.db"

var _ Index = (*Store)(nil)

// Store persists VectorRecords in SQLite, one row per (document, field).
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the index database in dir and creates the
// schema if it does not exist.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Writers are serialized here; embedding calls run outside the store.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			field TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL,
			pages TEXT NOT NULL,
			dims INTEGER NOT NULL,
			embedding BLOB NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(document_id, field)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_document ON vectors(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_field ON vectors(field)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Hashes returns the stored content hash per field of one document.
func (s *Store) Hashes(ctx context.Context, documentID string) (map[types.FieldID]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, id FROM vectors WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying hashes: %w", err)
	}
	defer rows.Close()

	out := map[types.FieldID]string{}
	for rows.Next() {
		var field, id string
		if err := rows.Scan(&field, &id); err != nil {
			return nil, fmt.Errorf("scanning hash: %w", err)
		}
		out[types.FieldID(field)] = id
	}
	return out, rows.Err()
}

// Replace deletes any row for rec's (document, field) and inserts rec.
func (s *Store) Replace(ctx context.Context, rec types.VectorRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	pagesJSON, err := json.Marshal(types.NormalizePages(rec.PageReferences))
	if err != nil {
		return fmt.Errorf("marshaling pages: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vectors WHERE document_id = ? AND field = ?`,
		rec.DocumentID, string(rec.Field),
	); err != nil {
		return fmt.Errorf("deleting old vector: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vectors (id, document_id, field, content, metadata, pages, dims, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DocumentID, string(rec.Field), rec.Text,
		string(metaJSON), string(pagesJSON), len(rec.Embedding),
		encodeEmbedding(rec.Embedding), rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting vector %s: %w", rec.ID, err)
	}

	return tx.Commit()
}

// Delete removes the row for (document, field).
func (s *Store) Delete(ctx context.Context, documentID string, field types.FieldID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM vectors WHERE document_id = ? AND field = ?`, documentID, string(field),
	); err != nil {
		return fmt.Errorf("deleting vector: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting vectors: %w", err)
	}
	return n, nil
}

// Candidates returns the records satisfying f. Equality, set membership,
// and field clauses are evaluated in SQL; numeric ranges are applied to
// the scanned rows.
func (s *Store) Candidates(ctx context.Context, f types.Filter) ([]types.VectorRecord, error) {
	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT id, document_id, field, content, metadata, pages, embedding, created_at
		FROM vectors WHERE 1=1`)

	for key, want := range f.Equals {
		path, err := jsonPath(key)
		if err != nil {
			return nil, err
		}
		qb.WriteString(` AND json_extract(metadata, ?) = ?`)
		args = append(args, path, want)
	}
	for key, set := range f.OneOf {
		path, err := jsonPath(key)
		if err != nil {
			return nil, err
		}
		if len(set) == 0 {
			return nil, nil
		}
		qb.WriteString(` AND json_extract(metadata, ?) IN (` + placeholders(len(set)) + `)`)
		args = append(args, path)
		for _, v := range set {
			args = append(args, v)
		}
	}
	if len(f.Fields) > 0 {
		qb.WriteString(` AND field IN (` + placeholders(len(f.Fields)) + `)`)
		for _, field := range f.Fields {
			args = append(args, string(field))
		}
	}
	qb.WriteString(` ORDER BY document_id, field`)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var out []types.VectorRecord
	for rows.Next() {
		var (
			rec                types.VectorRecord
			field, meta, pages string
			blob               []byte
			created            string
		)
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &field, &rec.Text, &meta, &pages, &blob, &created); err != nil {
			return nil, fmt.Errorf("scanning vector: %w", err)
		}
		rec.Field = types.FieldID(field)
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(pages), &rec.PageReferences); err != nil {
			return nil, fmt.Errorf("decoding pages of %s: %w", rec.ID, err)
		}
		rec.Embedding = decodeEmbedding(blob)
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("decoding created_at of %s: %w", rec.ID, err)
		}

		if !inRanges(f, rec.Metadata) {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// inRanges applies the numeric range clauses of f.
func inRanges(f types.Filter, metadata map[string]string) bool {
	if len(f.Ranges) == 0 {
		return true
	}
	return types.Filter{Ranges: f.Ranges}.Match(metadata)
}

// validKey rejects metadata keys that cannot be quoted as JSON paths.
func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `"\`) {
		return fmt.Errorf("invalid metadata key %q", key)
	}
	return nil
}

// jsonPath quotes a metadata key as a SQLite JSON path.
func jsonPath(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return `$."` + key + `"`, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeEmbedding(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
