// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

var _ Index = (*PGStore)(nil)

// PGStore persists VectorRecords in PostgreSQL using the pgvector
// extension, one row per (document, field).
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPGStore connects to dsn and creates the extension and schema if
// they do not exist.
func OpenPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS protocol_vectors (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			field TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL,
			pages INTEGER[] NOT NULL,
			embedding vector NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE(document_id, field)
		)`,
		`CREATE INDEX IF NOT EXISTS protocol_vectors_document_idx ON protocol_vectors (document_id)`,
		`CREATE INDEX IF NOT EXISTS protocol_vectors_metadata_idx ON protocol_vectors USING GIN (metadata)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Hashes returns the stored content hash per field of one document.
func (s *PGStore) Hashes(ctx context.Context, documentID string) (map[types.FieldID]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT field, id FROM protocol_vectors WHERE document_id = $1`, documentID)
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
func (s *PGStore) Replace(ctx context.Context, rec types.VectorRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	pages := types.NormalizePages(rec.PageReferences)
	pages32 := make([]int32, len(pages))
	for i, p := range pages {
		pages32[i] = int32(p)
	}
	embedding := pgvector.NewVector(rec.Embedding)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM protocol_vectors WHERE document_id = $1 AND field = $2`,
		rec.DocumentID, string(rec.Field),
	); err != nil {
		return fmt.Errorf("deleting old vector: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO protocol_vectors (id, document_id, field, content, metadata, pages, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		rec.ID, rec.DocumentID, string(rec.Field), rec.Text,
		string(metaJSON), pages32, &embedding, rec.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("inserting vector %s: %w", rec.ID, err)
	}

	return tx.Commit(ctx)
}

// Delete removes the row for (document, field).
func (s *PGStore) Delete(ctx context.Context, documentID string, field types.FieldID) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM protocol_vectors WHERE document_id = $1 AND field = $2`, documentID, string(field),
	); err != nil {
		return fmt.Errorf("deleting vector: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (s *PGStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM protocol_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting vectors: %w", err)
	}
	return n, nil
}

// Candidates returns the records satisfying f. Equality, set membership,
// and field clauses are evaluated in SQL; numeric ranges are applied to
// the scanned rows.
func (s *PGStore) Candidates(ctx context.Context, f types.Filter) ([]types.VectorRecord, error) {
	var (
		qb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	qb.WriteString(`SELECT id, document_id, field, content, metadata::text, pages, embedding, created_at
		FROM protocol_vectors WHERE true`)
	for key, want := range f.Equals {
		if err := validKey(key); err != nil {
			return nil, err
		}
		qb.WriteString(` AND metadata->>` + arg(key) + `::text = ` + arg(want))
	}
	for key, set := range f.OneOf {
		if err := validKey(key); err != nil {
			return nil, err
		}
		if len(set) == 0 {
			return nil, nil
		}
		qb.WriteString(` AND metadata->>` + arg(key) + `::text = ANY(` + arg(set) + `)`)
	}
	if len(f.Fields) > 0 {
		fields := make([]string, len(f.Fields))
		for i, field := range f.Fields {
			fields[i] = string(field)
		}
		qb.WriteString(` AND field = ANY(` + arg(fields) + `)`)
	}
	qb.WriteString(` ORDER BY document_id, field`)

	rows, err := s.pool.Query(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var out []types.VectorRecord
	for rows.Next() {
		var (
			rec       types.VectorRecord
			field     string
			meta      string
			pages     []int32
			embedding pgvector.Vector
		)
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &field, &rec.Text, &meta, &pages, &embedding, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning vector: %w", err)
		}
		rec.Field = types.FieldID(field)
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", rec.ID, err)
		}
		rec.PageReferences = make([]int, len(pages))
		for i, p := range pages {
			rec.PageReferences[i] = int(p)
		}
		rec.Embedding = embedding.Slice()

		if !inRanges(f, rec.Metadata) {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
