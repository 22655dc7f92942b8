// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package vector indexes extraction records one chunk per field and answers
// filtered similarity queries. Re-ingesting unchanged content is a no-op;
// changed content is deleted and reinserted.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Default search and ingestion settings.
const (
	DefaultSimilarityThreshold = 0.3
	DefaultTopK                = 10
	DefaultWorkers             = 4
)

// Index persists VectorRecords keyed by (document, field). Store (SQLite)
// and PGStore (PostgreSQL with pgvector) implement it.
type Index interface {
	Hashes(ctx context.Context, documentID string) (map[types.FieldID]string, error)
	Replace(ctx context.Context, rec types.VectorRecord) error
	Delete(ctx context.Context, documentID string, field types.FieldID) error
	Count(ctx context.Context) (int, error)
	Candidates(ctx context.Context, f types.Filter) ([]types.VectorRecord, error)
	Close() error
}

// Engine ingests records into an Index and searches it.
type Engine struct {
	store     Index
	embedder  Embedder
	threshold float64
	topK      int
	workers   int
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine returns an Engine over store. Zero settings in cfg take the
// package defaults, as does a nil similarity threshold; a nil logger
// discards output.
func NewEngine(store Index, embedder Embedder, cfg types.VectorConfig, logger *slog.Logger) *Engine {
	e := &Engine{
		store:     store,
		embedder:  embedder,
		threshold: DefaultSimilarityThreshold,
		topK:      cfg.TopK,
		workers:   cfg.Workers,
		logger:    logger,
		now:       time.Now,
	}
	if cfg.SimilarityThreshold != nil {
		e.threshold = *cfg.SimilarityThreshold
	}
	if e.topK <= 0 {
		e.topK = DefaultTopK
	}
	if e.workers <= 0 {
		e.workers = DefaultWorkers
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// IngestResult counts what happened to one document's fields.
type IngestResult struct {
	Inserted  int
	Replaced  int
	Unchanged int
	Removed   int
}

// Changed reports whether the index was modified.
func (r IngestResult) Changed() bool {
	return r.Inserted+r.Replaced+r.Removed > 0
}

// ContentHash identifies a chunk by document, field, content, and metadata.
func ContentHash(documentID string, field types.FieldID, content string, metadata map[string]string) string {
	meta, _ := json.Marshal(metadata)
	h := sha256.New()
	for _, part := range []string{documentID, string(field), content, string(meta)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Ingest indexes one chunk per filled field of rec. Fields that are empty
// or failed have any previously indexed chunk removed.
func (e *Engine) Ingest(ctx context.Context, rec *types.ExtractionRecord) (IngestResult, error) {
	var res IngestResult
	if rec == nil || rec.DocumentID == "" {
		return res, errors.New("ingest: record has no document id")
	}

	stored, err := e.store.Hashes(ctx, rec.DocumentID)
	if err != nil {
		return res, err
	}

	for _, field := range types.AllFields() {
		fr := rec.Fields[field]
		content := strings.TrimSpace(fr.Content)
		prev, exists := stored[field]

		if content == "" || fr.Failed() {
			if exists {
				if err := e.store.Delete(ctx, rec.DocumentID, field); err != nil {
					return res, err
				}
				res.Removed++
			}
			continue
		}

		id := ContentHash(rec.DocumentID, field, content, rec.Metadata)
		if exists && prev == id {
			res.Unchanged++
			continue
		}

		vec, err := e.embedder.Embed(ctx, content)
		if err != nil {
			return res, fmt.Errorf("embedding %s/%s: %w", rec.DocumentID, field, err)
		}

		vr := types.VectorRecord{
			ID:             id,
			DocumentID:     rec.DocumentID,
			Field:          field,
			Text:           content,
			Embedding:      vec,
			Metadata:       rec.Metadata,
			PageReferences: fr.PageReferences,
			CreatedAt:      e.now(),
		}
		if err := e.store.Replace(ctx, vr); err != nil {
			return res, err
		}
		if exists {
			res.Replaced++
		} else {
			res.Inserted++
		}
	}

	e.logger.Debug("document ingested",
		slog.String("document", rec.DocumentID),
		slog.Int("inserted", res.Inserted),
		slog.Int("replaced", res.Replaced),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("removed", res.Removed))
	return res, nil
}

// IngestSummary holds counts from a multi-document ingestion run.
type IngestSummary struct {
	Indexed int
	Updated int
	Skipped int
	Failed  int
}

// Total returns the number of documents processed.
func (s IngestSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// IngestAll ingests records on a bounded pool of workers. A document that
// fails is counted and reported on w; the others continue. Only
// cancellation aborts the run.
func (e *Engine) IngestAll(ctx context.Context, recs []*types.ExtractionRecord, w io.Writer) (IngestSummary, error) {
	var (
		mu      sync.Mutex
		summary IngestSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, rec := range recs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Ingest(gctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				fmt.Fprintf(w, "failed  %s: %v\n", docID(rec), err)
				summary.Failed++
			case res.Inserted > 0 && res.Replaced == 0 && res.Unchanged == 0:
				fmt.Fprintf(w, "indexing %s (%d fields)\n", rec.DocumentID, res.Inserted)
				summary.Indexed++
			case res.Changed():
				fmt.Fprintf(w, "updated %s (%d changed, %d removed)\n", rec.DocumentID, res.Inserted+res.Replaced, res.Removed)
				summary.Updated++
			default:
				fmt.Fprintf(w, "skipped %s\n", rec.DocumentID)
				summary.Skipped++
			}
			return nil
		})
	}
	err := g.Wait()

	fmt.Fprintf(w, "\nindexed: %d, updated: %d, skipped: %d, failed: %d\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Failed)
	return summary, err
}

func docID(rec *types.ExtractionRecord) string {
	if rec == nil {
		return "<nil>"
	}
	return rec.DocumentID
}

// Search embeds query and returns up to topK records passing filter whose
// cosine similarity is at least the threshold, ordered by similarity, then
// by metadata completeness, then by id. A non-positive topK uses the
// engine default. No match is an empty result, not an error.
func (e *Engine) Search(ctx context.Context, query string, filter types.Filter, topK int) ([]types.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search: empty query")
	}
	if topK <= 0 {
		topK = e.topK
	}

	candidates, err := e.store.Candidates(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []types.SearchResult{}, nil
	}

	qvec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results := []types.SearchResult{}
	for _, c := range candidates {
		if len(c.Embedding) != len(qvec) {
			e.logger.Warn("skipping vector with mismatched dimensions",
				slog.String("id", c.ID), slog.Int("dims", len(c.Embedding)), slog.Int("query_dims", len(qvec)))
			continue
		}
		sim := Cosine(qvec, c.Embedding)
		if math.IsNaN(sim) || sim < e.threshold {
			continue
		}
		results = append(results, types.SearchResult{Record: c, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		ca, cb := a.Record.MetadataCompleteness(), b.Record.MetadataCompleteness()
		if ca != cb {
			return ca > cb
		}
		return a.Record.ID < b.Record.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of indexed chunks.
func (e *Engine) Count(ctx context.Context) (int, error) {
	return e.store.Count(ctx)
}

// Cosine returns the cosine similarity of a and b, or 0 when their
// lengths differ or either has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
