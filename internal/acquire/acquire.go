// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package acquire downloads ClinicalTrials.gov registry studies and stores
// them as extraction records ready for scoring and indexing.
package acquire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pdiddy/protocol-extractor/internal/quality"
	"github.com/pdiddy/protocol-extractor/internal/records"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// BatchResult holds the outcome of an acquisition run.
type BatchResult struct {
	Written int
	Skipped int
	Sparse  int
	Failed  int
	Paths   []string
}

// Total returns the number of studies processed.
func (r BatchResult) Total() int {
	return r.Written + r.Skipped + r.Sparse + r.Failed
}

// HasFailures reports whether any study failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// Acquirer writes registry studies to RecordsDir.
type Acquirer struct {
	Registry   *Registry
	Scorer     *quality.Scorer
	RecordsDir string

	// MinCompleteness drops converted records below this completeness.
	MinCompleteness float64

	// Force overwrites records that already exist.
	Force bool

	Logger *slog.Logger

	now func() time.Time
}

// NewAcquirer builds an Acquirer from the pipeline configuration.
func NewAcquirer(cfg types.PipelineConfig, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Acquirer{
		Registry:        NewRegistry(cfg.Acquisition, logger),
		Scorer:          quality.New(cfg.Quality),
		RecordsDir:      cfg.Extraction.RecordsDir,
		MinCompleteness: cfg.Acquisition.MinCompleteness,
		Logger:          logger,
	}
}

// AcquireIDs fetches each identifier and writes its record, printing
// per-item status and a summary to w. Failures are counted and the batch
// continues; a cancelled context stops it.
func (a *Acquirer) AcquireIDs(ctx context.Context, ids []string, w io.Writer) (BatchResult, error) {
	var result BatchResult
	for _, raw := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		id, err := NormalizeNCTID(raw)
		if err != nil {
			fmt.Fprintf(w, "failed:  %s (%v)\n", raw, err)
			result.Failed++
			continue
		}
		if a.exists(id) {
			fmt.Fprintf(w, "skipped: %s (already exists)\n", id)
			result.Skipped++
			continue
		}
		study, err := a.Registry.Fetch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			fmt.Fprintf(w, "failed:  %s (%v)\n", id, err)
			result.Failed++
			continue
		}
		a.store(study, &result, w)
	}
	a.summary(w, result)
	return result, nil
}

// AcquireSearch runs q against the registry and writes a record for every
// study found.
func (a *Acquirer) AcquireSearch(ctx context.Context, q SearchQuery, w io.Writer) (BatchResult, error) {
	studies, err := a.Registry.Search(ctx, q)
	if err != nil {
		return BatchResult{}, fmt.Errorf("searching registry: %w", err)
	}
	fmt.Fprintf(w, "found %d studies\n", len(studies))

	var result BatchResult
	for _, s := range studies {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if a.exists(s.NCTID()) {
			fmt.Fprintf(w, "skipped: %s (already exists)\n", s.NCTID())
			result.Skipped++
			continue
		}
		a.store(s, &result, w)
	}
	a.summary(w, result)
	return result, nil
}

func (a *Acquirer) store(s Study, result *BatchResult, w io.Writer) {
	id := s.NCTID()
	rec, err := ToRecord(s, a.clock())
	if err != nil {
		fmt.Fprintf(w, "failed:  %s (%v)\n", id, err)
		result.Failed++
		return
	}

	report := a.scorer().ScoreFields(rec.Contents())
	if report.Completeness < a.MinCompleteness {
		fmt.Fprintf(w, "sparse:  %s (completeness %.2f)\n", id, report.Completeness)
		result.Sparse++
		return
	}

	path, err := records.Save(a.RecordsDir, rec)
	if err != nil {
		fmt.Fprintf(w, "failed:  %s (%v)\n", id, err)
		result.Failed++
		return
	}
	a.logger().Info("study acquired",
		slog.String("nct_id", id),
		slog.Float64("completeness", report.Completeness),
		slog.String("path", path))
	fmt.Fprintf(w, "wrote:   %s (completeness %.2f)\n", id, report.Completeness)
	result.Written++
	result.Paths = append(result.Paths, path)
}

func (a *Acquirer) summary(w io.Writer, r BatchResult) {
	fmt.Fprintf(w, "\nBatch summary: %d written, %d skipped, %d sparse, %d failed (total: %d)\n",
		r.Written, r.Skipped, r.Sparse, r.Failed, r.Total())
}

func (a *Acquirer) exists(id string) bool {
	if a.Force {
		return false
	}
	_, err := os.Stat(records.Path(a.RecordsDir, id))
	return err == nil
}

func (a *Acquirer) scorer() *quality.Scorer {
	if a.Scorer == nil {
		a.Scorer = quality.New(types.DefaultQualityConfig())
	}
	return a.Scorer
}

func (a *Acquirer) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.Logger
}

func (a *Acquirer) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now().UTC()
}
