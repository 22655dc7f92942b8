// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline routes a document through cheap structural parsing and,
// when the quality scorer says it is not good enough, model extraction.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/pdiddy/protocol-extractor/internal/document"
	"github.com/pdiddy/protocol-extractor/internal/quality"
	"github.com/pdiddy/protocol-extractor/internal/structural"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// Extractor runs model extraction over all nine fields.
type Extractor interface {
	ExtractAll(ctx context.Context, doc types.Document) (*types.ExtractionRecord, error)
}

// Outcome is the result of processing one document.
type Outcome struct {
	// RunID identifies this processing run in logs.
	RunID string
	// Record is the merged record.
	Record *types.ExtractionRecord
	// Initial scores the structural parse.
	Initial types.QualityReport
	// Final scores Record. It equals Initial when no escalation happened.
	Final types.QualityReport
	// Escalated reports whether model extraction ran.
	Escalated bool
}

// Pipeline wires the parser, scorer, and extractor.
type Pipeline struct {
	parser    *structural.Parser
	scorer    *quality.Scorer
	extractor Extractor
	logger    *slog.Logger

	// ForceModel escalates every document regardless of quality.
	ForceModel bool
}

// New returns a Pipeline. A nil extractor disables escalation; a nil
// logger discards output.
func New(parser *structural.Parser, scorer *quality.Scorer, extractor Extractor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{parser: parser, scorer: scorer, extractor: extractor, logger: logger}
}

// Process parses doc, scores it, escalates when needed, merges, and
// re-scores. Detected metadata is overlaid by the caller's metadata.
// Document-level failures return an error and no record.
func (p *Pipeline) Process(ctx context.Context, doc types.Document, metadata map[string]string) (*Outcome, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("processing %s: %w", doc.ID, types.ErrEmptyDocument)
	}

	out := &Outcome{RunID: uuid.NewString()}
	log := p.logger.With(slog.String("run", out.RunID), slog.String("document", doc.ID))

	parsed, err := p.parser.Parse(doc)
	if err != nil {
		return nil, err
	}
	parsed.Metadata = document.DetectMetadata(doc)
	maps.Copy(parsed.Metadata, metadata)

	out.Initial = p.scorer.Score(parsed)
	out.Record = parsed
	out.Final = out.Initial
	log.Info("structural parse scored",
		slog.Float64("confidence", out.Initial.Confidence),
		slog.Float64("completeness", out.Initial.Completeness),
		slog.Bool("needs_model_extraction", out.Initial.NeedsModelExtraction))

	if !out.Initial.NeedsModelExtraction && !p.ForceModel {
		return out, nil
	}
	if p.extractor == nil {
		log.Warn("model extraction needed but no extractor is configured")
		return out, nil
	}

	modeled, err := p.extractor.ExtractAll(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", doc.ID, err)
	}

	if out.Record, err = Merge(parsed, modeled, p.scorer); err != nil {
		return nil, err
	}
	out.Final = p.scorer.Score(out.Record)
	out.Escalated = true
	log.Info("model extraction merged",
		slog.Float64("confidence", out.Final.Confidence),
		slog.Float64("completeness", out.Final.Completeness),
		slog.Int("missing", len(out.Final.Missing)))
	return out, nil
}

// Merge combines a structural record with a model record. The model result
// wins for each field unless it failed or is unfilled while the structural
// result is filled. Metadata comes from the structural record.
func Merge(structuralRec, modelRec *types.ExtractionRecord, scorer *quality.Scorer) (*types.ExtractionRecord, error) {
	merged := modelRec.Clone()
	merged.DocumentID = structuralRec.DocumentID
	merged.Metadata = maps.Clone(structuralRec.Metadata)
	if merged.Metadata == nil {
		merged.Metadata = map[string]string{}
	}

	for _, f := range types.AllFields() {
		m := modelRec.Fields[f]
		s := structuralRec.Fields[f]
		if (m.Failed() || !scorer.Filled(m.Content)) && scorer.Filled(s.Content) {
			s.PageReferences = append([]int{}, s.PageReferences...)
			if err := merged.Set(s); err != nil {
				return nil, fmt.Errorf("merging %s: %w", merged.DocumentID, err)
			}
		}
	}
	return merged, nil
}
