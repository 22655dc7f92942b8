// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// ExtractionMethod tags how a FieldResult was produced.
type ExtractionMethod string

const (
	MethodNone       ExtractionMethod = ""
	MethodStructural ExtractionMethod = "structural-parse"
	MethodModel      ExtractionMethod = "model-extraction"
)

// FieldResult is the extracted content of one field.
type FieldResult struct {
	// Field is the field identifier. It never changes across refinements.
	Field FieldID `json:"field" yaml:"field"`

	// Content is the extracted text. Unfilled fields hold "".
	Content string `json:"content" yaml:"content"`

	// PageReferences is the deduplicated ascending set of source pages.
	PageReferences []int `json:"page_references" yaml:"page_references"`

	// Method records which extraction path produced the content.
	Method ExtractionMethod `json:"method,omitempty" yaml:"method,omitempty"`

	// ExtractedAt is when the content was produced.
	ExtractedAt time.Time `json:"extracted_at,omitzero" yaml:"extracted_at,omitempty"`

	// Error is set when extraction failed permanently for this field.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Attempts is the number of backend calls made for this result.
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// Failed reports whether the result carries an error tag.
func (r FieldResult) Failed() bool { return r.Error != "" }

// ExtractionRecord holds all nine field results for one document. Use
// NewExtractionRecord to construct one; the zero value has no fields.
type ExtractionRecord struct {
	// DocumentID identifies the source document.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// Metadata carries study-level attributes (nct_id, phase, sponsor, ...)
	// shared by every field when indexed.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Fields maps each of the nine field ids to its result.
	Fields map[FieldID]FieldResult `json:"fields" yaml:"fields"`
}

// NewExtractionRecord returns a record with all nine fields present and empty.
func NewExtractionRecord(documentID string) *ExtractionRecord {
	rec := &ExtractionRecord{
		DocumentID: documentID,
		Metadata:   map[string]string{},
		Fields:     make(map[FieldID]FieldResult, FieldCount),
	}
	for _, f := range AllFields() {
		rec.Fields[f] = FieldResult{Field: f, PageReferences: []int{}}
	}
	return rec
}

// Set stores res under its field id. Unknown field ids are rejected.
func (r *ExtractionRecord) Set(res FieldResult) error {
	if !res.Field.Valid() {
		return fmt.Errorf("set field: unknown field %q", res.Field)
	}
	res.PageReferences = NormalizePages(res.PageReferences)
	if r.Fields == nil {
		r.Fields = make(map[FieldID]FieldResult, FieldCount)
	}
	r.Fields[res.Field] = res
	return nil
}

// Get returns the result for f and whether it is present.
func (r *ExtractionRecord) Get(f FieldID) (FieldResult, bool) {
	res, ok := r.Fields[f]
	return res, ok
}

// Contents returns a field to content map, the input shape of
// quality.Scorer.ScoreFields.
func (r *ExtractionRecord) Contents() map[FieldID]string {
	out := make(map[FieldID]string, len(r.Fields))
	for id, res := range r.Fields {
		out[id] = res.Content
	}
	return out
}

// Complete reports whether the record holds exactly the nine known fields.
func (r *ExtractionRecord) Complete() bool {
	if len(r.Fields) != FieldCount {
		return false
	}
	for _, f := range AllFields() {
		if _, ok := r.Fields[f]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of r.
func (r *ExtractionRecord) Clone() *ExtractionRecord {
	out := &ExtractionRecord{
		DocumentID: r.DocumentID,
		Metadata:   make(map[string]string, len(r.Metadata)),
		Fields:     make(map[FieldID]FieldResult, len(r.Fields)),
	}
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}
	for id, res := range r.Fields {
		res.PageReferences = append([]int{}, res.PageReferences...)
		out.Fields[id] = res
	}
	return out
}

// QualityReport summarizes how good an ExtractionRecord is and whether it
// must be escalated to model extraction. It is derived, never stored as
// authoritative state.
type QualityReport struct {
	// Confidence is the mean per-field confidence over filled fields (0.0-1.0).
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Completeness is the fraction of the nine fields that are filled (0.0-1.0).
	Completeness float64 `json:"completeness" yaml:"completeness"`

	// Missing lists unfilled fields in canonical order.
	Missing []FieldID `json:"missing" yaml:"missing"`

	// NeedsModelExtraction is the routing decision.
	NeedsModelExtraction bool `json:"needs_model_extraction" yaml:"needs_model_extraction"`

	// FieldConfidence breaks confidence down per field.
	FieldConfidence map[FieldID]float64 `json:"field_confidence" yaml:"field_confidence"`
}
