// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"strconv"
	"time"
)

// VectorRecord is one indexed field chunk. Records are never updated in
// place; a changed chunk is deleted and reinserted.
type VectorRecord struct {
	// ID is the content hash of (document, field, text, metadata).
	ID string `json:"id" yaml:"id"`

	// DocumentID identifies the source document.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// Field is the field the chunk was taken from.
	Field FieldID `json:"field" yaml:"field"`

	// Text is the chunk content.
	Text string `json:"text" yaml:"text"`

	// Embedding is the chunk's embedding vector.
	Embedding []float32 `json:"-" yaml:"-"`

	// Metadata is the shared study metadata of the source document.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// PageReferences are the field-specific source pages.
	PageReferences []int `json:"page_references,omitempty" yaml:"page_references,omitempty"`

	// CreatedAt is the ingestion time.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// MetadataCompleteness counts non-empty metadata values. Search uses it to
// break similarity ties.
func (r VectorRecord) MetadataCompleteness() int {
	n := 0
	for _, v := range r.Metadata {
		if v != "" {
			n++
		}
	}
	return n
}

// NumericRange bounds a numeric metadata value. A nil bound is open.
type NumericRange struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Contains reports whether the metadata value s parses as a number inside
// the range. Non-numeric values never match.
func (r NumericRange) Contains(s string) bool {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Filter restricts the candidate set of a similarity search. All clauses
// must hold for a record to be considered.
type Filter struct {
	// Equals requires metadata[key] == value.
	Equals map[string]string `json:"equals,omitempty" yaml:"equals,omitempty"`

	// OneOf requires metadata[key] to be one of the listed values.
	OneOf map[string][]string `json:"one_of,omitempty" yaml:"one_of,omitempty"`

	// Ranges requires metadata[key] to parse as a number inside the range.
	Ranges map[string]NumericRange `json:"ranges,omitempty" yaml:"ranges,omitempty"`

	// Fields restricts results to chunks from the listed fields.
	Fields []FieldID `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Match reports whether metadata satisfies every clause of f except Fields.
func (f Filter) Match(metadata map[string]string) bool {
	for k, want := range f.Equals {
		if v, ok := metadata[k]; !ok || v != want {
			return false
		}
	}
	for k, set := range f.OneOf {
		v, ok := metadata[k]
		if !ok {
			return false
		}
		found := false
		for _, s := range set {
			if s == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, r := range f.Ranges {
		if !r.Contains(metadata[k]) {
			return false
		}
	}
	return true
}

// SearchResult pairs a record with its cosine similarity to the query.
type SearchResult struct {
	Record     VectorRecord `json:"record" yaml:"record"`
	Similarity float64      `json:"similarity" yaml:"similarity"`
}
