// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package selector

import (
	"sort"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// maxTopScores is the number of best scores reported per field.
const maxTopScores = 5

// FieldStats describes how a field's chunk was assembled.
type FieldStats struct {
	Field         types.FieldID `json:"field" yaml:"field"`
	UnitsMatched  int           `json:"units_matched" yaml:"units_matched"`
	UnitsSelected int           `json:"units_selected" yaml:"units_selected"`
	TokensUsed    int           `json:"tokens_used" yaml:"tokens_used"`
	Budget        int           `json:"budget" yaml:"budget"`
	Utilization   float64       `json:"utilization" yaml:"utilization"`
	Overflow      bool          `json:"overflow" yaml:"overflow"`
	TopScores     []int         `json:"top_scores" yaml:"top_scores"`
}

// Analysis summarizes chunking for every field of one document.
type Analysis struct {
	TotalUnits  int          `json:"total_units" yaml:"total_units"`
	TotalTokens int          `json:"total_tokens" yaml:"total_tokens"`
	Fields      []FieldStats `json:"fields" yaml:"fields"`
}

// Analyze splits doc once and reports selection statistics for each spec,
// in the order given.
func (s *Selector) Analyze(doc types.Document, specs []types.FieldSpec) Analysis {
	units := s.Split(doc)
	a := Analysis{TotalUnits: len(units)}
	for _, u := range units {
		a.TotalTokens += u.Tokens
	}

	for _, spec := range specs {
		var scores []int
		for _, su := range s.Score(units, spec) {
			if su.Score > 0 {
				scores = append(scores, su.Score)
			}
		}
		sort.Sort(sort.Reverse(sort.IntSlice(scores)))

		sel := s.Select(units, spec, spec.MaxTokens)
		st := FieldStats{
			Field:         spec.ID,
			UnitsMatched:  len(scores),
			UnitsSelected: len(sel.Units),
			TokensUsed:    sel.EstimatedTokens,
			Budget:        sel.Budget,
			Overflow:      sel.Overflow,
			TopScores:     scores[:min(len(scores), maxTopScores)],
		}
		if sel.Budget > 0 {
			st.Utilization = float64(sel.EstimatedTokens) / float64(sel.Budget)
		}
		a.Fields = append(a.Fields, st)
	}
	return a
}
