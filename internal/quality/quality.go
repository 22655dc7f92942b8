// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package quality scores an extraction record and decides whether it must
// be escalated to model extraction. Scoring is pure: the same record always
// yields the same report.
package quality

import (
	"regexp"
	"strings"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// Reliability of each extraction method. Content of unknown origin sits
// between the two.
const (
	reliabilityModel      = 1.0
	reliabilityStructural = 0.6
	reliabilityUnknown    = 0.5
)

var (
	numericPattern = regexp.MustCompile(`\d`)
	listPattern    = regexp.MustCompile(`(?m)^\s*([-*•]|\d+[.)]|[a-z][.)])\s+`)
)

// Scorer computes QualityReports from a fixed configuration.
type Scorer struct {
	cfg          types.QualityConfig
	placeholders map[string]bool
}

// New returns a Scorer for cfg. The configuration is copied.
func New(cfg types.QualityConfig) *Scorer {
	ph := make(map[string]bool, len(cfg.Placeholders))
	for _, p := range cfg.Placeholders {
		ph[strings.ToLower(strings.TrimSpace(p))] = true
	}
	ph[""] = true
	cfg.Placeholders = append([]string(nil), cfg.Placeholders...)
	return &Scorer{cfg: cfg, placeholders: ph}
}

// Filled reports whether content counts toward completeness: its trimmed
// length exceeds the minimum and it is not a placeholder.
func (s *Scorer) Filled(content string) bool {
	t := strings.TrimSpace(content)
	if len(t) <= s.cfg.MinContentLength {
		return false
	}
	return !s.placeholders[strings.ToLower(t)]
}

// Score builds the report for rec. Fields absent from rec count as missing.
func (s *Scorer) Score(rec *types.ExtractionRecord) types.QualityReport {
	results := make(map[types.FieldID]types.FieldResult, types.FieldCount)
	if rec != nil {
		for id, r := range rec.Fields {
			results[id] = r
		}
	}
	return s.score(results)
}

// ScoreFields builds the report for a partial field to content map whose
// extraction method and provenance are unknown.
func (s *Scorer) ScoreFields(fields map[types.FieldID]string) types.QualityReport {
	results := make(map[types.FieldID]types.FieldResult, len(fields))
	for id, c := range fields {
		results[id] = types.FieldResult{Field: id, Content: c}
	}
	return s.score(results)
}

func (s *Scorer) score(results map[types.FieldID]types.FieldResult) types.QualityReport {
	report := types.QualityReport{
		Missing:         []types.FieldID{},
		FieldConfidence: make(map[types.FieldID]float64, types.FieldCount),
	}

	filled := 0
	var total float64
	for _, id := range types.AllFields() {
		r, ok := results[id]
		if !ok || !s.Filled(r.Content) {
			report.Missing = append(report.Missing, id)
			report.FieldConfidence[id] = 0
			continue
		}
		c := s.FieldConfidence(r)
		report.FieldConfidence[id] = c
		total += c
		filled++
	}

	if filled > 0 {
		report.Confidence = total / float64(filled)
	}
	report.Completeness = float64(filled) / float64(types.FieldCount)
	report.NeedsModelExtraction = s.NeedsModelExtraction(report.Confidence, report.Completeness)
	return report
}

// NeedsModelExtraction is the routing rule: escalate when either signal is
// below its threshold.
func (s *Scorer) NeedsModelExtraction(confidence, completeness float64) bool {
	return confidence < s.cfg.ConfidenceThreshold || completeness < s.cfg.CompletenessThreshold
}

// FieldConfidence scores one field result in [0, 1].
func (s *Scorer) FieldConfidence(r types.FieldResult) float64 {
	weights := s.cfg.MethodWeight + s.cfg.RichnessWeight + s.cfg.StructureWeight + s.cfg.ProvenanceWeight
	if weights <= 0 {
		return 0
	}

	v := s.cfg.MethodWeight*methodReliability(r.Method) +
		s.cfg.RichnessWeight*s.richness(r.Content) +
		s.cfg.StructureWeight*structure(r.Content)
	if len(r.PageReferences) > 0 {
		v += s.cfg.ProvenanceWeight
	}
	return clamp(v / weights)
}

func methodReliability(m types.ExtractionMethod) float64 {
	switch m {
	case types.MethodModel:
		return reliabilityModel
	case types.MethodStructural:
		return reliabilityStructural
	default:
		return reliabilityUnknown
	}
}

// richness maps word count onto [0, 1], saturating at the ceiling.
func (s *Scorer) richness(content string) float64 {
	words := len(strings.Fields(content))
	floor, ceiling := s.cfg.RichnessFloor, s.cfg.RichnessCeiling
	switch {
	case words <= floor:
		return 0
	case words >= ceiling || ceiling <= floor:
		return 1
	}
	return float64(words-floor) / float64(ceiling-floor)
}

// structure rewards numeric data and list markers, half each.
func structure(content string) float64 {
	var v float64
	if numericPattern.MatchString(content) {
		v += 0.5
	}
	if listPattern.MatchString(content) {
		v += 0.5
	}
	return v
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
