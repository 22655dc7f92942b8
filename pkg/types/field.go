// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the protocol-extractor
// pipeline: the fixed field schema, documents and their page maps,
// extraction records, quality reports, vector records, and configuration.
package types

import "fmt"

// FieldID identifies one of the nine structured-output categories of a
// clinical trial record.
type FieldID string

const (
	FieldStudyOverview       FieldID = "study_overview"
	FieldBriefDescription    FieldID = "brief_description"
	FieldObjectives          FieldID = "primary_secondary_objectives"
	FieldTreatmentArms       FieldID = "treatment_arms_interventions"
	FieldEligibilityCriteria FieldID = "eligibility_criteria"
	FieldEnrollmentFlow      FieldID = "enrollment_participant_flow"
	FieldAdverseEvents       FieldID = "adverse_events_profile"
	FieldStudyLocations      FieldID = "study_locations"
	FieldSponsorInformation  FieldID = "sponsor_information"
)

// AllFields returns the nine field identifiers in canonical order.
func AllFields() []FieldID {
	return []FieldID{
		FieldStudyOverview,
		FieldBriefDescription,
		FieldObjectives,
		FieldTreatmentArms,
		FieldEligibilityCriteria,
		FieldEnrollmentFlow,
		FieldAdverseEvents,
		FieldStudyLocations,
		FieldSponsorInformation,
	}
}

// FieldCount is the number of fields in every ExtractionRecord.
const FieldCount = 9

// Valid reports whether f is one of the nine known fields.
func (f FieldID) Valid() bool {
	for _, known := range AllFields() {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFieldID converts s to a FieldID, rejecting unknown names.
func ParseFieldID(s string) (FieldID, error) {
	f := FieldID(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return f, nil
}

// FieldSpec is the static selection and instruction configuration for one field.
type FieldSpec struct {
	// ID is the field this spec configures.
	ID FieldID `json:"id" yaml:"id"`

	// Keywords are matched case-insensitively against text units.
	Keywords []string `json:"keywords" yaml:"keywords"`

	// Weights optionally overrides the weight of individual keywords.
	// Keywords without an entry weigh 1.
	Weights map[string]int `json:"weights,omitempty" yaml:"weights,omitempty"`

	// MaxTokens is the token budget for the field's chunk.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Priority orders fields for processing and reporting (1 first).
	// It never influences chunk selection.
	Priority int `json:"priority" yaml:"priority"`

	// Description tells the model what belongs in the field.
	Description string `json:"description" yaml:"description"`
}

// Weight returns the weight of keyword, defaulting to 1.
func (s FieldSpec) Weight(keyword string) int {
	if w, ok := s.Weights[keyword]; ok {
		return w
	}
	return 1
}

// DefaultFieldSpecs returns a fresh copy of the default configuration for
// all nine fields, in canonical order.
func DefaultFieldSpecs() []FieldSpec {
	return []FieldSpec{
		{
			ID:          FieldStudyOverview,
			Keywords:    []string{"protocol", "study design", "overview", "summary", "background", "rationale"},
			MaxTokens:   40000,
			Priority:    1,
			Description: "Study title, NCT ID, protocol number, phase, study type (randomized/non-randomized, controlled/uncontrolled, blinded/open-label), disease/condition, and study duration",
		},
		{
			ID:          FieldBriefDescription,
			Keywords:    []string{"description", "purpose", "aims", "goals"},
			MaxTokens:   30000,
			Priority:    2,
			Description: "Concise 2-3 sentence summary of the study purpose, rationale, and overall design",
		},
		{
			ID:          FieldObjectives,
			Keywords:    []string{"primary objective", "secondary objective", "primary endpoint", "secondary endpoint", "primary outcome", "secondary outcome", "aim"},
			MaxTokens:   35000,
			Priority:    1,
			Description: "PRIMARY objectives (clearly labeled) with full definitions and timeframes, followed by SECONDARY objectives (clearly labeled) with their definitions and timeframes",
		},
		{
			ID:          FieldTreatmentArms,
			Keywords:    []string{"treatment", "intervention", "arm", "group", "therapy", "dose", "regimen"},
			MaxTokens:   40000,
			Priority:    1,
			Description: "All treatment arms with arm names, interventions/drugs for each arm, exact dosing schedules, routes of administration, treatment duration, and any comparator or combination therapy details",
		},
		{
			ID:          FieldEligibilityCriteria,
			Keywords:    []string{"eligibility", "inclusion", "exclusion", "criteria", "participant"},
			MaxTokens:   35000,
			Priority:    2,
			Description: "Complete inclusion criteria (required characteristics for enrollment) and exclusion criteria (disqualifying factors) for study participants",
		},
		{
			ID:          FieldEnrollmentFlow,
			Keywords:    []string{"enrollment", "randomization", "participant flow", "screening", "allocation"},
			MaxTokens:   35000,
			Priority:    2,
			Description: "Target sample size, actual enrollment numbers, randomization methodology, screening process, participant allocation, and flow through study phases",
		},
		{
			ID:          FieldAdverseEvents,
			Keywords:    []string{"adverse event", "safety", "toxicity", "side effect", "AE", "SAE"},
			MaxTokens:   50000,
			Priority:    1,
			Description: "Reported adverse events with frequencies/percentages, serious adverse events (SAEs), toxicity grades, and overall safety profile data",
		},
		{
			ID:          FieldStudyLocations,
			Keywords:    []string{"site", "location", "center", "institution", "investigator"},
			MaxTokens:   25000,
			Priority:    3,
			Description: "All study sites, countries, institutions, and names of principal investigators or site coordinators",
		},
		{
			ID:          FieldSponsorInformation,
			Keywords:    []string{"sponsor", "funding", "organization", "contact", "investigator"},
			MaxTokens:   20000,
			Priority:    3,
			Description: "Primary sponsor organization, collaborating institutions, funding sources, and contact information",
		},
	}
}

// ValidateFieldSpecs checks that specs covers each of the nine fields exactly
// once with a positive token budget.
func ValidateFieldSpecs(specs []FieldSpec) error {
	seen := make(map[FieldID]bool, len(specs))
	for _, s := range specs {
		if !s.ID.Valid() {
			return fmt.Errorf("unknown field %q", s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("field %q configured twice", s.ID)
		}
		if s.MaxTokens <= 0 {
			return fmt.Errorf("field %q: max_tokens must be positive", s.ID)
		}
		seen[s.ID] = true
	}
	if len(seen) != FieldCount {
		return fmt.Errorf("expected %d fields, got %d", FieldCount, len(seen))
	}
	return nil
}
