// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

const melanomaStudy = `{
  "protocolSection": {
    "identificationModule": {
      "nctId": "NCT01234567",
      "briefTitle": "Pembrolizumab in Melanoma",
      "officialTitle": "A Phase I/II Study of Pembrolizumab in Advanced Melanoma"
    },
    "statusModule": {"overallStatus": "COMPLETED"},
    "descriptionModule": {"briefSummary": "This study tests pembrolizumab in patients with advanced melanoma."},
    "conditionsModule": {"conditions": ["Melanoma", "Skin Cancer"]},
    "designModule": {
      "studyType": "INTERVENTIONAL",
      "phases": ["PHASE1", "PHASE2"],
      "designInfo": {"allocation": "RANDOMIZED", "interventionModel": "PARALLEL", "primaryPurpose": "TREATMENT"},
      "enrollmentInfo": {"count": 120, "type": "ACTUAL"}
    },
    "armsInterventionsModule": {
      "armGroups": [{
        "label": "Low dose",
        "type": "EXPERIMENTAL",
        "description": "Pembrolizumab 2 MG/KG every 3 weeks",
        "interventionNames": ["Drug: Pembrolizumab"]
      }],
      "interventions": [{
        "type": "DRUG",
        "name": "Pembrolizumab",
        "description": "Humanized antibody",
        "armGroupLabels": ["Low dose"],
        "otherNames": ["MK-3475", "Anti-PD-1 antibody"]
      }]
    },
    "outcomesModule": {
      "primaryOutcomes": [
        {"measure": "Objective response rate", "timeFrame": "12 weeks"},
        {"measure": "Incidence of adverse events", "description": "Graded by CTCAE"}
      ],
      "secondaryOutcomes": [{"measure": "Overall survival"}]
    },
    "eligibilityModule": {
      "eligibilityCriteria": "Inclusion Criteria:\n* Age 18 or older",
      "sex": "ALL",
      "minimumAge": "18 Years",
      "healthyVolunteers": false
    },
    "contactsLocationsModule": {"locations": [
      {"facility": "Mayo Clinic", "city": "Rochester", "country": "United States"},
      {"facility": "UCLA", "city": "Los Angeles", "country": "United States"},
      {"facility": "Charite", "city": "Berlin", "country": "Germany"}
    ]},
    "sponsorCollaboratorsModule": {
      "leadSponsor": {"name": "Merck Sharp & Dohme LLC", "class": "INDUSTRY"},
      "collaborators": [{"name": "National Cancer Institute", "class": "NIH"}]
    }
  },
  "resultsSection": {
    "participantFlowModule": {"groups": [{"title": "Low dose", "description": "Pembrolizumab 2 mg/kg"}]},
    "adverseEventsModule": {"seriousEvents": [{
      "term": "Pneumonitis",
      "organSystem": "Respiratory",
      "stats": [{"numAffected": 3, "numAtRisk": 60}, {"numAffected": 1, "numAtRisk": 60}]
    }]}
  }
}`

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func decodeStudy(t *testing.T, data string) Study {
	t.Helper()
	var s Study
	require.NoError(t, json.Unmarshal([]byte(data), &s))
	return s
}

func TestToRecordFillsAllFields(t *testing.T) {
	rec, err := ToRecord(decodeStudy(t, melanomaStudy), fixedNow)
	require.NoError(t, err)

	assert.Equal(t, "NCT01234567", rec.DocumentID)
	assert.True(t, rec.Complete())
	assert.Equal(t, map[string]string{
		MetaNCTID:        "NCT01234567",
		MetaTitle:        "Pembrolizumab in Melanoma",
		MetaPhase:        "Phase I/II",
		MetaCondition:    "Melanoma; Skin Cancer",
		MetaIntervention: "Pembrolizumab",
		MetaSponsor:      "Merck Sharp & Dohme LLC",
		MetaEnrollment:   "120",
		MetaStatus:       "COMPLETED",
		MetaStudyType:    "INTERVENTIONAL",
	}, rec.Metadata)

	for _, f := range types.AllFields() {
		res := rec.Fields[f]
		assert.NotEmpty(t, res.Content, f)
		assert.Equal(t, types.MethodStructural, res.Method, f)
		assert.Equal(t, fixedNow, res.ExtractedAt, f)
		assert.Empty(t, res.PageReferences, f)
	}

	tests := []struct {
		field types.FieldID
		want  []string
	}{
		{types.FieldStudyOverview, []string{
			"A Phase I/II Study of Pembrolizumab in Advanced Melanoma",
			"Status: COMPLETED",
			"Type: INTERVENTIONAL, Phase I/II",
			"Design: RANDOMIZED, PARALLEL, TREATMENT",
		}},
		{types.FieldBriefDescription, []string{"tests pembrolizumab"}},
		{types.FieldObjectives, []string{
			"Safety:\n- Incidence of adverse events\n  Description: Graded by CTCAE",
			"Efficacy:\n- Objective response rate\n  Time frame: 12 weeks",
			"Secondary objectives:\n1. Overall survival",
		}},
		{types.FieldTreatmentArms, []string{
			"Arm 1: Low dose",
			"Doses: 2 mg/kg",
			"Intervention 1: Pembrolizumab",
			"Mechanism: Anti-PD-1 antibody",
			"Used in arms: Low dose",
		}},
		{types.FieldEligibilityCriteria, []string{
			"* Age 18 or older",
			"Ages: 18 Years to any; Sex: ALL; Healthy volunteers: no",
		}},
		{types.FieldEnrollmentFlow, []string{
			"Enrollment: 120 participants (actual)",
			"- Low dose: Pembrolizumab 2 mg/kg",
		}},
		{types.FieldAdverseEvents, []string{"Respiratory:\n- Pneumonitis (4/120)"}},
		{types.FieldStudyLocations, []string{
			"Study locations (3 sites):",
			"- United States: 2 sites\n  - Mayo Clinic, Rochester\n  - UCLA, Los Angeles",
			"- Germany: 1 sites\n  - Charite, Berlin",
		}},
		{types.FieldSponsorInformation, []string{
			"Lead sponsor: Merck Sharp & Dohme LLC (INDUSTRY)\nCollaborators: National Cancer Institute",
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			for _, want := range tt.want {
				assert.Contains(t, rec.Fields[tt.field].Content, want)
			}
		})
	}
}

func TestToRecordSparseStudy(t *testing.T) {
	s := Study{}
	s.ProtocolSection.Identification.NCTID = "NCT00000001"
	s.ProtocolSection.Identification.BriefTitle = "Observational cohort"
	s.ProtocolSection.Design.Phases = []string{"NA"}

	rec, err := ToRecord(s, fixedNow)
	require.NoError(t, err)

	assert.True(t, rec.Complete(), "unfilled fields stay present")
	assert.Equal(t, "Observational cohort", rec.Fields[types.FieldStudyOverview].Content)
	assert.Empty(t, rec.Fields[types.FieldAdverseEvents].Content)
	assert.Equal(t, types.MethodNone, rec.Fields[types.FieldAdverseEvents].Method)
	assert.NotContains(t, rec.Metadata, MetaPhase)
	assert.NotContains(t, rec.Metadata, MetaEnrollment)
}

func TestToRecordMissingID(t *testing.T) {
	_, err := ToRecord(Study{}, fixedNow)
	require.Error(t, err)
}

func TestToRecordTruncatesLongLists(t *testing.T) {
	s := Study{}
	s.ProtocolSection.Identification.NCTID = "NCT00000002"
	for i := range 12 {
		s.ProtocolSection.Outcomes.Secondary = append(s.ProtocolSection.Outcomes.Secondary,
			outcome{Measure: fmt.Sprintf("Secondary measure %d", i+1)})
	}
	for i := range 7 {
		s.ResultsSection.AdverseEvents.OtherEvents = append(s.ResultsSection.AdverseEvents.OtherEvents,
			adverseEvent{Term: fmt.Sprintf("Event %d", i+1), OrganSystem: "Gastrointestinal"})
	}

	rec, err := ToRecord(s, fixedNow)
	require.NoError(t, err)

	objectives := rec.Fields[types.FieldObjectives].Content
	assert.Contains(t, objectives, "10. Secondary measure 10")
	assert.NotContains(t, objectives, "Secondary measure 11")
	assert.Contains(t, objectives, "... and 2 additional secondary outcomes")

	events := rec.Fields[types.FieldAdverseEvents].Content
	assert.Contains(t, events, "Other adverse events by system:")
	assert.Contains(t, events, "- Event 5 (0/0)")
	assert.NotContains(t, events, "Event 6")
	assert.Contains(t, events, "- ... and 2 more")
}

func TestPhaseLabel(t *testing.T) {
	tests := []struct {
		phases []string
		want   string
	}{
		{nil, ""},
		{[]string{"NA"}, ""},
		{[]string{"PHASE3"}, "Phase III"},
		{[]string{"PHASE2", "PHASE3"}, "Phase II/III"},
		{[]string{"phase4"}, "Phase IV"},
		{[]string{"EARLY_PHASE1"}, "Early Phase I"},
		{[]string{"EARLY_PHASE1", "PHASE1"}, "Phase I"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PhaseLabel(tt.phases), "%v", tt.phases)
	}
}

func TestFindDoses(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"no dosing here", nil},
		{"200 mg every 3 weeks", []string{"200 mg"}},
		{"1.5 mg/m2 on day 1 then 10 MCG daily", []string{"1.5 mg/m2", "10 mcg"}},
		{"5000 units of heparin", []string{"5000 units"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, findDoses(tt.text), tt.text)
	}
}
