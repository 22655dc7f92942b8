// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// Metadata keys written for registry studies, shared with the
// filters accepted by the vector index.
const (
	MetaNCTID        = "nct_id"
	MetaTitle        = "title"
	MetaPhase        = "phase"
	MetaCondition    = "condition"
	MetaIntervention = "intervention"
	MetaSponsor      = "sponsor"
	MetaEnrollment   = "enrollment_count"
	MetaStatus       = "status"
	MetaStudyType    = "study_type"
)

// Limits on list sections rendered into field content.
const (
	maxSecondaryOutcomes = 10
	maxEventsPerSystem   = 5
	maxSitesPerCountry   = 3
)

// Study is the subset of a ClinicalTrials.gov v2 study record that maps
// onto the nine fields.
type Study struct {
	ProtocolSection protocolSection `json:"protocolSection"`
	ResultsSection  resultsSection  `json:"resultsSection"`
}

// NCTID returns the study's registry identifier.
func (s Study) NCTID() string {
	return s.ProtocolSection.Identification.NCTID
}

type protocolSection struct {
	Identification struct {
		NCTID         string `json:"nctId"`
		BriefTitle    string `json:"briefTitle"`
		OfficialTitle string `json:"officialTitle"`
	} `json:"identificationModule"`

	Status struct {
		OverallStatus string `json:"overallStatus"`
	} `json:"statusModule"`

	Description struct {
		BriefSummary        string `json:"briefSummary"`
		DetailedDescription string `json:"detailedDescription"`
	} `json:"descriptionModule"`

	Conditions struct {
		Conditions []string `json:"conditions"`
	} `json:"conditionsModule"`

	Design struct {
		StudyType  string   `json:"studyType"`
		Phases     []string `json:"phases"`
		DesignInfo struct {
			Allocation        string `json:"allocation"`
			InterventionModel string `json:"interventionModel"`
			PrimaryPurpose    string `json:"primaryPurpose"`
		} `json:"designInfo"`
		EnrollmentInfo struct {
			Count int    `json:"count"`
			Type  string `json:"type"`
		} `json:"enrollmentInfo"`
	} `json:"designModule"`

	ArmsInterventions struct {
		ArmGroups []struct {
			Label             string   `json:"label"`
			Type              string   `json:"type"`
			Description       string   `json:"description"`
			InterventionNames []string `json:"interventionNames"`
		} `json:"armGroups"`
		Interventions []struct {
			Type           string   `json:"type"`
			Name           string   `json:"name"`
			Description    string   `json:"description"`
			ArmGroupLabels []string `json:"armGroupLabels"`
			OtherNames     []string `json:"otherNames"`
		} `json:"interventions"`
	} `json:"armsInterventionsModule"`

	Outcomes struct {
		Primary   []outcome `json:"primaryOutcomes"`
		Secondary []outcome `json:"secondaryOutcomes"`
	} `json:"outcomesModule"`

	Eligibility struct {
		Criteria          string `json:"eligibilityCriteria"`
		HealthyVolunteers bool   `json:"healthyVolunteers"`
		Sex               string `json:"sex"`
		MinimumAge        string `json:"minimumAge"`
		MaximumAge        string `json:"maximumAge"`
	} `json:"eligibilityModule"`

	Contacts struct {
		Locations []struct {
			Facility string `json:"facility"`
			City     string `json:"city"`
			Country  string `json:"country"`
		} `json:"locations"`
	} `json:"contactsLocationsModule"`

	Sponsors struct {
		LeadSponsor   party   `json:"leadSponsor"`
		Collaborators []party `json:"collaborators"`
	} `json:"sponsorCollaboratorsModule"`
}

type outcome struct {
	Measure     string `json:"measure"`
	Description string `json:"description"`
	TimeFrame   string `json:"timeFrame"`
}

type party struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

type resultsSection struct {
	ParticipantFlow struct {
		Groups []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"groups"`
	} `json:"participantFlowModule"`

	AdverseEvents struct {
		SeriousEvents []adverseEvent `json:"seriousEvents"`
		OtherEvents   []adverseEvent `json:"otherEvents"`
	} `json:"adverseEventsModule"`
}

type adverseEvent struct {
	Term        string `json:"term"`
	OrganSystem string `json:"organSystem"`
	Stats       []struct {
		NumAffected int `json:"numAffected"`
		NumAtRisk   int `json:"numAtRisk"`
	} `json:"stats"`
}

// ToRecord converts s into an ExtractionRecord. Fields the registry
// leaves empty stay empty; filled fields are tagged structural-parse
// since no model is involved.
func ToRecord(s Study, now time.Time) (*types.ExtractionRecord, error) {
	id := s.NCTID()
	if id == "" {
		return nil, errors.New("converting study: missing NCT identifier")
	}
	p := s.ProtocolSection

	rec := types.NewExtractionRecord(id)
	rec.Metadata = studyMetadata(s)

	contents := map[types.FieldID]string{
		types.FieldStudyOverview:       overview(p),
		types.FieldBriefDescription:    firstNonEmpty(p.Description.BriefSummary, p.Description.DetailedDescription),
		types.FieldObjectives:          objectives(p),
		types.FieldTreatmentArms:       treatmentArms(p),
		types.FieldEligibilityCriteria: eligibility(p),
		types.FieldEnrollmentFlow:      enrollment(s),
		types.FieldAdverseEvents:       adverseEvents(s.ResultsSection),
		types.FieldStudyLocations:      locations(p),
		types.FieldSponsorInformation:  sponsor(p),
	}
	for field, content := range contents {
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		if err := rec.Set(types.FieldResult{
			Field:       field,
			Content:     content,
			Method:      types.MethodStructural,
			ExtractedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("converting %s: %w", id, err)
		}
	}
	return rec, nil
}

func studyMetadata(s Study) map[string]string {
	p := s.ProtocolSection
	meta := map[string]string{MetaNCTID: s.NCTID()}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	set(MetaTitle, p.Identification.BriefTitle)
	set(MetaPhase, PhaseLabel(p.Design.Phases))
	set(MetaCondition, strings.Join(p.Conditions.Conditions, "; "))
	set(MetaSponsor, p.Sponsors.LeadSponsor.Name)
	set(MetaStatus, p.Status.OverallStatus)
	set(MetaStudyType, p.Design.StudyType)

	var names []string
	for _, in := range p.ArmsInterventions.Interventions {
		if in.Name != "" {
			names = append(names, in.Name)
		}
	}
	set(MetaIntervention, strings.Join(names, "; "))

	if n := p.Design.EnrollmentInfo.Count; n > 0 {
		meta[MetaEnrollment] = strconv.Itoa(n)
	}
	return meta
}

var phaseNumerals = map[string]string{
	"PHASE1": "I", "PHASE2": "II", "PHASE3": "III", "PHASE4": "IV",
}

// PhaseLabel renders registry phase codes in the "Phase II" form detected
// from protocol text. PHASE1+PHASE2 becomes "Phase I/II"; NA yields "".
func PhaseLabel(phases []string) string {
	var numerals []string
	early := false
	for _, ph := range phases {
		switch ph = strings.ToUpper(ph); {
		case ph == "EARLY_PHASE1":
			early = true
		case phaseNumerals[ph] != "":
			numerals = append(numerals, phaseNumerals[ph])
		}
	}
	switch {
	case len(numerals) > 0:
		return "Phase " + strings.Join(numerals, "/")
	case early:
		return "Early Phase I"
	default:
		return ""
	}
}

func overview(p protocolSection) string {
	title := firstNonEmpty(p.Identification.OfficialTitle, p.Identification.BriefTitle)
	if title == "" {
		return ""
	}
	lines := []string{title}
	if p.Status.OverallStatus != "" {
		lines = append(lines, "Status: "+p.Status.OverallStatus)
	}
	typ := p.Design.StudyType
	if phase := PhaseLabel(p.Design.Phases); phase != "" {
		typ = joinNonEmpty(", ", typ, phase)
	}
	if typ != "" {
		lines = append(lines, "Type: "+typ)
	}
	d := p.Design.DesignInfo
	if design := joinNonEmpty(", ", d.Allocation, d.InterventionModel, d.PrimaryPurpose); design != "" {
		lines = append(lines, "Design: "+design)
	}
	return strings.Join(lines, "\n")
}

// outcomeGroups classifies primary outcomes by the first matching
// keyword set; unmatched measures count as efficacy.
var outcomeGroups = []struct {
	title    string
	keywords []string
}{
	{"Safety", []string{"safety", "adverse", "toxicity", "mtd", "dose"}},
	{"Efficacy", []string{"response", "efficacy", "survival", "progression"}},
	{"Pharmacokinetic", []string{"pharmacokinetic", "concentration", "clearance"}},
}

func objectives(p protocolSection) string {
	var b strings.Builder
	if len(p.Outcomes.Primary) > 0 {
		grouped := make([][]outcome, len(outcomeGroups))
		for _, o := range p.Outcomes.Primary {
			g := outcomeGroup(o.Measure)
			grouped[g] = append(grouped[g], o)
		}
		b.WriteString("Primary objectives:\n")
		for i, g := range outcomeGroups {
			if len(grouped[i]) == 0 {
				continue
			}
			fmt.Fprintf(&b, "%s:\n", g.title)
			for _, o := range grouped[i] {
				writeOutcome(&b, "- ", o)
			}
		}
	}
	if sec := p.Outcomes.Secondary; len(sec) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Secondary objectives:\n")
		for i, o := range sec[:min(len(sec), maxSecondaryOutcomes)] {
			writeOutcome(&b, fmt.Sprintf("%d. ", i+1), o)
		}
		if extra := len(sec) - maxSecondaryOutcomes; extra > 0 {
			fmt.Fprintf(&b, "... and %d additional secondary outcomes\n", extra)
		}
	}
	return b.String()
}

func outcomeGroup(measure string) int {
	lower := strings.ToLower(measure)
	for i, g := range outcomeGroups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return i
			}
		}
	}
	return 1
}

func writeOutcome(b *strings.Builder, bullet string, o outcome) {
	b.WriteString(bullet + o.Measure + "\n")
	if o.Description != "" {
		fmt.Fprintf(b, "  Description: %s\n", o.Description)
	}
	if o.TimeFrame != "" {
		fmt.Fprintf(b, "  Time frame: %s\n", o.TimeFrame)
	}
}

// dosePattern finds doses in arm descriptions; longer units first.
var dosePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mg/kg|mg/m2|mcg|mg|units)\b`)

// mechanismMarkers identify an intervention's other name as a drug class.
var mechanismMarkers = []string{"ANTI-", "INHIBITOR", "AGONIST", "ANTAGONIST"}

func treatmentArms(p protocolSection) string {
	var b strings.Builder
	for i, ag := range p.ArmsInterventions.ArmGroups {
		label := firstNonEmpty(ag.Label, fmt.Sprintf("Arm %d", i+1))
		fmt.Fprintf(&b, "Arm %d: %s\n", i+1, label)
		if ag.Type != "" {
			fmt.Fprintf(&b, "  Type: %s\n", ag.Type)
		}
		if ag.Description != "" {
			fmt.Fprintf(&b, "  Description: %s\n", ag.Description)
			if doses := findDoses(ag.Description); len(doses) > 0 {
				fmt.Fprintf(&b, "  Doses: %s\n", strings.Join(doses, ", "))
			}
		}
		if len(ag.InterventionNames) > 0 {
			fmt.Fprintf(&b, "  Interventions: %s\n", strings.Join(ag.InterventionNames, ", "))
		}
		b.WriteString("\n")
	}
	for i, in := range p.ArmsInterventions.Interventions {
		fmt.Fprintf(&b, "Intervention %d: %s\n", i+1, firstNonEmpty(in.Name, "unnamed"))
		if in.Type != "" {
			fmt.Fprintf(&b, "  Type: %s\n", in.Type)
		}
		if in.Description != "" {
			fmt.Fprintf(&b, "  Description: %s\n", in.Description)
		}
		if mech := mechanism(in.OtherNames); mech != "" {
			fmt.Fprintf(&b, "  Mechanism: %s\n", mech)
		}
		if len(in.ArmGroupLabels) > 0 {
			fmt.Fprintf(&b, "  Used in arms: %s\n", strings.Join(in.ArmGroupLabels, ", "))
		}
		if len(in.OtherNames) > 0 {
			fmt.Fprintf(&b, "  Other names: %s\n", strings.Join(in.OtherNames, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func findDoses(text string) []string {
	var doses []string
	for _, m := range dosePattern.FindAllStringSubmatch(text, -1) {
		doses = append(doses, m[1]+" "+strings.ToLower(m[2]))
	}
	return doses
}

func mechanism(otherNames []string) string {
	for _, name := range otherNames {
		upper := strings.ToUpper(name)
		for _, marker := range mechanismMarkers {
			if strings.Contains(upper, marker) {
				return name
			}
		}
	}
	return ""
}

func eligibility(p protocolSection) string {
	e := p.Eligibility
	if strings.TrimSpace(e.Criteria) == "" {
		return ""
	}
	var facts []string
	if e.MinimumAge != "" || e.MaximumAge != "" {
		facts = append(facts, "Ages: "+firstNonEmpty(e.MinimumAge, "any")+" to "+firstNonEmpty(e.MaximumAge, "any"))
	}
	if e.Sex != "" {
		facts = append(facts, "Sex: "+e.Sex)
	}
	if len(facts) > 0 {
		facts = append(facts, "Healthy volunteers: "+yesNo(e.HealthyVolunteers))
		return e.Criteria + "\n\n" + strings.Join(facts, "; ")
	}
	return e.Criteria
}

func enrollment(s Study) string {
	var b strings.Builder
	info := s.ProtocolSection.Design.EnrollmentInfo
	if info.Count > 0 {
		fmt.Fprintf(&b, "Enrollment: %d participants", info.Count)
		if info.Type != "" {
			fmt.Fprintf(&b, " (%s)", strings.ToLower(info.Type))
		}
		b.WriteString("\n")
	}
	if groups := s.ResultsSection.ParticipantFlow.Groups; len(groups) > 0 {
		b.WriteString("Participant enrollment by group:\n")
		for _, g := range groups {
			fmt.Fprintf(&b, "- %s: %s\n", g.Title, g.Description)
		}
	}
	return b.String()
}

func adverseEvents(r resultsSection) string {
	var b strings.Builder
	writeEvents(&b, "Serious adverse events by system", r.AdverseEvents.SeriousEvents)
	writeEvents(&b, "Other adverse events by system", r.AdverseEvents.OtherEvents)
	return b.String()
}

// writeEvents lists events per organ system in first-seen order with
// affected/at-risk totals summed across groups.
func writeEvents(b *strings.Builder, title string, events []adverseEvent) {
	if len(events) == 0 {
		return
	}
	var systems []string
	bySystem := map[string][]string{}
	for _, ev := range events {
		system := firstNonEmpty(ev.OrganSystem, "Other")
		if _, ok := bySystem[system]; !ok {
			systems = append(systems, system)
		}
		affected, atRisk := 0, 0
		for _, st := range ev.Stats {
			affected += st.NumAffected
			atRisk += st.NumAtRisk
		}
		bySystem[system] = append(bySystem[system], fmt.Sprintf("%s (%d/%d)", ev.Term, affected, atRisk))
	}

	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(title + ":\n")
	for _, system := range systems {
		terms := bySystem[system]
		fmt.Fprintf(b, "%s:\n", system)
		for _, t := range terms[:min(len(terms), maxEventsPerSystem)] {
			fmt.Fprintf(b, "- %s\n", t)
		}
		if extra := len(terms) - maxEventsPerSystem; extra > 0 {
			fmt.Fprintf(b, "- ... and %d more\n", extra)
		}
	}
}

func locations(p protocolSection) string {
	locs := p.Contacts.Locations
	if len(locs) == 0 {
		return ""
	}
	var countries []string
	sites := map[string][]string{}
	for _, l := range locs {
		country := firstNonEmpty(l.Country, "Unknown")
		if _, ok := sites[country]; !ok {
			countries = append(countries, country)
		}
		sites[country] = append(sites[country], joinNonEmpty(", ", l.Facility, l.City))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Study locations (%d sites):\n", len(locs))
	for _, c := range countries {
		list := sites[c]
		fmt.Fprintf(&b, "- %s: %d sites\n", c, len(list))
		for _, site := range list[:min(len(list), maxSitesPerCountry)] {
			fmt.Fprintf(&b, "  - %s\n", site)
		}
		if extra := len(list) - maxSitesPerCountry; extra > 0 {
			fmt.Fprintf(&b, "  - ... and %d more sites\n", extra)
		}
	}
	return b.String()
}

func sponsor(p protocolSection) string {
	lead := p.Sponsors.LeadSponsor
	if lead.Name == "" {
		return ""
	}
	text := "Lead sponsor: " + lead.Name
	if lead.Class != "" {
		text += " (" + lead.Class + ")"
	}
	var names []string
	for _, c := range p.Sponsors.Collaborators {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	if len(names) > 0 {
		text += "\nCollaborators: " + strings.Join(names, ", ")
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, values ...string) string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
