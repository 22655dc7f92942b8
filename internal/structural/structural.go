// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package structural is the cheap first-pass parser. It finds section
// headers, maps their titles onto the nine fields by synonym, and returns
// an ExtractionRecord tagged structural-parse. No model is involved.
package structural

import (
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/protocol-extractor/internal/selector"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// synonyms maps each field to lowercase title fragments that identify it.
// Earlier fields win when a title matches several.
var synonyms = []struct {
	field types.FieldID
	terms []string
}{
	{types.FieldObjectives, []string{"objective", "endpoint", "outcome measure", "aims"}},
	{types.FieldEligibilityCriteria, []string{"eligibility", "inclusion", "exclusion", "selection of participants", "participant selection"}},
	{types.FieldTreatmentArms, []string{"intervention", "treatment", "study drug", "dosing", "arms", "investigational product", "therapy"}},
	{types.FieldAdverseEvents, []string{"adverse", "safety", "toxicit", "side effect"}},
	{types.FieldEnrollmentFlow, []string{"enrollment", "enrolment", "recruitment", "randomi", "participant flow", "allocation", "sample size", "screening"}},
	{types.FieldStudyLocations, []string{"location", "study site", "sites", "centers", "centres", "investigators"}},
	{types.FieldSponsorInformation, []string{"sponsor", "funding", "acknowledg", "contact"}},
	{types.FieldBriefDescription, []string{"abstract", "summary", "synopsis", "brief description", "purpose"}},
	{types.FieldStudyOverview, []string{"overview", "introduction", "background", "rationale", "study design", "trial design", "methods"}},
}

// Parser maps document sections to fields.
type Parser struct {
	selector *selector.Selector
	now      func() time.Time
}

// New returns a Parser. charsPerToken configures the shared splitter.
func New(charsPerToken int) *Parser {
	return &Parser{selector: selector.New(charsPerToken), now: time.Now}
}

// FieldFor maps a section title to a field.
func FieldFor(title string) (types.FieldID, bool) {
	t := strings.ToLower(title)
	for _, s := range synonyms {
		for _, term := range s.terms {
			if strings.Contains(t, term) {
				return s.field, true
			}
		}
	}
	return "", false
}

// section is a header plus the units that follow it until the next header.
type section struct {
	title string
	units []selector.TextUnit
}

// Parse returns a record with all nine fields. Sections whose titles map
// to the same field are concatenated in document order; fields with no
// matching section stay empty.
func (p *Parser) Parse(doc types.Document) (*types.ExtractionRecord, error) {
	rec := types.NewExtractionRecord(doc.ID)

	parts := map[types.FieldID][]string{}
	pages := map[types.FieldID][]int{}
	for _, sec := range p.sections(doc) {
		field, ok := FieldFor(sec.title)
		if !ok {
			continue
		}
		body := sectionBody(sec)
		if body == "" {
			continue
		}
		parts[field] = append(parts[field], body)
		for _, u := range sec.units {
			pages[field] = append(pages[field], u.Pages...)
		}
	}

	now := p.now()
	for field, texts := range parts {
		if err := rec.Set(types.FieldResult{
			Field:          field,
			Content:        strings.Join(texts, "\n\n"),
			PageReferences: pages[field],
			Method:         types.MethodStructural,
			ExtractedAt:    now,
		}); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", doc.ID, err)
		}
	}
	return rec, nil
}

func (p *Parser) sections(doc types.Document) []section {
	var out []section
	for _, u := range p.selector.Split(doc) {
		if u.Heading != "" {
			out = append(out, section{title: u.Heading, units: []selector.TextUnit{u}})
			continue
		}
		if len(out) > 0 {
			out[len(out)-1].units = append(out[len(out)-1].units, u)
		}
	}
	return out
}

// sectionBody joins a section's text without its header line.
func sectionBody(sec section) string {
	var texts []string
	for i, u := range sec.units {
		t := u.Text
		if i == 0 {
			if nl := strings.IndexByte(t, '\n'); nl >= 0 {
				t = t[nl+1:]
			} else {
				t = ""
			}
		}
		if t = strings.TrimSpace(t); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n\n")
}
