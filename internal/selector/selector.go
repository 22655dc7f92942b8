// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package selector builds one token-budgeted chunk per field out of a much
// larger document. Text is split into units on blank lines and section
// headers, units are scored against the field's keywords, and the
// highest-scoring units are packed greedily into the budget and joined back
// in document order.
package selector

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// DefaultCharsPerToken is the character-to-token ratio used when none is configured.
const DefaultCharsPerToken = 4

// unitSeparator joins selected units in the output chunk.
const unitSeparator = "\n\n"

// TextUnit is a contiguous span of document text: a paragraph or a
// section header together with the lines that follow it.
type TextUnit struct {
	// Text is the trimmed span, equal to Document.Text[Start:End].
	Text string

	// Start and End are byte offsets into the document text, [Start, End).
	Start, End int

	// Heading is the section title when the unit opens with a header line.
	Heading string

	// Pages are the ascending pages the unit spans.
	Pages []int

	// Tokens is the estimated token cost of Text.
	Tokens int

	lower string
}

// ScoredUnit is a TextUnit with its relevance score for one field.
type ScoredUnit struct {
	TextUnit
	Score int
}

// Selection is the chunk built for one field.
type Selection struct {
	// Field is the field the chunk was built for.
	Field types.FieldID

	// Text is the accepted units joined in document order. Empty when no
	// unit matched any keyword.
	Text string

	// Units are the accepted units in document order.
	Units []ScoredUnit

	// Pages is the union of the accepted units' pages.
	Pages []int

	// EstimatedTokens is the estimated cost of Text, separators included.
	EstimatedTokens int

	// Budget is the token budget the chunk was packed against.
	Budget int

	// Overflow is set when a single unit larger than Budget was kept alone.
	Overflow bool
}

// Empty reports whether no unit was relevant to the field.
func (s Selection) Empty() bool { return len(s.Units) == 0 }

// Selector splits, scores, and packs document text. It holds no mutable
// state and is safe for concurrent use.
type Selector struct {
	charsPerToken int
}

// New returns a Selector using the given character-to-token ratio.
// Non-positive ratios fall back to DefaultCharsPerToken.
func New(charsPerToken int) *Selector {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &Selector{charsPerToken: charsPerToken}
}

// EstimateTokens approximates the token cost of text.
func (s *Selector) EstimateTokens(text string) int {
	return s.tokensFor(utf8.RuneCountInString(text))
}

func (s *Selector) tokensFor(runes int) int {
	return (runes + s.charsPerToken - 1) / s.charsPerToken
}

// Split divides the document into text units. A blank line ends a unit;
// a header line ends the current unit and opens a new one. Units that are
// empty after trimming are discarded.
func (s *Selector) Split(doc types.Document) []TextUnit {
	text := doc.Text
	var units []TextUnit
	start, end := -1, -1
	heading := ""

	flush := func() {
		if start < 0 {
			return
		}
		span := text[start:end]
		lead := len(span) - len(strings.TrimLeft(span, " \t\r\n"))
		trimmed := strings.TrimSpace(span)
		if trimmed != "" {
			a := start + lead
			b := a + len(trimmed)
			units = append(units, TextUnit{
				Text:    trimmed,
				Start:   a,
				End:     b,
				Heading: heading,
				Pages:   doc.PagesBetween(a, b),
				Tokens:  s.EstimateTokens(trimmed),
				lower:   strings.ToLower(trimmed),
			})
		}
		start, end = -1, -1
		heading = ""
	}

	for pos := 0; pos < len(text); {
		lineEnd, next := len(text), len(text)
		if nl := strings.IndexByte(text[pos:], '\n'); nl >= 0 {
			lineEnd = pos + nl
			next = lineEnd + 1
		}
		line := strings.TrimSpace(text[pos:lineEnd])

		switch {
		case line == "":
			flush()
		case IsHeader(line):
			flush()
			start, end = pos, lineEnd
			heading = HeaderTitle(line)
		default:
			if start < 0 {
				start = pos
			}
			end = lineEnd
		}
		pos = next
	}
	flush()
	return units
}

// Score returns the relevance of every unit for spec, in document order.
// A unit's score is the sum over keywords of the case-insensitive
// non-overlapping occurrence count times the keyword weight.
func (s *Selector) Score(units []TextUnit, spec types.FieldSpec) []ScoredUnit {
	keywords := make([]string, len(spec.Keywords))
	for i, kw := range spec.Keywords {
		keywords[i] = strings.ToLower(kw)
	}

	scored := make([]ScoredUnit, len(units))
	for i, u := range units {
		lower := u.lower
		if lower == "" {
			lower = strings.ToLower(u.Text)
		}
		score := 0
		for j, kw := range keywords {
			if kw == "" {
				continue
			}
			score += strings.Count(lower, kw) * spec.Weight(spec.Keywords[j])
		}
		scored[i] = ScoredUnit{TextUnit: u, Score: score}
	}
	return scored
}

// Select packs the most relevant units into budget tokens. A non-positive
// budget uses spec.MaxTokens. Units scoring zero are never selected. When
// the single best unit alone exceeds the budget it is returned alone and
// Overflow is set.
func (s *Selector) Select(units []TextUnit, spec types.FieldSpec, budget int) Selection {
	if budget <= 0 {
		budget = spec.MaxTokens
	}
	sel := Selection{Field: spec.ID, Budget: budget, Pages: []int{}}

	var candidates []ScoredUnit
	for _, su := range s.Score(units, spec) {
		if su.Score > 0 {
			candidates = append(candidates, su)
		}
	}
	if len(candidates) == 0 {
		return sel
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	// Cost is charged on the joined text, separators included.
	var accepted []ScoredUnit
	runes := 0
	for i, c := range candidates {
		next := utf8.RuneCountInString(c.Text)
		if i > 0 {
			next += utf8.RuneCountInString(unitSeparator)
		}
		if s.tokensFor(runes+next) > budget {
			if i == 0 {
				accepted = append(accepted, c)
				sel.Overflow = true
			}
			break
		}
		accepted = append(accepted, c)
		runes += next
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})

	parts := make([]string, len(accepted))
	var pages []int
	for i, a := range accepted {
		parts[i] = a.Text
		pages = append(pages, a.Pages...)
	}

	sel.Text = strings.Join(parts, unitSeparator)
	sel.Units = accepted
	sel.Pages = types.NormalizePages(pages)
	sel.EstimatedTokens = s.EstimateTokens(sel.Text)
	return sel
}

// SelectDocument splits doc and selects the chunk for spec.
func (s *Selector) SelectDocument(doc types.Document, spec types.FieldSpec, budget int) Selection {
	return s.Select(s.Split(doc), spec, budget)
}
