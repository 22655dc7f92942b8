// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pdiddy/protocol-extractor/internal/selector"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

const (
	// sampleWords is how many significant words of the content are matched.
	sampleWords = 10
	// minSampleMatches is how many sample words a unit must contain.
	minSampleMatches = 3
	// minWordLen is the length a word must exceed to be significant.
	minWordLen = 3
)

// attributePages finds the pages of the selected units that share at least
// minSampleMatches of the content's first significant words. It is used when
// the backend returns content without page references.
func attributePages(content string, units []selector.ScoredUnit) []int {
	sample := significantWords(content, sampleWords)
	if len(sample) == 0 {
		return []int{}
	}
	need := min(minSampleMatches, len(sample))

	var pages []int
	for _, u := range units {
		lower := strings.ToLower(u.Text)
		hits := 0
		for _, w := range sample {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits >= need {
			pages = append(pages, u.Pages...)
		}
	}
	return types.NormalizePages(pages)
}

// significantWords returns up to n distinct lowercase words longer than
// minWordLen, in order of appearance.
func significantWords(s string, n int) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) <= minWordLen || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == n {
			break
		}
	}
	return out
}

// renderChunk writes the selected units in document order, preceding a
// unit with a "--- Page N ---" marker whenever its first page differs from
// the previous unit's, so the backend can cite pages.
func renderChunk(sel selector.Selection) string {
	var b strings.Builder
	last := 0
	for i, u := range sel.Units {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if len(u.Pages) > 0 && u.Pages[0] != last {
			last = u.Pages[0]
			fmt.Fprintf(&b, "--- Page %d ---\n", last)
		}
		b.WriteString(u.Text)
	}
	return b.String()
}
