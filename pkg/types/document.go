// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"sort"
)

// ErrEmptyDocument is returned when a document yields no text. It is fatal
// for that document.
var ErrEmptyDocument = errors.New("document contains no text")

// PageBoundary marks the character offset at which a page begins.
type PageBoundary struct {
	// Offset is the byte offset in Document.Text where the page starts.
	Offset int `json:"offset" yaml:"offset"`

	// Page is the 1-based page number.
	Page int `json:"page" yaml:"page"`
}

// Document is the normalized text of one protocol plus its page map.
// A Document is not modified after it is loaded.
type Document struct {
	// ID identifies the document (e.g. an NCT number or file stem).
	ID string `json:"id" yaml:"id"`

	// Source is the path or URL the document was loaded from.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Text is the full document text with page markers removed.
	Text string `json:"text" yaml:"text"`

	// Pages lists page starts in ascending offset order.
	Pages []PageBoundary `json:"pages" yaml:"pages"`
}

// PageAt returns the page containing offset, or 0 when the document has
// no page map or offset precedes the first boundary.
func (d Document) PageAt(offset int) int {
	i := sort.Search(len(d.Pages), func(i int) bool {
		return d.Pages[i].Offset > offset
	})
	if i == 0 {
		return 0
	}
	return d.Pages[i-1].Page
}

// PagesBetween returns the ascending set of pages touched by the span
// [start, end).
func (d Document) PagesBetween(start, end int) []int {
	var pages []int
	if p := d.PageAt(start); p > 0 {
		pages = append(pages, p)
	}
	for _, b := range d.Pages {
		if b.Offset > start && b.Offset < end {
			pages = append(pages, b.Page)
		}
	}
	return NormalizePages(pages)
}

// NormalizePages returns the positive, deduplicated, ascending subset of pages.
// The result is never nil.
func NormalizePages(pages []int) []int {
	out := make([]int, 0, len(pages))
	seen := make(map[int]bool, len(pages))
	for _, p := range pages {
		if p <= 0 || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
