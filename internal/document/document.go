// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package document loads protocol text and its page map from plain text
// files with page markers and from PDF, HTML, and DOCX files. A load
// failure is fatal for the document; no partial Document is returned.
package document

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// ErrEmptyDocument is returned when a source yields no text.
var ErrEmptyDocument = types.ErrEmptyDocument

// pageMarker matches the "--- Page N ---" lines that separate pages in
// converted text.
var pageMarker = regexp.MustCompile(`^-{3}\s*Page\s+(\d+)\s*-{3}$`)

// Loader reads documents from disk.
type Loader struct {
	logger *slog.Logger
}

// NewLoader returns a Loader. A nil logger discards output.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{logger: logger}
}

// Load reads path, choosing a reader by extension: PDF, HTML, DOCX, or
// marked text for anything else. The document ID is the file name without its
// extension.
func (l *Loader) Load(path string) (types.Document, error) {
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var (
		doc types.Document
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		doc, err = l.loadPDF(id, path)
	case ".html", ".htm":
		doc, err = l.loadHTML(id, path)
	case ".docx":
		doc, err = l.loadDOCX(id, path)
	default:
		doc, err = l.loadText(id, path)
	}
	if err != nil {
		return types.Document{}, err
	}

	doc.Source = path
	l.logger.Debug("document loaded",
		slog.String("document", id),
		slog.Int("chars", len(doc.Text)),
		slog.Int("pages", len(doc.Pages)))
	return doc, nil
}

func (l *Loader) loadText(id, path string) (types.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := ParseMarkedText(id, string(data))
	if err != nil {
		return types.Document{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return doc, nil
}

func (l *Loader) loadPDF(id, path string) (types.Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return types.Document{}, fmt.Errorf("opening PDF %s: %w", path, err)
	}
	defer f.Close()

	var (
		b     strings.Builder
		pages []types.PageBoundary
	)
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			l.logger.Warn("null PDF page", slog.String("document", id), slog.Int("page", i))
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return types.Document{}, fmt.Errorf("extracting page %d of %s: %w", i, path, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		pages = append(pages, types.PageBoundary{Offset: b.Len(), Page: i})
		b.WriteString(strings.TrimSpace(text))
	}

	if strings.TrimSpace(b.String()) == "" {
		return types.Document{}, fmt.Errorf("loading %s: %w", path, ErrEmptyDocument)
	}
	return types.Document{ID: id, Text: b.String(), Pages: pages}, nil
}

// ParseMarkedText builds a Document from text whose pages are separated by
// "--- Page N ---" lines. Marker lines are removed and each becomes a page
// boundary at the offset where its page's text begins. Text without markers
// is a single page. A marker whose page number is zero or does not fit an
// int is an error.
func ParseMarkedText(id, raw string) (types.Document, error) {
	var (
		b     strings.Builder
		pages []types.PageBoundary
	)
	for _, line := range strings.SplitAfter(raw, "\n") {
		if m := pageMarker.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				return types.Document{}, fmt.Errorf("%s: invalid page marker %q", id, strings.TrimSpace(line))
			}
			pages = append(pages, types.PageBoundary{Offset: b.Len(), Page: n})
			continue
		}
		b.WriteString(line)
	}

	text := b.String()
	if strings.TrimSpace(text) == "" {
		return types.Document{}, ErrEmptyDocument
	}
	if len(pages) == 0 || pages[0].Offset > 0 {
		pages = append([]types.PageBoundary{{Offset: 0, Page: 1}}, pages...)
	}
	return types.Document{ID: id, Text: text, Pages: dedupeOffsets(pages)}, nil
}

// dedupeOffsets keeps the last boundary when consecutive markers share an
// offset (e.g. an empty page).
func dedupeOffsets(pages []types.PageBoundary) []types.PageBoundary {
	out := pages[:0]
	for _, p := range pages {
		if len(out) > 0 && out[len(out)-1].Offset == p.Offset {
			out[len(out)-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}
