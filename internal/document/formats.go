// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package document

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/pdiddy/protocol-extractor/pkg/types"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// htmlBlocks are the elements whose text becomes one paragraph.
const htmlBlocks = "h1, h2, h3, h4, h5, h6, p, li, pre, td, th, dt, dd, caption, blockquote"

func (l *Loader) loadHTML(id, path string) (types.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	html, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return types.Document{}, fmt.Errorf("parsing HTML %s: %w", path, err)
	}
	doc, err := ParseMarkedText(id, htmlText(html))
	if err != nil {
		return types.Document{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return doc, nil
}

// htmlText flattens block elements into blank-line separated paragraphs.
// Headings stay on their own line so section detection still applies;
// list items are prefixed with "- ".
func htmlText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template").Remove()

	var blocks []string
	doc.Find(htmlBlocks).Each(func(_ int, s *goquery.Selection) {
		if s.Find(htmlBlocks).Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			text = "- " + text
		}
		blocks = append(blocks, text)
	})
	if len(blocks) == 0 {
		return strings.TrimSpace(doc.Find("body").Text())
	}
	return strings.Join(blocks, "\n\n")
}

func (l *Loader) loadDOCX(id, path string) (types.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	res, err := docconv.Convert(f, docxMIME, false)
	if err != nil {
		return types.Document{}, fmt.Errorf("converting DOCX %s: %w", path, err)
	}
	l.logger.Debug("converted DOCX", slog.String("document", id), slog.Int("chars", len(res.Body)))

	doc, err := ParseMarkedText(id, res.Body)
	if err != nil {
		return types.Document{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return doc, nil
}
