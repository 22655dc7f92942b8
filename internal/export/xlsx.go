// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export writes extraction records to spreadsheet workbooks for
// review outside the CLI.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pdiddy/protocol-extractor/internal/quality"
	"github.com/pdiddy/protocol-extractor/pkg/types"
)

// Sheet names in the exported workbook.
const (
	RecordsSheet = "Records"
	FieldsSheet  = "Fields"
)

// maxCellChars is the Excel limit on characters in one cell.
const maxCellChars = 32767

// WriteXLSX writes one row per record to the Records sheet (scores,
// metadata, and the nine field contents) and one row per field to the
// Fields sheet (method, pages, confidence, error).
func WriteXLSX(w io.Writer, recs []*types.ExtractionRecord, scorer *quality.Scorer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", RecordsSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(FieldsSheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}

	metaKeys := metadataKeys(recs)
	headers := []any{"Document", "Confidence", "Completeness", "Needs Model Extraction"}
	for _, k := range metaKeys {
		headers = append(headers, k)
	}
	for _, id := range types.AllFields() {
		headers = append(headers, string(id))
	}
	if err := f.SetSheetRow(RecordsSheet, "A1", &headers); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	fieldHeaders := []any{"Document", "Field", "Method", "Pages", "Confidence", "Attempts", "Error"}
	if err := f.SetSheetRow(FieldsSheet, "A1", &fieldHeaders); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	fieldRow := 2
	for i, rec := range recs {
		report := scorer.Score(rec)
		row := []any{rec.DocumentID, report.Confidence, report.Completeness, report.NeedsModelExtraction}
		for _, k := range metaKeys {
			row = append(row, rec.Metadata[k])
		}
		contents := rec.Contents()
		for _, id := range types.AllFields() {
			row = append(row, truncate(contents[id]))
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(RecordsSheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s: %w", rec.DocumentID, err)
		}

		for _, id := range types.AllFields() {
			fr := rec.Fields[id]
			frow := []any{rec.DocumentID, string(id), string(fr.Method), joinPages(fr.PageReferences),
				report.FieldConfidence[id], fr.Attempts, fr.Error}
			cell, _ := excelize.CoordinatesToCellName(1, fieldRow)
			if err := f.SetSheetRow(FieldsSheet, cell, &frow); err != nil {
				return fmt.Errorf("writing %s/%s: %w", rec.DocumentID, id, err)
			}
			fieldRow++
		}
	}

	_ = f.SetColWidth(RecordsSheet, "A", "A", 20)
	_ = f.SetColWidth(FieldsSheet, "A", "B", 28)
	_ = f.SetColWidth(FieldsSheet, "G", "G", 48)
	_ = f.SetPanes(RecordsSheet, &excelize.Panes{Freeze: true, XSplit: 1, YSplit: 1, TopLeftCell: "B2", ActivePane: "bottomRight"})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// metadataKeys returns the union of metadata keys across recs, sorted.
func metadataKeys(recs []*types.ExtractionRecord) []string {
	seen := map[string]bool{}
	for _, r := range recs {
		for k := range r.Metadata {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxCellChars {
		return s
	}
	return string(r[:maxCellChars-1]) + "…"
}
